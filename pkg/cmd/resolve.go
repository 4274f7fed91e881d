package cmd

import (
	"fmt"
	"os"

	"github.com/sourcebuilder/sb/pkg/fetcher"
	"github.com/sourcebuilder/sb/pkg/source"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"
)

// resolved is how a descriptor is printed by sb resolve.
type resolved struct {
	Scheme source.Scheme `json:"scheme"`
	Source source.Source `json:"source"`
}

func newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve url...",
		Short: "Print where sources would be cached",
		Long:  "Resolves each URL against the source search path and prints the descriptor as YAML. Nothing is created or fetched.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runResolve,
	}
}

func runResolve(cmd *cobra.Command, args []string) error {
	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}

	_, macros, err := loadProject(wd)
	if err != nil {
		return err
	}
	f := &fetcher.Fetcher{Macros: macros, DryRun: true}

	out := make([]resolved, 0, len(args))
	for _, arg := range args {
		src, err := f.Resolve(fetcher.Target{URL: macros.Expand(arg), DirMacro: fetcher.SourceDirMacro})
		if err != nil {
			return err
		}
		out = append(out, resolved{Scheme: src.Scheme(), Source: src})
	}

	data, err := yaml.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshaling descriptors: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
