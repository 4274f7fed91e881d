package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/sourcebuilder/sb/pkg/config"
	"github.com/sourcebuilder/sb/pkg/download"
	"github.com/sourcebuilder/sb/pkg/fetcher"
	"github.com/sourcebuilder/sb/pkg/project"
	"github.com/spf13/cobra"
)

func newFetchCmd() *cobra.Command {
	fetchCmd := &cobra.Command{
		Use:   "fetch [url...]",
		Short: "Fetch sources into the cache",
		Long: `Fetches every source and patch declared in sb.toml into the cache.

With URL arguments only those URLs are fetched, into the source directory,
or the patch directory with --patch. Configured mirrors are tried first.`,
		RunE: runFetch,
	}
	fetchCmd.Flags().Bool("patch", false, "fetch URL arguments into the patch directory")
	return fetchCmd
}

// loadProject returns the manifest in dir, if any, and its macro table.
// Without a manifest only the default macros apply.
func loadProject(dir string) (*config.Config, *config.Macros, error) {
	cfg, macros, err := project.Load(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, config.DefaultMacros(dir), nil
	}
	return cfg, macros, err
}

func newFetcher(cmd *cobra.Command, macros *config.Macros) *fetcher.Fetcher {
	d := download.New(macros, Opts, Log)
	d.Stdout = cmd.OutOrStdout()
	return &fetcher.Fetcher{
		Macros:     macros,
		Downloader: d,
		DryRun:     Opts.DryRun(),
		Jobs:       Opts.Jobs(),
	}
}

func runFetch(cmd *cobra.Command, args []string) error {
	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}

	cfg, macros, err := loadProject(wd)
	if err != nil {
		return err
	}
	f := newFetcher(cmd, macros)

	if len(args) == 0 {
		if cfg == nil {
			return fmt.Errorf("no %s in %s; pass URLs or run sb init", project.ManifestFile, wd)
		}
		targets := f.Targets(cfg)
		if err := f.Fetch(cmd.Context(), targets...); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Fetched %d source(s)\n", len(targets))
		return nil
	}

	patch, err := cmd.Flags().GetBool("patch")
	if err != nil {
		return err
	}
	dirMacro := fetcher.SourceDirMacro
	if patch {
		dirMacro = fetcher.PatchDirMacro
	}

	targets := make([]fetcher.Target, len(args))
	for i, arg := range args {
		targets[i] = fetcher.Target{URL: macros.Expand(arg), DirMacro: dirMacro}
	}
	return f.Fetch(cmd.Context(), targets...)
}
