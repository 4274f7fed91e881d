package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/sourcebuilder/sb/pkg/config"
	"github.com/sourcebuilder/sb/pkg/project"
	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a new sb project",
		Long:  "Creates an sb.toml manifest, configures .gitignore entries and optionally records a mirror in sb.local.toml.",
		RunE:  runInit,
		// init does not need options resolution; skip the root PersistentPreRunE.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}

	name := project.InferName(wd)

	if err := project.Init(wd, name); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", project.ManifestFile)

	selectedDirs, mirror, err := promptInit()
	if err != nil {
		return err
	}

	gitignoreEntries := append([]string{config.LocalConfigFile}, selectedDirs...)
	added, err := project.EnsureGitignore(wd, gitignoreEntries)
	if err != nil {
		return err
	}
	for _, entry := range added {
		fmt.Fprintf(cmd.OutOrStdout(), "Added %s to .gitignore\n", entry)
	}

	if mirror = strings.TrimSpace(mirror); mirror != "" {
		if err := config.WriteLocalSettings(wd, config.Settings{URLs: []string{mirror}}); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote mirror %s to %s\n", mirror, config.LocalConfigFile)
	}

	return nil
}

// promptInit uses huh to ask for cache directories to gitignore and an
// optional mirror.
func promptInit() ([]string, string, error) {
	options := make([]huh.Option[string], len(project.CacheDirs))
	for i, dir := range project.CacheDirs {
		options[i] = huh.NewOption(dir, dir).Selected(true)
	}

	var (
		selected []string
		mirror   string
	)
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewMultiSelect[string]().
				Title("Add cache directories to .gitignore?").
				Options(options...).
				Value(&selected),
			huh.NewInput().
				Title("Mirror to try before each source's own URL (optional)").
				Placeholder("https://mirror.example.org/sources/").
				Value(&mirror),
		),
	).Run()
	if err != nil {
		return nil, "", fmt.Errorf("prompt failed: %w", err)
	}

	return selected, mirror, nil
}
