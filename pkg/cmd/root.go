package cmd

import (
	"fmt"
	"os"

	"github.com/sourcebuilder/sb/pkg/config"
	"github.com/sourcebuilder/sb/pkg/log"
	"github.com/spf13/cobra"
)

var (
	// Opts holds the resolved fetch options, available to all subcommands
	// after PersistentPreRunE completes.
	Opts *config.Options

	// Log is the sink fetches report to. It is opened with Opts and closed
	// by run once the command returns, whether or not it failed.
	Log *log.Log
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "sb",
		Short: "Source builder",
		Long:  "sb fetches the sources and patches a build declares into a local cache, trying configured mirrors first.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			opts, err := config.LoadOptions(cmd.Flags())
			if err != nil {
				return err
			}
			l, err := openLog(opts)
			if err != nil {
				return err
			}
			Opts, Log = opts, l
			return nil
		},
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.BoolP("quiet", "q", false, "only report errors on the console")
	flags.BoolP("dry-run", "n", false, "report what would be fetched without changing anything")
	flags.Bool("no-download", false, "use only what is already in the cache")
	flags.Bool("trace", false, "report mirror candidates and checksums")
	flags.StringSlice("url", nil, "mirror base URL to try before a source's own URL (repeatable)")
	flags.String("log", "", "file to log every action to, or - for stdout")
	flags.IntP("jobs", "j", 1, "number of sources to fetch at once")

	root.AddCommand(newInitCmd())
	root.AddCommand(newFetchCmd())
	root.AddCommand(newResolveCmd())

	return root
}

func openLog(opts *config.Options) (*log.Log, error) {
	if opts.LogFile() == "" {
		return log.New(false)
	}
	l, err := log.New(false, opts.LogFile())
	if err != nil {
		return nil, fmt.Errorf("opening log: %w", err)
	}
	return l, nil
}

// run executes root and then closes the log. A failure is written to the
// log first, so the log ends with what went wrong.
func run(root *cobra.Command) error {
	err := root.Execute()
	if cerr := closeLog(err); err == nil {
		err = cerr
	}
	return err
}

func closeLog(runErr error) error {
	if Log == nil {
		return nil
	}
	if runErr != nil {
		Log.Output("error: " + runErr.Error())
	}
	err := Log.Close()
	Log = nil
	return err
}

func Execute() {
	if err := run(NewRootCmd()); err != nil {
		os.Exit(1)
	}
}
