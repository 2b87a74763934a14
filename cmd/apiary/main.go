// Command apiary is the fleet scheduler CLI. Each invocation is one pass:
// load config, enumerate agent instances, dispatch the due subset, persist
// state, exit. Run it from cron or a systemd timer.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

type exitError struct {
	Code int
	Err  error
}

func (e *exitError) Error() string {
	if e == nil || e.Err == nil {
		return "command failed"
	}
	return e.Err.Error()
}

func (e *exitError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		var coded *exitError
		if errors.As(err, &coded) {
			if coded.Err != nil {
				_, _ = fmt.Fprintln(os.Stderr, coded.Err)
			}
			os.Exit(coded.Code)
		}
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := defaultRootOptions()

	root := &cobra.Command{
		Use:           "apiary",
		Short:         "Apiary — due-aware agent fleet scheduler",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	root.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", opts.ConfigPath, "path to the fleet config file")
	root.PersistentFlags().StringVar(&opts.DataDir, "data-dir", "", "override the storage data directory")
	root.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "info", "log level (trace|debug|info|warn|error)")
	root.PersistentFlags().StringVar(&opts.LogFile, "log-file", "", "append JSON logs to this file")

	root.AddCommand(
		newVersionCmd(),
		newBootstrapCmd(opts),
		newRunCmd(opts),
		newStatusCmd(opts),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print apiary version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "apiary %s (%s, %s)\n", version, commit, date)
			return err
		},
	}
}
