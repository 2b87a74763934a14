package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

type runOptions struct {
	Format string
	Now    string
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := runOptions{Format: "text"}

	command := &cobra.Command{
		Use:   "run",
		Short: "Execute one scheduling pass",
		Long: `Execute one scheduling pass: fill missing next-run times, select the
due instances, dispatch a bounded random subset, and persist all state.

Individual agent failures are recorded per instance and reported here, but
they never fail the pass; the exit code is non-zero only when the pass
itself cannot run (bad config, lock contention, storage faults).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format := strings.ToLower(strings.TrimSpace(opts.Format))
			if format != "json" && format != "text" {
				return errors.New("--format must be json or text")
			}
			now, err := parseNowFlag(opts.Now)
			if err != nil {
				return err
			}

			svc, cleanup, err := buildService(root, now)
			if err != nil {
				return &exitError{Code: 2, Err: err}
			}
			defer cleanup()

			res, err := svc.Run(cmd.Context())
			if err != nil {
				return &exitError{Code: 1, Err: fmt.Errorf("pass failed: %w", err)}
			}

			out := cmd.OutOrStdout()
			if format == "json" {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}

			fmt.Fprintf(out, "instances: %d  due: %d  dispatched: %d\n",
				res.Total, res.Due, len(res.Dispatched))
			for _, h := range res.Succeeded {
				fmt.Fprintf(out, "  ok    %s\n", h)
			}
			for _, h := range res.Failed {
				fmt.Fprintf(out, "  fail  %s\n", h)
			}
			return nil
		},
	}
	command.Flags().StringVar(&opts.Format, "format", opts.Format, "output format: text or json")
	command.Flags().StringVar(&opts.Now, "now", "", "override the pass clock (RFC3339, for rehearsals)")
	return command
}
