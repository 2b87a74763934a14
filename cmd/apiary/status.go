package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/detextit/apiary/internal/fleet"
)

type statusOptions struct {
	Format string
	Events int
	Handle string
	Now    string
}

func newStatusCmd(root *rootOptions) *cobra.Command {
	opts := statusOptions{Format: "text"}

	command := &cobra.Command{
		Use:   "status",
		Short: "Show every instance's schedule and last outcome",
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

			rows, err := svc.Status()
			if err != nil {
				return &exitError{Code: 1, Err: err}
			}

			out := cmd.OutOrStdout()
			if format == "json" {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}

			tw := tabwriter.NewWriter(out, 2, 2, 2, ' ', 0)
			fmt.Fprintln(tw, "HANDLE\tNAME\tREG\tRUNS\tLAST RUN\tNEXT RUN\tDUE\tLAST ERROR")
			for _, r := range rows {
				next := formatNext(r.NextRunAt)
				if r.Projected {
					next = "~" + next // not yet persisted
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
					r.Handle, r.Name, yesNo(r.Registered), r.RunCount,
					formatTime(r.LastRun), next,
					yesNo(r.Due), truncate(r.LastError, 60))
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			if opts.Handle != "" && opts.Events > 0 {
				return printEvents(cmd, svc, opts.Handle, opts.Events)
			}
			return nil
		},
	}
	command.Flags().StringVar(&opts.Format, "format", opts.Format, "output format: text or json")
	command.Flags().StringVar(&opts.Handle, "handle", "", "also show recent activity for this handle")
	command.Flags().IntVar(&opts.Events, "events", 10, "how many activity events to show")
	command.Flags().StringVar(&opts.Now, "now", "", "override the reference clock (RFC3339)")
	return command
}

func printEvents(cmd *cobra.Command, svc *fleet.Service, handle string, n int) error {
	evs, err := svc.RecentEvents(handle, n)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nrecent activity for %s:\n", handle)
	if len(evs) == 0 {
		fmt.Fprintln(out, "  (none)")
		return nil
	}
	for _, ev := range evs {
		line := fmt.Sprintf("  %s  %s", ev.Time.Format(time.RFC3339), ev.Type)
		if ev.Message != "" {
			line += "  " + ev.Message
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04")
}

func formatNext(raw string) string {
	if raw == "" {
		return "-"
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return raw // surface unreadable values as-is
	}
	return at.UTC().Format("2006-01-02 15:04")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
