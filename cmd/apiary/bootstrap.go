package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newBootstrapCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Provision every configured agent without running actions",
		Long: `Create instance directories, persona profiles, and persisted records
for every agent in the config. Safe to repeat: existing records and
profiles are left untouched.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, cleanup, err := buildService(root, nil)
			if err != nil {
				return &exitError{Code: 2, Err: err}
			}
			defer cleanup()

			res, err := svc.Bootstrap(cmd.Context())
			if err != nil {
				return &exitError{Code: 1, Err: err}
			}

			out := cmd.OutOrStdout()
			for _, h := range res.Provisioned {
				fmt.Fprintf(out, "provisioned  %s\n", h)
			}
			for _, h := range res.Existing {
				fmt.Fprintf(out, "unchanged    %s\n", h)
			}
			fmt.Fprintf(out, "%d provisioned, %d unchanged\n", len(res.Provisioned), len(res.Existing))
			return nil
		},
	}
}
