package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newProfileCmd creates the 'profile' subcommand. Without a name it runs
// the configured default profile.
func newProfileCmd(opts *rootOptions) *cobra.Command {
	var monthsBack int
	cmd := &cobra.Command{
		Use:   "profile [name]",
		Short: "Run a named discovery profile",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			// Unset means "let the worker pick", which differs from 0.
			var months *int
			if cmd.Flags().Changed("months-back") {
				months = &monthsBack
			}
			resp, err := appInstance.Service().FetchNamedProfile(cmd.Context(), name, months)
			if err != nil {
				if name == "" {
					name = appInstance.Service().DefaultProfile()
				}
				return fmt.Errorf("profile %s: %w", name, err)
			}
			return writeOutput(cmd.OutOrStdout(), opts.output, resp)
		},
	}
	cmd.Flags().IntVar(&monthsBack, "months-back", 0, "how many months of history to scan (worker default when unset)")
	return cmd
}
