package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newDiscoverCmd creates the 'discover' subcommand, which asks the worker
// for new posts on a single site.
func newDiscoverCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "discover <url>",
		Short: "Discover new posts on one site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			resp, err := appInstance.Service().Discover(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("discover %s: %w", args[0], err)
			}
			return writeOutput(cmd.OutOrStdout(), opts.output, resp)
		},
	}
}
