package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/sitewatcher/internal/batch"
	"github.com/JakeFAU/sitewatcher/internal/discovery"
)

// reportView is what the report command prints.
type reportView struct {
	batchSummary `yaml:",inline"`
	Results      []discovery.Result `json:"results,omitempty" yaml:"results,omitempty"`
}

// newReportCmd creates the 'report' subcommand, which reads a finished
// batch's report back from the configured storage backend.
func newReportCmd(opts *rootOptions) *cobra.Command {
	var (
		prefix      string
		withResults bool
	)
	cmd := &cobra.Command{
		Use:   "report <batch-id>",
		Short: "Show the stored report of a batch run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if prefix == "" {
				prefix = appInstance.Config().Batch.ReportPrefix
			}
			report, err := batch.LoadReport(cmd.Context(), appInstance.BlobStore(), prefix, args[0])
			if errors.Is(err, batch.ErrReportNotFound) {
				return fmt.Errorf("no report for batch %s in %s storage under %q",
					args[0], appInstance.Config().Storage.Backend, prefix)
			}
			if err != nil {
				return err
			}

			view := reportView{batchSummary: batchSummary{
				BatchID:    report.BatchID,
				Tasks:      len(report.Results),
				Succeeded:  report.Succeeded,
				Failed:     report.Failed,
				Retryable:  report.Retryable,
				StartedAt:  report.StartedAt,
				FinishedAt: report.FinishedAt,
			}}
			if withResults {
				view.Results = report.Results
			}
			return writeOutput(cmd.OutOrStdout(), opts.output, view)
		},
	}
	cmd.Flags().StringVar(&prefix, "report-prefix", "", "storage prefix the report was written under (defaults to batch.report_prefix)")
	cmd.Flags().BoolVar(&withResults, "results", false, "include every task result")
	return cmd
}
