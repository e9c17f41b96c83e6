package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitewatcher/internal/discovery"
)

// batchOptions holds the flags for the batch subcommand.
type batchOptions struct {
	file         string
	topic        string
	reportPrefix string
}

// batchSummary is what the batch command prints.
type batchSummary struct {
	BatchID    string    `json:"batch_id" yaml:"batch_id"`
	Tasks      int       `json:"tasks" yaml:"tasks"`
	Succeeded  int       `json:"succeeded" yaml:"succeeded"`
	Failed     int       `json:"failed" yaml:"failed"`
	Retryable  int       `json:"retryable" yaml:"retryable"`
	Skipped    int       `json:"skipped" yaml:"skipped"`
	ReportURI  string    `json:"report_uri,omitempty" yaml:"report_uri,omitempty"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`
}

// newBatchCmd creates the 'batch' subcommand. Tasks come from positional
// arguments, from --file, or from both.
func newBatchCmd(opts *rootOptions) *cobra.Command {
	bo := &batchOptions{}
	cmd := &cobra.Command{
		Use:   "batch [task...]",
		Short: "Run many discovery tasks concurrently",
		Long: `Runs discovery tasks through a bounded worker pool. Each task is either a
site URL or profile:<name>[:months]. Task files hold one task per line;
blank lines and lines starting with # are ignored. Use --file - to read
from stdin.

A per-task event is published to the configured topic and the full
NDJSON report is written to the configured storage backend. The command
exits non-zero when any task failed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, opts, bo, args)
		},
	}
	cmd.Flags().StringVarP(&bo.file, "file", "f", "", "task file, or - for stdin")
	cmd.Flags().StringVar(&bo.topic, "topic", "", "override the pubsub topic for result events")
	cmd.Flags().StringVar(&bo.reportPrefix, "report-prefix", "", "override the storage prefix for the report")
	return cmd
}

func runBatch(cmd *cobra.Command, opts *rootOptions, bo *batchOptions, args []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger()

	tasks, err := collectTasks(cmd.InOrStdin(), bo.file, args)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return errors.New("no tasks given")
	}

	runner, err := appInstance.NewBatchRunner(bo.topic, bo.reportPrefix)
	if err != nil {
		return err
	}
	// Ctrl-C stops the pool; the partial report is still written.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	report, runErr := runner.Run(ctx, tasks)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("Batch run failed", zap.Error(runErr))
	}

	summary := batchSummary{
		BatchID:    report.BatchID,
		Tasks:      len(tasks),
		Succeeded:  report.Succeeded,
		Failed:     report.Failed,
		Retryable:  report.Retryable,
		Skipped:    report.Skipped,
		ReportURI:  report.ReportURI,
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
	}
	if err := writeOutput(cmd.OutOrStdout(), opts.output, summary); err != nil {
		return err
	}

	if runErr != nil {
		return runErr
	}
	if report.Failed > 0 {
		return fmt.Errorf("batch %s: %d of %d tasks failed", report.BatchID, report.Failed, len(tasks))
	}
	return nil
}

// collectTasks merges tasks from the file flag and positional arguments.
func collectTasks(stdin io.Reader, file string, args []string) ([]discovery.Task, error) {
	var tasks []discovery.Task
	if file != "" {
		var r io.Reader = stdin
		if file != "-" {
			f, err := os.Open(file) // #nosec G304 -- operator-supplied task file.
			if err != nil {
				return nil, fmt.Errorf("open task file: %w", err)
			}
			defer f.Close() //nolint:errcheck // read-only
			r = f
		}
		fromFile, err := discovery.ReadTasks(r)
		if err != nil {
			return nil, fmt.Errorf("read task file: %w", err)
		}
		tasks = append(tasks, fromFile...)
	}
	for i, arg := range args {
		task, err := discovery.ParseTask(arg)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}
