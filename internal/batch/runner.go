// Package batch runs a list of discovery tasks through the worker pool and
// writes an NDJSON report of the outcomes.
package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitewatcher/internal/discovery"
	"github.com/JakeFAU/sitewatcher/internal/dispatcher"
	"github.com/JakeFAU/sitewatcher/internal/queue/memory"
	"github.com/JakeFAU/sitewatcher/internal/worker"
)

// ReportContentType is the content type of the uploaded report.
const ReportContentType = "application/x-ndjson"

// Config controls a batch run.
type Config struct {
	Concurrency  int
	QueueDepth   int
	Topic        string
	ReportPrefix string
	// RateLimitKey is passed to each worker; see worker.Config.
	RateLimitKey string
}

// Deps are the collaborators a Runner is assembled from. Limiter,
// Publisher, Hasher and Blobs may be nil.
type Deps struct {
	Executor  worker.Executor
	Limiter   discovery.Limiter
	Publisher discovery.Publisher
	Hasher    discovery.Hasher
	Clock     discovery.Clock
	IDs       discovery.IDGenerator
	Blobs     discovery.BlobStore
}

// Report summarizes one batch run.
type Report struct {
	BatchID    string             `json:"batch_id"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Succeeded  int                `json:"succeeded"`
	Failed     int                `json:"failed"`
	Retryable  int                `json:"retryable"`
	Skipped    int                `json:"skipped"`
	ReportURI  string             `json:"report_uri,omitempty"`
	Results    []discovery.Result `json:"-"`
}

// Runner executes batches.
type Runner struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// NewRunner validates deps and returns a Runner.
func NewRunner(deps Deps, cfg Config, logger *zap.Logger) (*Runner, error) {
	if deps.Executor == nil {
		return nil, errors.New("batch executor is required")
	}
	if deps.Clock == nil {
		return nil, errors.New("batch clock is required")
	}
	if deps.IDs == nil {
		return nil, errors.New("batch id generator is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = cfg.Concurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{deps: deps, cfg: cfg, logger: logger.Named("batch")}, nil
}

// Run executes every task once and returns the report. Results are in
// submission order. A canceled context stops the pool; tasks that never
// ran are absent from the report and the context error is returned.
func (r *Runner) Run(ctx context.Context, tasks []discovery.Task) (Report, error) {
	batchID, err := r.deps.IDs.NewID()
	if err != nil {
		return Report{}, fmt.Errorf("new batch id: %w", err)
	}
	report := Report{BatchID: batchID, StartedAt: r.deps.Clock.Now()}
	logger := r.logger.With(zap.String("batch_id", batchID))
	logger.Info("batch started", zap.Int("tasks", len(tasks)), zap.Int("concurrency", r.cfg.Concurrency))

	queue := memory.NewQueue(r.cfg.QueueDepth)
	sink := &collector{}
	workers := make([]*worker.Worker, 0, r.cfg.Concurrency)
	for i := range r.cfg.Concurrency {
		workers = append(workers, worker.New(
			queue,
			r.deps.Executor,
			r.deps.Limiter,
			r.deps.Publisher,
			r.deps.Hasher,
			r.deps.Clock,
			sink,
			worker.Config{Topic: r.cfg.Topic, RateLimitKey: r.cfg.RateLimitKey},
			logger.Named(fmt.Sprintf("worker-%d", i)),
		))
	}
	dispatch := dispatcher.New(queue, workers)
	dispatch.Start(ctx)

	enqueueErr := r.enqueue(ctx, dispatch, batchID, tasks)
	if unrun := dispatch.Drain(); unrun > 0 {
		logger.Warn("batch stopped with queued tasks unrun", zap.Int("unrun", unrun))
	}

	report.Results = sink.sorted()
	report.Skipped = len(tasks) - len(report.Results)
	report.FinishedAt = r.deps.Clock.Now()
	report.tally()

	if r.deps.Blobs != nil {
		uri, err := r.writeReport(context.WithoutCancel(ctx), report)
		if err != nil {
			return report, err
		}
		report.ReportURI = uri
	}

	logger.Info("batch finished",
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
		zap.String("report_uri", report.ReportURI),
	)
	if enqueueErr != nil {
		return report, enqueueErr
	}
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("batch interrupted: %w", err)
	}
	return report, nil
}

func (r *Runner) enqueue(ctx context.Context, dispatch *dispatcher.Dispatcher, batchID string, tasks []discovery.Task) error {
	for i, task := range tasks {
		taskID, err := r.deps.IDs.NewID()
		if err != nil {
			return fmt.Errorf("new task id: %w", err)
		}
		item := discovery.QueueItem{
			BatchID:   batchID,
			TaskID:    taskID,
			Index:     i,
			Task:      task,
			Submitted: r.deps.Clock.Now(),
		}
		if err := dispatch.Enqueue(ctx, item); err != nil {
			return fmt.Errorf("enqueue task %d: %w", i, err)
		}
	}
	return nil
}

func (r *Runner) writeReport(ctx context.Context, report Report) (string, error) {
	data, err := EncodeNDJSON(report.Results)
	if err != nil {
		return "", err
	}
	name := ReportPath(r.cfg.ReportPrefix, report.BatchID)
	uri, err := r.deps.Blobs.PutObject(ctx, name, ReportContentType, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return uri, nil
}

type collector struct {
	mu      sync.Mutex
	results []discovery.Result
}

func (c *collector) Record(res discovery.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, res)
}

func (c *collector) sorted() []discovery.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := append([]discovery.Result(nil), c.results...)
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}
