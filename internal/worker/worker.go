// Package worker implements the batch task execution loop.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitewatcher/internal/discovery"
	"github.com/JakeFAU/sitewatcher/internal/metrics"
	"github.com/JakeFAU/sitewatcher/internal/workerclient"
)

// Executor runs one discovery task against the worker.
type Executor interface {
	Execute(ctx context.Context, task discovery.Task) (workerclient.Response, error)
}

// Config controls Worker behavior.
type Config struct {
	// Topic receives one event per finished task. Empty disables publishing.
	Topic string
	// RateLimitKey is the URL whose host bucket every call waits on. Empty
	// falls back to the task target.
	RateLimitKey string
}

// Worker consumes queue items and executes the discovery pipeline.
type Worker struct {
	queue     discovery.Queue
	executor  Executor
	limiter   discovery.Limiter
	publisher discovery.Publisher
	hasher    discovery.Hasher
	clock     discovery.Clock
	sink      discovery.ResultSink
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. limiter, publisher and hasher may be nil.
func New(
	queue discovery.Queue,
	executor Executor,
	limiter discovery.Limiter,
	publisher discovery.Publisher,
	hasher discovery.Hasher,
	clock discovery.Clock,
	sink discovery.ResultSink,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     queue,
		executor:  executor,
		limiter:   limiter,
		publisher: publisher,
		hasher:    hasher,
		clock:     clock,
		sink:      sink,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the queue is drained after
// Close or the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, discovery.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued task", zap.String("task_id", item.TaskID), zap.String("target", item.Task.Target()))

		metrics.IncActiveWorkers()
		result := w.process(ctx, item)
		metrics.DecActiveWorkers()

		metrics.ObserveBatchTask(string(result.Status))
		if w.sink != nil {
			w.sink.Record(result)
		}
	}
}

func (w *Worker) process(ctx context.Context, item discovery.QueueItem) discovery.Result {
	result := discovery.Result{
		BatchID:   item.BatchID,
		TaskID:    item.TaskID,
		Index:     item.Index,
		Task:      item.Task,
		StartedAt: w.clock.Now(),
	}

	if err := w.wait(ctx, item.Task); err != nil {
		w.fail(&result, "rate_limit", err)
		w.finish(&result)
		return result
	}

	resp, err := w.executor.Execute(ctx, item.Task)
	if err != nil {
		kind := string(workerclient.KindOf(err))
		if kind == "" {
			kind = "unknown"
		}
		w.fail(&result, kind, err)
		result.StatusCode = workerclient.StatusCode(err)
		result.Retryable = workerclient.Retryable(err)
	} else {
		result.Status = discovery.StatusSucceeded
		result.Response = &resp
		hash, hashErr := w.digest(resp)
		if hashErr != nil {
			w.logger.Warn("hash response failed", zap.String("task_id", item.TaskID), zap.Error(hashErr))
		}
		result.ContentHash = hash
	}

	// The event carries the finish time, so stamp it before publishing.
	w.finish(&result)
	if err := w.publish(ctx, &result); err != nil {
		w.logger.Error("publish result event failed", zap.String("task_id", item.TaskID), zap.Error(err))
		w.fail(&result, "publish", err)
	}

	w.logger.Info("task finished",
		zap.String("task_id", item.TaskID),
		zap.String("target", item.Task.Target()),
		zap.String("status", string(result.Status)),
		zap.String("error_kind", result.ErrorKind),
	)
	return result
}

func (w *Worker) wait(ctx context.Context, task discovery.Task) error {
	if w.limiter == nil {
		return nil
	}
	key := w.cfg.RateLimitKey
	if key == "" {
		key = task.Target()
	}
	if err := w.limiter.Wait(ctx, key); err != nil {
		return fmt.Errorf("limiter wait: %w", err)
	}
	return nil
}

func (w *Worker) digest(resp workerclient.Response) (string, error) {
	if w.hasher == nil {
		return "", nil
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("marshal response: %w", err)
	}
	hash, err := w.hasher.Hash(data)
	if err != nil {
		return "", fmt.Errorf("hash response: %w", err)
	}
	return hash, nil
}

func (w *Worker) publish(ctx context.Context, result *discovery.Result) error {
	if w.publisher == nil || w.cfg.Topic == "" {
		return nil
	}
	id, err := w.publisher.Publish(ctx, w.cfg.Topic, discovery.EventFor(*result))
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	result.EventID = id
	return nil
}

func (w *Worker) finish(result *discovery.Result) {
	result.FinishedAt = w.clock.Now()
	result.DurationMs = result.FinishedAt.Sub(result.StartedAt).Milliseconds()
}

func (w *Worker) fail(result *discovery.Result, kind string, err error) {
	result.Status = discovery.StatusFailed
	result.ErrorKind = kind
	result.Error = err.Error()
}
