// Package dispatcher manages worker fan-out over the task queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/sitewatcher/internal/discovery"
	"github.com/JakeFAU/sitewatcher/internal/worker"
)

// Queue is a task queue the dispatcher can close once submission ends.
type Queue interface {
	discovery.Queue
	Close()
	Len() int
}

// Dispatcher owns one batch's queue and the pool draining it.
type Dispatcher struct {
	queue   Queue
	workers []*worker.Worker
	wg      sync.WaitGroup
	start   sync.Once
}

// New creates a Dispatcher.
func New(queue Queue, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// Start launches every worker. Workers stop once the queue is drained
// after Drain, or when ctx finishes. Later calls are no-ops.
func (d *Dispatcher) Start(ctx context.Context) {
	d.start.Do(func() {
		for _, w := range d.workers {
			d.wg.Add(1)
			go func(wk *worker.Worker) {
				defer d.wg.Done()
				wk.Run(ctx)
			}(w)
		}
	})
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item discovery.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Drain closes the queue to new work and blocks until every worker has
// returned. It reports how many queued items were never picked up, which
// is non-zero only when the workers stopped on cancellation.
func (d *Dispatcher) Drain() int {
	d.queue.Close()
	d.wg.Wait()
	return d.queue.Len()
}
