// Package dispatcher contains tests for worker coordination.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitewatcher/internal/discovery"
	"github.com/JakeFAU/sitewatcher/internal/queue/memory"
	"github.com/JakeFAU/sitewatcher/internal/worker"
	"github.com/JakeFAU/sitewatcher/internal/workerclient"
)

// TestDispatcherStartsWorkersAndStopsOnCancel ensures workers begin
// processing and Drain returns once they stop on cancel.
func TestDispatcherStartsWorkersAndStopsOnCancel(t *testing.T) {
	t.Parallel()

	queue := &blockingQueue{started: make(chan struct{}, 1)}
	w := worker.New(queue, nil, nil, nil, nil, nil, nil, worker.Config{}, zap.NewNop())
	dispatch := New(queue, []*worker.Worker{w})

	ctx, cancel := context.WithCancel(context.Background())
	dispatch.Start(ctx)
	done := make(chan struct{})
	go func() {
		dispatch.Drain()
		close(done)
	}()

	select {
	case <-queue.started:
	case <-time.After(time.Second):
		t.Fatal("worker did not begin dequeuing")
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

// TestDispatcherDrainsClosedQueue runs every task exactly once across the pool.
func TestDispatcherDrainsClosedQueue(t *testing.T) {
	t.Parallel()

	const tasks = 20
	queue := memory.NewQueue(4)
	exec := &countingExecutor{seen: make(map[string]int)}
	sink := &countingSink{}

	var workers []*worker.Worker
	for range 3 {
		workers = append(workers, worker.New(queue, exec, nil, nil, nil, fixedClock{}, sink, worker.Config{}, zap.NewNop()))
	}
	dispatch := New(queue, workers)
	dispatch.Start(context.Background())

	for i := range tasks {
		item := discovery.QueueItem{
			TaskID: fmt.Sprintf("t-%d", i),
			Index:  i,
			Task:   discovery.Task{Kind: discovery.TaskDiscover, URL: fmt.Sprintf("https://site%d.example", i)},
		}
		if err := dispatch.Enqueue(context.Background(), item); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	done := make(chan int)
	go func() { done <- dispatch.Drain() }()

	select {
	case left := <-done:
		if left != 0 {
			t.Fatalf("expected empty queue after drain, %d left", left)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not return after queue drained")
	}

	if got := sink.count(); got != tasks {
		t.Fatalf("expected %d results, got %d", tasks, got)
	}
	for target, n := range exec.snapshot() {
		if n != 1 {
			t.Fatalf("task %s ran %d times", target, n)
		}
	}
}

// TestDispatcherDrainReportsUnrunItems counts work left behind by a
// canceled pool.
func TestDispatcherDrainReportsUnrunItems(t *testing.T) {
	t.Parallel()

	queue := memory.NewQueue(8)
	for i := range 5 {
		if err := queue.Enqueue(context.Background(), discovery.QueueItem{TaskID: fmt.Sprintf("t-%d", i)}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	exec := &countingExecutor{seen: make(map[string]int)}
	w := worker.New(queue, exec, nil, nil, nil, fixedClock{}, &countingSink{}, worker.Config{}, zap.NewNop())
	dispatch := New(queue, []*worker.Worker{w})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dispatch.Start(ctx)

	left := dispatch.Drain()
	ran := 0
	for _, n := range exec.snapshot() {
		ran += n
	}
	if left+ran != 5 {
		t.Fatalf("expected unrun (%d) + ran (%d) to cover 5 items", left, ran)
	}
}

// TestDispatcherEnqueueForwardsErrors verifies queue errors are wrapped for callers.
func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	queue := &errorQueue{err: errors.New("boom")}
	dispatch := New(queue, nil)

	err := dispatch.Enqueue(context.Background(), discovery.QueueItem{TaskID: "task"})
	if err == nil || err.Error() != "queue enqueue: boom" {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

type blockingQueue struct {
	started chan struct{}
}

func (q *blockingQueue) Close() {}

func (q *blockingQueue) Len() int { return 0 }

func (q *blockingQueue) Enqueue(_ context.Context, _ discovery.QueueItem) error {
	select {
	case q.started <- struct{}{}:
	default:
	}
	return nil
}

func (q *blockingQueue) Dequeue(ctx context.Context) (discovery.QueueItem, error) {
	select {
	case q.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return discovery.QueueItem{}, fmt.Errorf("blocking dequeue canceled: %w", ctx.Err())
}

type errorQueue struct {
	err error
}

func (q *errorQueue) Close() {}

func (q *errorQueue) Len() int { return 0 }

func (q *errorQueue) Enqueue(context.Context, discovery.QueueItem) error {
	return q.err
}

func (q *errorQueue) Dequeue(context.Context) (discovery.QueueItem, error) {
	return discovery.QueueItem{}, discovery.ErrQueueClosed
}

type countingExecutor struct {
	mu   sync.Mutex
	seen map[string]int
}

func (e *countingExecutor) Execute(_ context.Context, task discovery.Task) (workerclient.Response, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seen[task.Target()]++
	return workerclient.Response{Source: task.URL, Count: 0}, nil
}

func (e *countingExecutor) snapshot() map[string]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]int, len(e.seen))
	for k, v := range e.seen {
		out[k] = v
	}
	return out
}

type countingSink struct {
	mu sync.Mutex
	n  int
}

func (s *countingSink) Record(discovery.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
}

func (s *countingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Unix(0, 0) }
