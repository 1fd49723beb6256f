package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNewPoolValidation(t *testing.T) {
	handler := func(context.Context, Task) error { return nil }
	if _, err := NewPool(PoolConfig{Handler: handler}); err == nil {
		t.Error("NewPool() without queue expected error")
	}
	if _, err := NewPool(PoolConfig{Queue: NewMemoryQueue()}); err == nil {
		t.Error("NewPool() without handler expected error")
	}
	p, err := NewPool(PoolConfig{Queue: NewMemoryQueue(), Handler: handler})
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	if got := p.Status().Workers; got != 2 {
		t.Errorf("Workers = %d, want default 2", got)
	}
}

func TestPoolProcessesTasks(t *testing.T) {
	q := NewMemoryQueue()
	var mu sync.Mutex
	seen := make(map[string]int)

	p, err := NewPool(PoolConfig{
		Queue:   q,
		Workers: 3,
		Handler: func(ctx context.Context, task Task) error {
			mu.Lock()
			seen[task.DocumentID]++
			mu.Unlock()
			if task.DocumentID == "doc-bad" {
				return errors.New("boom")
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}

	for i := 0; i < 10; i++ {
		mustEnqueue(t, q, NewTask(fmt.Sprintf("doc-%d", i), PriorityNormal, "upload"))
	}
	mustEnqueue(t, q, NewTask("doc-bad", PriorityNormal, "upload"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	waitFor(t, "all tasks", func() bool { return p.Status().Processed == 11 })
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 11 {
		t.Errorf("handled %d documents, want 11", len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("%s handled %d times, want 1", id, n)
		}
	}
	if got := p.Status().Failed; got != 1 {
		t.Errorf("Failed = %d, want 1", got)
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	q := NewMemoryQueue()
	var running, peak atomic.Int32
	release := make(chan struct{})

	p, _ := NewPool(PoolConfig{
		Queue:   q,
		Workers: 2,
		Handler: func(ctx context.Context, task Task) error {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			<-release
			running.Add(-1)
			return nil
		},
	})
	for i := 0; i < 5; i++ {
		mustEnqueue(t, q, NewTask(fmt.Sprintf("doc-%d", i), PriorityNormal, ""))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	waitFor(t, "two tasks in flight", func() bool { return p.Status().InFlight == 2 })
	close(release)
	waitFor(t, "all tasks", func() bool { return p.Status().Processed == 5 })

	if got := peak.Load(); got != 2 {
		t.Errorf("peak concurrency = %d, want 2", got)
	}
}

func TestPoolShutdownFinishesInFlightTask(t *testing.T) {
	q := NewMemoryQueue()
	started := make(chan struct{})
	release := make(chan struct{})
	var handlerCtxErr atomic.Value

	p, _ := NewPool(PoolConfig{
		Queue:   q,
		Workers: 1,
		Handler: func(ctx context.Context, task Task) error {
			close(started)
			<-release
			if err := ctx.Err(); err != nil {
				handlerCtxErr.Store(err)
			}
			return nil
		},
	})
	mustEnqueue(t, q, NewTask("doc-1", PriorityNormal, ""))
	mustEnqueue(t, q, NewTask("doc-2", PriorityNormal, ""))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	<-started
	cancel()
	select {
	case <-done:
		t.Fatal("Run() returned while a task was in flight")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after shutdown")
	}
	if err := handlerCtxErr.Load(); err != nil {
		t.Errorf("handler context error = %v, want none", err)
	}
	if got := p.Status().Processed; got != 1 {
		t.Errorf("Processed = %d, want 1 (second task left queued)", got)
	}
	if n, _ := q.Len(context.Background()); n != 1 {
		t.Errorf("Len() = %d, want 1", n)
	}
}

// cancelOnDequeue cancels the pool context right after handing out a task,
// the way a shutdown signal can land between dequeue and dispatch.
type cancelOnDequeue struct {
	*MemoryQueue
	cancel context.CancelFunc
}

func (q *cancelOnDequeue) Dequeue(ctx context.Context) (Task, error) {
	t, err := q.MemoryQueue.Dequeue(ctx)
	q.cancel()
	return t, err
}

func TestPoolRequeuesTaskDequeuedDuringShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := &cancelOnDequeue{MemoryQueue: NewMemoryQueue(), cancel: cancel}
	mustEnqueue(t, q, NewTask("doc-1", PriorityNormal, "upload"))

	var handled atomic.Int32
	p, _ := NewPool(PoolConfig{
		Queue:   q,
		Workers: 1,
		Handler: func(context.Context, Task) error {
			handled.Add(1)
			return nil
		},
	})

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after shutdown")
	}

	if n := handled.Load(); n != 0 {
		t.Errorf("handled = %d, want 0", n)
	}
	if n, _ := q.Len(context.Background()); n != 1 {
		t.Fatalf("Len() = %d, want 1", n)
	}
	if got := mustDequeue(t, q); got.DocumentID != "doc-1" {
		t.Errorf("DocumentID = %q, want doc-1", got.DocumentID)
	}
}

func TestPoolStopsWhenQueueCloses(t *testing.T) {
	q := NewMemoryQueue()
	p, _ := NewPool(PoolConfig{
		Queue:   q,
		Handler: func(context.Context, Task) error { return nil },
	})

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()
	q.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after queue close")
	}
}
