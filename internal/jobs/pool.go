package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Handler processes one task. Errors are logged by the pool; they never
// stop a worker.
type Handler func(ctx context.Context, t Task) error

// PoolConfig configures a worker pool.
type PoolConfig struct {
	Queue   Queue
	Handler Handler

	// Workers is the number of concurrent workers (default 2).
	Workers int

	// ErrorBackoff is how long a worker pauses after a queue error
	// (default 1s).
	ErrorBackoff time.Duration

	Logger *slog.Logger
}

// Pool runs N workers that dequeue tasks and hand them to a Handler. Each
// worker processes one task at a time.
type Pool struct {
	queue   Queue
	handler Handler
	workers int
	backoff time.Duration
	logger  *slog.Logger

	inFlight  atomic.Int32
	processed atomic.Int64
	failed    atomic.Int64
}

// NewPool creates a pool. Call Run to start it.
func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.Queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 2
	}
	backoff := cfg.ErrorBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	return &Pool{
		queue:   cfg.Queue,
		handler: cfg.Handler,
		workers: workers,
		backoff: backoff,
		logger:  logger.With("pool", "documents", "workers", workers),
	}, nil
}

// Run starts the workers and blocks until ctx is cancelled or the queue is
// closed. Cancelling ctx stops dequeuing; tasks already handed to the
// handler run to completion before Run returns.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("worker pool starting")
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			p.worker(gctx, i)
			return nil
		})
	}
	err := g.Wait()
	p.logger.Info("worker pool stopped", "processed", p.processed.Load(), "failed", p.failed.Load())
	return err
}

func (p *Pool) worker(ctx context.Context, id int) {
	logger := p.logger.With("worker", id)
	logger.Debug("worker started")
	for {
		if ctx.Err() != nil {
			logger.Debug("worker stopping")
			return
		}
		t, err := p.queue.Dequeue(ctx)
		switch {
		case err == nil && ctx.Err() != nil:
			// Shutdown raced the dequeue; the task goes back for the next run.
			p.requeue(logger, t)
			return
		case errors.Is(err, ErrQueueClosed), ctx.Err() != nil:
			logger.Debug("worker stopping")
			return
		case err != nil:
			logger.Warn("dequeue failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.backoff):
			}
			continue
		}

		p.handle(ctx, logger, t)
	}
}

func (p *Pool) requeue(logger *slog.Logger, t Task) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.queue.Enqueue(ctx, t); err != nil {
		logger.Error("failed to requeue task on shutdown", "document_id", t.DocumentID, "error", err)
		return
	}
	logger.Info("task requeued on shutdown", "document_id", t.DocumentID)
}

func (p *Pool) handle(ctx context.Context, logger *slog.Logger, t Task) {
	p.inFlight.Add(1)
	defer p.inFlight.Add(-1)

	start := time.Now()
	logger = logger.With("document_id", t.DocumentID)
	logger.Debug("task started", "reason", t.Reason, "queued_ms", time.Since(t.EnqueuedAt).Milliseconds())

	// In-flight work is not cancelled by shutdown.
	err := p.handler(context.WithoutCancel(ctx), t)
	p.processed.Add(1)
	if err != nil {
		p.failed.Add(1)
		logger.Warn("task failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		return
	}
	logger.Debug("task done", "duration_ms", time.Since(start).Milliseconds())
}

// PoolStatus reports a pool's current state.
type PoolStatus struct {
	Workers   int   `json:"workers"`
	InFlight  int   `json:"in_flight"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
}

// Status returns current pool counters.
func (p *Pool) Status() PoolStatus {
	return PoolStatus{
		Workers:   p.workers,
		InFlight:  int(p.inFlight.Load()),
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
	}
}
