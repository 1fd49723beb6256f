package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/jackzampolin/takeoff/internal/document"
	"github.com/jackzampolin/takeoff/internal/pipeline"
	"github.com/jackzampolin/takeoff/internal/store"
)

// Starter starts pipeline runs. It is satisfied by *pipeline.Orchestrator.
type Starter interface {
	StartRequested(ctx context.Context, id string, requestedAt time.Time) (*pipeline.Run, error)
}

// BridgeConfig configures a Bridge.
type BridgeConfig struct {
	Runner Starter

	// Store is used to fail a document whose run panicked in the bridge.
	Store store.Store

	// RunTimeout bounds how long the bridge waits for a run (default 30m).
	// The run itself is not cancelled when the wait gives up.
	RunTimeout time.Duration

	Logger *slog.Logger
}

// Bridge turns a queued task into one blocking pipeline run.
type Bridge struct {
	runner  Starter
	store   store.Store
	timeout time.Duration
	logger  *slog.Logger
}

// ErrRunTimeout is returned when a run outlives the bridge's wait.
var ErrRunTimeout = errors.New("run did not finish within the run timeout")

// NewBridge creates a bridge.
func NewBridge(cfg BridgeConfig) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.RunTimeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &Bridge{runner: cfg.Runner, store: cfg.Store, timeout: timeout, logger: logger}
}

// Handle starts the run for t and waits for it. Duplicate deliveries for a
// document that is already processing or completed are dropped and return
// nil, as are tasks enqueued before the document's latest run started. A panic is converted to an error and, when the document is
// processing, to a FAILED status.
func (b *Bridge) Handle(ctx context.Context, t Task) (err error) {
	logger := b.logger.With("document_id", t.DocumentID)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("task panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("task for %s panicked: %v", t.DocumentID, r)
			b.failDocument(ctx, t.DocumentID, err, logger)
		}
	}()

	run, err := b.runner.StartRequested(ctx, t.DocumentID, t.EnqueuedAt)
	switch {
	case errors.Is(err, store.ErrStaleRequest):
		logger.Warn("dropping stale task, a later run already answered it", "enqueued_at", t.EnqueuedAt)
		return nil
	case errors.Is(err, store.ErrAlreadyProcessing):
		logger.Warn("dropping duplicate task, document already processing")
		return nil
	case errors.Is(err, store.ErrInvalidTransition):
		logger.Warn("dropping task, document is not runnable")
		return nil
	case errors.Is(err, store.ErrNotFound):
		logger.Warn("dropping task for unknown document")
		return nil
	case err != nil:
		return fmt.Errorf("failed to start run: %w", err)
	}

	wctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	res, err := run.Wait(wctx)
	switch {
	case errors.Is(err, context.DeadlineExceeded) && wctx.Err() != nil:
		logger.Error("run exceeded timeout, leaving it running", "timeout", b.timeout)
		return ErrRunTimeout
	case err != nil:
		return err
	}
	logger.Info("run finished", "confidence", res.Confidence)
	return nil
}

// Handler adapts the bridge to a pool Handler.
func (b *Bridge) Handler() Handler {
	return b.Handle
}

func (b *Bridge) failDocument(ctx context.Context, id string, cause error, logger *slog.Logger) {
	if b.store == nil {
		return
	}
	doc, err := b.store.Get(ctx, id)
	if err != nil || doc.Status != document.StatusProcessing {
		return
	}
	if err := b.store.Fail(ctx, id, cause.Error()); err != nil {
		logger.Error("failed to record panic", "error", err)
	}
}
