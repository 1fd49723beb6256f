package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime/debug"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/jackzampolin/takeoff/internal/blob"
	"github.com/jackzampolin/takeoff/internal/document"
	"github.com/jackzampolin/takeoff/internal/profiles"
	"github.com/jackzampolin/takeoff/internal/providers"
	"github.com/jackzampolin/takeoff/internal/rates"
	"github.com/jackzampolin/takeoff/internal/store"
)

// RetryConfig is the per-stage retry policy. Only transient errors are
// retried.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Factor     float64
}

// DefaultRetryConfig returns 3 retries starting at 2s, doubling, capped at 1m.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  2 * time.Second,
		MaxDelay:   time.Minute,
		Factor:     2,
	}
}

// Delay returns the wait before retry k (1-based): BaseDelay*Factor^(k-1),
// capped at MaxDelay.
func (c RetryConfig) Delay(k int) time.Duration {
	if k < 1 {
		k = 1
	}
	factor := c.Factor
	if factor < 1 {
		factor = 1
	}
	d := float64(c.BaseDelay) * math.Pow(factor, float64(k-1))
	if c.MaxDelay > 0 && d > float64(c.MaxDelay) {
		return c.MaxDelay
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// RunAttempt records the retries of the latest run of a document.
type RunAttempt struct {
	DocumentID string
	Attempts   map[string]int
	Delays     []time.Duration
	LastError  string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Config holds the collaborators of an Orchestrator.
type Config struct {
	Store store.Store
	Blobs blob.Store

	Profiles   *profiles.Set
	Recognizer providers.Recognizer
	LLM        providers.LLMClient
	Rates      rates.Table

	Retry RetryConfig

	// Timer waits out retry delays. Nil uses real time.
	Timer retry.Timer

	RecognizeTimeout time.Duration
	InterpretTimeout time.Duration

	Model            string
	Temperature      float64
	MaxTokens        int
	MalformedRetries int

	// AttemptHistory is how many finished run records are kept for
	// Attempt (default 1024). Records of runs in flight are always kept.
	AttemptHistory int

	// Stages replaces the default stages when set.
	Stages []Stage

	Logger *slog.Logger
}

// Orchestrator runs the stages of a document in order and owns every
// status store write of a run.
type Orchestrator struct {
	store  store.Store
	blobs  blob.Store
	stages []Stage
	retry  RetryConfig
	timer  retry.Timer
	logger *slog.Logger

	mu       sync.Mutex
	attempts map[string]*RunAttempt
	finished []*RunAttempt
	history  int
	inflight sync.WaitGroup
}

// New builds an orchestrator over the default stages.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("status store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.Retry.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries must be >= 0")
	}

	stages := cfg.Stages
	if stages == nil {
		if cfg.Profiles == nil {
			cfg.Profiles = profiles.Builtin()
		}
		if cfg.Rates == nil {
			cfg.Rates = rates.Default()
		}
		stages = []Stage{
			&IndexPageAnalyzer{Profiles: cfg.Profiles, Logger: logger},
			&SelectivePageExtractor{},
			&ContentExtractor{Recognizer: cfg.Recognizer, Timeout: cfg.RecognizeTimeout, Logger: logger},
			&Interpreter{
				LLM:              cfg.LLM,
				Model:            cfg.Model,
				Temperature:      cfg.Temperature,
				MaxTokens:        cfg.MaxTokens,
				Timeout:          cfg.InterpretTimeout,
				MalformedRetries: cfg.MalformedRetries,
				Logger:           logger,
			},
			&Validator{Rates: cfg.Rates, Logger: logger},
		}
	}

	history := cfg.AttemptHistory
	if history <= 0 {
		history = 1024
	}

	ordered, err := orderStages(stages)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		store:    cfg.Store,
		blobs:    cfg.Blobs,
		stages:   ordered,
		retry:    cfg.Retry,
		timer:    cfg.Timer,
		logger:   logger,
		attempts: make(map[string]*RunAttempt),
		history:  history,
	}, nil
}

// Stages returns the stage names in run order.
func (o *Orchestrator) Stages() []string {
	names := make([]string, len(o.stages))
	for i, s := range o.stages {
		names[i] = s.Name()
	}
	return names
}

// Run is a run in flight.
type Run struct {
	DocumentID string

	done   chan struct{}
	result *document.Result
	err    error
}

// Done is closed when the run ends.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run ends or ctx is done. A ctx that ends first
// does not stop the run.
func (r *Run) Wait(ctx context.Context) (*document.Result, error) {
	select {
	case <-r.done:
		return r.result, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Start moves the document to PROCESSING and runs its stages on a new
// goroutine. A document that is already processing is rejected with
// store.ErrAlreadyProcessing.
func (o *Orchestrator) Start(ctx context.Context, id string) (*Run, error) {
	return o.StartRequested(ctx, id, time.Time{})
}

// StartRequested is Start for a run requested at requestedAt. A request
// that an already started run has answered fails with store.ErrStaleRequest.
func (o *Orchestrator) StartRequested(ctx context.Context, id string, requestedAt time.Time) (*Run, error) {
	doc, err := o.store.BeginRequestedRun(ctx, id, requestedAt)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.attempts[id] = &RunAttempt{
		DocumentID: id,
		Attempts:   make(map[string]int, len(o.stages)),
		StartedAt:  time.Now(),
	}
	o.mu.Unlock()

	run := &Run{DocumentID: id, done: make(chan struct{})}
	runCtx := context.WithoutCancel(ctx)
	o.inflight.Add(1)
	go func() {
		defer o.inflight.Done()
		defer close(run.done)
		run.result, run.err = o.execute(runCtx, doc)
	}()
	return run, nil
}

// Run starts a run and waits for it.
func (o *Orchestrator) Run(ctx context.Context, id string) (*document.Result, error) {
	run, err := o.Start(ctx, id)
	if err != nil {
		return nil, err
	}
	return run.Wait(ctx)
}

// Wait blocks until every run in flight has ended.
func (o *Orchestrator) Wait() {
	o.inflight.Wait()
}

// Attempt returns a copy of the latest run record of a document.
func (o *Orchestrator) Attempt(id string) (RunAttempt, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	ra, ok := o.attempts[id]
	if !ok {
		return RunAttempt{}, false
	}
	out := *ra
	out.Attempts = make(map[string]int, len(ra.Attempts))
	for k, v := range ra.Attempts {
		out.Attempts[k] = v
	}
	out.Delays = append([]time.Duration(nil), ra.Delays...)
	return out, true
}

func (o *Orchestrator) execute(ctx context.Context, doc *document.Document) (result *document.Result, err error) {
	logger := o.logger.With("document_id", doc.ID)
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("run panicked", "panic", r, "stack", string(debug.Stack()))
			result, err = nil, newError(KindInternal, "", fmt.Errorf("panic: %v", r))
			o.fail(ctx, doc.ID, err, logger)
		}
	}()

	logger.Info("run started", "filename", doc.Filename, "stages", len(o.stages))
	state := NewRunState(doc, o.loader(doc))
	durations := make(map[string]int64, len(o.stages))

	for _, stage := range o.stages {
		stageStart := time.Now()
		if err := o.runStage(ctx, stage, state, logger); err != nil {
			o.fail(ctx, doc.ID, err, logger)
			return nil, err
		}
		durations[stage.Name()] = time.Since(stageStart).Milliseconds()
	}

	result = state.Result
	if result == nil {
		err = newError(KindInternal, "", errors.New("no result produced"))
		o.fail(ctx, doc.ID, err, logger)
		return nil, err
	}
	result.DocumentID = doc.ID
	if result.Metadata == nil {
		result.Metadata = make(map[string]any)
	}
	result.Metadata["stage_durations_ms"] = durations
	result.Metadata["duration_ms"] = time.Since(started).Milliseconds()

	if err := o.store.Complete(ctx, doc.ID, result); err != nil {
		err = fmt.Errorf("failed to store result: %w", err)
		o.fail(ctx, doc.ID, err, logger)
		return nil, err
	}

	o.finish(doc.ID, nil)
	logger.Info("run completed",
		"confidence", result.Confidence,
		"needs_review", result.NeedsReview(),
		"duration_ms", time.Since(started).Milliseconds())
	return result, nil
}

// runStage runs one stage under the retry policy. Each attempt reruns the
// whole stage.
func (o *Orchestrator) runStage(ctx context.Context, stage Stage, state *RunState, logger *slog.Logger) error {
	name := stage.Name()
	id := state.Document.ID
	logger = logger.With("stage", name)

	attempt := 0
	opts := []retry.Option{
		retry.Context(ctx),
		retry.Attempts(uint(o.retry.MaxRetries + 1)),
		retry.RetryIf(IsRetryable),
		retry.LastErrorOnly(true),
		retry.MaxDelay(o.retry.MaxDelay),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			d := o.retry.Delay(int(n))
			o.recordDelay(id, d)
			return d
		}),
		retry.OnRetry(func(n uint, err error) {
			o.recordError(id, err)
			if int(n) < o.retry.MaxRetries {
				logger.Warn("stage failed, retrying",
					"attempt", n+1,
					"next_delay", o.retry.Delay(int(n)+1),
					"error", err)
			}
		}),
	}
	if o.timer != nil {
		opts = append(opts, retry.WithTimer(o.timer))
	}

	start := time.Now()
	err := retry.Do(func() error {
		attempt++
		o.recordAttempt(id, name)
		if err := o.store.SetStage(ctx, id, name, attempt); err != nil {
			return newError(KindInternal, name, fmt.Errorf("failed to record stage: %w", err))
		}
		logger.Debug("stage started", "attempt", attempt)
		return withStage(name, classify(name, stage.Run(ctx, state)))
	}, opts...)
	if err != nil {
		logger.Error("stage failed",
			"attempts", attempt,
			"kind", KindOf(err).String(),
			"error", err)
		return err
	}

	logger.Info("stage completed", "attempts", attempt, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// loader fetches the source PDF. A missing object is an input error; any
// other storage failure is worth retrying.
func (o *Orchestrator) loader(doc *document.Document) func(ctx context.Context) ([]byte, error) {
	return func(ctx context.Context) ([]byte, error) {
		if o.blobs == nil {
			return nil, newError(KindInternal, "", errors.New("no blob store configured"))
		}
		key := doc.StorageRef
		if key == "" {
			key = blob.DocumentKey(doc.ID)
		}
		data, err := o.blobs.Get(ctx, key)
		switch {
		case errors.Is(err, blob.ErrNotFound), errors.Is(err, blob.ErrInvalidKey):
			return nil, newError(KindInput, "", fmt.Errorf("source document %s: %w", key, err))
		case err != nil:
			return nil, newError(KindTransient, "", fmt.Errorf("failed to load source document: %w", err))
		}
		return data, nil
	}
}

func (o *Orchestrator) fail(ctx context.Context, id string, runErr error, logger *slog.Logger) {
	o.finish(id, runErr)
	if err := o.store.Fail(ctx, id, runErr.Error()); err != nil {
		logger.Error("failed to record run failure", "error", err, "run_error", runErr)
		return
	}
	logger.Error("run failed", "error", runErr)
}

func (o *Orchestrator) recordAttempt(id, stage string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ra, ok := o.attempts[id]; ok {
		ra.Attempts[stage]++
	}
}

func (o *Orchestrator) recordDelay(id string, d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ra, ok := o.attempts[id]; ok {
		ra.Delays = append(ra.Delays, d)
	}
}

func (o *Orchestrator) recordError(id string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ra, ok := o.attempts[id]; ok {
		ra.LastError = err.Error()
	}
}

func (o *Orchestrator) finish(id string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ra, ok := o.attempts[id]
	if !ok || !ra.FinishedAt.IsZero() {
		return
	}
	ra.FinishedAt = time.Now()
	if err != nil {
		ra.LastError = err.Error()
	}

	// Evict the oldest finished records. A record already replaced by a
	// newer run of the same document is only dropped from the queue.
	o.finished = append(o.finished, ra)
	for len(o.finished) > o.history {
		old := o.finished[0]
		o.finished[0] = nil
		o.finished = o.finished[1:]
		if o.attempts[old.DocumentID] == old {
			delete(o.attempts, old.DocumentID)
		}
	}
}
