package jobs

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackzampolin/takeoff/internal/document"
	"github.com/jackzampolin/takeoff/internal/pipeline"
	"github.com/jackzampolin/takeoff/internal/store"
)

// funcStage is a single-stage pipeline for driving the bridge.
type funcStage struct {
	fn func(ctx context.Context, state *pipeline.RunState) error
}

func (s *funcStage) Name() string           { return document.StageValidate }
func (s *funcStage) Dependencies() []string { return nil }
func (s *funcStage) Description() string    { return "test stage" }
func (s *funcStage) Run(ctx context.Context, state *pipeline.RunState) error {
	return s.fn(ctx, state)
}

func newTestBridge(t *testing.T, timeout time.Duration, fn func(ctx context.Context, state *pipeline.RunState) error) (*Bridge, *store.MemoryStore, *pipeline.Orchestrator) {
	t.Helper()
	st := store.NewMemoryStore()
	orch, err := pipeline.New(pipeline.Config{
		Store:  st,
		Retry:  pipeline.RetryConfig{MaxRetries: 0, BaseDelay: time.Millisecond},
		Stages: []pipeline.Stage{&funcStage{fn: fn}},
	})
	if err != nil {
		t.Fatalf("pipeline.New() error = %v", err)
	}
	t.Cleanup(orch.Wait)
	b := NewBridge(BridgeConfig{Runner: orch, Store: st, RunTimeout: timeout})
	return b, st, orch
}

func createDoc(t *testing.T, st store.Store, id string) {
	t.Helper()
	if err := st.Create(context.Background(), &document.Document{ID: id, Filename: "plans.pdf"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
}

func succeed(ctx context.Context, state *pipeline.RunState) error {
	state.Result = &document.Result{Confidence: 0.8}
	return nil
}

func TestBridgeHandleCompletes(t *testing.T) {
	b, st, _ := newTestBridge(t, time.Second, succeed)
	createDoc(t, st, "doc-1")

	if err := b.Handle(context.Background(), NewTask("doc-1", PriorityNormal, "upload")); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	doc, _ := st.Get(context.Background(), "doc-1")
	if doc.Status != document.StatusCompleted {
		t.Errorf("Status = %s, want COMPLETED", doc.Status)
	}
}

func TestBridgeHandleReturnsRunFailure(t *testing.T) {
	b, st, _ := newTestBridge(t, time.Second, func(context.Context, *pipeline.RunState) error {
		return errors.New("not a pdf")
	})
	createDoc(t, st, "doc-1")

	err := b.Handle(context.Background(), NewTask("doc-1", PriorityNormal, "upload"))
	if err == nil || !strings.Contains(err.Error(), "not a pdf") {
		t.Fatalf("Handle() error = %v, want run failure", err)
	}
	doc, _ := st.Get(context.Background(), "doc-1")
	if doc.Status != document.StatusFailed {
		t.Errorf("Status = %s, want FAILED", doc.Status)
	}
}

func TestBridgeDropsDuplicates(t *testing.T) {
	release := make(chan struct{})
	b, st, orch := newTestBridge(t, time.Second, func(ctx context.Context, state *pipeline.RunState) error {
		<-release
		return succeed(ctx, state)
	})
	createDoc(t, st, "doc-1")

	run, err := orch.Start(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// A redelivered task while the run is in flight is acked and dropped.
	if err := b.Handle(context.Background(), NewTask("doc-1", PriorityNormal, "upload")); err != nil {
		t.Errorf("Handle() duplicate error = %v, want nil", err)
	}

	close(release)
	if _, err := run.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	// A completed document is not rerun.
	if err := b.Handle(context.Background(), NewTask("doc-1", PriorityHigh, "reprocess")); err != nil {
		t.Errorf("Handle() completed error = %v, want nil", err)
	}
	if err := b.Handle(context.Background(), NewTask("missing", PriorityNormal, "")); err != nil {
		t.Errorf("Handle() unknown error = %v, want nil", err)
	}
}

func TestBridgeDropsTaskQueuedBeforeFailedRun(t *testing.T) {
	var mu sync.Mutex
	runs := 0
	b, st, _ := newTestBridge(t, time.Second, func(context.Context, *pipeline.RunState) error {
		mu.Lock()
		runs++
		mu.Unlock()
		return errors.New("not a pdf")
	})
	createDoc(t, st, "doc-1")

	// Upload and an early reprocess request both queued while PENDING.
	upload := NewTask("doc-1", PriorityNormal, "upload")
	reprocess := NewTask("doc-1", PriorityHigh, "reprocess")
	upload.EnqueuedAt = upload.EnqueuedAt.Add(-time.Second)
	reprocess.EnqueuedAt = reprocess.EnqueuedAt.Add(-time.Second)

	if err := b.Handle(context.Background(), reprocess); err == nil {
		t.Fatal("Handle() error = nil, want run failure")
	}
	if err := b.Handle(context.Background(), upload); err != nil {
		t.Errorf("Handle() stale error = %v, want nil", err)
	}

	mu.Lock()
	if runs != 1 {
		t.Errorf("runs = %d, want 1", runs)
	}
	mu.Unlock()
	doc, _ := st.Get(context.Background(), "doc-1")
	if doc.Status != document.StatusFailed {
		t.Errorf("Status = %s, want FAILED", doc.Status)
	}

	// A request made after the failure still reruns.
	if err := b.Handle(context.Background(), NewTask("doc-1", PriorityHigh, "reprocess")); err == nil {
		t.Error("Handle() fresh request error = nil, want run failure")
	}
	mu.Lock()
	defer mu.Unlock()
	if runs != 2 {
		t.Errorf("runs = %d, want 2", runs)
	}
}

func TestBridgeConcurrentDeliveries(t *testing.T) {
	var mu sync.Mutex
	runs := 0
	b, st, _ := newTestBridge(t, time.Second, func(ctx context.Context, state *pipeline.RunState) error {
		mu.Lock()
		runs++
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		return succeed(ctx, state)
	})
	createDoc(t, st, "doc-1")

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.Handle(context.Background(), NewTask("doc-1", PriorityNormal, "upload")); err != nil {
				t.Errorf("Handle() error = %v", err)
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if runs != 1 {
		t.Errorf("runs = %d, want exactly 1", runs)
	}
	if got := st.ResultWrites(); got != 1 {
		t.Errorf("ResultWrites() = %d, want 1", got)
	}
}

func TestBridgeRunTimeout(t *testing.T) {
	release := make(chan struct{})
	b, st, orch := newTestBridge(t, 20*time.Millisecond, func(ctx context.Context, state *pipeline.RunState) error {
		<-release
		return succeed(ctx, state)
	})
	createDoc(t, st, "doc-1")

	err := b.Handle(context.Background(), NewTask("doc-1", PriorityNormal, "upload"))
	if !errors.Is(err, ErrRunTimeout) {
		t.Fatalf("Handle() error = %v, want ErrRunTimeout", err)
	}

	// The run keeps going after the bridge gives up.
	doc, _ := st.Get(context.Background(), "doc-1")
	if doc.Status != document.StatusProcessing {
		t.Errorf("Status = %s, want PROCESSING", doc.Status)
	}
	close(release)
	orch.Wait()
	doc, _ = st.Get(context.Background(), "doc-1")
	if doc.Status != document.StatusCompleted {
		t.Errorf("Status = %s, want COMPLETED", doc.Status)
	}
}

type panicStarter struct{}

func (panicStarter) StartRequested(context.Context, string, time.Time) (*pipeline.Run, error) {
	panic("starter exploded")
}

func TestBridgeRecoversPanics(t *testing.T) {
	st := store.NewMemoryStore()
	createDoc(t, st, "doc-1")
	if _, err := st.BeginRun(context.Background(), "doc-1"); err != nil {
		t.Fatalf("BeginRun() error = %v", err)
	}

	b := NewBridge(BridgeConfig{Runner: panicStarter{}, Store: st})
	err := b.Handle(context.Background(), NewTask("doc-1", PriorityNormal, ""))
	if err == nil || !strings.Contains(err.Error(), "starter exploded") {
		t.Fatalf("Handle() error = %v, want panic error", err)
	}
	doc, _ := st.Get(context.Background(), "doc-1")
	if doc.Status != document.StatusFailed {
		t.Errorf("Status = %s, want FAILED", doc.Status)
	}
}
