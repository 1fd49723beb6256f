package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jackzampolin/takeoff/internal/document"
)

// backends returns a fresh store per backend. Postgres runs only when
// TAKEOFF_TEST_POSTGRES_DSN is set.
func backends(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	out := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store {
			s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "takeoff.db"), nil)
			if err != nil {
				t.Fatalf("OpenSQLite() error = %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
	if dsn := os.Getenv("TAKEOFF_TEST_POSTGRES_DSN"); dsn != "" {
		out["postgres"] = func(t *testing.T) Store {
			s, err := OpenPostgres(context.Background(), PostgresConfig{DSN: dsn})
			if err != nil {
				t.Fatalf("OpenPostgres() error = %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		}
	}
	return out
}

func newDoc(t *testing.T, s Store, id string) *document.Document {
	t.Helper()
	doc := &document.Document{ID: id, Filename: id + ".pdf", StorageRef: "blob/" + id}
	if err := s.Create(context.Background(), doc); err != nil {
		t.Fatalf("Create(%s) error = %v", id, err)
	}
	return doc
}

func sampleResult(id string) *document.Result {
	page := 4
	return &document.Result{
		DocumentID: id,
		Measurements: []document.Measurement{{
			Name: "roof_area", Kind: "area", Value: 2500, Unit: "sqft", SourcePage: &page,
			Meta: document.FieldMeta{Confidence: 0.9, Status: document.FieldOK},
		}},
		Confidence: 0.9,
	}
}

func TestStoreLifecycle(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			doc := newDoc(t, s, "doc-1")
			if doc.Status != document.StatusPending {
				t.Fatalf("Status = %s, want PENDING", doc.Status)
			}

			got, err := s.BeginRun(ctx, "doc-1")
			if err != nil {
				t.Fatalf("BeginRun() error = %v", err)
			}
			if got.Status != document.StatusProcessing || got.StartedAt == nil {
				t.Errorf("BeginRun() = %+v, want PROCESSING with StartedAt", got)
			}

			if err := s.SetStage(ctx, "doc-1", document.StageExtract, 2); err != nil {
				t.Fatalf("SetStage() error = %v", err)
			}
			got, _ = s.Get(ctx, "doc-1")
			if got.Stage != document.StageExtract || got.Attempts != 2 {
				t.Errorf("Stage/Attempts = %s/%d, want %s/2", got.Stage, got.Attempts, document.StageExtract)
			}

			if _, err := s.GetResult(ctx, "doc-1"); !errors.Is(err, ErrResultNotReady) {
				t.Errorf("GetResult() while processing error = %v, want ErrResultNotReady", err)
			}

			if err := s.Complete(ctx, "doc-1", sampleResult("doc-1")); err != nil {
				t.Fatalf("Complete() error = %v", err)
			}
			got, _ = s.Get(ctx, "doc-1")
			if got.Status != document.StatusCompleted || got.Stage != "" || got.CompletedAt == nil {
				t.Errorf("after Complete = %+v", got)
			}

			res, err := s.GetResult(ctx, "doc-1")
			if err != nil {
				t.Fatalf("GetResult() error = %v", err)
			}
			if len(res.Measurements) != 1 || *res.Measurements[0].SourcePage != 4 {
				t.Errorf("GetResult() measurements = %+v", res.Measurements)
			}
			if res.Confidence != 0.9 {
				t.Errorf("Confidence = %v, want 0.9", res.Confidence)
			}
		})
	}
}

func TestStoreGuard(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			newDoc(t, s, "doc-1")

			if _, err := s.BeginRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Errorf("BeginRun(missing) error = %v, want ErrNotFound", err)
			}
			if _, err := s.BeginRun(ctx, "doc-1"); err != nil {
				t.Fatalf("BeginRun() error = %v", err)
			}
			if _, err := s.BeginRun(ctx, "doc-1"); !errors.Is(err, ErrAlreadyProcessing) {
				t.Errorf("second BeginRun() error = %v, want ErrAlreadyProcessing", err)
			}

			if err := s.Complete(ctx, "doc-1", sampleResult("doc-1")); err != nil {
				t.Fatalf("Complete() error = %v", err)
			}
			if _, err := s.BeginRun(ctx, "doc-1"); !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("BeginRun(COMPLETED) error = %v, want ErrInvalidTransition", err)
			}
			if err := s.Fail(ctx, "doc-1", "late"); !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("Fail(COMPLETED) error = %v, want ErrInvalidTransition", err)
			}
			if err := s.SetStage(ctx, "doc-1", document.StageIndex, 1); !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("SetStage(COMPLETED) error = %v, want ErrInvalidTransition", err)
			}
		})
	}
}

func TestStoreFailAndRerun(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			newDoc(t, s, "doc-1")

			if err := s.Fail(ctx, "doc-1", "boom"); !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("Fail(PENDING) error = %v, want ErrInvalidTransition", err)
			}

			s.BeginRun(ctx, "doc-1")
			if err := s.Fail(ctx, "doc-1", "ocr unavailable"); err != nil {
				t.Fatalf("Fail() error = %v", err)
			}
			got, _ := s.Get(ctx, "doc-1")
			if got.Status != document.StatusFailed || got.Error != "ocr unavailable" {
				t.Errorf("after Fail = %s %q", got.Status, got.Error)
			}
			if _, err := s.GetResult(ctx, "doc-1"); !errors.Is(err, ErrResultNotReady) {
				t.Errorf("GetResult(FAILED) error = %v, want ErrResultNotReady", err)
			}

			got, err := s.BeginRun(ctx, "doc-1")
			if err != nil {
				t.Fatalf("BeginRun(FAILED) error = %v", err)
			}
			if got.Error != "" {
				t.Errorf("Error = %q, want cleared on re-entry", got.Error)
			}
			if err := s.Complete(ctx, "doc-1", sampleResult("doc-1")); err != nil {
				t.Fatalf("Complete() error = %v", err)
			}
		})
	}
}

func TestStoreRejectsRequestAnsweredByLaterRun(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			newDoc(t, s, "doc-1")

			requested := time.Now().UTC().Add(-time.Minute)
			if _, err := s.BeginRequestedRun(ctx, "doc-1", requested); err != nil {
				t.Fatalf("BeginRequestedRun() error = %v", err)
			}
			if err := s.Fail(ctx, "doc-1", "bad page"); err != nil {
				t.Fatalf("Fail() error = %v", err)
			}

			// A second task queued alongside the first must not rerun the failure.
			if _, err := s.BeginRequestedRun(ctx, "doc-1", requested); !errors.Is(err, ErrStaleRequest) {
				t.Errorf("BeginRequestedRun(stale) error = %v, want ErrStaleRequest", err)
			}
			got, _ := s.Get(ctx, "doc-1")
			if got.Status != document.StatusFailed {
				t.Errorf("Status = %s, want FAILED", got.Status)
			}

			if _, err := s.BeginRequestedRun(ctx, "doc-1", time.Now().UTC().Add(time.Minute)); err != nil {
				t.Errorf("BeginRequestedRun(fresh) error = %v", err)
			}
		})
	}
}

func TestStoreConcurrentBeginRun(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			newDoc(t, s, "doc-1")

			const workers = 8
			var (
				wg         sync.WaitGroup
				mu         sync.Mutex
				won        int
				rejected   int
				unexpected []error
			)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := s.BeginRun(ctx, "doc-1")
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						won++
					case errors.Is(err, ErrAlreadyProcessing):
						rejected++
					default:
						unexpected = append(unexpected, err)
					}
				}()
			}
			wg.Wait()

			if won != 1 {
				t.Errorf("winners = %d, want 1", won)
			}
			if rejected != workers-1 {
				t.Errorf("rejected = %d, want %d", rejected, workers-1)
			}
			for _, err := range unexpected {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestStoreCreateDuplicate(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			newDoc(t, s, "doc-1")
			err := s.Create(context.Background(), &document.Document{ID: "doc-1"})
			if !errors.Is(err, ErrAlreadyExists) {
				t.Errorf("Create(duplicate) error = %v, want ErrAlreadyExists", err)
			}
			if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStoreList(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			for _, id := range []string{"a", "b", "c"} {
				newDoc(t, s, id)
			}
			s.BeginRun(ctx, "b")

			all, err := s.List(ctx, ListFilter{})
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(all) != 3 {
				t.Errorf("len(List()) = %d, want 3", len(all))
			}

			running, _ := s.List(ctx, ListFilter{Status: document.StatusProcessing})
			if len(running) != 1 || running[0].ID != "b" {
				t.Errorf("List(PROCESSING) = %v, want [b]", running)
			}

			limited, _ := s.List(ctx, ListFilter{Limit: 2})
			if len(limited) != 2 {
				t.Errorf("len(List(limit 2)) = %d, want 2", len(limited))
			}
		})
	}
}

func TestSQLiteSingleResultRow(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "takeoff.db"), nil)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	defer s.Close()

	newDoc(t, s, "doc-1")
	s.BeginRun(ctx, "doc-1")
	if err := s.Complete(ctx, "doc-1", sampleResult("doc-1")); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if err := s.Complete(ctx, "doc-1", sampleResult("doc-1")); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second Complete() error = %v, want ErrInvalidTransition", err)
	}

	n, err := s.CountResults(ctx, "doc-1")
	if err != nil {
		t.Fatalf("CountResults() error = %v", err)
	}
	if n != 1 {
		t.Errorf("CountResults() = %d, want 1", n)
	}
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "takeoff.db")

	s, err := OpenSQLite(ctx, path, nil)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	newDoc(t, s, "doc-1")
	s.Close()

	s, err = OpenSQLite(ctx, path, nil)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()
	got, err := s.Get(ctx, "doc-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Filename != "doc-1.pdf" {
		t.Errorf("Filename = %q, want doc-1.pdf", got.Filename)
	}
}

func TestRebind(t *testing.T) {
	q := `UPDATE documents SET a = ? WHERE id = ? AND status IN (?, ?)`
	if got := sqliteDialect.rebind(q); got != q {
		t.Errorf("sqlite rebind changed query: %s", got)
	}
	want := `UPDATE documents SET a = $1 WHERE id = $2 AND status IN ($3, $4)`
	if got := postgresDialect.rebind(q); got != want {
		t.Errorf("postgres rebind = %s, want %s", got, want)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), Config{Driver: "mongo"}); err == nil {
		t.Error("expected error for unknown driver")
	}
}
