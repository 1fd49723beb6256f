package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackzampolin/takeoff/internal/document"
)

// MemoryStore is an in-process Store. Results are kept as encoded JSON so
// callers never share memory with the stored copy.
type MemoryStore struct {
	mu      sync.Mutex
	docs    map[string]document.Document
	results map[string][]byte
	now     func() time.Time
	writes  int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:    make(map[string]document.Document),
		results: make(map[string][]byte),
		now:     time.Now,
	}
}

var _ Store = (*MemoryStore)(nil)

// Create inserts a new document.
func (s *MemoryStore) Create(ctx context.Context, doc *document.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[doc.ID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, doc.ID)
	}
	now := s.now().UTC()
	d := *doc
	if d.Status == "" {
		d.Status = document.StatusPending
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	s.docs[d.ID] = d
	*doc = d
	return nil
}

// Get returns a copy of the document.
func (s *MemoryStore) Get(ctx context.Context, id string) (*document.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

// List returns documents newest first.
func (s *MemoryStore) List(ctx context.Context, filter ListFilter) ([]*document.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*document.Document, 0, len(s.docs))
	for _, d := range s.docs {
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		d := d
		out = append(out, &d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// BeginRun performs the guarded PENDING|FAILED -> PROCESSING transition.
func (s *MemoryStore) BeginRun(ctx context.Context, id string) (*document.Document, error) {
	return s.BeginRequestedRun(ctx, id, time.Time{})
}

// BeginRequestedRun performs the guarded transition for a run requested at
// requestedAt.
func (s *MemoryStore) BeginRequestedRun(ctx context.Context, id string, requestedAt time.Time) (*document.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !document.Runnable(d.Status) {
		return nil, guardError(d.Status)
	}
	if !requestedAt.IsZero() && d.StartedAt != nil && d.StartedAt.After(requestedAt) {
		return nil, ErrStaleRequest
	}

	now := s.now().UTC()
	d.Status = document.StatusProcessing
	d.Stage = ""
	d.Error = ""
	d.Attempts = 0
	d.StartedAt = &now
	d.CompletedAt = nil
	d.UpdatedAt = now
	s.docs[id] = d
	return &d, nil
}

// SetStage updates the stage marker of a running document.
func (s *MemoryStore) SetStage(ctx context.Context, id, stage string, attempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[id]
	if !ok {
		return ErrNotFound
	}
	if d.Status != document.StatusProcessing {
		return ErrInvalidTransition
	}
	d.Stage = stage
	d.Attempts = attempts
	d.UpdatedAt = s.now().UTC()
	s.docs[id] = d
	return nil
}

// Complete stores the result and marks the document COMPLETED.
func (s *MemoryStore) Complete(ctx context.Context, id string, result *document.Result) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[id]
	if !ok {
		return ErrNotFound
	}
	if !document.CanTransition(d.Status, document.StatusCompleted) {
		return ErrInvalidTransition
	}

	now := s.now().UTC()
	d.Status = document.StatusCompleted
	d.Stage = ""
	d.Error = ""
	d.CompletedAt = &now
	d.UpdatedAt = now
	s.docs[id] = d
	s.results[id] = payload
	s.writes++
	return nil
}

// Fail marks the document FAILED.
func (s *MemoryStore) Fail(ctx context.Context, id, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[id]
	if !ok {
		return ErrNotFound
	}
	if !document.CanTransition(d.Status, document.StatusFailed) {
		return ErrInvalidTransition
	}

	now := s.now().UTC()
	d.Status = document.StatusFailed
	d.Stage = ""
	d.Error = message
	d.CompletedAt = &now
	d.UpdatedAt = now
	s.docs[id] = d
	return nil
}

// GetResult returns the stored result of a COMPLETED document.
func (s *MemoryStore) GetResult(ctx context.Context, id string) (*document.Result, error) {
	s.mu.Lock()
	d, ok := s.docs[id]
	payload := s.results[id]
	s.mu.Unlock()

	if !ok {
		return nil, ErrNotFound
	}
	if d.Status != document.StatusCompleted || payload == nil {
		return nil, fmt.Errorf("%w: document is %s", ErrResultNotReady, d.Status)
	}

	var r document.Result
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}
	return &r, nil
}

// ResultCount returns the number of stored results.
func (s *MemoryStore) ResultCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

// ResultWrites returns how many times Complete stored a result.
func (s *MemoryStore) ResultWrites() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
