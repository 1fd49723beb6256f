// Package store persists documents and their processing results.
//
// Every backend enforces the same guarded transitions: a run may only begin
// on a PENDING or FAILED document, and only a PROCESSING document can be
// completed or failed. The guard is the single mechanism that keeps two
// workers from processing the same document at once.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackzampolin/takeoff/internal/document"
)

var (
	// ErrNotFound is returned when a document id is unknown.
	ErrNotFound = errors.New("document not found")

	// ErrAlreadyProcessing is returned when a run is requested for a document
	// that already has one in flight.
	ErrAlreadyProcessing = errors.New("document is already processing")

	// ErrInvalidTransition is returned when a status change is not allowed
	// from the document's current status.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrResultNotReady is returned when a result is requested for a document
	// that has not completed.
	ErrResultNotReady = errors.New("result not available")

	// ErrAlreadyExists is returned when creating a document with a used id.
	ErrAlreadyExists = errors.New("document already exists")

	// ErrStaleRequest is returned when a run request predates the latest run
	// of a document. A newer run has already answered it.
	ErrStaleRequest = errors.New("run request superseded by a later run")
)

// ListFilter narrows List results.
type ListFilter struct {
	Status document.Status
	Limit  int
}

// Store is the status store shared by the API and the workers.
type Store interface {
	// Create inserts a new PENDING document.
	Create(ctx context.Context, doc *document.Document) error

	// Get returns a document by id.
	Get(ctx context.Context, id string) (*document.Document, error)

	// List returns documents, newest first.
	List(ctx context.Context, filter ListFilter) ([]*document.Document, error)

	// BeginRun moves a PENDING or FAILED document to PROCESSING, clearing any
	// previous error and stage. It returns ErrAlreadyProcessing when a run is
	// in flight and ErrInvalidTransition for any other status.
	BeginRun(ctx context.Context, id string) (*document.Document, error)

	// BeginRequestedRun is BeginRun for a run requested at requestedAt. It
	// returns ErrStaleRequest when a run started after the request. A zero
	// requestedAt behaves like BeginRun.
	BeginRequestedRun(ctx context.Context, id string, requestedAt time.Time) (*document.Document, error)

	// SetStage records the current stage and attempt count of a running document.
	SetStage(ctx context.Context, id, stage string, attempts int) error

	// Complete stores the result and marks the document COMPLETED atomically.
	Complete(ctx context.Context, id string, result *document.Result) error

	// Fail marks a PROCESSING document FAILED with a message.
	Fail(ctx context.Context, id, message string) error

	// GetResult returns the result of a COMPLETED document.
	GetResult(ctx context.Context, id string) (*document.Result, error)

	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// guardError maps the status of a document whose guarded update matched no
// row to the error the caller should see.
func guardError(current document.Status) error {
	if document.Runnable(current) {
		return ErrStaleRequest
	}
	if current == document.StatusProcessing {
		return ErrAlreadyProcessing
	}
	return ErrInvalidTransition
}
