// Package pipeline turns an uploaded plan set into a validated takeoff.
//
// A run executes five stages in a fixed order, each consuming the artifact
// of the previous one:
//
//	IndexPageAnalyzer      raw PDF          -> IndexArtifact
//	SelectivePageExtractor raw PDF + index  -> ReducedDocument
//	ContentExtractor       ReducedDocument  -> Extraction
//	Interpreter            Extraction       -> Interpretation
//	Validator              Interpretation   -> document.Result
//
// The Orchestrator owns the order, the per-stage retry policy and all writes
// to the status store. Stages never touch the store.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackzampolin/takeoff/internal/document"
)

// Stage is one step of a run.
type Stage interface {
	// Name is the stage marker recorded while the stage runs.
	Name() string

	// Dependencies names the stages whose artifacts this stage reads.
	Dependencies() []string

	Description() string

	// Run reads its input artifact from state and stores its output there.
	// Returned errors are classified with a Kind.
	Run(ctx context.Context, state *RunState) error
}

// RunState carries the artifacts of one run between stages.
type RunState struct {
	Document *document.Document

	Index          *IndexArtifact
	Reduced        *ReducedDocument
	Extraction     *Extraction
	Interpretation *Interpretation
	Result         *document.Result

	mu     sync.Mutex
	source []byte
	load   func(ctx context.Context) ([]byte, error)
}

// NewRunState returns a state whose source PDF is loaded lazily by load.
func NewRunState(doc *document.Document, load func(ctx context.Context) ([]byte, error)) *RunState {
	return &RunState{Document: doc, load: load}
}

// NewRunStateFromBytes returns a state over an in-memory PDF.
func NewRunStateFromBytes(doc *document.Document, data []byte) *RunState {
	return &RunState{Document: doc, source: data}
}

// Source returns the original PDF, loading it on first use.
func (s *RunState) Source(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.source != nil {
		return s.source, nil
	}
	if s.load == nil {
		return nil, fmt.Errorf("no source document")
	}
	data, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	s.source = data
	return data, nil
}

func (s *RunState) filename() string {
	if s.Document == nil {
		return ""
	}
	return s.Document.Filename
}
