package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackzampolin/takeoff/internal/pdfdoc"
	"github.com/jackzampolin/takeoff/internal/providers"
)

// Kind classifies a stage failure.
type Kind int

const (
	// KindInternal is a bug or an unexpected condition. Not retried.
	KindInternal Kind = iota

	// KindInput means the document itself cannot be processed: a corrupt
	// PDF, no extractable content. Not retried.
	KindInput

	// KindTransient is a collaborator timeout, quota or outage. Retried
	// with backoff.
	KindTransient

	// KindMalformed means the interpretation payload did not parse or did
	// not match the schema. Not retried by the orchestrator.
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindTransient:
		return "transient"
	case KindMalformed:
		return "malformed"
	default:
		return "internal"
	}
}

var (
	// ErrNoContent is returned when no page of the reduced document yields text.
	ErrNoContent = errors.New("no extractable content")

	// ErrMalformedResponse is returned when the interpretation payload is unusable.
	ErrMalformedResponse = errors.New("malformed interpretation response")
)

// Error is a classified stage failure.
type Error struct {
	Kind  Kind
	Stage string
	Err   error
}

func (e *Error) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Stage, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a transient stage failure.
func IsRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == KindTransient
	}
	return false
}

// KindOf returns the kind of err. Unclassified errors are internal.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

func newError(kind Kind, stage string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Err: err}
}

// classify maps collaborator and library errors onto a Kind. Errors that
// are already classified keep their kind.
func classify(stage string, err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}

	switch {
	case providers.IsTransient(err):
		return newError(KindTransient, stage, err)
	case errors.Is(err, context.DeadlineExceeded):
		return newError(KindTransient, stage, err)
	case errors.Is(err, providers.ErrInvalidInput),
		errors.Is(err, pdfdoc.ErrUnreadable),
		errors.Is(err, pdfdoc.ErrPageRange),
		errors.Is(err, ErrNoContent):
		return newError(KindInput, stage, err)
	case errors.Is(err, ErrMalformedResponse):
		return newError(KindMalformed, stage, err)
	default:
		return newError(KindInternal, stage, err)
	}
}

// withStage fills in the stage of a classified error raised by shared
// helpers such as the source loader.
func withStage(stage string, err error) error {
	var pe *Error
	if errors.As(err, &pe) && pe.Stage == "" {
		pe.Stage = stage
	}
	return err
}
