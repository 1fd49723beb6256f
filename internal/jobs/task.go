// Package jobs moves document runs from the API to background workers.
//
// The API enqueues a Task per run request. A Pool of workers dequeues tasks
// and hands each to the Bridge, which starts the pipeline run and waits for
// it. Delivery is at-least-once; duplicates are dropped by the status
// store's guarded transition.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrQueueClosed is returned by queue operations after Close.
	ErrQueueClosed = errors.New("queue closed")

	// ErrInvalidTask is returned when enqueuing a task without a document id.
	ErrInvalidTask = errors.New("invalid task")
)

// Priority levels for tasks. Higher values are dequeued first.
const (
	PriorityLow    = 0
	PriorityNormal = 10 // new uploads
	PriorityHigh   = 20 // explicit reprocess requests
)

// Task asks for one run of a document.
type Task struct {
	DocumentID string    `json:"document_id"`
	Priority   int       `json:"priority"`
	EnqueuedAt time.Time `json:"enqueued_at"`

	// Reason is informational: "upload", "reprocess", "cli".
	Reason string `json:"reason,omitempty"`
}

// NewTask creates a task stamped with the current time.
func NewTask(documentID string, priority int, reason string) Task {
	return Task{
		DocumentID: documentID,
		Priority:   priority,
		EnqueuedAt: time.Now().UTC(),
		Reason:     reason,
	}
}

func (t Task) validate() error {
	if t.DocumentID == "" {
		return fmt.Errorf("%w: missing document id", ErrInvalidTask)
	}
	return nil
}

func (t Task) encode() ([]byte, error) {
	return json.Marshal(t)
}

func decodeTask(data []byte) (Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return Task{}, fmt.Errorf("failed to decode task: %w", err)
	}
	return t, t.validate()
}

// Queue carries tasks from producers to workers.
type Queue interface {
	// Enqueue adds a task.
	Enqueue(ctx context.Context, t Task) error

	// Dequeue blocks until a task is available or ctx is done.
	Dequeue(ctx context.Context) (Task, error)

	// Len returns the number of waiting tasks.
	Len(ctx context.Context) (int, error)

	// Ping checks the queue backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}
