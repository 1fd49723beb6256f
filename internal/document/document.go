// Package document defines the records the pipeline reads and writes:
// uploaded documents, their lifecycle status, and the processing result.
package document

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a document.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// ParseStatus converts a string into a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}

// CanTransition reports whether a document may move from one status to another.
// FAILED documents re-enter PROCESSING when a fresh run is requested.
// COMPLETED is terminal.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing
	case StatusFailed:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	}
	return false
}

// Runnable reports whether a run may start for a document in status s.
func Runnable(s Status) bool {
	return CanTransition(s, StatusProcessing)
}

// Stage names, in pipeline order. They double as the current-stage marker.
const (
	StageIndex     = "index_page_analyzer"
	StageSelect    = "selective_page_extractor"
	StageExtract   = "content_extractor"
	StageInterpret = "interpreter"
	StageValidate  = "validator"
)

// Stages lists the stage names in execution order.
var Stages = []string{StageIndex, StageSelect, StageExtract, StageInterpret, StageValidate}

// Document identifies one uploaded PDF and its processing state.
type Document struct {
	ID          string     `json:"id"`
	Filename    string     `json:"filename"`
	StorageRef  string     `json:"storage_ref"`
	Status      Status     `json:"status"`
	Stage       string     `json:"current_stage,omitempty"`
	Error       string     `json:"error,omitempty"`
	Attempts    int        `json:"attempts"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// StatusView is the polling representation of a document.
type StatusView struct {
	ID       string `json:"id"`
	Status   Status `json:"status"`
	Stage    string `json:"current_stage,omitempty"`
	Error    string `json:"error,omitempty"`
	Attempts int    `json:"attempts"`
}

// View returns the polling representation of d.
func (d *Document) View() StatusView {
	v := StatusView{
		ID:       d.ID,
		Status:   d.Status,
		Error:    d.Error,
		Attempts: d.Attempts,
	}
	if d.Status == StatusProcessing {
		v.Stage = d.Stage
	}
	return v
}
