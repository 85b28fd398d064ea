// Package jobs holds the asynchronous processing job model, its persistence
// backends, and the lifecycle controller that drives a document through
// detection, measurement, and export.
package jobs

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a processing job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether a job in status s may move to next.
// Terminal states reject everything. A processing job may re-assert
// processing so that progress writes remain idempotent.
func (s Status) CanTransition(next Status) bool {
	if !next.Valid() {
		return false
	}
	if s.Terminal() {
		return false
	}
	switch s {
	case StatusQueued:
		return next == StatusProcessing || next == StatusFailed || next == StatusCancelled
	case StatusProcessing:
		return next == StatusProcessing || next == StatusCompleted ||
			next == StatusFailed || next == StatusCancelled
	}
	return false
}

// Job is the persisted state of one document analysis run.
type Job struct {
	ID           string    `json:"job_id"`
	Status       Status    `json:"status"`
	Progress     int       `json:"progress"`
	Message      string    `json:"message,omitempty"`
	Filename     string    `json:"filename"`
	TotalPages   int       `json:"total_pages,omitempty"`
	CurrentPage  int       `json:"current_page,omitempty"`
	TotalTendons int       `json:"total_tendons,omitempty"`
	ExcelPath    string    `json:"excel_path,omitempty"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// InvalidTransitionError reports a rejected status change.
type InvalidTransitionError struct {
	JobID string
	From  Status
	To    Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("job %s: invalid transition %s -> %s", e.JobID, e.From, e.To)
}

// NotFoundError reports a job ID with no stored state.
type NotFoundError struct {
	JobID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("job %s: not found", e.JobID)
}

// StorageError wraps a backend failure so callers can distinguish
// infrastructure faults from lifecycle violations.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("job store %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
