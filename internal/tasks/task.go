package tasks

import (
	"errors"
	"fmt"
	"time"

	"github.com/example/court-scheduler/internal/booking"
)

// Status is a task's lifecycle state. Succeeded, Failed and Cancelled are
// terminal: no transition ever leaves them and no task re-enters Pending.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed, StatusCancelled:
		return Status(s), nil
	default:
		return "", fmt.Errorf("unknown task status %q", s)
	}
}

// AttemptRecord is one entry of a task's attempt history.
type AttemptRecord struct {
	At      time.Time       `json:"at"`
	Outcome booking.Outcome `json:"outcome"`
	Detail  string          `json:"detail,omitempty"`
}

// Task is one scheduled reservation attempt: a slot and the instant at which
// the first attempt may begin. The registry owns Task values; callers only
// ever see copies.
type Task struct {
	ID       string          `json:"id"`
	Slot     booking.Slot    `json:"slot"`
	FireTime time.Time       `json:"fire_time"`
	Status   Status          `json:"status"`
	Attempts []AttemptRecord `json:"attempts,omitempty"`
	// CancelRequested is the cooperative cancellation flag for running
	// tasks; the engine checks it before every retry and re-auth.
	CancelRequested bool      `json:"cancel_requested,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (t Task) clone() Task {
	cp := t
	cp.Attempts = append([]AttemptRecord(nil), t.Attempts...)
	return cp
}

var (
	// ErrNotFound means no task with the given id exists.
	ErrNotFound = errors.New("task not found")
	// ErrInvalidTransition is a caller contract violation: an attempt to
	// move a task out of a terminal state or back into pending.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrFireTimeInPast rejects task creation with an elapsed fire time.
	ErrFireTimeInPast = errors.New("fire time is in the past")
)
