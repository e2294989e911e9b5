package task

import (
	"errors"
	"time"
)

// Status represents the current state of a task.
type Status int

const (
	StatusPending Status = iota
	StatusAssigned
	StatusRunning
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusAssigned:
		return "assigned"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func ParseStatus(s string) Status {
	switch s {
	case "pending":
		return StatusPending
	case "assigned":
		return StatusAssigned
	case "running":
		return StatusRunning
	case "completed":
		return StatusCompleted
	case "failed":
		return StatusFailed
	case "cancelled":
		return StatusCancelled
	default:
		return StatusPending
	}
}

// MarshalJSON encodes the status as its string form so stored task records
// stay readable across versions.
func (s Status) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func (s *Status) UnmarshalJSON(data []byte) error {
	if len(data) >= 2 && data[0] == '"' {
		*s = ParseStatus(string(data[1 : len(data)-1]))
		return nil
	}
	return ErrInvalidTaskData
}

// IsTerminal returns true for completed, failed and cancelled. Terminal
// states are final.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Error definitions
var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidTaskData   = errors.New("invalid task data")
	ErrTaskNotFound      = errors.New("task not found")
	ErrNotCancellable    = errors.New("task cannot be cancelled in current state")
)

// ValidTransitions defines the allowed status transitions. Assigned and
// running tasks return to pending on the retry path. Assigned tasks may
// complete directly: the running frame is informational and can be lost.
var ValidTransitions = map[Status][]Status{
	StatusPending:   {StatusAssigned, StatusCancelled, StatusFailed},
	StatusAssigned:  {StatusRunning, StatusCompleted, StatusPending, StatusCancelled, StatusFailed},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusPending},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// CanTransitionTo checks whether moving from s to target is allowed.
func (s Status) CanTransitionTo(target Status) bool {
	for _, v := range ValidTransitions[s] {
		if v == target {
			return true
		}
	}
	return false
}

// Transition moves the task to target, stamping the timestamps that state
// implies.
func (t *Task) Transition(target Status) error {
	if !t.Status.CanTransitionTo(target) {
		return ErrInvalidTransition
	}

	now := time.Now().UTC()
	t.Status = target
	t.UpdatedAt = now

	switch target {
	case StatusRunning:
		t.StartedAt = &now
	case StatusCompleted, StatusFailed, StatusCancelled:
		t.CompletedAt = &now
	}

	return nil
}

// Assign stamps the assignment fields and moves the task to assigned.
func (t *Task) Assign(workerID string) error {
	if err := t.Transition(StatusAssigned); err != nil {
		return err
	}
	now := time.Now().UTC()
	t.AssignedWorkerID = workerID
	t.AssignedAt = &now
	return nil
}

// Complete records the result and moves the task to completed.
func (t *Task) Complete(result map[string]interface{}) error {
	if err := t.Transition(StatusCompleted); err != nil {
		return err
	}
	t.Result = result
	t.Error = ""
	return nil
}

// Fail records the error and moves the task to failed.
func (t *Task) Fail(errMsg string) error {
	if err := t.Transition(StatusFailed); err != nil {
		return err
	}
	t.Error = errMsg
	return nil
}

// Release resets the task to pending for another attempt, clearing the
// assignment fields. The retry counter is the caller's responsibility.
func (t *Task) Release() error {
	if err := t.Transition(StatusPending); err != nil {
		return err
	}
	t.AssignedWorkerID = ""
	t.AssignedAt = nil
	t.StartedAt = nil
	return nil
}

// Cancel moves the task to cancelled. Only pending and assigned tasks are
// cancellable; running tasks receive an advisory cancel frame instead.
func (t *Task) Cancel() error {
	if t.Status == StatusCancelled {
		return nil // idempotent
	}
	if t.Status != StatusPending && t.Status != StatusAssigned {
		return ErrNotCancellable
	}
	return t.Transition(StatusCancelled)
}
