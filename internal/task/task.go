package task

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Source identifies who submitted a task.
type Source string

const (
	SourceUser       Source = "user"
	SourceEnrichment Source = "enrichment"
)

// Task is a unit of work routed to exactly one worker at a time.
type Task struct {
	ID               string                 `json:"task_id"`
	ReportID         string                 `json:"report_id"`
	APIType          string                 `json:"api_type"`
	Action           string                 `json:"action"`
	Payload          map[string]interface{} `json:"payload"`
	Priority         int                    `json:"priority"`
	Status           Status                 `json:"status"`
	Source           Source                 `json:"source"`
	AssignedWorkerID string                 `json:"assigned_worker_id,omitempty"`
	TargetWorkerID   string                 `json:"target_worker_id,omitempty"`
	RetryCount       int                    `json:"retry_count"`
	MaxRetries       int                    `json:"max_retries"`
	Result           map[string]interface{} `json:"result,omitempty"`
	Error            string                 `json:"error,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
	AssignedAt       *time.Time             `json:"assigned_at,omitempty"`
	StartedAt        *time.Time             `json:"started_at,omitempty"`
	CompletedAt      *time.Time             `json:"completed_at,omitempty"`
}

// SubmitRequest is the body of POST /tasks/submit.
type SubmitRequest struct {
	APIType        string                 `json:"api_type"`
	Action         string                 `json:"action"`
	ReportID       string                 `json:"report_id"`
	Payload        map[string]interface{} `json:"payload"`
	Priority       int                    `json:"priority"`
	MaxRetries     *int                   `json:"max_retries,omitempty"` // nil means "use the server default"
	TargetWorkerID string                 `json:"target_worker_id,omitempty"`
	Source         string                 `json:"source,omitempty"`
}

// Response is the task view returned by the HTTP surface.
type Response struct {
	ID               string                 `json:"task_id"`
	ReportID         string                 `json:"report_id"`
	APIType          string                 `json:"api_type"`
	Action           string                 `json:"action"`
	Priority         int                    `json:"priority"`
	Status           string                 `json:"status"`
	Source           string                 `json:"source"`
	AssignedWorkerID string                 `json:"assigned_worker_id,omitempty"`
	RetryCount       int                    `json:"retry_count"`
	MaxRetries       int                    `json:"max_retries"`
	Result           map[string]interface{} `json:"result,omitempty"`
	Error            string                 `json:"error,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	AssignedAt       *time.Time             `json:"assigned_at,omitempty"`
	StartedAt        *time.Time             `json:"started_at,omitempty"`
	CompletedAt      *time.Time             `json:"completed_at,omitempty"`
}

// New creates a pending Task with a fresh id.
func New(apiType, action, reportID string, payload map[string]interface{}, priority int) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:         uuid.New().String(),
		ReportID:   reportID,
		APIType:    apiType,
		Action:     action,
		Payload:    payload,
		Priority:   priority,
		Status:     StatusPending,
		Source:     SourceUser,
		MaxRetries: 3,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// FromRequest creates a Task from a SubmitRequest.
func FromRequest(req *SubmitRequest) *Task {
	t := New(req.APIType, req.Action, req.ReportID, req.Payload, req.Priority)
	if req.MaxRetries != nil && *req.MaxRetries >= 0 {
		t.MaxRetries = *req.MaxRetries
	}
	if req.TargetWorkerID != "" {
		t.TargetWorkerID = req.TargetWorkerID
	}
	if req.Source == string(SourceEnrichment) {
		t.Source = SourceEnrichment
	}
	return t
}

// ToResponse converts a Task to its HTTP representation.
func (t *Task) ToResponse() *Response {
	return &Response{
		ID:               t.ID,
		ReportID:         t.ReportID,
		APIType:          t.APIType,
		Action:           t.Action,
		Priority:         t.Priority,
		Status:           t.Status.String(),
		Source:           string(t.Source),
		AssignedWorkerID: t.AssignedWorkerID,
		RetryCount:       t.RetryCount,
		MaxRetries:       t.MaxRetries,
		Result:           t.Result,
		Error:            t.Error,
		CreatedAt:        t.CreatedAt,
		AssignedAt:       t.AssignedAt,
		StartedAt:        t.StartedAt,
		CompletedAt:      t.CompletedAt,
	}
}

// ToJSON serializes the task for the state store.
func (t *Task) ToJSON() ([]byte, error) {
	return json.Marshal(t)
}

// FromJSON deserializes a task from the state store.
func FromJSON(data []byte) (*Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// CanRetry reports whether the retry budget allows another attempt.
func (t *Task) CanRetry() bool {
	return t.RetryCount < t.MaxRetries
}

// Duration returns the assignment-to-terminal duration, zero if unknown.
func (t *Task) Duration() time.Duration {
	if t.AssignedAt == nil || t.CompletedAt == nil {
		return 0
	}
	return t.CompletedAt.Sub(*t.AssignedAt)
}
