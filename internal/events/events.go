// Package events publishes orchestrator lifecycle events over Redis pub/sub
// so operators can watch the fleet without polling the HTTP surface.
// Publishing is best-effort; a failed publish never affects task state.
package events

import (
	"context"
	"encoding/json"
	"time"
)

// EventType discriminates lifecycle events.
type EventType string

const (
	TaskSubmitted EventType = "task.submitted"
	TaskAssigned  EventType = "task.assigned"
	TaskRetrying  EventType = "task.retrying"
	TaskCompleted EventType = "task.completed"
	TaskFailed    EventType = "task.failed"
	TaskCancelled EventType = "task.cancelled"

	WorkerConnected EventType = "worker.connected"
	WorkerOffline   EventType = "worker.offline"
)

// Event is a lifecycle notification.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

func NewEvent(eventType EventType, data map[string]interface{}) *Event {
	return &Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// NewTaskEvent builds a task lifecycle event.
func NewTaskEvent(eventType EventType, taskID, apiType, status string) *Event {
	return NewEvent(eventType, map[string]interface{}{
		"task_id":  taskID,
		"api_type": apiType,
		"status":   status,
	})
}

// NewWorkerEvent builds a worker lifecycle event.
func NewWorkerEvent(eventType EventType, workerID, apiType string) *Event {
	return NewEvent(eventType, map[string]interface{}{
		"worker_id": workerID,
		"api_type":  apiType,
	})
}

// ToJSON serializes the event.
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON deserializes an event.
func FromJSON(data []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// Publisher is the event sink used by the queue and registry.
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
	Subscribe(ctx context.Context, eventTypes ...EventType) (<-chan *Event, error)
	Close() error
}
