package registry

import (
	"encoding/json"
	"time"
)

// Status is a connected worker's execution state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusWorking Status = "working"
	StatusOffline Status = "offline"
)

// Worker is a connected execution unit. The registry exclusively owns these
// records; sessions reference workers by id only.
type Worker struct {
	ID            string            `json:"worker_id"`
	APIType       string            `json:"api_type"`
	Status        Status            `json:"status"`
	CurrentTaskID string            `json:"current_task_id,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	ConnectedAt   time.Time         `json:"connected_at"`
	LastHeartbeat time.Time         `json:"last_heartbeat"`
}

// ToJSON serializes the worker for the state store.
func (w *Worker) ToJSON() ([]byte, error) {
	return json.Marshal(w)
}

// Clone returns a copy safe to hand outside the registry lock.
func (w *Worker) Clone() *Worker {
	dup := *w
	if w.Metadata != nil {
		dup.Metadata = make(map[string]string, len(w.Metadata))
		for k, v := range w.Metadata {
			dup.Metadata[k] = v
		}
	}
	return &dup
}

// Stats is the per-api_type fleet summary exposed over HTTP.
type Stats struct {
	Total   int `json:"total"`
	Idle    int `json:"idle"`
	Working int `json:"working"`
	Offline int `json:"offline"`
}
