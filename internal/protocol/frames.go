// Package protocol defines the framed messages exchanged between the
// orchestrator and worker agents. Frames are JSON objects discriminated by a
// string "type" field; unknown types are logged and dropped by the receiver,
// never treated as fatal.
package protocol

import "encoding/json"

// Type discriminates frames on the wire.
type Type string

const (
	// Frames sent by workers.
	TypeAuth      Type = "auth"
	TypeHeartbeat Type = "heartbeat"
	TypeRunning   Type = "running"
	TypeStatus    Type = "status"
	TypeComplete  Type = "complete"
	TypeError     Type = "error"
	TypePong      Type = "pong"

	// Frames sent by the orchestrator.
	TypeAuthSuccess  Type = "auth_success"
	TypeAuthFailed   Type = "auth_failed"
	TypeHeartbeatAck Type = "heartbeat_ack"
	TypeTask         Type = "task"
	TypeCancel       Type = "cancel"
	TypePing         Type = "ping"
	TypeGoodbye      Type = "goodbye"
)

// Frame is the single wire envelope. Only the fields relevant to a given
// type are populated; omitempty keeps frames compact.
type Frame struct {
	Type Type `json:"type"`

	// auth
	APIType  string            `json:"api_type,omitempty"`
	Token    string            `json:"token,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`

	// auth_success, heartbeat_ack
	WorkerID string `json:"worker_id,omitempty"`

	// task correlation
	TaskID   string `json:"task_id,omitempty"`
	ReportID string `json:"report_id,omitempty"`

	// task dispatch
	Action  string                 `json:"action,omitempty"`
	Payload map[string]interface{} `json:"payload,omitempty"`

	// status
	StepKey    string                 `json:"step_key,omitempty"`
	DetailType string                 `json:"detail_type,omitempty"`
	Message    string                 `json:"message,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`

	// terminal outcomes
	Result map[string]interface{} `json:"result,omitempty"`
	Error  string                 `json:"error,omitempty"`

	// heartbeat_ack server view
	Status      string `json:"status,omitempty"`
	CurrentTask string `json:"current_task,omitempty"`
}

// Encode serializes a frame for the wire.
func (f *Frame) Encode() ([]byte, error) {
	return json.Marshal(f)
}

// Decode parses a frame. A frame whose type is absent decodes with an empty
// Type; the session layer drops it.
func Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// Constructors for the orchestrator side.

func AuthSuccess(workerID string) *Frame {
	return &Frame{Type: TypeAuthSuccess, WorkerID: workerID}
}

func AuthFailed(reason string) *Frame {
	return &Frame{Type: TypeAuthFailed, Error: reason}
}

func HeartbeatAck(workerID, status, currentTask string) *Frame {
	return &Frame{Type: TypeHeartbeatAck, WorkerID: workerID, Status: status, CurrentTask: currentTask}
}

func TaskAssignment(taskID, reportID, action string, payload map[string]interface{}) *Frame {
	return &Frame{Type: TypeTask, TaskID: taskID, ReportID: reportID, Action: action, Payload: payload}
}

func Cancel(taskID string) *Frame {
	return &Frame{Type: TypeCancel, TaskID: taskID}
}

func Goodbye() *Frame {
	return &Frame{Type: TypeGoodbye}
}

// Constructors for the agent side.

func Auth(apiType, token string, metadata map[string]string) *Frame {
	return &Frame{Type: TypeAuth, APIType: apiType, Token: token, Metadata: metadata}
}

func Heartbeat() *Frame {
	return &Frame{Type: TypeHeartbeat}
}

func Running(taskID string) *Frame {
	return &Frame{Type: TypeRunning, TaskID: taskID}
}

func StatusUpdate(taskID, stepKey, detailType, message string, data map[string]interface{}) *Frame {
	return &Frame{Type: TypeStatus, TaskID: taskID, StepKey: stepKey, DetailType: detailType, Message: message, Data: data}
}

func Complete(taskID string, result map[string]interface{}) *Frame {
	return &Frame{Type: TypeComplete, TaskID: taskID, Result: result}
}

func TaskError(taskID, errMsg string) *Frame {
	return &Frame{Type: TypeError, TaskID: taskID, Error: errMsg}
}

func Pong() *Frame {
	return &Frame{Type: TypePong}
}
