package domain

import "time"

// BatchRequest is the HTTP body of a batch execution.
type BatchRequest struct {
	CaseIDs []int64 `json:"case_ids"`
}

// EnqueueResponse is returned when an execution was accepted for async processing.
type EnqueueResponse struct {
	RequestID  string        `json:"request_id"`
	Mode       ExecutionMode `json:"mode"`
	CaseIDs    []int64       `json:"case_ids"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
}

// ExecutionMessage is the payload of the test-execution-requests topic.
type ExecutionMessage struct {
	RequestID  string        `json:"request_id"`
	Mode       ExecutionMode `json:"mode"`
	CaseIDs    []int64       `json:"case_ids"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
}

// Request converts the message back into an ExecutionRequest.
func (m ExecutionMessage) Request() ExecutionRequest {
	return ExecutionRequest{RequestID: m.RequestID, Mode: m.Mode, CaseIDs: m.CaseIDs}
}

// ResultNotification is the payload of the test-execution-results topic.
type ResultNotification struct {
	RequestID   string          `json:"request_id"`
	ExecutionID string          `json:"execution_id,omitempty"`
	Mode        ExecutionMode   `json:"mode"`
	CaseIDs     []int64         `json:"case_ids"`
	Status      ExecutionStatus `json:"status"`
	ErrorKind   ErrorKind       `json:"error_kind,omitempty"`
	Summary     string          `json:"summary"`
	ReportPath  string          `json:"report_path,omitempty"`
	ReportURL   string          `json:"report_url,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// ErrorResponse is the JSON error body of the HTTP API.
type ErrorResponse struct {
	Error string    `json:"error"`
	Kind  ErrorKind `json:"kind,omitempty"`
}
