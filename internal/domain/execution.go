package domain

import (
	"fmt"
	"time"
)

// ExecutionRequest asks for one run over one or more cases.
type ExecutionRequest struct {
	RequestID string        `json:"request_id,omitempty"`
	Mode      ExecutionMode `json:"mode"`
	CaseIDs   []int64       `json:"case_ids"`
}

// Validate checks the request shape.
func (r ExecutionRequest) Validate() error {
	if !r.Mode.Valid() {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, r.Mode)
	}
	if len(r.CaseIDs) == 0 {
		return fmt.Errorf("%w: case_ids is required", ErrInvalidRequest)
	}
	if r.Mode == ExecutionModeSingle && len(r.CaseIDs) != 1 {
		return fmt.Errorf("%w: single mode takes exactly one case id", ErrInvalidRequest)
	}
	for _, id := range r.CaseIDs {
		if id <= 0 {
			return fmt.Errorf("%w: invalid case id %d", ErrInvalidRequest, id)
		}
	}
	return nil
}

// ExecutionContext is the mutable state of one run. The working directory
// outlives it on disk.
type ExecutionContext struct {
	ExecutionID string
	RequestID   string
	Mode        ExecutionMode
	Timestamp   time.Time
	WorkDir     string
	Artifacts   []string
}

// ExecutionResult is the classified result of a runner invocation.
type ExecutionResult struct {
	Status    ExecutionStatus `json:"status"`
	ExitCode  int             `json:"exit_code"`
	Output    string          `json:"output"`
	Duration  time.Duration   `json:"-"`
	ErrorKind ErrorKind       `json:"error_kind,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// DurationMs is the wall-clock duration in milliseconds.
func (r ExecutionResult) DurationMs() int64 {
	return r.Duration.Milliseconds()
}

// SkippedCase records a batch member that could not be materialized.
type SkippedCase struct {
	CaseID    int64     `json:"case_id"`
	ErrorKind ErrorKind `json:"error_kind"`
	Message   string    `json:"message"`
}

// ExecutionOutcome is what both execute operations return.
type ExecutionOutcome struct {
	ExecutionID string          `json:"execution_id"`
	RequestID   string          `json:"request_id,omitempty"`
	Mode        ExecutionMode   `json:"mode"`
	CaseIDs     []int64         `json:"case_ids"`
	CaseName    string          `json:"case_name,omitempty"`
	State       RunState        `json:"state"`
	WorkDir     string          `json:"work_dir,omitempty"`
	ReportPath  string          `json:"report_path,omitempty"`
	ReportURL   string          `json:"report_url,omitempty"`
	Skipped     []SkippedCase   `json:"skipped,omitempty"`
	Result      ExecutionResult `json:"result"`
	DurationMs  int64           `json:"duration_ms"`
}

// HistoryRecord is the append-only audit row of one run.
type HistoryRecord struct {
	ID          int64           `json:"id"`
	ExecutionID string          `json:"execution_id"`
	RequestID   string          `json:"request_id,omitempty"`
	Mode        ExecutionMode   `json:"mode"`
	CaseID      int64           `json:"case_id,omitempty"`
	CaseIDs     []int64         `json:"case_ids"`
	Status      ExecutionStatus `json:"status"`
	ExitCode    int             `json:"exit_code"`
	Output      string          `json:"output"`
	DurationMs  int64           `json:"duration_ms"`
	ReportPath  string          `json:"report_path,omitempty"`
	ErrorKind   ErrorKind       `json:"error_kind,omitempty"`
	WorkDir     string          `json:"work_dir,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// EnvironmentReport describes whether the host can run executions.
type EnvironmentReport struct {
	Ready             bool     `json:"ready"`
	ExecutionEnabled  bool     `json:"execution_enabled"`
	AllowedCommands   []string `json:"allowed_commands"`
	AvailableCommands []string `json:"available_commands"`
	MissingCommands   []string `json:"missing_commands"`
}
