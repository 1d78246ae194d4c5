// Package domain defines the core domain models for test execution.
package domain

// ExecutionStatus is the classified outcome of one runner invocation.
type ExecutionStatus string

const (
	ExecutionStatusSuccess ExecutionStatus = "success"
	ExecutionStatusFailed  ExecutionStatus = "failed"
	ExecutionStatusTimeout ExecutionStatus = "timeout"
	ExecutionStatusError   ExecutionStatus = "error"
)

// ExecutionMode selects between a single case and a batch of cases.
type ExecutionMode string

const (
	ExecutionModeSingle ExecutionMode = "single"
	ExecutionModeBatch  ExecutionMode = "batch"
)

// Valid reports whether the mode is known.
func (m ExecutionMode) Valid() bool {
	return m == ExecutionModeSingle || m == ExecutionModeBatch
}

// RunState represents the lifecycle state of one orchestrated run.
type RunState string

const (
	RunStateCreated           RunState = "CREATED"
	RunStateDirectoryPrepared RunState = "DIRECTORY_PREPARED"
	RunStateMaterialized      RunState = "MATERIALIZED"
	RunStateRunning           RunState = "RUNNING"
	RunStateReportGenerating  RunState = "REPORT_GENERATING"
	RunStateCompleted         RunState = "COMPLETED"
	RunStateFailed            RunState = "FAILED"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s RunState) IsTerminal() bool {
	return s == RunStateCompleted || s == RunStateFailed
}

// ErrorKind is the wire name of an error in the execution taxonomy.
type ErrorKind string

const (
	ErrorKindNone                    ErrorKind = ""
	ErrorKindCommandNotAllowed       ErrorKind = "command_not_allowed"
	ErrorKindUnsafeArgument          ErrorKind = "unsafe_argument"
	ErrorKindPathTraversal           ErrorKind = "path_traversal"
	ErrorKindPathEscapesBase         ErrorKind = "path_escapes_base"
	ErrorKindDirectoryNotFound       ErrorKind = "directory_not_found"
	ErrorKindSpawnFailure            ErrorKind = "spawn_failure"
	ErrorKindTimeout                 ErrorKind = "timeout"
	ErrorKindNonZeroExit             ErrorKind = "non_zero_exit"
	ErrorKindCaseNotFound            ErrorKind = "case_not_found"
	ErrorKindMaterialization         ErrorKind = "materialization_error"
	ErrorKindReportGenerationFailure ErrorKind = "report_generation_failure"
	ErrorKindExecutionDisabled       ErrorKind = "execution_disabled"
	ErrorKindCancelled               ErrorKind = "cancelled"
	ErrorKindInvalidRequest          ErrorKind = "invalid_request"
	ErrorKindInternal                ErrorKind = "internal"
)
