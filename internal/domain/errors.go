package domain

import "errors"

// Guard rejections. A command that fails any of these is never executed.
var (
	ErrCommandNotAllowed = errors.New("command_not_allowed")
	ErrUnsafeArgument    = errors.New("unsafe_argument")
	ErrPathTraversal     = errors.New("path_traversal")
	ErrPathEscapesBase   = errors.New("path_escapes_base")
	ErrDirectoryNotFound = errors.New("directory_not_found")
)

// Process-level failures. The runner reports these inside an ExecutionResult.
var (
	ErrSpawnFailure      = errors.New("spawn_failure")
	ErrTimeout           = errors.New("timeout")
	ErrNonZeroExit       = errors.New("non_zero_exit")
	ErrExecutionDisabled = errors.New("execution_disabled")
	ErrCancelled         = errors.New("cancelled")
)

// Orchestration failures.
var (
	ErrCaseNotFound     = errors.New("case_not_found")
	ErrMaterialization  = errors.New("materialization_error")
	ErrReportGeneration = errors.New("report_generation_failure")
	ErrInvalidRequest   = errors.New("invalid_request")
)

// ErrLeaseLost is returned when a queued task is no longer leased by the caller.
var ErrLeaseLost = errors.New("lease_lost")

var errorKinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrCommandNotAllowed, ErrorKindCommandNotAllowed},
	{ErrUnsafeArgument, ErrorKindUnsafeArgument},
	{ErrPathTraversal, ErrorKindPathTraversal},
	{ErrPathEscapesBase, ErrorKindPathEscapesBase},
	{ErrDirectoryNotFound, ErrorKindDirectoryNotFound},
	{ErrSpawnFailure, ErrorKindSpawnFailure},
	{ErrTimeout, ErrorKindTimeout},
	{ErrNonZeroExit, ErrorKindNonZeroExit},
	{ErrExecutionDisabled, ErrorKindExecutionDisabled},
	{ErrCancelled, ErrorKindCancelled},
	{ErrCaseNotFound, ErrorKindCaseNotFound},
	{ErrMaterialization, ErrorKindMaterialization},
	{ErrReportGeneration, ErrorKindReportGenerationFailure},
	{ErrInvalidRequest, ErrorKindInvalidRequest},
}

// KindOf maps err to its ErrorKind. Unknown non-nil errors are internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ErrorKindNone
	}
	for _, ek := range errorKinds {
		if errors.Is(err, ek.err) {
			return ek.kind
		}
	}
	return ErrorKindInternal
}

// IsGuardRejection reports whether err came from command validation.
func IsGuardRejection(err error) bool {
	return errors.Is(err, ErrCommandNotAllowed) ||
		errors.Is(err, ErrUnsafeArgument) ||
		errors.Is(err, ErrPathTraversal) ||
		errors.Is(err, ErrPathEscapesBase) ||
		errors.Is(err, ErrDirectoryNotFound)
}
