package service

import (
	"fmt"

	"github.com/xiaot623/gogo/testexec/internal/domain"
)

// runLifecycle tracks the state of one orchestrated run. Only forward
// transitions along the happy path, or into FAILED from any non-terminal
// state, are accepted.
type runLifecycle struct {
	executionID string
	state       domain.RunState
}

func newRunLifecycle(executionID string) *runLifecycle {
	return &runLifecycle{executionID: executionID, state: domain.RunStateCreated}
}

func (l *runLifecycle) State() domain.RunState { return l.state }

// Transition moves the run to next if that transition is allowed.
func (l *runLifecycle) Transition(next domain.RunState) error {
	if !isAllowedRunTransition(l.state, next) {
		return fmt.Errorf("disallowed transition for run %s: %s -> %s", l.executionID, l.state, next)
	}
	l.state = next
	return nil
}

func isAllowedRunTransition(from, to domain.RunState) bool {
	if from.IsTerminal() {
		return false
	}
	if to == domain.RunStateFailed {
		return true
	}
	switch from {
	case domain.RunStateCreated:
		return to == domain.RunStateDirectoryPrepared
	case domain.RunStateDirectoryPrepared:
		return to == domain.RunStateMaterialized
	case domain.RunStateMaterialized:
		return to == domain.RunStateRunning
	case domain.RunStateRunning:
		return to == domain.RunStateReportGenerating
	case domain.RunStateReportGenerating:
		return to == domain.RunStateCompleted
	default:
		return false
	}
}
