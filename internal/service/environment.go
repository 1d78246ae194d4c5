package service

import (
	"github.com/xiaot623/gogo/testexec/internal/domain"
	"github.com/xiaot623/gogo/testexec/internal/runner"
)

// CheckEnvironment reports which allow-listed commands resolve on PATH and
// whether the service is able to run executions at all.
func (s *Service) CheckEnvironment() domain.EnvironmentReport {
	report := domain.EnvironmentReport{
		ExecutionEnabled:  s.runner.Enabled(),
		AllowedCommands:   s.guard.Allowed(),
		AvailableCommands: []string{},
		MissingCommands:   []string{},
	}
	for _, program := range report.AllowedCommands {
		if runner.Available(program) {
			report.AvailableCommands = append(report.AvailableCommands, program)
		} else {
			report.MissingCommands = append(report.MissingCommands, program)
		}
	}
	report.Ready = report.ExecutionEnabled && len(report.MissingCommands) == 0
	if !report.Ready {
		s.logger.Warn("execution environment not ready",
			"execution_enabled", report.ExecutionEnabled,
			"missing_commands", report.MissingCommands)
	}
	return report
}
