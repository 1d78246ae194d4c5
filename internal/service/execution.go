package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xiaot623/gogo/testexec/internal/domain"
	"github.com/xiaot623/gogo/testexec/internal/runner"
)

const (
	// dirTimestampLayout formats the timestamp part of run directory names.
	dirTimestampLayout = "2006-01-02_15-04-05"

	// rawResultsDir is where the runner CLI writes raw report data inside a run directory.
	rawResultsDir = "allure-data"
)

// ExecuteSingle runs one stored case.
func (s *Service) ExecuteSingle(ctx context.Context, caseID int64) (*domain.ExecutionOutcome, error) {
	return s.Execute(ctx, domain.ExecutionRequest{Mode: domain.ExecutionModeSingle, CaseIDs: []int64{caseID}})
}

// ExecuteBatch runs several stored cases in one runner invocation.
func (s *Service) ExecuteBatch(ctx context.Context, caseIDs []int64) (*domain.ExecutionOutcome, error) {
	return s.Execute(ctx, domain.ExecutionRequest{Mode: domain.ExecutionModeBatch, CaseIDs: caseIDs})
}

// Execute orchestrates one run: prepare a directory, materialize the cases,
// run the runner CLI, generate the report and append the history record.
//
// Process-level failures and guard rejections are reported in the outcome.
// A missing case in single mode, an invalid request and infrastructure
// failures are returned as errors; in that case no history record exists
// unless a directory was already prepared.
func (s *Service) Execute(ctx context.Context, req domain.ExecutionRequest) (*domain.ExecutionOutcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	loaded, skipped, err := s.loadCases(ctx, req)
	if err != nil {
		return nil, err
	}

	start := s.now()
	run := &execution{
		req:       req,
		lifecycle: newRunLifecycle(s.newID()),
		startedAt: start,
		skipped:   skipped,
	}
	run.ctx = domain.ExecutionContext{
		ExecutionID: run.lifecycle.executionID,
		RequestID:   req.RequestID,
		Mode:        req.Mode,
		Timestamp:   start,
	}
	logger := s.logger.With("execution_id", run.ctx.ExecutionID, "mode", req.Mode, "case_ids", req.CaseIDs)

	if err := s.prepareDirectory(run); err != nil {
		return nil, err
	}
	logger.Info("execution directory prepared", "work_dir", run.ctx.WorkDir)

	if len(req.CaseIDs) == 1 && len(loaded) == 1 {
		run.caseName = loaded[0].Case.Name
	}

	s.materialize(run, loaded)
	if run.result == nil {
		if err := run.lifecycle.Transition(domain.RunStateMaterialized); err != nil {
			return nil, err
		}
		if err := s.runTests(ctx, run); err != nil {
			return nil, err
		}
	}

	if run.result != nil && run.lifecycle.State() == domain.RunStateRunning {
		switch run.result.Status {
		case domain.ExecutionStatusSuccess, domain.ExecutionStatusFailed:
			if err := run.lifecycle.Transition(domain.RunStateReportGenerating); err != nil {
				return nil, err
			}
			s.generateReport(ctx, run)
			if err := run.lifecycle.Transition(domain.RunStateCompleted); err != nil {
				return nil, err
			}
		}
	}
	if !run.lifecycle.State().IsTerminal() {
		if err := run.lifecycle.Transition(domain.RunStateFailed); err != nil {
			return nil, err
		}
	}

	outcome := run.outcome(s.now())
	if err := s.appendHistory(ctx, outcome); err != nil {
		logger.Error("failed to append execution history", "error", err)
		return nil, fmt.Errorf("append history for %s: %w", outcome.ExecutionID, err)
	}

	logger.Info("execution finished",
		"state", outcome.State,
		"status", outcome.Result.Status,
		"exit_code", outcome.Result.ExitCode,
		"error_kind", outcome.Result.ErrorKind,
		"duration_ms", outcome.DurationMs,
		"report_path", outcome.ReportPath)

	s.publishOutcome(ctx, outcome)
	return outcome, nil
}

// execution is the mutable state of one run inside Execute.
type execution struct {
	req       domain.ExecutionRequest
	ctx       domain.ExecutionContext
	lifecycle *runLifecycle
	startedAt time.Time

	caseName   string
	skipped    []domain.SkippedCase
	result     *domain.ExecutionResult
	reportPath string
	reportURL  string
}

// fail records a result that ends the run before or instead of the runner.
func (e *execution) fail(kindErr error, msg string) {
	res := runner.Reject(fmt.Errorf("%w: %s", kindErr, msg))
	res.Message = msg
	e.result = &res
}

func (e *execution) outcome(finishedAt time.Time) *domain.ExecutionOutcome {
	o := &domain.ExecutionOutcome{
		ExecutionID: e.ctx.ExecutionID,
		RequestID:   e.req.RequestID,
		Mode:        e.req.Mode,
		CaseIDs:     append([]int64(nil), e.req.CaseIDs...),
		CaseName:    e.caseName,
		State:       e.lifecycle.State(),
		WorkDir:     e.ctx.WorkDir,
		ReportPath:  e.reportPath,
		ReportURL:   e.reportURL,
		Skipped:     e.skipped,
		DurationMs:  finishedAt.Sub(e.startedAt).Milliseconds(),
	}
	if e.result != nil {
		o.Result = *e.result
	}
	return o
}

// loadCases resolves the requested cases. In single mode a missing case is
// returned as ErrCaseNotFound; in batch mode it is skipped.
func (s *Service) loadCases(ctx context.Context, req domain.ExecutionRequest) ([]*domain.ResolvedCase, []domain.SkippedCase, error) {
	var loaded []*domain.ResolvedCase
	var skipped []domain.SkippedCase
	for _, id := range req.CaseIDs {
		rc, err := s.materializer.Load(ctx, id)
		if err != nil {
			if req.Mode == domain.ExecutionModeBatch && errors.Is(err, domain.ErrCaseNotFound) {
				s.logger.Warn("skipping missing case in batch", "case_id", id)
				skipped = append(skipped, domain.SkippedCase{CaseID: id, ErrorKind: domain.ErrorKindCaseNotFound, Message: err.Error()})
				continue
			}
			return nil, nil, err
		}
		loaded = append(loaded, rc)
	}
	return loaded, skipped, nil
}

func (s *Service) prepareDirectory(run *execution) error {
	name := fmt.Sprintf("%s_%s", run.ctx.ExecutionID, run.ctx.Timestamp.Format(dirTimestampLayout))
	if run.req.Mode == domain.ExecutionModeBatch {
		name = "batch_" + name
	}
	dir := filepath.Join(s.config.BaseDir, name)

	if err := os.MkdirAll(s.config.BaseDir, 0o755); err != nil {
		return fmt.Errorf("create base dir: %w", err)
	}
	if err := os.Mkdir(dir, 0o755); err != nil {
		return fmt.Errorf("create execution dir: %w", err)
	}
	run.ctx.WorkDir = dir
	return run.lifecycle.Transition(domain.RunStateDirectoryPrepared)
}

// materialize writes every loaded case plus the shared context file. Sets
// run.result when nothing could be materialized.
func (s *Service) materialize(run *execution, loaded []*domain.ResolvedCase) {
	var written []*domain.ResolvedCase
	for _, rc := range loaded {
		path, err := s.materializer.WriteCase(rc, run.ctx.WorkDir)
		if err != nil {
			if run.req.Mode == domain.ExecutionModeSingle {
				run.fail(domain.ErrMaterialization, err.Error())
				return
			}
			s.logger.Warn("skipping case that failed to materialize", "case_id", rc.Case.ID, "error", err)
			run.skipped = append(run.skipped, domain.SkippedCase{CaseID: rc.Case.ID, ErrorKind: domain.KindOf(err), Message: err.Error()})
			continue
		}
		run.ctx.Artifacts = append(run.ctx.Artifacts, path)
		written = append(written, rc)
	}
	if len(written) == 0 {
		run.fail(domain.ErrMaterialization, "no case could be materialized")
		return
	}

	path, err := s.materializer.WriteContext(written, run.ctx.WorkDir)
	if err != nil {
		run.fail(domain.ErrMaterialization, err.Error())
		return
	}
	run.ctx.Artifacts = append(run.ctx.Artifacts, path)
}

func (s *Service) runnerArgs(workDir string) []string {
	return []string{
		"--cases=" + workDir,
		"--keyDir=" + s.config.KeywordsDir,
		"-sv",
		"--capture=tee-sys",
		"--alluredir=" + filepath.Join(workDir, rawResultsDir),
	}
}

func (s *Service) runTests(ctx context.Context, run *execution) error {
	cmd, err := s.guard.Validate(ctx, s.config.RunnerCommand, s.runnerArgs(run.ctx.WorkDir), run.ctx.WorkDir)
	if err != nil {
		s.logger.Warn("runner command rejected", "execution_id", run.ctx.ExecutionID, "error", err)
		res := runner.Reject(err)
		run.result = &res
		return nil
	}

	if err := run.lifecycle.Transition(domain.RunStateRunning); err != nil {
		return err
	}
	s.logger.Info("running tests", "execution_id", run.ctx.ExecutionID, "command", cmd.String())
	res := s.runner.Run(ctx, cmd, s.config.ProcessTimeout)
	run.result = &res
	return nil
}

// generateReport turns raw results into an HTML report. Every failure here is
// logged and leaves the report path empty; it never changes the run result.
func (s *Service) generateReport(ctx context.Context, run *execution) {
	logger := s.logger.With("execution_id", run.ctx.ExecutionID)

	rawDir := filepath.Join(run.ctx.WorkDir, rawResultsDir)
	if info, err := os.Stat(rawDir); err != nil || !info.IsDir() {
		logger.Warn("report skipped: no raw results", "raw_dir", rawDir)
		return
	}
	if err := os.MkdirAll(s.config.ReportDir, 0o755); err != nil {
		logger.Warn("report skipped: cannot create report dir", "error", err)
		return
	}
	outDir := filepath.Join(s.config.ReportDir, run.ctx.ExecutionID)

	args := []string{"generate", rawDir, "-c", "-o", outDir}
	cmd, err := s.guard.Validate(ctx, s.config.ReportCommand, args, run.ctx.WorkDir)
	if err != nil {
		logger.Warn("report command rejected", "error", err)
		return
	}
	res := s.runner.Run(ctx, cmd, s.config.ProcessTimeout)
	if res.Status != domain.ExecutionStatusSuccess {
		logger.Warn("report generation failed",
			"error_kind", domain.ErrorKindReportGenerationFailure,
			"status", res.Status,
			"exit_code", res.ExitCode,
			"output", tail(res.Output, 512))
		return
	}
	run.reportPath = outDir
	logger.Info("report generated", "report_path", outDir)

	if s.publisher == nil {
		return
	}
	url, err := s.publisher.PublishReport(ctx, run.ctx.ExecutionID, outDir)
	if err != nil {
		logger.Warn("report upload failed", "error", err)
		return
	}
	run.reportURL = url
}

func (s *Service) appendHistory(ctx context.Context, o *domain.ExecutionOutcome) error {
	rec := &domain.HistoryRecord{
		ExecutionID: o.ExecutionID,
		RequestID:   o.RequestID,
		Mode:        o.Mode,
		CaseIDs:     o.CaseIDs,
		Status:      o.Result.Status,
		ExitCode:    o.Result.ExitCode,
		Output:      o.Result.Output,
		DurationMs:  o.DurationMs,
		ReportPath:  o.ReportPath,
		ErrorKind:   o.Result.ErrorKind,
		WorkDir:     o.WorkDir,
		CreatedAt:   s.now(),
	}
	if o.Mode == domain.ExecutionModeSingle {
		rec.CaseID = o.CaseIDs[0]
	}
	// The run already happened; record it even if the caller has gone away.
	return s.store.AppendHistory(context.WithoutCancel(ctx), rec)
}

// GetExecution returns the history record of one run, or nil.
func (s *Service) GetExecution(ctx context.Context, executionID string) (*domain.HistoryRecord, error) {
	return s.store.GetHistoryByExecutionID(ctx, executionID)
}

// ListCaseHistory returns the most recent runs that included caseID.
func (s *Service) ListCaseHistory(ctx context.Context, caseID int64, limit int) ([]domain.HistoryRecord, error) {
	return s.store.ListHistoryForCase(ctx, caseID, limit)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + strings.TrimLeft(s[len(s)-n:], "\n")
}
