package service

import (
	"fmt"
	"time"

	"github.com/xiaot623/gogo/testexec/internal/domain"
)

func notificationFromOutcome(o *domain.ExecutionOutcome, now time.Time) domain.ResultNotification {
	return domain.ResultNotification{
		RequestID:   o.RequestID,
		ExecutionID: o.ExecutionID,
		Mode:        o.Mode,
		CaseIDs:     o.CaseIDs,
		Status:      o.Result.Status,
		ErrorKind:   o.Result.ErrorKind,
		Summary:     summarize(o.Mode, o.CaseIDs, o.Result.Status, o.Result.ExitCode, o.DurationMs, len(o.Skipped)),
		ReportPath:  o.ReportPath,
		ReportURL:   o.ReportURL,
		Timestamp:   now,
	}
}

func notificationFromRecord(r *domain.HistoryRecord, now time.Time) domain.ResultNotification {
	return domain.ResultNotification{
		RequestID:   r.RequestID,
		ExecutionID: r.ExecutionID,
		Mode:        r.Mode,
		CaseIDs:     r.CaseIDs,
		Status:      r.Status,
		ErrorKind:   r.ErrorKind,
		Summary:     summarize(r.Mode, r.CaseIDs, r.Status, r.ExitCode, r.DurationMs, 0),
		ReportPath:  r.ReportPath,
		Timestamp:   now,
	}
}

func summarize(mode domain.ExecutionMode, caseIDs []int64, status domain.ExecutionStatus, exitCode int, durationMs int64, skipped int) string {
	subject := fmt.Sprintf("case %v", caseIDs)
	if mode == domain.ExecutionModeBatch {
		subject = fmt.Sprintf("batch of %d cases", len(caseIDs))
	}
	summary := fmt.Sprintf("%s finished with status %s (exit code %d) in %dms", subject, status, exitCode, durationMs)
	if skipped > 0 {
		summary += fmt.Sprintf(", %d skipped", skipped)
	}
	return summary
}
