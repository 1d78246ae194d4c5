package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/xiaot623/gogo/testexec/internal/domain"
)

// EnqueueTask stores a pending task that becomes claimable at now.
func (s *SQLiteStore) EnqueueTask(ctx context.Context, task *domain.QueuedTask, now time.Time) error {
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO queue_tasks (task_id, topic, payload, status, attempts, available_at, created_at) VALUES (?, ?, ?, ?, 0, ?, ?)`,
		task.ID, task.Topic, task.Payload, domain.TaskStatusPending, now.UnixMilli(), task.CreatedAt.UnixMilli())
	return err
}

// ClaimTask leases the oldest claimable task of topic to token until
// now+lease. Pending tasks whose backoff has elapsed and leased tasks whose
// lease expired are both claimable. Returns nil when nothing is ready.
func (s *SQLiteStore) ClaimTask(ctx context.Context, topic, token string, now time.Time, lease time.Duration) (*domain.QueuedTask, error) {
	nowMs := now.UnixMilli()
	var task domain.QueuedTask
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`UPDATE queue_tasks
		 SET status = ?, attempts = attempts + 1, leased_until = ?, lease_token = ?
		 WHERE task_id = (
			SELECT task_id FROM queue_tasks
			WHERE topic = ?
			  AND ((status = ? AND available_at <= ?) OR (status = ? AND leased_until <= ?))
			ORDER BY created_at, task_id
			LIMIT 1
		 )
		 RETURNING task_id, topic, payload, attempts, lease_token, created_at`,
		domain.TaskStatusLeased, now.Add(lease).UnixMilli(), token,
		topic, domain.TaskStatusPending, nowMs, domain.TaskStatusLeased, nowMs).
		Scan(&task.ID, &task.Topic, &task.Payload, &task.Attempts, &task.LeaseToken, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	task.CreatedAt = time.UnixMilli(createdAt)
	return &task, nil
}

// ExtendLease pushes the lease of a task held by token out to until.
func (s *SQLiteStore) ExtendLease(ctx context.Context, taskID, token string, until time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue_tasks SET leased_until = ? WHERE task_id = ? AND status = ? AND lease_token = ?`,
		until.UnixMilli(), taskID, domain.TaskStatusLeased, token)
	if err != nil {
		return err
	}
	return leaseHeld(res)
}

// AckTask marks a task held by token as done.
func (s *SQLiteStore) AckTask(ctx context.Context, taskID, token string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue_tasks SET status = ?, leased_until = NULL, lease_token = NULL
		 WHERE task_id = ? AND status = ? AND lease_token = ?`,
		domain.TaskStatusDone, taskID, domain.TaskStatusLeased, token)
	if err != nil {
		return err
	}
	return leaseHeld(res)
}

// NackTask releases a task held by token for redelivery at retryAt, or
// dead-letters it once it has been attempted maxAttempts times. Reports
// whether the task was dead-lettered.
func (s *SQLiteStore) NackTask(ctx context.Context, taskID, token, reason string, retryAt time.Time, maxAttempts int) (bool, error) {
	var status domain.TaskStatus
	err := s.db.QueryRowContext(ctx,
		`UPDATE queue_tasks
		 SET status = CASE WHEN attempts >= ? THEN ? ELSE ? END,
		     available_at = ?, leased_until = NULL, lease_token = NULL, last_error = ?
		 WHERE task_id = ? AND status = ? AND lease_token = ?
		 RETURNING status`,
		maxAttempts, domain.TaskStatusDead, domain.TaskStatusPending, retryAt.UnixMilli(), nullString(reason),
		taskID, domain.TaskStatusLeased, token).
		Scan(&status)
	if err == sql.ErrNoRows {
		return false, domain.ErrLeaseLost
	}
	if err != nil {
		return false, err
	}
	return status == domain.TaskStatusDead, nil
}

func leaseHeld(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrLeaseLost
	}
	return nil
}

// CountTasks counts the tasks of topic in the given status.
func (s *SQLiteStore) CountTasks(ctx context.Context, topic string, status domain.TaskStatus) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queue_tasks WHERE topic = ? AND status = ?`, topic, status).Scan(&n)
	return n, err
}
