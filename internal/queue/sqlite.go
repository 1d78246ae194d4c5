package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/testexec/internal/domain"
)

// TaskStore is the durable storage behind the SQLite queue.
// Extending, acking or nacking with a token that no longer holds the lease
// fails with domain.ErrLeaseLost.
type TaskStore interface {
	EnqueueTask(ctx context.Context, task *domain.QueuedTask, now time.Time) error
	ClaimTask(ctx context.Context, topic, token string, now time.Time, lease time.Duration) (*domain.QueuedTask, error)
	ExtendLease(ctx context.Context, taskID, token string, until time.Time) error
	AckTask(ctx context.Context, taskID, token string) error
	NackTask(ctx context.Context, taskID, token, reason string, retryAt time.Time, maxAttempts int) (bool, error)
}

// SQLite is a durable Queue backed by the queue_tasks table. Subscribers
// poll for claimable tasks; a claimed task is leased and the lease is renewed
// while the handler runs. A task becomes claimable again only when its
// holder stops renewing, for example after a crash.
type SQLite struct {
	store  TaskStore
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	closeOnce sync.Once
	done      chan struct{}
}

// NewSQLite creates a queue on top of store.
func NewSQLite(store TaskStore, opts Options, logger *slog.Logger) *SQLite {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLite{
		store:  store,
		opts:   opts.withDefaults(),
		logger: logger,
		now:    time.Now,
		done:   make(chan struct{}),
	}
}

// Publish stores payload as a pending task on topic.
func (q *SQLite) Publish(ctx context.Context, topic string, payload []byte) (string, error) {
	select {
	case <-q.done:
		return "", ErrClosed
	default:
	}
	task := &domain.QueuedTask{ID: uuid.New().String(), Topic: topic, Payload: payload}
	if err := q.store.EnqueueTask(ctx, task, q.now()); err != nil {
		return "", err
	}
	return task.ID, nil
}

// Subscribe polls topic and delivers claimed tasks to h until ctx is done.
func (q *SQLite) Subscribe(ctx context.Context, topic string, h Handler) error {
	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	for {
		// Drain everything claimable before waiting for the next tick.
		for q.deliverOne(ctx, topic, h) {
		}

		select {
		case <-ctx.Done():
			return nil
		case <-q.done:
			return nil
		case <-ticker.C:
		}
	}
}

func (q *SQLite) deliverOne(ctx context.Context, topic string, h Handler) bool {
	if ctx.Err() != nil {
		return false
	}
	token := uuid.New().String()
	claimCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	task, err := q.store.ClaimTask(claimCtx, topic, token, q.now(), q.opts.LeaseTimeout)
	cancel()
	if err != nil {
		if ctx.Err() == nil {
			q.logger.Warn("queue claim failed", "topic", topic, "error", err)
		}
		return false
	}
	if task == nil {
		return false
	}

	handlerCtx, cancelHandler := handlerContext(ctx, q.opts.DrainTimeout)
	renewed := make(chan struct{})
	go func() {
		defer close(renewed)
		q.renewLease(handlerCtx, cancelHandler, task)
	}()

	msg := Message{ID: task.ID, Topic: task.Topic, Payload: task.Payload, Attempts: task.Attempts}
	herr := h(handlerCtx, msg)
	cancelHandler()
	<-renewed

	// Settle with a fresh context so a shutdown does not strand the lease.
	settleCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if herr == nil {
		if err := q.store.AckTask(settleCtx, task.ID, task.LeaseToken); err != nil {
			q.logSettleFailure("ack", task, err)
		}
		return true
	}

	retryAt := q.now().Add(backoff(q.opts.PollInterval, task.Attempts))
	dead, err := q.store.NackTask(settleCtx, task.ID, task.LeaseToken, herr.Error(), retryAt, q.opts.MaxAttempts)
	switch {
	case err != nil:
		q.logSettleFailure("nack", task, err)
	case dead:
		q.logger.Error("message dead-lettered", "topic", topic, "message_id", task.ID, "attempts", task.Attempts, "error", herr)
	default:
		q.logger.Warn("message released for redelivery", "topic", topic, "message_id", task.ID, "attempts", task.Attempts, "retry_at", retryAt, "error", herr)
	}
	return true
}

// renewLease extends the lease of task every third of the lease timeout until
// ctx is done. Losing the lease cancels the handler.
func (q *SQLite) renewLease(ctx context.Context, cancelHandler context.CancelFunc, task *domain.QueuedTask) {
	interval := q.opts.LeaseTimeout / 3
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		extendCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := q.store.ExtendLease(extendCtx, task.ID, task.LeaseToken, q.now().Add(q.opts.LeaseTimeout))
		cancel()
		switch {
		case errors.Is(err, domain.ErrLeaseLost):
			q.logger.Error("queue lease lost, abandoning message", "topic", task.Topic, "message_id", task.ID)
			cancelHandler()
			return
		case err != nil:
			q.logger.Warn("queue lease renewal failed", "topic", task.Topic, "message_id", task.ID, "error", err)
		}
	}
}

func (q *SQLite) logSettleFailure(op string, task *domain.QueuedTask, err error) {
	if errors.Is(err, domain.ErrLeaseLost) {
		q.logger.Warn("queue "+op+" skipped, lease held by another worker", "topic", task.Topic, "message_id", task.ID)
		return
	}
	q.logger.Warn("queue "+op+" failed", "topic", task.Topic, "message_id", task.ID, "error", err)
}

// Close stops all subscribers. Stored tasks are kept.
func (q *SQLite) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}
