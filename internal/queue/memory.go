package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Queue. Messages do not survive a restart.
type Memory struct {
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	topics map[string]chan Message
	closed bool
	done   chan struct{}
}

// NewMemory creates an in-process queue.
func NewMemory(opts Options, logger *slog.Logger) *Memory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Memory{
		opts:   opts.withDefaults(),
		logger: logger,
		topics: make(map[string]chan Message),
		done:   make(chan struct{}),
	}
}

func (q *Memory) topic(name string) (chan Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, false
	}
	ch, ok := q.topics[name]
	if !ok {
		ch = make(chan Message, 256)
		q.topics[name] = ch
	}
	return ch, true
}

// Publish enqueues payload on topic. It blocks while the topic buffer is full.
func (q *Memory) Publish(ctx context.Context, topic string, payload []byte) (string, error) {
	msg := Message{ID: uuid.New().String(), Topic: topic, Payload: append([]byte(nil), payload...)}
	if err := q.push(ctx, msg); err != nil {
		return "", err
	}
	return msg.ID, nil
}

func (q *Memory) push(ctx context.Context, msg Message) error {
	ch, ok := q.topic(msg.Topic)
	if !ok {
		return ErrClosed
	}
	select {
	case ch <- msg:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe delivers messages of topic to h until ctx is done or the queue closes.
func (q *Memory) Subscribe(ctx context.Context, topic string, h Handler) error {
	ch, ok := q.topic(topic)
	if !ok {
		return ErrClosed
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-q.done:
			return nil
		case msg := <-ch:
			msg.Attempts++
			hctx, cancel := handlerContext(ctx, q.opts.DrainTimeout)
			err := h(hctx, msg)
			cancel()
			if err != nil {
				q.redeliver(msg, err)
			}
		}
	}
}

func (q *Memory) redeliver(msg Message, cause error) {
	if msg.Attempts >= q.opts.MaxAttempts {
		q.logger.Error("message dead-lettered", "topic", msg.Topic, "message_id", msg.ID, "attempts", msg.Attempts, "error", cause)
		return
	}
	delay := backoff(q.opts.PollInterval, msg.Attempts)
	q.logger.Warn("message released for redelivery", "topic", msg.Topic, "message_id", msg.ID, "attempts", msg.Attempts, "retry_in", delay, "error", cause)
	time.AfterFunc(delay, func() {
		if err := q.push(context.Background(), msg); err != nil {
			q.logger.Warn("redelivery dropped", "topic", msg.Topic, "message_id", msg.ID, "error", err)
		}
	})
}

// Close stops all subscribers. Undelivered messages are dropped.
func (q *Memory) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	return nil
}
