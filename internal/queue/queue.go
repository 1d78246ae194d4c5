// Package queue provides at-least-once topic delivery for async executions.
package queue

import (
	"context"
	"errors"
	"time"
)

// Topics used by async dispatch.
const (
	TopicExecutionRequests = "test-execution-requests"
	TopicExecutionResults  = "test-execution-results"
)

// ErrClosed is returned by Publish after the queue was closed.
var ErrClosed = errors.New("queue closed")

// Message is one delivery of a published payload. Attempts starts at 1.
type Message struct {
	ID       string
	Topic    string
	Payload  []byte
	Attempts int
}

// Handler processes a delivery. A nil return acknowledges the message; an
// error releases it for redelivery until the attempt limit dead-letters it.
type Handler func(ctx context.Context, msg Message) error

// Queue publishes payloads to topics and delivers them to subscribers.
// Concurrent subscribers on the same topic compete for messages.
type Queue interface {
	Publish(ctx context.Context, topic string, payload []byte) (string, error)
	// Subscribe delivers messages to h until ctx is done.
	Subscribe(ctx context.Context, topic string, h Handler) error
	Close() error
}

// Options tunes a queue backend. When a subscription ends, a message already
// being handled keeps its context for up to DrainTimeout so it can finish
// and be acknowledged.
type Options struct {
	PollInterval time.Duration
	LeaseTimeout time.Duration
	MaxAttempts  int
	DrainTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	if o.LeaseTimeout <= 0 {
		o.LeaseTimeout = 10 * time.Minute
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = 30 * time.Second
	}
	return o
}

// handlerContext detaches a handler from its subscription. Once ctx is done
// the handler context is cancelled after drain, or earlier by cancel.
func handlerContext(ctx context.Context, drain time.Duration) (context.Context, context.CancelFunc) {
	hctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, func() {
		timer := time.AfterFunc(drain, cancel)
		context.AfterFunc(hctx, func() { timer.Stop() })
	})
	return hctx, func() {
		stop()
		cancel()
	}
}

// backoff returns the redelivery delay after the given attempt.
func backoff(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt && d < time.Minute; i++ {
		d *= 2
	}
	if d > time.Minute {
		d = time.Minute
	}
	return d
}
