package queue_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/testexec/internal/domain"
	"github.com/xiaot623/gogo/testexec/internal/logging"
	"github.com/xiaot623/gogo/testexec/internal/queue"
	"github.com/xiaot623/gogo/testexec/tests/helpers"
)

var fastOpts = queue.Options{PollInterval: 10 * time.Millisecond, LeaseTimeout: time.Minute, MaxAttempts: 3}

func backends(t *testing.T) map[string]func(t *testing.T) queue.Queue {
	return map[string]func(t *testing.T) queue.Queue{
		"memory": func(t *testing.T) queue.Queue {
			q := queue.NewMemory(fastOpts, logging.Discard())
			t.Cleanup(func() { _ = q.Close() })
			return q
		},
		"sqlite": func(t *testing.T) queue.Queue {
			q := queue.NewSQLite(helpers.NewTestSQLiteStore(t), fastOpts, logging.Discard())
			t.Cleanup(func() { _ = q.Close() })
			return q
		},
	}
}

type collector struct {
	mu   sync.Mutex
	msgs []queue.Message
}

func (c *collector) add(m queue.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, m)
}

func (c *collector) snapshot() []queue.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]queue.Message(nil), c.msgs...)
}

func subscribe(t *testing.T, q queue.Queue, topic string, h queue.Handler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Subscribe(ctx, topic, h)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestQueueDeliversPublishedMessages(t *testing.T) {
	for name, newQueue := range backends(t) {
		t.Run(name, func(t *testing.T) {
			q := newQueue(t)
			got := &collector{}
			subscribe(t, q, queue.TopicExecutionRequests, func(_ context.Context, m queue.Message) error {
				got.add(m)
				return nil
			})

			id, err := q.Publish(context.Background(), queue.TopicExecutionRequests, []byte("a"))
			require.NoError(t, err)
			_, err = q.Publish(context.Background(), queue.TopicExecutionResults, []byte("other topic"))
			require.NoError(t, err)

			require.Eventually(t, func() bool { return len(got.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
			msg := got.snapshot()[0]
			assert.Equal(t, id, msg.ID)
			assert.Equal(t, []byte("a"), msg.Payload)
			assert.Equal(t, 1, msg.Attempts)

			time.Sleep(50 * time.Millisecond)
			assert.Len(t, got.snapshot(), 1)
		})
	}
}

func TestQueueRedeliversUntilHandled(t *testing.T) {
	for name, newQueue := range backends(t) {
		t.Run(name, func(t *testing.T) {
			q := newQueue(t)
			var calls atomic.Int32
			got := &collector{}
			subscribe(t, q, "topic", func(_ context.Context, m queue.Message) error {
				if calls.Add(1) == 1 {
					return errors.New("transient")
				}
				got.add(m)
				return nil
			})

			_, err := q.Publish(context.Background(), "topic", []byte("x"))
			require.NoError(t, err)

			require.Eventually(t, func() bool { return len(got.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
			assert.Equal(t, 2, got.snapshot()[0].Attempts)
		})
	}
}

func TestQueueStopsAfterMaxAttempts(t *testing.T) {
	for name, newQueue := range backends(t) {
		t.Run(name, func(t *testing.T) {
			q := newQueue(t)
			var calls atomic.Int32
			subscribe(t, q, "topic", func(context.Context, queue.Message) error {
				calls.Add(1)
				return errors.New("always")
			})

			_, err := q.Publish(context.Background(), "topic", []byte("x"))
			require.NoError(t, err)

			require.Eventually(t, func() bool { return calls.Load() == 3 }, 2*time.Second, 10*time.Millisecond)
			time.Sleep(150 * time.Millisecond)
			assert.Equal(t, int32(3), calls.Load())
		})
	}
}

func TestSQLiteQueueDeadLettersInStore(t *testing.T) {
	store := helpers.NewTestSQLiteStore(t)
	q := queue.NewSQLite(store, queue.Options{PollInterval: 10 * time.Millisecond, MaxAttempts: 1}, logging.Discard())
	t.Cleanup(func() { _ = q.Close() })

	subscribe(t, q, "topic", func(context.Context, queue.Message) error { return errors.New("poison") })
	_, err := q.Publish(context.Background(), "topic", []byte("x"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		n, err := store.CountTasks(context.Background(), "topic", domain.TaskStatusDead)
		return err == nil && n == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSQLiteQueueSurvivesRestart(t *testing.T) {
	store := helpers.NewTestSQLiteStore(t)

	first := queue.NewSQLite(store, fastOpts, logging.Discard())
	_, err := first.Publish(context.Background(), "topic", []byte("durable"))
	require.NoError(t, err)
	require.NoError(t, first.Close())

	_, err = first.Publish(context.Background(), "topic", []byte("late"))
	assert.ErrorIs(t, err, queue.ErrClosed)

	second := queue.NewSQLite(store, fastOpts, logging.Discard())
	t.Cleanup(func() { _ = second.Close() })
	got := &collector{}
	subscribe(t, second, "topic", func(_ context.Context, m queue.Message) error {
		got.add(m)
		return nil
	})

	require.Eventually(t, func() bool { return len(got.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []byte("durable"), got.snapshot()[0].Payload)
}

func TestCompetingSubscribersShareWork(t *testing.T) {
	for name, newQueue := range backends(t) {
		t.Run(name, func(t *testing.T) {
			q := newQueue(t)
			got := &collector{}
			for i := 0; i < 3; i++ {
				subscribe(t, q, "topic", func(_ context.Context, m queue.Message) error {
					got.add(m)
					return nil
				})
			}

			for i := 0; i < 20; i++ {
				_, err := q.Publish(context.Background(), "topic", []byte{byte(i)})
				require.NoError(t, err)
			}

			require.Eventually(t, func() bool { return len(got.snapshot()) == 20 }, 3*time.Second, 10*time.Millisecond)
			seen := map[string]bool{}
			for _, m := range got.snapshot() {
				assert.False(t, seen[m.ID], "duplicate delivery of %s", m.ID)
				seen[m.ID] = true
			}
		})
	}
}

func TestSQLiteQueueRenewsLeaseWhileHandlerRuns(t *testing.T) {
	store := helpers.NewTestSQLiteStore(t)
	q := queue.NewSQLite(store, queue.Options{PollInterval: 10 * time.Millisecond, LeaseTimeout: 150 * time.Millisecond, MaxAttempts: 3}, logging.Discard())
	t.Cleanup(func() { _ = q.Close() })

	var calls atomic.Int32
	for i := 0; i < 2; i++ {
		subscribe(t, q, "topic", func(ctx context.Context, _ queue.Message) error {
			calls.Add(1)
			select {
			case <-time.After(600 * time.Millisecond):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}

	_, err := q.Publish(context.Background(), "topic", []byte("slow"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		n, err := store.CountTasks(context.Background(), "topic", domain.TaskStatusDone)
		return err == nil && n == 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), calls.Load(), "handler ran more than once for one message")
}

func TestSubscriptionEndLetsInFlightMessageFinish(t *testing.T) {
	opts := queue.Options{PollInterval: 10 * time.Millisecond, LeaseTimeout: time.Minute, MaxAttempts: 3, DrainTimeout: 5 * time.Second}
	store := helpers.NewTestSQLiteStore(t)
	queues := map[string]queue.Queue{
		"memory": queue.NewMemory(opts, logging.Discard()),
		"sqlite": queue.NewSQLite(store, opts, logging.Discard()),
	}
	for name, q := range queues {
		t.Run(name, func(t *testing.T) {
			t.Cleanup(func() { _ = q.Close() })

			started := make(chan struct{})
			var handlerErr atomic.Value
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			go func() {
				defer close(done)
				_ = q.Subscribe(ctx, "topic", func(hctx context.Context, _ queue.Message) error {
					close(started)
					time.Sleep(200 * time.Millisecond)
					handlerErr.Store(fmt.Sprint(hctx.Err()))
					return hctx.Err()
				})
			}()

			_, err := q.Publish(context.Background(), "topic", []byte("x"))
			require.NoError(t, err)
			<-started
			cancel()

			select {
			case <-done:
			case <-time.After(3 * time.Second):
				t.Fatal("subscription did not return after the handler finished")
			}
			assert.Equal(t, "<nil>", handlerErr.Load())
		})
	}

	n, err := store.CountTasks(context.Background(), "topic", domain.TaskStatusDone)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDrainTimeoutCancelsStuckHandler(t *testing.T) {
	opts := queue.Options{PollInterval: 10 * time.Millisecond, LeaseTimeout: time.Minute, MaxAttempts: 3, DrainTimeout: 50 * time.Millisecond}
	for name, q := range map[string]queue.Queue{
		"memory": queue.NewMemory(opts, logging.Discard()),
		"sqlite": queue.NewSQLite(helpers.NewTestSQLiteStore(t), opts, logging.Discard()),
	} {
		t.Run(name, func(t *testing.T) {
			t.Cleanup(func() { _ = q.Close() })

			started := make(chan struct{})
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			go func() {
				defer close(done)
				_ = q.Subscribe(ctx, "topic", func(hctx context.Context, _ queue.Message) error {
					close(started)
					<-hctx.Done()
					return hctx.Err()
				})
			}()

			_, err := q.Publish(context.Background(), "topic", []byte("x"))
			require.NoError(t, err)
			<-started
			cancel()

			select {
			case <-done:
			case <-time.After(3 * time.Second):
				t.Fatal("stuck handler was not cancelled after the drain timeout")
			}
		})
	}
}
