package domain

import "time"

// TaskStatus is the delivery state of a queued task.
type TaskStatus string

const (
	TaskStatusPending TaskStatus = "pending"
	TaskStatusLeased  TaskStatus = "leased"
	TaskStatusDone    TaskStatus = "done"
	TaskStatusDead    TaskStatus = "dead"
)

// QueuedTask is one message on a durable topic.
// LeaseToken identifies the current claim: settling or extending the lease
// with any other token fails with ErrLeaseLost.
type QueuedTask struct {
	ID         string
	Topic      string
	Payload    []byte
	Attempts   int
	LeaseToken string
	CreatedAt  time.Time
}
