// Package queue carries "advance this flow by one step" tasks to workers and serializes
// work on a flow with a per-flow lock.
package queue

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrClosed is returned by a queue after Close.
	ErrClosed = errors.New("queue closed")
	// ErrLockTimeout is returned when a flow lock cannot be taken before the deadline.
	ErrLockTimeout = errors.New("timed out waiting for flow lock")
)

// Task asks a worker to tick one flow.
type Task struct {
	FlowID     string    `json:"flow_id"`
	Reason     string    `json:"reason,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Task reasons, recorded for logs.
const (
	ReasonPlanned   = "planned"
	ReasonAdvance   = "advance"
	ReasonRetry     = "retry"
	ReasonResponded = "responded"
	ReasonResumed   = "resumed"
	ReasonRecovered = "recovered"
)

func NewTask(flowID, reason string) Task {
	return Task{FlowID: flowID, Reason: reason, EnqueuedAt: time.Now().UTC()}
}

type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	// Dequeue blocks until a task is available, ctx is done or the queue is closed.
	Dequeue(ctx context.Context) (Task, error)
	Close() error
}

// Unlock releases a lock taken with Locker.Lock.
type Unlock func(ctx context.Context) error

// Locker provides mutual exclusion per key across workers.
type Locker interface {
	// Lock blocks until the key is held or ctx is done.
	Lock(ctx context.Context, key string) (Unlock, error)
}
