package queue

import (
	"context"
	"fmt"
	"sync"
)

const defaultMemoryQueueSize = 1024

// MemoryQueue is a channel-backed queue for tests and single-process deployments.
type MemoryQueue struct {
	tasks     chan Task
	done      chan struct{}
	closeOnce sync.Once
}

func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = defaultMemoryQueueSize
	}

	return &MemoryQueue{
		tasks: make(chan Task, size),
		done:  make(chan struct{}),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, task Task) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}

	select {
	case q.tasks <- task:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (Task, error) {
	select {
	case task := <-q.tasks:
		return task, nil
	case <-q.done:
		return Task{}, ErrClosed
	case <-ctx.Done():
		return Task{}, ctx.Err()
	}
}

// TryDequeue pops a task without blocking.
func (q *MemoryQueue) TryDequeue() (Task, bool) {
	select {
	case task := <-q.tasks:
		return task, true
	default:
		return Task{}, false
	}
}

// Len reports the number of buffered tasks.
func (q *MemoryQueue) Len() int {
	return len(q.tasks)
}

func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() {
		close(q.done)
	})

	return nil
}

// MemoryLocker is a per-key mutex that honours context cancellation.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*memoryLock
}

type memoryLock struct {
	held chan struct{}
	refs int
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]*memoryLock)}
}

func (l *MemoryLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	l.mu.Lock()

	lock, ok := l.locks[key]
	if !ok {
		lock = &memoryLock{held: make(chan struct{}, 1)}
		l.locks[key] = lock
	}

	lock.refs++
	l.mu.Unlock()

	select {
	case lock.held <- struct{}{}:
	case <-ctx.Done():
		l.release(key, lock)

		return nil, fmt.Errorf("%w: %s: %w", ErrLockTimeout, key, ctx.Err())
	}

	var once sync.Once

	return func(context.Context) error {
		once.Do(func() {
			<-lock.held
			l.release(key, lock)
		})

		return nil
	}, nil
}

func (l *MemoryLocker) release(key string, lock *memoryLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, key)
	}
}
