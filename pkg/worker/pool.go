// Package worker runs driver ticks off the queue and recovers flows whose tick was lost.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/flowpilot/pkg/driver"
	"github.com/dukex/flowpilot/pkg/persistence"
	"github.com/dukex/flowpilot/pkg/queue"
)

const (
	defaultPoolSize = 4
	dequeueBackoff  = time.Second
)

// Ticker advances a flow by one step.
type Ticker interface {
	Tick(ctx context.Context, flowID string) (*driver.TickResult, error)
}

// Pool runs size goroutines that each dequeue a task and tick its flow.
type Pool struct {
	id     string
	logger *slog.Logger
	queue  queue.Queue
	ticker Ticker
	size   int
}

func NewPool(id string, q queue.Queue, ticker Ticker, size int, logger *slog.Logger) *Pool {
	if size <= 0 {
		size = defaultPoolSize
	}

	return &Pool{
		id:     id,
		logger: logger.With("module", "worker", "worker_id", id),
		queue:  q,
		ticker: ticker,
		size:   size,
	}
}

// Run blocks until ctx is cancelled or the queue is closed, then waits for in-flight ticks.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.InfoContext(ctx, "Starting worker pool", "size", p.size)

	var wg sync.WaitGroup

	for i := range p.size {
		wg.Add(1)

		go func() {
			defer wg.Done()

			p.loop(ctx, fmt.Sprintf("%s-%d", p.id, i))
		}()
	}

	wg.Wait()
	p.logger.InfoContext(ctx, "Worker pool stopped")

	return nil
}

func (p *Pool) loop(ctx context.Context, name string) {
	logger := p.logger.With("goroutine", name)

	for {
		task, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}

			logger.ErrorContext(ctx, "Failed to dequeue task", "error", err)

			select {
			case <-ctx.Done():
				return
			case <-time.After(dequeueBackoff):
			}

			continue
		}

		p.handle(ctx, logger, task)
	}
}

func (p *Pool) handle(ctx context.Context, logger *slog.Logger, task queue.Task) {
	logger = logger.With("flow_id", task.FlowID, "reason", task.Reason)

	result, err := p.ticker.Tick(ctx, task.FlowID)

	switch {
	case err == nil:
		logger.DebugContext(ctx, "Tick finished", "outcome", result.Outcome, "status", result.Status, "step_id", result.StepID)
	case persistence.IsFlowNotFound(err):
		logger.WarnContext(ctx, "Dropping task for unknown flow")
	case errors.Is(err, queue.ErrLockTimeout):
		// The lock holder may have missed this task's trigger; try again later.
		logger.WarnContext(ctx, "Flow is busy, requeueing task")

		requeueErr := p.queue.Enqueue(ctx, task)
		if requeueErr != nil {
			logger.ErrorContext(ctx, "Failed to requeue task", "error", requeueErr)
		}
	default:
		logger.ErrorContext(ctx, "Tick failed", "error", err)
	}
}
