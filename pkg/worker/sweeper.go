package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/persistence"
	"github.com/dukex/flowpilot/pkg/queue"
	"github.com/robfig/cron/v3"
)

const (
	DefaultSweepSchedule = "@every 1m"
	DefaultStaleAfter    = 2 * time.Minute
)

// recoverable are the statuses in which a flow expects a tick to be queued.
var recoverable = []models.FlowStatus{models.FlowStatusPending, models.FlowStatusRunning}

type SweeperOptions struct {
	Schedule   string
	StaleAfter time.Duration
}

// Sweeper re-enqueues flows that should be moving but have not been updated for a while,
// covering ticks lost between dequeue and commit.
type Sweeper struct {
	logger     *slog.Logger
	flows      persistence.FlowRepository
	queue      queue.Queue
	schedule   string
	staleAfter time.Duration
	cron       *cron.Cron
	now        func() time.Time
}

func NewSweeper(logger *slog.Logger, flows persistence.FlowRepository, q queue.Queue, opts SweeperOptions) *Sweeper {
	if opts.Schedule == "" {
		opts.Schedule = DefaultSweepSchedule
	}

	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}

	return &Sweeper{
		logger:     logger.With("module", "sweeper"),
		flows:      flows,
		queue:      q,
		schedule:   opts.Schedule,
		staleAfter: opts.StaleAfter,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Sweep enqueues a recovery tick for every stale flow and returns how many were enqueued.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	stale, err := s.flows.ListStale(ctx, recoverable, s.now().Add(-s.staleAfter))
	if err != nil {
		return 0, fmt.Errorf("list stale flows: %w", err)
	}

	enqueued := 0

	for _, flow := range stale {
		err := s.queue.Enqueue(ctx, queue.NewTask(flow.ID, queue.ReasonRecovered))
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to enqueue recovery tick", "flow_id", flow.ID, "error", err)

			continue
		}

		enqueued++
	}

	if enqueued > 0 {
		s.logger.InfoContext(ctx, "Recovered stale flows", "count", enqueued)
	}

	return enqueued, nil
}

// Start schedules Sweep on the cron schedule until Stop or ctx cancellation.
func (s *Sweeper) Start(ctx context.Context) error {
	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := s.cron.AddFunc(s.schedule, func() {
		_, err := s.Sweep(ctx)
		if err != nil {
			s.logger.ErrorContext(ctx, "Sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "Sweeper started", "schedule", s.schedule, "stale_after", s.staleAfter)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}

	<-s.cron.Stop().Done()
}
