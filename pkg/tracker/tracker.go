// Package tracker follows a flow from the client side until it needs the user or finishes.
// Events wake the tracker early; polling the flow is the source of truth.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/flowpilot/pkg/eventbus"
	"github.com/dukex/flowpilot/pkg/events"
	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/persistence"
)

var ErrTrackingTimeout = errors.New("gave up waiting for flow")

// Polling defaults.
const (
	DefaultInitialInterval = 500 * time.Millisecond
	DefaultMultiplier      = 2
	DefaultMaxInterval     = 10 * time.Second
	DefaultMaxAttempts     = 30
	DefaultMaxElapsed      = 5 * time.Minute
)

// FlowReader loads the current state of a flow.
type FlowReader interface {
	GetFlow(ctx context.Context, flowID string) (*models.Flow, error)
}

// Responder submits a user response to an awaiting step.
type Responder interface {
	Respond(ctx context.Context, flowID, stepID string, response any) (*models.Flow, error)
}

type Options struct {
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
	MaxAttempts     int
	MaxElapsed      time.Duration
}

func DefaultOptions() Options {
	return Options{
		InitialInterval: DefaultInitialInterval,
		Multiplier:      DefaultMultiplier,
		MaxInterval:     DefaultMaxInterval,
		MaxAttempts:     DefaultMaxAttempts,
		MaxElapsed:      DefaultMaxElapsed,
	}
}

type Tracker struct {
	logger     *slog.Logger
	flows      FlowReader
	responder  Responder
	subscriber eventbus.EventSubscriber
	opts       Options

	mu        sync.Mutex
	submitted map[string]bool
}

// New creates a tracker. subscriber may be nil, in which case the tracker only polls.
func New(logger *slog.Logger, flows FlowReader, responder Responder, subscriber eventbus.EventSubscriber, opts Options) *Tracker {
	defaults := DefaultOptions()

	if opts.InitialInterval <= 0 {
		opts.InitialInterval = defaults.InitialInterval
	}

	if opts.Multiplier < 1 {
		opts.Multiplier = defaults.Multiplier
	}

	if opts.MaxInterval <= 0 {
		opts.MaxInterval = defaults.MaxInterval
	}

	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaults.MaxAttempts
	}

	if opts.MaxElapsed <= 0 {
		opts.MaxElapsed = defaults.MaxElapsed
	}

	return &Tracker{
		logger:     logger.With("module", "tracker"),
		flows:      flows,
		responder:  responder,
		subscriber: subscriber,
		opts:       opts,
		submitted:  make(map[string]bool),
	}
}

func (t *Tracker) backOff() backoff.BackOff {
	exponential := backoff.NewExponentialBackOff()
	exponential.InitialInterval = t.opts.InitialInterval
	exponential.Multiplier = t.opts.Multiplier
	exponential.MaxInterval = t.opts.MaxInterval
	exponential.MaxElapsedTime = t.opts.MaxElapsed

	b := backoff.WithMaxRetries(exponential, uint64(t.opts.MaxAttempts))
	b.Reset()

	return b
}

// Watch polls the flow until it is terminal or awaiting the user, calling onUpdate whenever
// the materialized state changes. A flow event resets the backoff and triggers a poll.
func (t *Tracker) Watch(ctx context.Context, flowID string, onUpdate func(State)) (State, error) {
	logger := t.logger.With("flow_id", flowID)

	var updates <-chan events.Event

	if t.subscriber != nil {
		subCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		ch, err := t.subscriber.Subscribe(subCtx, events.FlowChannel(flowID))
		if err != nil {
			logger.WarnContext(ctx, "Event subscription failed, polling only", "error", err)
		} else {
			updates = ch
		}
	}

	b := t.backOff()

	var (
		last    State
		hasLast bool
	)

	for {
		if err := ctx.Err(); err != nil {
			return last, err
		}

		flow, err := t.flows.GetFlow(ctx, flowID)

		switch {
		case persistence.IsFlowNotFound(err):
			return last, err
		case err != nil:
			logger.WarnContext(ctx, "Failed to read flow", "error", err)
		default:
			state := Materialize(flow)

			if !hasLast || state.changedFrom(last) {
				last, hasLast = state, true

				if onUpdate != nil {
					onUpdate(state)
				}
			}

			if state.Settled() {
				return state, nil
			}
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			if err := ctx.Err(); err != nil {
				return last, err
			}

			return last, fmt.Errorf("%w %s", ErrTrackingTimeout, flowID)
		}

		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()

			return last, ctx.Err()
		case <-timer.C:
		case event, ok := <-updates:
			timer.Stop()

			if !ok {
				updates = nil

				continue
			}

			logger.DebugContext(ctx, "Flow event received", "event_type", event.GetType())
			b.Reset()
		}
	}
}

// Respond submits the response once per step; repeated calls only refresh the state.
func (t *Tracker) Respond(ctx context.Context, flowID, stepID string, response any) (State, error) {
	key := flowID + "/" + stepID

	t.mu.Lock()
	done := t.submitted[key]
	t.mu.Unlock()

	if done {
		flow, err := t.flows.GetFlow(ctx, flowID)
		if err != nil {
			return State{}, err
		}

		return Materialize(flow), nil
	}

	flow, err := t.responder.Respond(ctx, flowID, stepID, response)
	if err != nil {
		return State{}, err
	}

	t.mu.Lock()
	t.submitted[key] = true
	t.mu.Unlock()

	return Materialize(flow), nil
}
