// Package driver advances flows one step per tick. A tick loads the flow, executes its next
// step and persists the outcome; suspension for user input is simply returning without
// scheduling another tick.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/otelhelper"
	"github.com/dukex/flowpilot/pkg/persistence"
	"github.com/dukex/flowpilot/pkg/queue"
	"github.com/dukex/flowpilot/pkg/registry"
	"github.com/dukex/flowpilot/pkg/router"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const defaultLockTimeout = 30 * time.Second

var (
	ErrStepNotAwaitingUser = errors.New("step is not awaiting user input")
	ErrInvalidTransition   = errors.New("invalid flow status transition")
	ErrStepReferenced      = errors.New("step is referenced by a later step")
	ErrStepNotPending      = errors.New("step is not pending")
	ErrInvalidPosition     = errors.New("invalid step position")
	ErrInvalidStep         = errors.New("invalid step")
	ErrResponseRequired    = errors.New("a response is required")
)

// Outcome summarizes what a tick did.
type Outcome string

const (
	OutcomeNoop      Outcome = "noop"
	OutcomeAdvanced  Outcome = "advanced"
	OutcomeSuspended Outcome = "suspended"
	OutcomeRetrying  Outcome = "retrying"
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
)

type TickResult struct {
	FlowID  string
	StepID  string
	Outcome Outcome
	Status  models.FlowStatus
}

// EventPublisher receives the three lifecycle events.
type EventPublisher interface {
	StepCompleted(ctx context.Context, flow *models.Flow, step *models.Step) error
	UserInputRequired(ctx context.Context, flow *models.Flow, step *models.Step) error
	FlowCompleted(ctx context.Context, flow *models.Flow) error
}

// Dependencies wires a Driver. Persistence, Registry, Router and Queue are required.
type Dependencies struct {
	Logger      *slog.Logger
	Persistence persistence.Persistence
	Registry    registry.Registry
	Router      router.Executor
	Queue       queue.Queue
	Locker      queue.Locker
	Publisher   EventPublisher
	Interpreter Interpreter
	Tracer      trace.Tracer
	LockTimeout time.Duration
}

type Driver struct {
	logger      *slog.Logger
	flows       persistence.FlowRepository
	logs        persistence.LogRepository
	registry    registry.Registry
	router      router.Executor
	queue       queue.Queue
	locker      queue.Locker
	publisher   EventPublisher
	interpreter Interpreter
	conditions  *ConditionEvaluator
	tracer      trace.Tracer
	lockTimeout time.Duration
	now         func() time.Time
}

func New(deps Dependencies) *Driver {
	d := &Driver{
		logger:      deps.Logger.With("module", "driver"),
		flows:       deps.Persistence.FlowRepository(),
		logs:        deps.Persistence.LogRepository(),
		registry:    deps.Registry,
		router:      deps.Router,
		queue:       deps.Queue,
		locker:      deps.Locker,
		publisher:   deps.Publisher,
		interpreter: deps.Interpreter,
		conditions:  NewConditionEvaluator(),
		tracer:      deps.Tracer,
		lockTimeout: deps.LockTimeout,
		now:         func() time.Time { return time.Now().UTC() },
	}

	if d.locker == nil {
		d.locker = queue.NewMemoryLocker()
	}

	if d.publisher == nil {
		d.publisher = nopPublisher{}
	}

	if d.interpreter == nil {
		d.interpreter = HeuristicInterpreter{}
	}

	if d.tracer == nil {
		d.tracer = otelhelper.Tracer()
	}

	if d.lockTimeout <= 0 {
		d.lockTimeout = defaultLockTimeout
	}

	return d
}

// Tick advances the flow by exactly one step.
func (d *Driver) Tick(ctx context.Context, flowID string) (*TickResult, error) {
	ctx, span := otelhelper.StartSpan(ctx, d.tracer, "driver.tick", attribute.String(otelhelper.FlowIDKey, flowID))
	defer span.End()

	unlock, err := d.lock(ctx, flowID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}
	defer d.unlock(ctx, flowID, unlock)

	flow, err := d.flows.GetByID(ctx, flowID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	result, err := d.tick(ctx, flow)
	if persistence.IsVersionConflict(err) {
		// A concurrent Cancel won; the stored state is authoritative.
		current, getErr := d.flows.GetByID(ctx, flowID)
		if getErr != nil {
			otelhelper.SetError(span, getErr)

			return nil, getErr
		}

		d.logger.InfoContext(ctx, "Tick lost to a concurrent update", "flow_id", flowID, "status", current.Status)

		result, err = &TickResult{FlowID: flowID, Outcome: OutcomeNoop, Status: current.Status}, nil
	}

	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	span.SetAttributes(
		attribute.String(otelhelper.TickOutcomeKey, string(result.Outcome)),
		attribute.String(otelhelper.FlowStatusKey, string(result.Status)),
		attribute.String(otelhelper.StepIDKey, result.StepID),
	)

	return result, nil
}

func (d *Driver) tick(ctx context.Context, flow *models.Flow) (*TickResult, error) {
	if flow.Status.IsTerminal() || flow.Status == models.FlowStatusPaused {
		return d.noop(flow, ""), nil
	}

	step := flow.NextStep()
	if step == nil {
		return d.completeFlow(ctx, flow)
	}

	switch step.Status {
	case models.StepStatusFailed, models.StepStatusCancelled:
		// A step persisted as failed by the planner, or left behind by a cancel.
		return d.failFlow(ctx, flow, step, step.ErrorMessage)
	case models.StepStatusAwaitingUser:
		if step.UserResponse == nil {
			return d.noop(flow, step.ID), nil
		}
	}

	if flow.Status == models.FlowStatusPending {
		d.appendLog(ctx, flow, nil, models.LogFlowStarted, "Flow started", models.ActorSystem, nil)
	}

	flow.Status = models.FlowStatusRunning
	flow.CurrentStepID = &step.ID

	logger := d.logger.With("flow_id", flow.ID, "step_id", step.ID, "position", step.Position, "step_type", step.Type)
	logger.DebugContext(ctx, "Executing step")

	switch step.Type {
	case models.StepTypeToolCall:
		return d.executeToolCall(ctx, flow, step)
	case models.StepTypeAIDecision:
		return d.executeDecision(ctx, flow, step)
	case models.StepTypeUserPrompt:
		return d.executePrompt(ctx, flow, step)
	case models.StepTypeConditional:
		return d.executeConditional(ctx, flow, step)
	case models.StepTypeWait:
		return d.completeStep(ctx, flow, step, step.Result)
	case models.StepTypeParallel:
		return d.failStep(ctx, flow, step, "parallel steps are not supported", false)
	default:
		return d.failStep(ctx, flow, step, fmt.Sprintf("unknown step type %q", step.Type), false)
	}
}

func (d *Driver) noop(flow *models.Flow, stepID string) *TickResult {
	return &TickResult{FlowID: flow.ID, StepID: stepID, Outcome: OutcomeNoop, Status: flow.Status}
}

func (d *Driver) lock(ctx context.Context, flowID string) (queue.Unlock, error) {
	lockCtx, cancel := context.WithTimeout(ctx, d.lockTimeout)
	defer cancel()

	return d.locker.Lock(lockCtx, flowID)
}

func (d *Driver) unlock(ctx context.Context, flowID string, unlock queue.Unlock) {
	err := unlock(context.WithoutCancel(ctx))
	if err != nil {
		d.logger.WarnContext(ctx, "Failed to release flow lock", "flow_id", flowID, "error", err)
	}
}

// save recomputes derived counters and persists the flow with its steps.
func (d *Driver) save(ctx context.Context, flow *models.Flow) error {
	flow.RecountSteps()

	return d.flows.Save(ctx, flow)
}

func (d *Driver) enqueue(ctx context.Context, flowID, reason string) {
	err := d.queue.Enqueue(ctx, queue.NewTask(flowID, reason))
	if err != nil {
		// The recovery sweeper picks the flow up again.
		d.logger.ErrorContext(ctx, "Failed to enqueue tick", "flow_id", flowID, "reason", reason, "error", err)
	}
}

func (d *Driver) appendLog(
	ctx context.Context,
	flow *models.Flow,
	step *models.Step,
	logType models.LogType,
	message string,
	actor models.ActorType,
	metadata map[string]any,
) {
	entry := &models.LogEntry{
		ID:        uuid.NewString(),
		FlowID:    flow.ID,
		LogType:   logType,
		Message:   message,
		Metadata:  metadata,
		ActorType: actor,
		CreatedAt: d.now(),
	}

	if step != nil {
		stepID := step.ID
		entry.StepID = &stepID
	}

	err := d.logs.Append(ctx, entry)
	if err != nil {
		d.logger.ErrorContext(ctx, "Failed to append flow log", "flow_id", flow.ID, "log_type", logType, "error", err)
	}
}

type nopPublisher struct{}

func (nopPublisher) StepCompleted(context.Context, *models.Flow, *models.Step) error     { return nil }
func (nopPublisher) UserInputRequired(context.Context, *models.Flow, *models.Step) error { return nil }
func (nopPublisher) FlowCompleted(context.Context, *models.Flow) error                   { return nil }
