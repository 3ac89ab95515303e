package driver

import (
	"context"
	"fmt"
	"slices"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/persistence"
	"github.com/dukex/flowpilot/pkg/queue"
	"github.com/dukex/flowpilot/pkg/resolver"
	"github.com/google/uuid"
)

const cancelAttempts = 3

// Respond records a user's answer to an awaiting step and schedules exactly one tick.
// Repeating a response for an already answered step is a no-op.
func (d *Driver) Respond(ctx context.Context, flowID, stepID string, response any) (*models.Flow, error) {
	if response == nil {
		return nil, ErrResponseRequired
	}

	unlock, err := d.lock(ctx, flowID)
	if err != nil {
		return nil, err
	}
	defer d.unlock(ctx, flowID, unlock)

	flow, err := d.flows.GetByID(ctx, flowID)
	if err != nil {
		return nil, err
	}

	step := flow.StepByID(stepID)
	if step == nil {
		return nil, persistence.NewFlowError("Respond", flowID, persistence.ErrStepNotFound)
	}

	if step.UserResponse != nil {
		switch step.Status {
		case models.StepStatusCompleted, models.StepStatusAwaitingUser, models.StepStatusPending:
			return flow, nil
		}
	}

	// The selection prompt inserted for an ambiguity forwards to the step that raised it.
	if step.Status == models.StepStatusPending && step.EscalatedFrom != nil {
		if source := flow.StepByID(*step.EscalatedFrom); source != nil && source.Status == models.StepStatusAwaitingUser {
			step = source
		}
	}

	if step.Status != models.StepStatusAwaitingUser || flow.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: step %s is %s", ErrStepNotAwaitingUser, step.ID, step.Status)
	}

	if step.PromptType == models.PromptTypeSelect && len(step.PromptOptions) > 0 && step.SelectOption(response) == nil {
		return nil, fmt.Errorf("%w: %v is not one of the options of step %s", ErrInvalidStep, response, step.ID)
	}

	step.UserResponse = response

	if flow.Status != models.FlowStatusPaused {
		flow.Status = models.FlowStatusRunning
	}

	d.appendLog(ctx, flow, step, models.LogUserResponded, "User responded", models.ActorUser, map[string]any{"response": response})

	err = d.save(ctx, flow)
	if err != nil {
		return nil, err
	}

	if flow.Status == models.FlowStatusRunning {
		d.enqueue(ctx, flow.ID, queue.ReasonResponded)
	}

	return flow, nil
}

// Cancel stops a flow at once. It does not wait for the flow lock; a tick in progress loses
// its next save on the version check.
func (d *Driver) Cancel(ctx context.Context, flowID string) (*models.Flow, error) {
	logged := false

	for attempt := 1; ; attempt++ {
		flow, err := d.flows.GetByID(ctx, flowID)
		if err != nil {
			return nil, err
		}

		switch flow.Status {
		case models.FlowStatusCancelled:
			return flow, nil
		case models.FlowStatusCompleted, models.FlowStatusFailed:
			return nil, fmt.Errorf("%w: cannot cancel a %s flow", ErrInvalidTransition, flow.Status)
		}

		for _, step := range flow.Steps {
			if step.Status.IsActive() {
				step.Status = models.StepStatusCancelled
			}
		}

		now := d.now()
		flow.Status = models.FlowStatusCancelled
		flow.CompletedAt = &now

		if !logged {
			d.appendLog(ctx, flow, nil, models.LogFlowCancelled, "Flow cancelled", models.ActorUser, nil)
			logged = true
		}

		err = d.save(ctx, flow)
		if persistence.IsVersionConflict(err) && attempt < cancelAttempts {
			continue
		}

		if err != nil {
			return nil, err
		}

		d.logger.InfoContext(ctx, "Flow cancelled", "flow_id", flow.ID)

		return flow, nil
	}
}

// Retry restarts a failed flow from its failed step with a fresh retry budget.
func (d *Driver) Retry(ctx context.Context, flowID string) (*models.Flow, error) {
	unlock, err := d.lock(ctx, flowID)
	if err != nil {
		return nil, err
	}
	defer d.unlock(ctx, flowID, unlock)

	flow, err := d.flows.GetByID(ctx, flowID)
	if err != nil {
		return nil, err
	}

	switch flow.Status {
	case models.FlowStatusPending, models.FlowStatusRunning, models.FlowStatusAwaitingUser:
		return flow, nil
	case models.FlowStatusFailed:
	default:
		return nil, fmt.Errorf("%w: cannot retry a %s flow", ErrInvalidTransition, flow.Status)
	}

	for _, step := range flow.Steps {
		if step.Status == models.StepStatusFailed {
			step.Status = models.StepStatusPending
			step.ErrorMessage = ""
			step.StartedAt = nil
			step.CompletedAt = nil
		}
	}

	flow.Status = models.FlowStatusRunning
	flow.RetryCount = 0
	flow.LastError = ""
	flow.CompletedAt = nil

	d.appendLog(ctx, flow, nil, models.LogFlowRetried, "Flow retried from failed step", models.ActorUser, nil)

	err = d.save(ctx, flow)
	if err != nil {
		return nil, err
	}

	d.enqueue(ctx, flow.ID, queue.ReasonRetry)

	return flow, nil
}

// Pause stops scheduling ticks for the flow until Resume.
func (d *Driver) Pause(ctx context.Context, flowID string) (*models.Flow, error) {
	unlock, err := d.lock(ctx, flowID)
	if err != nil {
		return nil, err
	}
	defer d.unlock(ctx, flowID, unlock)

	flow, err := d.flows.GetByID(ctx, flowID)
	if err != nil {
		return nil, err
	}

	switch flow.Status {
	case models.FlowStatusPaused:
		return flow, nil
	case models.FlowStatusPending, models.FlowStatusRunning, models.FlowStatusAwaitingUser:
	default:
		return nil, fmt.Errorf("%w: cannot pause a %s flow", ErrInvalidTransition, flow.Status)
	}

	flow.Status = models.FlowStatusPaused

	d.appendLog(ctx, flow, nil, models.LogFlowPaused, "Flow paused", models.ActorUser, nil)

	err = d.save(ctx, flow)
	if err != nil {
		return nil, err
	}

	return flow, nil
}

// Resume restarts a paused flow. A flow paused on an unanswered prompt goes back to waiting.
func (d *Driver) Resume(ctx context.Context, flowID string) (*models.Flow, error) {
	unlock, err := d.lock(ctx, flowID)
	if err != nil {
		return nil, err
	}
	defer d.unlock(ctx, flowID, unlock)

	flow, err := d.flows.GetByID(ctx, flowID)
	if err != nil {
		return nil, err
	}

	if flow.Status != models.FlowStatusPaused {
		if flow.Status.IsTerminal() {
			return nil, fmt.Errorf("%w: cannot resume a %s flow", ErrInvalidTransition, flow.Status)
		}

		return flow, nil
	}

	flow.Status = models.FlowStatusRunning

	if active := flow.ActiveStep(); active != nil && active.Status == models.StepStatusAwaitingUser && active.UserResponse == nil {
		flow.Status = models.FlowStatusAwaitingUser
	}

	d.appendLog(ctx, flow, nil, models.LogFlowResumed, "Flow resumed", models.ActorUser, nil)

	err = d.save(ctx, flow)
	if err != nil {
		return nil, err
	}

	if flow.Status == models.FlowStatusRunning {
		d.enqueue(ctx, flow.ID, queue.ReasonResumed)
	}

	return flow, nil
}

// InsertStep adds a step at position inside the not-yet-started tail of the plan.
func (d *Driver) InsertStep(ctx context.Context, flowID string, position int, step *models.Step) (*models.Flow, error) {
	unlock, err := d.lock(ctx, flowID)
	if err != nil {
		return nil, err
	}
	defer d.unlock(ctx, flowID, unlock)

	flow, err := d.flows.GetByID(ctx, flowID)
	if err != nil {
		return nil, err
	}

	if flow.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: cannot edit a %s flow", ErrInvalidTransition, flow.Status)
	}

	if position < 1 || position > len(flow.Steps)+1 {
		return nil, fmt.Errorf("%w: %d is outside 1..%d", ErrInvalidPosition, position, len(flow.Steps)+1)
	}

	if position <= lastStartedPosition(flow) {
		return nil, fmt.Errorf("%w: position %d is before the pending region", ErrStepNotPending, position)
	}

	if !step.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown step type %q", ErrInvalidStep, step.Type)
	}

	inserted := &models.Step{
		ID:             step.ID,
		FlowID:         flow.ID,
		Position:       position,
		Type:           step.Type,
		Name:           step.Name,
		Description:    step.Description,
		CapabilitySlug: step.CapabilitySlug,
		InputParams:    step.InputParams,
		ParamMappings:  step.ParamMappings,
		Status:         models.StepStatusPending,
		PromptType:     step.PromptType,
		PromptMessage:  step.PromptMessage,
		PromptOptions:  step.PromptOptions,
		Condition:      step.Condition,
		OnSuccessGoto:  step.OnSuccessGoto,
		OnFailGoto:     step.OnFailGoto,
	}

	if inserted.ID == "" {
		inserted.ID = uuid.NewString()
	}

	err = resolver.CheckReferences(inserted)
	if err != nil {
		return nil, err
	}

	splice(flow, inserted)

	d.appendLog(ctx, flow, inserted, models.LogStepInserted, fmt.Sprintf("Step inserted at position %d", position), models.ActorUser, nil)

	err = d.save(ctx, flow)
	if err != nil {
		return nil, err
	}

	return flow, nil
}

// DeleteStep removes a pending step that no later step depends on.
func (d *Driver) DeleteStep(ctx context.Context, flowID, stepID string) (*models.Flow, error) {
	unlock, err := d.lock(ctx, flowID)
	if err != nil {
		return nil, err
	}
	defer d.unlock(ctx, flowID, unlock)

	flow, err := d.flows.GetByID(ctx, flowID)
	if err != nil {
		return nil, err
	}

	if flow.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: cannot edit a %s flow", ErrInvalidTransition, flow.Status)
	}

	step := flow.StepByID(stepID)
	if step == nil {
		return nil, persistence.NewFlowError("DeleteStep", flowID, persistence.ErrStepNotFound)
	}

	if step.Status != models.StepStatusPending {
		return nil, fmt.Errorf("%w: step %s is %s", ErrStepNotPending, step.ID, step.Status)
	}

	if i := slices.IndexFunc(flow.Steps, func(other *models.Step) bool {
		return other.Position > step.Position && resolver.References(other, step.Position)
	}); i >= 0 {
		return nil, fmt.Errorf("%w: step %d reads its result", ErrStepReferenced, flow.Steps[i].Position)
	}

	unsplice(flow, step)

	d.appendLog(ctx, flow, step, models.LogStepDeleted, fmt.Sprintf("Step at position %d deleted", step.Position), models.ActorUser, nil)

	err = d.save(ctx, flow)
	if err != nil {
		return nil, err
	}

	return flow, nil
}

// lastStartedPosition is the highest position whose step has left pending.
func lastStartedPosition(flow *models.Flow) int {
	last := 0

	for _, step := range flow.Steps {
		if step.Status != models.StepStatusPending && step.Position > last {
			last = step.Position
		}
	}

	return last
}
