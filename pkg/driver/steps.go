package driver

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/queue"
	"github.com/dukex/flowpilot/pkg/registry"
	"github.com/dukex/flowpilot/pkg/resolver"
	"github.com/dukex/flowpilot/pkg/router"
	"github.com/google/uuid"
)

const defaultEntityKey = "entity"

func (d *Driver) executeToolCall(ctx context.Context, flow *models.Flow, step *models.Step) (*TickResult, error) {
	if step.Status == models.StepStatusAwaitingUser {
		return d.resumeEscalation(ctx, flow, step)
	}

	params, err := resolver.Resolve(step, flow.FlowContext, flow.PriorResults(), flow.UserResponses())
	if err != nil {
		return d.failStep(ctx, flow, step, err.Error(), false)
	}

	capability, err := d.registry.GetCapability(ctx, step.CapabilitySlug)
	if err != nil {
		return d.failStep(ctx, flow, step, err.Error(), !errors.Is(err, registry.ErrCapabilityNotFound))
	}

	err = d.startStep(ctx, flow, step)
	if err != nil {
		return nil, err
	}

	result, err := d.router.Execute(ctx, capability, params, router.ExecutionContext{
		FlowID:      flow.ID,
		StepID:      step.ID,
		TenantID:    flow.TenantID,
		UserID:      flow.UserID,
		FlowContext: flow.FlowContext,
	})
	if err != nil {
		return d.failStep(ctx, flow, step, err.Error(), false)
	}

	if result.IsMultipleMatches() {
		return d.escalate(ctx, flow, step, result.Matches, fmt.Sprintf("Several records match for %q. Which one did you mean?", stepLabel(step)))
	}

	if !result.Success {
		return d.failStep(ctx, flow, step, result.Error, true)
	}

	foldSideEffects(flow, result.SideEffects)

	return d.completeStep(ctx, flow, step, result.Data)
}

// escalate inserts a user_prompt carrying the candidates right after step and suspends on step.
func (d *Driver) escalate(ctx context.Context, flow *models.Flow, step *models.Step, matches []map[string]any, message string) (*TickResult, error) {
	options := optionsFromMatches(matches)

	sourceID := step.ID
	prompt := &models.Step{
		ID:            uuid.NewString(),
		FlowID:        flow.ID,
		Position:      step.Position + 1,
		Type:          models.StepTypeUserPrompt,
		Name:          "Choose " + stepLabel(step),
		Status:        models.StepStatusPending,
		PromptType:    models.PromptTypeSelect,
		PromptMessage: message,
		PromptOptions: options,
		EscalatedFrom: &sourceID,
	}

	splice(flow, prompt)

	d.appendLog(ctx, flow, step, models.LogAmbiguityRaised, message, models.ActorSystem, map[string]any{
		"candidates":     len(options),
		"prompt_step_id": prompt.ID,
	})
	d.appendLog(ctx, flow, prompt, models.LogStepInserted, "Inserted selection prompt", models.ActorSystem, map[string]any{
		"position": prompt.Position,
	})

	return d.suspend(ctx, flow, step, models.PromptTypeSelect, message, options)
}

// resumeEscalation completes a step whose ambiguity the user has resolved, and pre-fills the
// prompt step inserted for it so the user is not asked twice.
func (d *Driver) resumeEscalation(ctx context.Context, flow *models.Flow, step *models.Step) (*TickResult, error) {
	selection := step.Selection(step.UserResponse)

	for _, other := range flow.Steps {
		if other.EscalatedFrom != nil && *other.EscalatedFrom == step.ID && other.Status == models.StepStatusPending {
			other.UserResponse = step.UserResponse
		}
	}

	flow.ContextSection(models.ContextResolvedEntities)[entityKey(step)] = selection

	return d.completeStep(ctx, flow, step, selection)
}

func (d *Driver) executeDecision(ctx context.Context, flow *models.Flow, step *models.Step) (*TickResult, error) {
	decisions := flow.ContextSection(models.ContextDecisions)
	position := strconv.Itoa(step.Position)

	if step.Status == models.StepStatusAwaitingUser {
		selection := step.Selection(step.UserResponse)
		flow.ContextSection(models.ContextResolvedEntities)[entityKey(step)] = selection
		decisions[position] = map[string]any{"outcome": string(DecisionOne), "source": string(models.ActorUser)}

		return d.completeStep(ctx, flow, step, selection)
	}

	input, ok := decisionInput(flow, step)
	if !ok {
		return d.failStep(ctx, flow, step, "ai_decision has no previous step output to interpret", false)
	}

	err := d.startStep(ctx, flow, step)
	if err != nil {
		return nil, err
	}

	decision, err := d.interpreter.Interpret(ctx, DecisionRequest{
		Step:       step,
		Input:      input,
		EntityType: entityKey(step),
	})
	if err != nil {
		return d.failStep(ctx, flow, step, fmt.Sprintf("interpretation failed: %v", err), true)
	}

	d.appendLog(ctx, flow, step, models.LogDecisionRecorded, "Decision: "+string(decision.Outcome), models.ActorAI, map[string]any{
		"outcome":    string(decision.Outcome),
		"candidates": len(decision.Candidates),
		"reason":     decision.Reason,
	})

	switch decision.Outcome {
	case DecisionOne:
		flow.ContextSection(models.ContextResolvedEntities)[entityKey(step)] = decision.Entity
		decisions[position] = map[string]any{"outcome": string(DecisionOne), "source": string(models.ActorAI)}

		return d.completeStep(ctx, flow, step, decision.Entity)
	case DecisionMany:
		decisions[position] = map[string]any{"outcome": string(DecisionMany), "source": string(models.ActorAI)}
		message := fmt.Sprintf("Several %s records match. Which one did you mean?", entityKey(step))

		return d.suspend(ctx, flow, step, models.PromptTypeSelect, message, optionsFromMatches(decision.Candidates))
	default:
		decisions[position] = map[string]any{"outcome": string(DecisionNone), "source": string(models.ActorAI)}

		return d.failStep(ctx, flow, step, fmt.Sprintf("no matching %s found", entityKey(step)), false)
	}
}

func (d *Driver) executePrompt(ctx context.Context, flow *models.Flow, step *models.Step) (*TickResult, error) {
	if step.UserResponse == nil {
		return d.suspend(ctx, flow, step, step.PromptType, step.PromptMessage, step.PromptOptions)
	}

	flow.ContextSection(models.ContextUserResponses)[strconv.Itoa(step.Position)] = step.UserResponse

	return d.completeStep(ctx, flow, step, step.Selection(step.UserResponse))
}

func (d *Driver) executeConditional(ctx context.Context, flow *models.Flow, step *models.Step) (*TickResult, error) {
	value, err := d.conditions.Evaluate(step.Condition, ConditionScope{
		Context:   flow.FlowContext,
		Steps:     flow.PriorResults(),
		UserInput: latestResponse(flow, step.Position),
	})
	if err != nil {
		return d.failStep(ctx, flow, step, err.Error(), false)
	}

	target := step.Position + 1

	switch {
	case value && step.OnSuccessGoto != nil:
		target = *step.OnSuccessGoto
	case !value && step.OnFailGoto != nil:
		target = *step.OnFailGoto
	}

	if target <= step.Position {
		return d.failStep(ctx, flow, step, fmt.Sprintf("backward jump from step %d to %d is not allowed", step.Position, target), false)
	}

	for _, other := range flow.Steps {
		if other.Position > step.Position && other.Position < target && other.Status == models.StepStatusPending {
			other.Status = models.StepStatusSkipped
			d.appendLog(ctx, flow, other, models.LogStepSkipped, fmt.Sprintf("Skipped by condition at step %d", step.Position), models.ActorSystem, nil)
		}
	}

	flow.ContextSection(models.ContextDecisions)[strconv.Itoa(step.Position)] = map[string]any{
		"condition": value,
		"goto":      target,
	}

	return d.completeStep(ctx, flow, step, map[string]any{"condition": value, "goto": target})
}

func (d *Driver) startStep(ctx context.Context, flow *models.Flow, step *models.Step) error {
	now := d.now()
	step.Status = models.StepStatusRunning
	step.StartedAt = &now

	d.appendLog(ctx, flow, step, models.LogStepStarted, "Step started", models.ActorSystem, map[string]any{"attempt": flow.RetryCount + 1})

	return d.save(ctx, flow)
}

// suspend parks the flow on step until a response arrives.
func (d *Driver) suspend(
	ctx context.Context,
	flow *models.Flow,
	step *models.Step,
	promptType models.PromptType,
	message string,
	options []models.PromptOption,
) (*TickResult, error) {
	if promptType == "" {
		promptType = models.PromptTypeText
		if len(options) > 0 {
			promptType = models.PromptTypeSelect
		}
	}

	if step.StartedAt == nil {
		now := d.now()
		step.StartedAt = &now
	}

	step.Status = models.StepStatusAwaitingUser
	step.PromptType = promptType
	step.PromptMessage = message
	step.PromptOptions = options
	flow.Status = models.FlowStatusAwaitingUser
	flow.CurrentStepID = &step.ID

	d.appendLog(ctx, flow, step, models.LogAwaitingUser, message, models.ActorSystem, nil)

	err := d.save(ctx, flow)
	if err != nil {
		return nil, err
	}

	err = d.publisher.UserInputRequired(ctx, flow, step)
	if err != nil {
		d.logger.WarnContext(ctx, "Failed to publish input-required event", "flow_id", flow.ID, "error", err)
	}

	return &TickResult{FlowID: flow.ID, StepID: step.ID, Outcome: OutcomeSuspended, Status: flow.Status}, nil
}

func (d *Driver) completeStep(ctx context.Context, flow *models.Flow, step *models.Step, result any) (*TickResult, error) {
	now := d.now()
	step.Status = models.StepStatusCompleted
	step.Result = result
	step.ErrorMessage = ""
	step.CompletedAt = &now

	if step.StartedAt == nil {
		step.StartedAt = &now
	}

	if result != nil {
		flow.ContextSection(models.ContextStepOutputs)[strconv.Itoa(step.Position)] = result
	}

	flow.Status = models.FlowStatusRunning

	d.appendLog(ctx, flow, step, models.LogStepCompleted, "Step completed", models.ActorSystem, nil)

	err := d.save(ctx, flow)
	if err != nil {
		return nil, err
	}

	err = d.publisher.StepCompleted(ctx, flow, step)
	if err != nil {
		d.logger.WarnContext(ctx, "Failed to publish step-completed event", "flow_id", flow.ID, "error", err)
	}

	d.enqueue(ctx, flow.ID, queue.ReasonAdvance)

	return &TickResult{FlowID: flow.ID, StepID: step.ID, Outcome: OutcomeAdvanced, Status: flow.Status}, nil
}

// failStep applies the retry policy: a retryable failure resets the step while the flow's
// budget lasts; anything else fails the step and the flow.
func (d *Driver) failStep(ctx context.Context, flow *models.Flow, step *models.Step, message string, retryable bool) (*TickResult, error) {
	d.appendLog(ctx, flow, step, models.LogStepFailed, message, models.ActorSystem, map[string]any{
		"retryable":   retryable,
		"retry_count": flow.RetryCount,
	})

	flow.LastError = message
	step.ErrorMessage = message

	if retryable && flow.RetryCount < flow.MaxRetries {
		flow.RetryCount++
		step.Status = models.StepStatusPending
		step.StartedAt = nil
		flow.Status = models.FlowStatusRunning

		d.appendLog(ctx, flow, step, models.LogStepRetrying, fmt.Sprintf("Retry %d of %d", flow.RetryCount, flow.MaxRetries), models.ActorSystem, nil)

		err := d.save(ctx, flow)
		if err != nil {
			return nil, err
		}

		d.enqueue(ctx, flow.ID, queue.ReasonRetry)

		return &TickResult{FlowID: flow.ID, StepID: step.ID, Outcome: OutcomeRetrying, Status: flow.Status}, nil
	}

	step.Status = models.StepStatusFailed

	return d.failFlow(ctx, flow, step, message)
}

func (d *Driver) failFlow(ctx context.Context, flow *models.Flow, step *models.Step, message string) (*TickResult, error) {
	if message == "" {
		message = fmt.Sprintf("step %d failed", step.Position)
	}

	now := d.now()
	flow.Status = models.FlowStatusFailed
	flow.LastError = message
	flow.CurrentStepID = &step.ID
	flow.CompletedAt = &now

	d.appendLog(ctx, flow, step, models.LogFlowFailed, message, models.ActorSystem, map[string]any{"retry_count": flow.RetryCount})
	d.logger.WarnContext(ctx, "Flow failed", "flow_id", flow.ID, "step_id", step.ID, "error", message)

	err := d.save(ctx, flow)
	if err != nil {
		return nil, err
	}

	return &TickResult{FlowID: flow.ID, StepID: step.ID, Outcome: OutcomeFailed, Status: flow.Status}, nil
}

func (d *Driver) completeFlow(ctx context.Context, flow *models.Flow) (*TickResult, error) {
	now := d.now()
	flow.Status = models.FlowStatusCompleted
	flow.CurrentStepID = nil
	flow.CompletedAt = &now
	flow.Suggestions = Suggestions(flow)

	d.appendLog(ctx, flow, nil, models.LogFlowCompleted, "Flow completed", models.ActorSystem, map[string]any{
		"suggestions": len(flow.Suggestions),
	})

	err := d.save(ctx, flow)
	if err != nil {
		return nil, err
	}

	d.logger.InfoContext(ctx, "Flow completed", "flow_id", flow.ID, "steps", flow.TotalSteps)

	err = d.publisher.FlowCompleted(ctx, flow)
	if err != nil {
		d.logger.WarnContext(ctx, "Failed to publish flow-completed event", "flow_id", flow.ID, "error", err)
	}

	return &TickResult{FlowID: flow.ID, Outcome: OutcomeCompleted, Status: flow.Status}, nil
}

// splice inserts step at its position, moving later steps down and rewriting their
// references to moved positions.
func splice(flow *models.Flow, step *models.Step) {
	for _, other := range flow.Steps {
		resolver.Shift(other, step.Position, 1)

		if other.Position >= step.Position {
			other.Position++
		}
	}

	flow.Steps = append(flow.Steps, step)
	flow.SortSteps()
}

// unsplice removes step and closes the gap it leaves.
func unsplice(flow *models.Flow, step *models.Step) {
	flow.Steps = slices.DeleteFunc(flow.Steps, func(s *models.Step) bool { return s.ID == step.ID })

	for _, other := range flow.Steps {
		resolver.Shift(other, step.Position+1, -1)

		if other.Position > step.Position {
			other.Position--
		}
	}
}

// decisionInput is the output of the nearest completed step before step. Steps a jump
// skipped and the conditionals that only route are passed over.
func decisionInput(flow *models.Flow, step *models.Step) (any, bool) {
	for position := step.Position - 1; position >= 1; position-- {
		previous := flow.StepAt(position)
		if previous == nil || previous.Status != models.StepStatusCompleted || previous.Type == models.StepTypeConditional {
			continue
		}

		if previous.Type == models.StepTypeUserPrompt && previous.UserResponse != nil {
			return previous.Selection(previous.UserResponse), true
		}

		if previous.Result != nil {
			return previous.Result, true
		}
	}

	return nil, false
}

func latestResponse(flow *models.Flow, position int) any {
	var (
		best     any
		bestSeen int
	)

	for _, step := range flow.Steps {
		if step.UserResponse != nil && step.Position <= position && step.Position > bestSeen {
			best, bestSeen = step.UserResponse, step.Position
		}
	}

	return best
}

func entityKey(step *models.Step) string {
	if key, ok := step.InputParams["entity_type"].(string); ok && key != "" {
		return key
	}

	return defaultEntityKey
}

func stepLabel(step *models.Step) string {
	if step.Name != "" {
		return step.Name
	}

	if step.CapabilitySlug != "" {
		return step.CapabilitySlug
	}

	return "step " + strconv.Itoa(step.Position)
}

func optionsFromMatches(matches []map[string]any) []models.PromptOption {
	options := make([]models.PromptOption, 0, len(matches))

	for i, match := range matches {
		value := match["id"]
		if value == nil {
			value = i + 1
		}

		options = append(options, models.PromptOption{
			Value: value,
			Label: matchLabel(match, value),
			Data:  match,
		})
	}

	return options
}

func matchLabel(match map[string]any, fallback any) string {
	for _, key := range []string{"title", "name", "label"} {
		if s, ok := match[key].(string); ok && s != "" {
			return s
		}
	}

	return fmt.Sprint(fallback)
}

// foldSideEffects records created and updated records in flow_context for suggestions and
// later placeholder resolution.
func foldSideEffects(flow *models.Flow, effects *models.SideEffects) {
	if effects == nil {
		return
	}

	fold := func(section string, refs []models.EntityRef) {
		if len(refs) == 0 {
			return
		}

		entities := flow.ContextSection(section)

		for _, ref := range refs {
			record := map[string]any{"id": ref.ID}
			if ref.Label != "" {
				record["label"] = ref.Label
			}

			list, _ := entities[ref.Type].([]any)
			entities[ref.Type] = append(list, record)
		}
	}

	fold(models.ContextCreatedEntities, effects.Created)
	fold(models.ContextUpdatedEntities, effects.Updated)
}
