// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"time"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/google/uuid"
)

// CreateTestFlow creates a pending flow with default values that can be overridden.
// Steps added through WithSteps get the flow's ID and consecutive positions.
func CreateTestFlow(overrides ...func(*models.Flow)) *models.Flow {
	flow := &models.Flow{
		ID:              uuid.New().String(),
		TenantID:        "tenant-1",
		UserID:          "user-1",
		Title:           "Test Flow",
		OriginalRequest: "Find task 'Landing page' and mark it complete",
		Status:          models.FlowStatusPending,
		FlowContext:     map[string]any{},
		MaxRetries:      models.DefaultMaxRetries,
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	}

	for _, override := range overrides {
		override(flow)
	}

	for i, step := range flow.Steps {
		step.FlowID = flow.ID

		if step.Position == 0 {
			step.Position = i + 1
		}
	}

	flow.TotalSteps = len(flow.Steps)

	return flow
}

// CreateTestStep creates a pending tool_call step with default values that can be overridden.
func CreateTestStep(overrides ...func(*models.Step)) *models.Step {
	step := &models.Step{
		ID:             uuid.New().String(),
		Type:           models.StepTypeToolCall,
		Name:           "Test Step",
		CapabilitySlug: "echo",
		InputParams:    map[string]any{},
		Status:         models.StepStatusPending,
	}

	for _, override := range overrides {
		override(step)
	}

	return step
}

// WithID sets the flow ID.
func WithID(id string) func(*models.Flow) {
	return func(f *models.Flow) {
		f.ID = id
	}
}

// WithUser sets the owning tenant and user.
func WithUser(tenantID, userID string) func(*models.Flow) {
	return func(f *models.Flow) {
		f.TenantID = tenantID
		f.UserID = userID
	}
}

// WithStatus sets the flow status.
func WithStatus(status models.FlowStatus) func(*models.Flow) {
	return func(f *models.Flow) {
		f.Status = status
	}
}

// WithUpdatedAt sets the last update time, as the stale-flow sweep sees it.
func WithUpdatedAt(at time.Time) func(*models.Flow) {
	return func(f *models.Flow) {
		f.UpdatedAt = at
	}
}

// WithSteps replaces the flow's steps.
func WithSteps(steps ...*models.Step) func(*models.Flow) {
	return func(f *models.Flow) {
		f.Steps = steps
	}
}

// WithCapability makes the step a tool_call of slug with the given mappings.
func WithCapability(slug string, mappings map[string]string) func(*models.Step) {
	return func(s *models.Step) {
		s.Type = models.StepTypeToolCall
		s.CapabilitySlug = slug
		s.ParamMappings = mappings
	}
}

// WithPrompt makes the step a user_prompt.
func WithPrompt(promptType models.PromptType, message string, options ...models.PromptOption) func(*models.Step) {
	return func(s *models.Step) {
		s.Type = models.StepTypeUserPrompt
		s.CapabilitySlug = ""
		s.PromptType = promptType
		s.PromptMessage = message
		s.PromptOptions = options
	}
}

// WithStepStatus sets the step status.
func WithStepStatus(status models.StepStatus) func(*models.Step) {
	return func(s *models.Step) {
		s.Status = status
	}
}

// WithPosition sets the step position.
func WithPosition(position int) func(*models.Step) {
	return func(s *models.Step) {
		s.Position = position
	}
}
