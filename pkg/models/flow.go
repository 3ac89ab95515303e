// Package models defines the core domain models for flow orchestration.
package models

import (
	"slices"
	"time"
)

// FlowStatus represents the lifecycle state of a flow.
type FlowStatus string

const (
	FlowStatusPending      FlowStatus = "pending"
	FlowStatusRunning      FlowStatus = "running"
	FlowStatusAwaitingUser FlowStatus = "awaiting_user"
	FlowStatusPaused       FlowStatus = "paused"
	FlowStatusCompleted    FlowStatus = "completed"
	FlowStatusFailed       FlowStatus = "failed"
	FlowStatusCancelled    FlowStatus = "cancelled"
)

// DefaultMaxRetries is the retry budget assigned to new flows.
const DefaultMaxRetries = 3

// Well-known flow_context keys.
const (
	ContextResolvedEntities = "resolved_entities"
	ContextCreatedEntities  = "created_entities"
	ContextUpdatedEntities  = "updated_entities"
	ContextStepOutputs      = "step_outputs"
	ContextUserResponses    = "user_responses"
	ContextDecisions        = "decisions"
)

// IsTerminal reports whether no further mutation is allowed in this status.
func (s FlowStatus) IsTerminal() bool {
	return s == FlowStatusCompleted || s == FlowStatusFailed || s == FlowStatusCancelled
}

// Flow is one durable plan derived from a single user request.
type Flow struct {
	ID              string         `json:"id"`
	TenantID        string         `json:"tenant_id"`
	UserID          string         `json:"user_id"`
	ConversationID  *string        `json:"conversation_id,omitempty"`
	Title           string         `json:"title"`
	OriginalRequest string         `json:"original_request"`
	Status          FlowStatus     `json:"status"`
	CurrentStepID   *string        `json:"current_step_id,omitempty"`
	FlowContext     map[string]any `json:"flow_context"`
	TotalSteps      int            `json:"total_steps"`
	CompletedSteps  int            `json:"completed_steps"`
	RetryCount      int            `json:"retry_count"`
	MaxRetries      int            `json:"max_retries"`
	LastError       string         `json:"last_error,omitempty"`
	Suggestions     []string       `json:"suggestions,omitempty"`
	Steps           []*Step        `json:"steps"`
	Version         int            `json:"version"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
}

// SortSteps orders the step collection by position.
func (f *Flow) SortSteps() {
	slices.SortFunc(f.Steps, func(a, b *Step) int { return a.Position - b.Position })
}

// StepByID returns the step with the given id, or nil.
func (f *Flow) StepByID(id string) *Step {
	for _, step := range f.Steps {
		if step.ID == id {
			return step
		}
	}

	return nil
}

// StepAt returns the step at the given position, or nil.
func (f *Flow) StepAt(position int) *Step {
	for _, step := range f.Steps {
		if step.Position == position {
			return step
		}
	}

	return nil
}

// NextStep returns the first step by position that has not completed or been skipped.
func (f *Flow) NextStep() *Step {
	f.SortSteps()

	for _, step := range f.Steps {
		if step.Status == StepStatusCompleted || step.Status == StepStatusSkipped {
			continue
		}

		return step
	}

	return nil
}

// ActiveStep returns the step that is running or awaiting input, if any.
func (f *Flow) ActiveStep() *Step {
	for _, step := range f.Steps {
		if step.Status.IsActive() {
			return step
		}
	}

	return nil
}

// RecountSteps recomputes the derived counters from the step collection.
// Conditional steps only move the cursor and are never counted; skipped steps count as advanced.
func (f *Flow) RecountSteps() {
	completed := 0

	for _, step := range f.Steps {
		switch {
		case step.Status == StepStatusSkipped:
			completed++
		case step.Status == StepStatusCompleted && step.Type != StepTypeConditional:
			completed++
		}
	}

	f.TotalSteps = len(f.Steps)
	f.CompletedSteps = completed
}

// ContextSection returns the nested map stored under key in flow_context, creating it when absent.
func (f *Flow) ContextSection(key string) map[string]any {
	if f.FlowContext == nil {
		f.FlowContext = make(map[string]any)
	}

	section, ok := f.FlowContext[key].(map[string]any)
	if !ok {
		section = make(map[string]any)
		f.FlowContext[key] = section
	}

	return section
}

// PriorResults returns the results of completed steps keyed by position.
func (f *Flow) PriorResults() map[int]any {
	results := make(map[int]any)

	for _, step := range f.Steps {
		if step.Status == StepStatusCompleted && step.Result != nil {
			results[step.Position] = step.Result
		}
	}

	return results
}

// UserResponses returns every recorded user response keyed by position.
func (f *Flow) UserResponses() map[int]any {
	responses := make(map[int]any)

	for _, step := range f.Steps {
		if step.UserResponse != nil {
			responses[step.Position] = step.UserResponse
		}
	}

	return responses
}
