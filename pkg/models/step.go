package models

import "time"

// StepType identifies how the driver executes a step.
type StepType string

const (
	StepTypeToolCall    StepType = "tool_call"
	StepTypeAIDecision  StepType = "ai_decision"
	StepTypeUserPrompt  StepType = "user_prompt"
	StepTypeConditional StepType = "conditional"
	StepTypeParallel    StepType = "parallel" // reserved
	StepTypeWait        StepType = "wait"
)

// Valid reports whether t is a known step type.
func (t StepType) Valid() bool {
	switch t {
	case StepTypeToolCall, StepTypeAIDecision, StepTypeUserPrompt, StepTypeConditional, StepTypeParallel, StepTypeWait:
		return true
	}

	return false
}

// StepStatus represents the execution state of a single step.
type StepStatus string

const (
	StepStatusPending      StepStatus = "pending"
	StepStatusRunning      StepStatus = "running"
	StepStatusCompleted    StepStatus = "completed"
	StepStatusFailed       StepStatus = "failed"
	StepStatusSkipped      StepStatus = "skipped"
	StepStatusAwaitingUser StepStatus = "awaiting_user"
	StepStatusCancelled    StepStatus = "cancelled"
)

// IsActive reports whether the step occupies the flow's single active slot.
func (s StepStatus) IsActive() bool {
	return s == StepStatusRunning || s == StepStatusAwaitingUser
}

// PromptType describes the kind of input a prompt collects.
type PromptType string

const (
	PromptTypeSelect  PromptType = "select"
	PromptTypeConfirm PromptType = "confirm"
	PromptTypeText    PromptType = "text"
)

// PromptOption is one choice offered to the user.
type PromptOption struct {
	Value any            `json:"value"`
	Label string         `json:"label"`
	Data  map[string]any `json:"data,omitempty"`
}

// Step is one unit of work within a flow.
type Step struct {
	ID             string            `json:"id"`
	FlowID         string            `json:"flow_id"`
	Position       int               `json:"position"`
	Type           StepType          `json:"step_type"`
	Name           string            `json:"name,omitempty"`
	Description    string            `json:"description,omitempty"`
	CapabilitySlug string            `json:"capability_slug,omitempty"`
	InputParams    map[string]any    `json:"input_params,omitempty"`
	ParamMappings  map[string]string `json:"param_mappings,omitempty"`
	Status         StepStatus        `json:"status"`
	Result         any               `json:"result,omitempty"`
	ErrorMessage   string            `json:"error_message,omitempty"`

	PromptType    PromptType     `json:"prompt_type,omitempty"`
	PromptMessage string         `json:"prompt_message,omitempty"`
	PromptOptions []PromptOption `json:"prompt_options,omitempty"`
	UserResponse  any            `json:"user_response,omitempty"`
	EscalatedFrom *string        `json:"escalated_from,omitempty"`

	Condition     string `json:"condition,omitempty"`
	OnSuccessGoto *int   `json:"on_success_goto,omitempty"`
	OnFailGoto    *int   `json:"on_fail_goto,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// SelectOption matches a user response against the step's prompt options.
// A response may be an option value, a label, or a 1-based index; unmatched responses yield nil.
func (s *Step) SelectOption(response any) *PromptOption {
	for i := range s.PromptOptions {
		if sameValue(s.PromptOptions[i].Value, response) {
			return &s.PromptOptions[i]
		}
	}

	if label, ok := response.(string); ok {
		for i := range s.PromptOptions {
			if equalFold(s.PromptOptions[i].Label, label) {
				return &s.PromptOptions[i]
			}
		}
	}

	if index, ok := toIndex(response); ok && index >= 1 && index <= len(s.PromptOptions) {
		return &s.PromptOptions[index-1]
	}

	return nil
}

// Selection returns the value a user response designates: the option data when the
// response matches an option, the raw response otherwise.
func (s *Step) Selection(response any) any {
	option := s.SelectOption(response)
	if option == nil {
		return response
	}

	if option.Data != nil {
		return option.Data
	}

	return option.Value
}
