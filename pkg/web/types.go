// Package web provides the HTTP handlers and request types of the flow API.
package web

import "github.com/dukex/flowpilot/pkg/models"

// CreateFlowRequest represents the request body for planning a new flow.
type CreateFlowRequest struct {
	Request        string  `json:"request"                   validate:"required"`
	UserID         string  `json:"user_id"                   validate:"required"`
	TenantID       string  `json:"tenant_id"                 validate:"required"`
	ConversationID *string `json:"conversation_id,omitempty"`
}

// RespondRequest carries a user's answer. Any JSON value is accepted; options can be
// addressed by value, label or 1-based index.
type RespondRequest struct {
	Response any `json:"response"`
}

// InsertStepRequest represents the request body for inserting a step into a flow.
type InsertStepRequest struct {
	Position int          `json:"position" validate:"required,min=1"`
	Step     *StepRequest `json:"step"     validate:"required"`
}

// StepRequest describes a step added by the user. Result and status fields are owned by the driver.
type StepRequest struct {
	Type           string                `json:"step_type"                 validate:"required,oneof=tool_call ai_decision user_prompt conditional wait"`
	Name           string                `json:"name,omitempty"`
	Description    string                `json:"description,omitempty"`
	CapabilitySlug string                `json:"capability_slug,omitempty" validate:"required_if=Type tool_call"`
	InputParams    map[string]any        `json:"input_params,omitempty"`
	ParamMappings  map[string]string     `json:"param_mappings,omitempty"`
	PromptType     string                `json:"prompt_type,omitempty"     validate:"omitempty,oneof=select confirm text"`
	PromptMessage  string                `json:"prompt_message,omitempty"  validate:"required_if=Type user_prompt"`
	PromptOptions  []models.PromptOption `json:"prompt_options,omitempty"`
	Condition      string                `json:"condition,omitempty"       validate:"required_if=Type conditional"`
	OnSuccessGoto  *int                  `json:"on_success_goto,omitempty" validate:"omitempty,min=1"`
	OnFailGoto     *int                  `json:"on_fail_goto,omitempty"    validate:"omitempty,min=1"`
}

// ToModel converts the request into a pending step.
func (r *StepRequest) ToModel() *models.Step {
	return &models.Step{
		Type:           models.StepType(r.Type),
		Name:           r.Name,
		Description:    r.Description,
		CapabilitySlug: r.CapabilitySlug,
		InputParams:    r.InputParams,
		ParamMappings:  r.ParamMappings,
		PromptType:     models.PromptType(r.PromptType),
		PromptMessage:  r.PromptMessage,
		PromptOptions:  r.PromptOptions,
		Condition:      r.Condition,
		OnSuccessGoto:  r.OnSuccessGoto,
		OnFailGoto:     r.OnFailGoto,
	}
}

// ListFlowsResponse wraps a page of a user's flows.
type ListFlowsResponse struct {
	Flows      []*models.Flow `json:"flows"`
	TotalCount int            `json:"total_count"`
}
