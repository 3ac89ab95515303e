package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"charm.land/fantasy"
	"github.com/dukex/flowpilot/pkg/llm"
	"github.com/dukex/flowpilot/pkg/models"
)

// Draft is the plan as generated, before validation.
type Draft struct {
	Title string      `json:"title"`
	Steps []DraftStep `json:"steps"`
}

// DraftStep is one generated step descriptor.
type DraftStep struct {
	Type          models.StepType       `json:"type"`
	Name          string                `json:"name,omitempty"`
	Description   string                `json:"description,omitempty"`
	Capability    string                `json:"capability,omitempty"`
	InputParams   map[string]any        `json:"input_params,omitempty"`
	ParamMappings map[string]string     `json:"param_mappings,omitempty"`
	PromptType    models.PromptType     `json:"prompt_type,omitempty"`
	PromptMessage string                `json:"prompt_message,omitempty"`
	PromptOptions []models.PromptOption `json:"prompt_options,omitempty"`
	Condition     string                `json:"condition,omitempty"`
	OnSuccessGoto *int                  `json:"on_success_goto,omitempty"`
	OnFailGoto    *int                  `json:"on_fail_goto,omitempty"`
}

type GenerationRequest struct {
	Request      string
	Capabilities []*models.Capability
}

// Generator turns a request into a draft plan with a single generation call.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (*Draft, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req GenerationRequest) (*Draft, error)

func (f GeneratorFunc) Generate(ctx context.Context, req GenerationRequest) (*Draft, error) {
	return f(ctx, req)
}

// ParseDraft decodes a generated plan, tolerating code fences and surrounding prose.
func ParseDraft(text string) (*Draft, error) {
	raw, err := llm.ExtractJSON(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnparseable, err)
	}

	var draft Draft

	err = json.Unmarshal([]byte(raw), &draft)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnparseable, err)
	}

	return &draft, nil
}

const systemPrompt = `You plan automations. Turn the user's request into an ordered list of steps that use only the capabilities listed.
Reply with a single JSON object and nothing else:
{"title": "<short title>", "steps": [<step>, ...]}

Each step has a "type":
- "tool_call": invoke a capability. Set "capability" to its slug, literal values in "input_params" and values taken from earlier steps in "param_mappings".
- "ai_decision": decide which record the previous step's output designates. Set "input_params": {"entity_type": "<type>"}; the chosen record becomes context.resolved_entities.<type>.
- "user_prompt": ask the user. Set "prompt_type" (select, confirm or text), "prompt_message" and, for select, "prompt_options" [{"value": ..., "label": ...}].
- "conditional": evaluate the JavaScript expression in "condition" and jump forward to "on_success_goto" or "on_fail_goto" (1-based positions).
- "wait": no operation.

Placeholders in param_mappings are written {{...}}:
- {{steps.<position>.result.<path>}} reads an earlier step's result (only earlier positions).
- {{context.<path>}}, e.g. {{context.resolved_entities.task.id}}.
- {{user_input}} reads the most recent user response.

When a step searches for a record by name, follow it with an ai_decision step so the right record is chosen.`

// BuildPrompt renders the user turn: the request and the capability catalogue.
func BuildPrompt(req GenerationRequest) string {
	var b strings.Builder

	b.WriteString("Capabilities:\n")

	for _, capability := range req.Capabilities {
		fmt.Fprintf(&b, "- %s (%s)", capability.Slug, capability.Type)

		if capability.Description != "" {
			fmt.Fprintf(&b, ": %s", capability.Description)
		}

		b.WriteString("\n")

		if capability.InputSchema == nil {
			continue
		}

		for _, name := range slices.Sorted(maps.Keys(capability.InputSchema.Properties)) {
			property := capability.InputSchema.Properties[name]

			fmt.Fprintf(&b, "    %s: %s", name, property.Type)

			if capability.InputSchema.IsRequired(name) {
				b.WriteString(", required")
			}

			if len(property.Enum) > 0 {
				fmt.Fprintf(&b, ", one of %v", property.Enum)
			}

			if property.Description != "" {
				fmt.Fprintf(&b, " (%s)", property.Description)
			}

			b.WriteString("\n")
		}
	}

	fmt.Fprintf(&b, "\nRequest:\n%s\n", req.Request)

	return b.String()
}

// FantasyGenerator asks a language model for the plan.
type FantasyGenerator struct {
	model fantasy.LanguageModel
}

func NewFantasyGenerator(model fantasy.LanguageModel) *FantasyGenerator {
	return &FantasyGenerator{model: model}
}

func (g *FantasyGenerator) Generate(ctx context.Context, req GenerationRequest) (*Draft, error) {
	text, err := llm.Complete(ctx, g.model, systemPrompt, BuildPrompt(req))
	if err != nil {
		return nil, err
	}

	return ParseDraft(text)
}
