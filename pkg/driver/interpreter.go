package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"charm.land/fantasy"
	"github.com/dukex/flowpilot/pkg/llm"
	"github.com/dukex/flowpilot/pkg/models"
)

// DecisionOutcome classifies how many entities a previous step's output designates.
type DecisionOutcome string

const (
	DecisionNone DecisionOutcome = "none"
	DecisionOne  DecisionOutcome = "one"
	DecisionMany DecisionOutcome = "many"
)

type DecisionRequest struct {
	Step       *models.Step
	Input      any
	EntityType string
}

type Decision struct {
	Outcome    DecisionOutcome  `json:"outcome"`
	Entity     any              `json:"entity,omitempty"`
	Candidates []map[string]any `json:"candidates,omitempty"`
	Reason     string           `json:"reason,omitempty"`
}

// Interpreter classifies an ai_decision step's input.
type Interpreter interface {
	Interpret(ctx context.Context, req DecisionRequest) (Decision, error)
}

// listKeys are the envelope keys searched for a candidate list, in order.
var listKeys = []string{"matches", "results", "items", "data", "list"}

// HeuristicInterpreter counts candidate records without calling a model.
type HeuristicInterpreter struct{}

func (HeuristicInterpreter) Interpret(_ context.Context, req DecisionRequest) (Decision, error) {
	candidates := Candidates(req.Input)

	switch len(candidates) {
	case 0:
		return Decision{Outcome: DecisionNone, Reason: "no candidates in input"}, nil
	case 1:
		return Decision{Outcome: DecisionOne, Entity: candidates[0], Candidates: candidates}, nil
	default:
		return Decision{Outcome: DecisionMany, Candidates: candidates, Reason: fmt.Sprintf("%d candidates", len(candidates))}, nil
	}
}

// Candidates extracts candidate records from a step output: a list, a list under one of the
// usual envelope keys, or a single record with an id.
func Candidates(input any) []map[string]any {
	switch v := input.(type) {
	case nil:
		return nil
	case []map[string]any:
		return v
	case []any:
		out := make([]map[string]any, 0, len(v))

		for _, item := range v {
			if record, ok := item.(map[string]any); ok {
				out = append(out, record)
			}
		}

		return out
	case map[string]any:
		for _, key := range listKeys {
			nested, ok := v[key]
			if !ok {
				continue
			}

			switch nested.(type) {
			case []any, []map[string]any:
				return Candidates(nested)
			case map[string]any:
				return Candidates(nested)
			}
		}

		if _, ok := v["id"]; ok {
			return []map[string]any{v}
		}
	}

	return nil
}

const decisionSystemPrompt = `You classify the output of a previous automation step.
Decide whether it designates no record, exactly one record, or several records of the requested entity type.
Reply with a single JSON object: {"outcome": "none"|"one"|"many", "entity": <the single record when outcome is one>, "candidates": [<records when outcome is many>], "reason": "<short explanation>"}.
Do not add any other text.`

// FantasyInterpreter asks a language model to classify the input.
type FantasyInterpreter struct {
	model fantasy.LanguageModel
}

func NewFantasyInterpreter(model fantasy.LanguageModel) *FantasyInterpreter {
	return &FantasyInterpreter{model: model}
}

func (i *FantasyInterpreter) Interpret(ctx context.Context, req DecisionRequest) (Decision, error) {
	input, err := json.Marshal(req.Input)
	if err != nil {
		return Decision{}, fmt.Errorf("encode decision input: %w", err)
	}

	var prompt strings.Builder

	fmt.Fprintf(&prompt, "Entity type: %s\n", req.EntityType)

	if req.Step.Description != "" {
		fmt.Fprintf(&prompt, "Step goal: %s\n", req.Step.Description)
	}

	fmt.Fprintf(&prompt, "Previous step output:\n%s\n", input)

	text, err := llm.Complete(ctx, i.model, decisionSystemPrompt, prompt.String())
	if err != nil {
		return Decision{}, err
	}

	raw, err := llm.ExtractJSON(text)
	if err != nil {
		return Decision{}, err
	}

	var decision Decision

	err = json.Unmarshal([]byte(raw), &decision)
	if err != nil {
		return Decision{}, fmt.Errorf("decode decision: %w", err)
	}

	switch decision.Outcome {
	case DecisionOne:
		if decision.Entity == nil && len(decision.Candidates) == 1 {
			decision.Entity = decision.Candidates[0]
		}
	case DecisionMany, DecisionNone:
	default:
		return Decision{}, fmt.Errorf("unknown decision outcome %q", decision.Outcome)
	}

	return decision, nil
}
