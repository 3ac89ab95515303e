package driver

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandidates(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  int
	}{
		{name: "nil", input: nil, want: 0},
		{name: "typed list", input: []map[string]any{{"id": 1}, {"id": 2}}, want: 2},
		{name: "decoded list skips scalars", input: []any{map[string]any{"id": 1}, "noise"}, want: 1},
		{name: "matches envelope", input: map[string]any{"matches": []any{map[string]any{"id": "a"}}, "count": 1.0}, want: 1},
		{name: "results envelope", input: map[string]any{"results": []any{map[string]any{"id": "a"}, map[string]any{"id": "b"}}}, want: 2},
		{name: "nested data record", input: map[string]any{"data": map[string]any{"id": "a"}}, want: 1},
		{name: "single record", input: map[string]any{"id": "a", "title": "x"}, want: 1},
		{name: "empty envelope", input: map[string]any{"matches": []any{}}, want: 0},
		{name: "scalar", input: "text", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Len(t, Candidates(tt.input), tt.want)
		})
	}
}

func TestHeuristicInterpreter(t *testing.T) {
	interpreter := HeuristicInterpreter{}
	step := &models.Step{Type: models.StepTypeAIDecision}

	none, err := interpreter.Interpret(context.Background(), DecisionRequest{Step: step, Input: map[string]any{"matches": []any{}}})
	require.NoError(t, err)
	assert.Equal(t, DecisionNone, none.Outcome)

	one, err := interpreter.Interpret(context.Background(), DecisionRequest{Step: step, Input: map[string]any{"id": "t-1"}})
	require.NoError(t, err)
	assert.Equal(t, DecisionOne, one.Outcome)
	assert.Equal(t, map[string]any{"id": "t-1"}, one.Entity)

	many, err := interpreter.Interpret(context.Background(), DecisionRequest{
		Step:  step,
		Input: []any{map[string]any{"id": "a"}, map[string]any{"id": "b"}},
	})
	require.NoError(t, err)
	assert.Equal(t, DecisionMany, many.Outcome)
	assert.Len(t, many.Candidates, 2)
}

func TestConditionEvaluator(t *testing.T) {
	evaluator := NewConditionEvaluator()
	scope := ConditionScope{
		Context:   map[string]any{"resolved_entities": map[string]any{"task": map[string]any{"status": "open"}}},
		Steps:     map[int]any{1: map[string]any{"count": 2.0, "matches": []any{"a", "b"}}},
		UserInput: "yes",
	}

	tests := []struct {
		name       string
		expression string
		want       bool
		wantErr    bool
	}{
		{name: "empty is true", expression: "  ", want: true},
		{name: "step result", expression: `steps["1"].result.count > 1`, want: true},
		{name: "array length", expression: `steps["1"].result.matches.length === 3`, want: false},
		{name: "context path", expression: `context.resolved_entities.task.status === "open"`, want: true},
		{name: "user input", expression: `user_input === "yes"`, want: true},
		{name: "truthiness", expression: `steps["2"]`, want: false},
		{name: "syntax error", expression: `steps[`, wantErr: true},
		{name: "reference error", expression: `missing.value`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := evaluator.Evaluate(tt.expression, scope)
			if tt.wantErr {
				assert.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConditionEvaluator_InterruptsRunaway(t *testing.T) {
	evaluator := &ConditionEvaluator{timeout: 50 * time.Millisecond}

	_, err := evaluator.Evaluate("while (true) {}", ConditionScope{})
	assert.Error(t, err)
}

func TestSuggestions(t *testing.T) {
	flow := &models.Flow{FlowContext: map[string]any{
		models.ContextCreatedEntities: map[string]any{
			"comment": []any{map[string]any{"id": "c-1", "label": "Done"}},
		},
		models.ContextUpdatedEntities: map[string]any{
			"task": []any{map[string]any{"id": "t-1"}},
		},
	}}

	assert.Equal(t, []string{
		`Open the new comment "Done"`,
		"Share the new comment with your team",
		"Review the changes to task",
	}, Suggestions(flow))

	assert.Equal(t, []string{"Start another request"}, Suggestions(&models.Flow{}))
}
