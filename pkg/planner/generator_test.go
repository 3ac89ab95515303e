package planner

import (
	"testing"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDraft(t *testing.T) {
	draft, err := ParseDraft("Here is the plan:\n```json\n{\"title\": \"T\", \"steps\": [{\"type\": \"wait\"}]}\n```")
	require.NoError(t, err)
	assert.Equal(t, "T", draft.Title)
	require.Len(t, draft.Steps, 1)
	assert.Equal(t, models.StepTypeWait, draft.Steps[0].Type)

	_, err = ParseDraft(`{"steps": "not a list"}`)
	require.ErrorIs(t, err, ErrUnparseable)

	_, err = ParseDraft("no json here")
	require.ErrorIs(t, err, ErrUnparseable)
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt(GenerationRequest{
		Request: "close the landing page task",
		Capabilities: []*models.Capability{{
			Slug:        "update_task",
			Type:        models.CapabilityTypeDirect,
			Description: "Change a task",
			InputSchema: &models.JSONSchema{
				Required: []string{"task_id"},
				Properties: map[string]*models.Property{
					"task_id": {Type: "string"},
					"status":  {Type: "string", Enum: []any{"open", "complete"}},
				},
			},
		}},
	})

	assert.Contains(t, prompt, "- update_task (direct): Change a task")
	assert.Contains(t, prompt, "task_id: string, required")
	assert.Contains(t, prompt, "status: string, one of [open complete]")
	assert.Contains(t, prompt, "close the landing page task")
}
