package tracker

import "github.com/dukex/flowpilot/pkg/models"

// Progress counts the flow's advanced steps.
type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// Percent returns completion as 0..100.
func (p Progress) Percent() int {
	if p.Total == 0 {
		return 0
	}

	return p.Completed * 100 / p.Total
}

// Prompt is what the user is asked to answer.
type Prompt struct {
	StepID  string                `json:"step_id"`
	Type    models.PromptType     `json:"type"`
	Message string                `json:"message"`
	Options []models.PromptOption `json:"options,omitempty"`
}

// State is the client-side view of a flow.
type State struct {
	FlowID        string            `json:"flow_id"`
	Status        models.FlowStatus `json:"status"`
	Progress      Progress          `json:"progress"`
	PendingPrompt *Prompt           `json:"pending_prompt,omitempty"`
	LastError     string            `json:"last_error,omitempty"`
	Suggestions   []string          `json:"suggestions,omitempty"`
}

// Settled reports whether the flow will not move without the user.
func (s State) Settled() bool {
	return s.Status.IsTerminal() || s.Status == models.FlowStatusAwaitingUser
}

func (s State) changedFrom(other State) bool {
	return s.Status != other.Status ||
		s.Progress != other.Progress ||
		s.promptStep() != other.promptStep()
}

func (s State) promptStep() string {
	if s.PendingPrompt == nil {
		return ""
	}

	return s.PendingPrompt.StepID
}

// Materialize derives the client state from a flow.
func Materialize(flow *models.Flow) State {
	state := State{
		FlowID:      flow.ID,
		Status:      flow.Status,
		Progress:    Progress{Completed: flow.CompletedSteps, Total: flow.TotalSteps},
		LastError:   flow.LastError,
		Suggestions: flow.Suggestions,
	}

	if flow.Status != models.FlowStatusAwaitingUser {
		return state
	}

	for _, step := range flow.Steps {
		if step.Status == models.StepStatusAwaitingUser && step.UserResponse == nil {
			state.PendingPrompt = &Prompt{
				StepID:  step.ID,
				Type:    step.PromptType,
				Message: step.PromptMessage,
				Options: step.PromptOptions,
			}

			break
		}
	}

	return state
}
