package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dukex/flowpilot/pkg/tracker"
)

var errAwaitingUser = errors.New("flow is waiting for an answer")

// follower watches a flow and answers its prompts until the flow is terminal.
type follower struct {
	tracker *tracker.Tracker
	asker   Asker
	out     io.Writer
}

// Follow returns the terminal state. With a nil asker it stops at the first prompt
// and returns errAwaitingUser with the state.
func (f *follower) Follow(ctx context.Context, flowID string) (tracker.State, error) {
	for {
		state, err := f.tracker.Watch(ctx, flowID, func(state tracker.State) {
			renderState(f.out, state)
		})
		if err != nil {
			return state, err
		}

		if state.Status.IsTerminal() {
			return state, nil
		}

		if state.PendingPrompt == nil {
			return state, fmt.Errorf("flow %s is %s without a pending prompt", flowID, state.Status)
		}

		if f.asker == nil {
			_, _ = fmt.Fprintf(f.out, "%s %s (step %s)\n",
				warnStyle.Render("?"), state.PendingPrompt.Message, state.PendingPrompt.StepID)

			return state, errAwaitingUser
		}

		answer, err := f.asker.Ask(*state.PendingPrompt)
		if err != nil {
			return state, fmt.Errorf("failed to read answer: %w", err)
		}

		_, err = f.tracker.Respond(ctx, flowID, state.PendingPrompt.StepID, answer)
		if err != nil {
			return state, err
		}
	}
}
