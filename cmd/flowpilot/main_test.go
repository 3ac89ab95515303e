package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/dukex/flowpilot/pkg/client"
	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/tracker"
	"github.com/dukex/flowpilot/pkg/web"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfirmAnswer(t *testing.T) {
	options := []models.PromptOption{{Value: "go", Label: "Go ahead"}, {Value: "stop", Label: "Stop"}}

	assert.Equal(t, "go", confirmAnswer(options, true))
	assert.Equal(t, "stop", confirmAnswer(options, false))
	assert.Equal(t, true, confirmAnswer(nil, true))

	assert.Equal(t, "Go ahead", confirmLabel(options, 0, "Yes"))
	assert.Equal(t, "No", confirmLabel(nil, 1, "No"))
}

func TestSelectAnswer(t *testing.T) {
	options := []models.PromptOption{{Value: "t-1", Label: "Landing page"}, {Value: 2.0}}

	answer, err := selectAnswer(options, 1)
	require.NoError(t, err)
	assert.Equal(t, 2.0, answer)

	_, err = selectAnswer(options, 2)
	require.Error(t, err)

	assert.Equal(t, "Landing page", optionLabel(options[0]))
	assert.Equal(t, "2", optionLabel(options[1]))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}

func TestRenderFlows(t *testing.T) {
	var out bytes.Buffer

	renderFlows(&out, []*models.Flow{{ID: "f1", Title: "Ship it", Status: models.FlowStatusCompleted, CompletedSteps: 2, TotalSteps: 2}})

	assert.Contains(t, out.String(), "f1")
	assert.Contains(t, out.String(), "Ship it")
	assert.Contains(t, out.String(), "2/2")
}

type cannedAsker struct {
	answer any
	asked  []string
}

func (a *cannedAsker) Ask(prompt tracker.Prompt) (any, error) {
	a.asked = append(a.asked, prompt.StepID)

	return a.answer, nil
}

// promptServer serves a flow with one confirmation that completes once answered.
func promptServer(t *testing.T) (*httptest.Server, func() any) {
	t.Helper()

	var (
		mu       sync.Mutex
		answered any
	)

	flow := func() *models.Flow {
		step := &models.Step{ID: "s1", Position: 1, Type: models.StepTypeUserPrompt, PromptType: models.PromptTypeConfirm, PromptMessage: "Proceed?"}
		f := &models.Flow{ID: "f1", TotalSteps: 1, Steps: []*models.Step{step}}

		if answered == nil {
			step.Status = models.StepStatusAwaitingUser
			f.Status = models.FlowStatusAwaitingUser
		} else {
			step.Status = models.StepStatusCompleted
			step.UserResponse = answered
			f.Status = models.FlowStatusCompleted
			f.CompletedSteps = 1
		}

		return f
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /flows/f1", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		defer mu.Unlock()

		assert.NoError(t, json.NewEncoder(w).Encode(flow()))
	})
	mux.HandleFunc("POST /flows/f1/steps/s1/respond", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()

		var req web.RespondRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		answered = req.Response
		assert.NoError(t, json.NewEncoder(w).Encode(flow()))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server, func() any {
		mu.Lock()
		defer mu.Unlock()

		return answered
	}
}

func newTestFollower(url string, asker Asker) (*follower, *bytes.Buffer) {
	api := client.New(url)
	out := &bytes.Buffer{}

	return &follower{
		tracker: tracker.New(slog.New(slog.NewTextHandler(io.Discard, nil)), api, api, nil, tracker.Options{
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
		}),
		asker: asker,
		out:   out,
	}, out
}

func TestFollower_AnswersPrompts(t *testing.T) {
	server, answered := promptServer(t)
	asker := &cannedAsker{answer: true}

	f, out := newTestFollower(server.URL, asker)

	state, err := f.Follow(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, models.FlowStatusCompleted, state.Status)
	assert.Equal(t, []string{"s1"}, asker.asked)
	assert.Equal(t, true, answered())
	assert.Contains(t, out.String(), "completed")
}

func TestFollower_StopsAtPromptWithoutAsker(t *testing.T) {
	server, answered := promptServer(t)

	f, out := newTestFollower(server.URL, nil)

	state, err := f.Follow(context.Background(), "f1")
	require.ErrorIs(t, err, errAwaitingUser)
	assert.Equal(t, models.FlowStatusAwaitingUser, state.Status)
	assert.Nil(t, answered())
	assert.Contains(t, out.String(), "Proceed?")
}
