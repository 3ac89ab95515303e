package client_test

import (
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
	"github.com/dukex/flowpilot/pkg/persistence"
	"github.com/dukex/flowpilot/pkg/tracker"
	"github.com/dukex/flowpilot/pkg/web"
	"github.com/moogar0880/problems"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI serves one flow that waits for confirmation, then completes once answered.
type fakeAPI struct {
	mu       sync.Mutex
	answered any
	polls    int
}

func (f *fakeAPI) flow() *models.Flow {
	prompt := &models.Step{
		ID:            "s1",
		FlowID:        "f1",
		Position:      1,
		Type:          models.StepTypeUserPrompt,
		Status:        models.StepStatusAwaitingUser,
		PromptType:    models.PromptTypeConfirm,
		PromptMessage: "Proceed?",
	}

	flow := &models.Flow{ID: "f1", UserID: "u1", TotalSteps: 1, Steps: []*models.Step{prompt}}

	switch {
	case f.answered != nil:
		prompt.Status = models.StepStatusCompleted
		prompt.UserResponse = f.answered
		flow.Status = models.FlowStatusCompleted
		flow.CompletedSteps = 1
	case f.polls < 2:
		flow.Status = models.FlowStatusRunning
	default:
		flow.Status = models.FlowStatusAwaitingUser
	}

	return flow
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		assert.NoError(t, json.NewEncoder(w).Encode(v))
	}

	mux.HandleFunc("GET /flows/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		if r.PathValue("id") != "f1" {
			writeJSON(w, http.StatusNotFound, map[string]any{"type": "flow_not_found", "status": 404, "detail": "flow not found"})

			return
		}

		f.polls++
		writeJSON(w, http.StatusOK, f.flow())
	})

	mux.HandleFunc("POST /flows/{id}/steps/{stepId}/respond", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		var req web.RespondRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"type": "validation_error", "status": 400})

			return
		}

		if f.answered != nil {
			writeJSON(w, http.StatusConflict, map[string]any{"type": "conflict", "status": 409, "detail": "step already answered"})

			return
		}

		f.answered = req.Response
		writeJSON(w, http.StatusOK, f.flow())
	})

	mux.HandleFunc("POST /flows", func(w http.ResponseWriter, r *http.Request) {
		var req web.CreateFlowRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Request == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"type": "validation_error", "status": 400, "detail": "request is required"})

			return
		}

		writeJSON(w, http.StatusCreated, &models.Flow{ID: "f2", UserID: req.UserID, OriginalRequest: req.Request, Status: models.FlowStatusPending})
	})

	mux.HandleFunc("GET /users/{userId}/flows", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "completed", r.URL.Query().Get("status"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))

		writeJSON(w, http.StatusOK, web.ListFlowsResponse{
			Flows:      []*models.Flow{{ID: "f1", UserID: r.PathValue("userId"), Status: models.FlowStatusCompleted}},
			TotalCount: 1,
		})
	})

	return mux
}

func newClient(t *testing.T) (*client.Client, *fakeAPI) {
	t.Helper()

	api := &fakeAPI{}
	server := httptest.NewServer(api.handler(t))
	t.Cleanup(server.Close)

	return client.New(server.URL + "/"), api
}

func TestClient_GetFlow(t *testing.T) {
	c, _ := newClient(t)

	flow, err := c.GetFlow(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, "f1", flow.ID)
	require.Len(t, flow.Steps, 1)
	assert.Equal(t, models.StepTypeUserPrompt, flow.Steps[0].Type)
}

func TestClient_NotFoundMapsToSentinel(t *testing.T) {
	c, _ := newClient(t)

	_, err := c.GetFlow(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, persistence.IsFlowNotFound(err))

	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "flow not found", apiErr.Detail)
}

func TestClient_DecodesProblemDocuments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/flows/f1/cancel" {
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream down"))

			return
		}

		problem := problems.NewDetailedProblem(http.StatusConflict, "step s1 is completed").
			WithType("conflict").
			WithInstance(r.URL.Path)

		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusConflict)
		assert.NoError(t, json.NewEncoder(w).Encode(problem))
	}))
	t.Cleanup(server.Close)

	c := client.New(server.URL)

	_, err := c.Respond(context.Background(), "f1", "s1", "yes")

	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "conflict", apiErr.Type)
	assert.Equal(t, "step s1 is completed", apiErr.Detail)
	assert.False(t, persistence.IsFlowNotFound(err))

	_, err = c.Cancel(context.Background(), "f1")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, http.StatusText(http.StatusBadGateway), apiErr.Type)
}

func TestClient_CreateAndList(t *testing.T) {
	c, _ := newClient(t)

	flow, err := c.CreateFlow(context.Background(), web.CreateFlowRequest{Request: "do it", UserID: "u1", TenantID: "acme"})
	require.NoError(t, err)
	assert.Equal(t, "f2", flow.ID)
	assert.Equal(t, "do it", flow.OriginalRequest)

	_, err = c.CreateFlow(context.Background(), web.CreateFlowRequest{UserID: "u1", TenantID: "acme"})

	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "validation_error", apiErr.Type)

	flows, err := c.ListFlows(context.Background(), "u1", "completed", 5)
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, "u1", flows[0].UserID)
}

func TestClient_DrivesTracker(t *testing.T) {
	c, api := newClient(t)

	tr := tracker.New(slog.New(slog.NewTextHandler(io.Discard, nil)), c, c, nil, tracker.Options{
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	})

	state, err := tr.Watch(context.Background(), "f1", nil)
	require.NoError(t, err)
	assert.Equal(t, models.FlowStatusAwaitingUser, state.Status)
	require.NotNil(t, state.PendingPrompt)
	assert.Equal(t, "s1", state.PendingPrompt.StepID)

	state, err = tr.Respond(context.Background(), "f1", "s1", "yes")
	require.NoError(t, err)
	assert.Equal(t, models.FlowStatusCompleted, state.Status)

	// A repeated answer is not resubmitted, so the server never sees the conflict.
	state, err = tr.Respond(context.Background(), "f1", "s1", "yes")
	require.NoError(t, err)
	assert.Equal(t, models.FlowStatusCompleted, state.Status)

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, "yes", api.answered)
}
