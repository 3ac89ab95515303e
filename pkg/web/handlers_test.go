package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukex/flowpilot/pkg/driver"
	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/persistence/file"
	"github.com/dukex/flowpilot/pkg/planner"
	"github.com/dukex/flowpilot/pkg/queue"
	"github.com/dukex/flowpilot/pkg/registry"
	"github.com/dukex/flowpilot/pkg/router"
	"github.com/dukex/flowpilot/pkg/router/direct"
	"github.com/dukex/flowpilot/pkg/services"
	"github.com/dukex/flowpilot/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const catalogueYAML = `
capabilities:
  - slug: echo
    name: Echo
    description: Returns its parameters
    type: direct
`

type testServer struct {
	app    *fiber.App
	queue  *queue.MemoryQueue
	driver *driver.Driver
}

// confirmThenEcho plans a confirmation prompt followed by a call that reads the answer.
func confirmThenEcho(context.Context, planner.GenerationRequest) (*planner.Draft, error) {
	return &planner.Draft{
		Title: "Confirm and echo",
		Steps: []planner.DraftStep{
			{
				Type:          models.StepTypeUserPrompt,
				Name:          "Confirm",
				PromptType:    models.PromptTypeConfirm,
				PromptMessage: "Proceed?",
				PromptOptions: []models.PromptOption{{Value: "yes", Label: "Yes"}, {Value: "no", Label: "No"}},
			},
			{
				Type:          models.StepTypeToolCall,
				Name:          "Echo answer",
				Capability:    "echo",
				ParamMappings: map[string]string{"answer": "{{user_input}}"},
			},
		},
	}, nil
}

func setupTestServer(t *testing.T, generator planner.Generator) *testServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := file.NewPersistence(t.TempDir())

	catalogue := registry.NewCatalogue(logger)
	require.NoError(t, catalogue.Load([]byte(catalogueYAML)))

	handlers := direct.NewHandlers(logger)
	require.NoError(t, handlers.Register("echo", direct.Echo))

	q := queue.NewMemoryQueue(0)

	d := driver.New(driver.Dependencies{
		Logger:      logger,
		Persistence: p,
		Registry:    catalogue,
		Router:      router.New(logger, catalogue, handlers),
		Queue:       q,
	})

	plan := planner.New(planner.Dependencies{
		Logger:      logger,
		Persistence: p,
		Registry:    catalogue,
		Generator:   generator,
		Queue:       q,
	})

	api := web.NewAPIHandlers(
		services.NewFlow(logger, p, plan, d),
		services.NewCapability(catalogue),
		validator.New(validator.WithRequiredStructEnabled()),
	)

	app := fiber.New()
	api.Register(app)

	return &testServer{app: app, queue: q, driver: d}
}

// drain runs every scheduled tick, as a worker would.
func (s *testServer) drain(t *testing.T) {
	t.Helper()

	for range 50 {
		task, ok := s.queue.TryDequeue()
		if !ok {
			return
		}

		_, err := s.driver.Tick(context.Background(), task.FlowID)
		require.NoError(t, err)
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader

	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		encoded, err := json.Marshal(b)
		require.NoError(t, err)

		reader = bytes.NewBuffer(encoded)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, payload
}

func (s *testServer) createFlow(t *testing.T) *models.Flow {
	t.Helper()

	status, body := s.do(t, http.MethodPost, "/flows", web.CreateFlowRequest{
		Request:  "Ask me before echoing",
		UserID:   "u1",
		TenantID: "acme",
	})
	require.Equal(t, http.StatusCreated, status, string(body))

	var flow models.Flow
	require.NoError(t, json.Unmarshal(body, &flow))

	return &flow
}

func decodeFlow(t *testing.T, body []byte) *models.Flow {
	t.Helper()

	var flow models.Flow
	require.NoError(t, json.Unmarshal(body, &flow))

	return &flow
}

func problemType(t *testing.T, body []byte) string {
	t.Helper()

	var problem map[string]any
	require.NoError(t, json.Unmarshal(body, &problem))

	kind, _ := problem["type"].(string)

	return kind
}

func TestAPIHandlers_CreateFlow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
	}{
		{
			name:           "planned",
			requestBody:    web.CreateFlowRequest{Request: "Ask me", UserID: "u1", TenantID: "acme"},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "validation error - missing request",
			requestBody:    web.CreateFlowRequest{UserID: "u1", TenantID: "acme"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "validation error - missing tenant",
			requestBody:    web.CreateFlowRequest{Request: "Ask me", UserID: "u1"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid JSON",
			requestBody:    "invalid-json",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := setupTestServer(t, planner.GeneratorFunc(confirmThenEcho))

			status, body := server.do(t, http.MethodPost, "/flows", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, status, string(body))

			if status == http.StatusCreated {
				flow := decodeFlow(t, body)
				assert.Equal(t, models.FlowStatusPending, flow.Status)
				assert.Equal(t, 2, flow.TotalSteps)
				assert.Equal(t, 1, server.queue.Len())
			}
		})
	}
}

func TestAPIHandlers_CreateFlowPlanningFailure(t *testing.T) {
	t.Parallel()

	server := setupTestServer(t, planner.GeneratorFunc(func(context.Context, planner.GenerationRequest) (*planner.Draft, error) {
		return nil, errors.New("model unavailable")
	}))

	status, body := server.do(t, http.MethodPost, "/flows", web.CreateFlowRequest{Request: "x", UserID: "u1", TenantID: "acme"})
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "planning_failed", problemType(t, body))
	assert.Equal(t, 0, server.queue.Len())
}

func TestAPIHandlers_PromptRoundTrip(t *testing.T) {
	t.Parallel()

	server := setupTestServer(t, planner.GeneratorFunc(confirmThenEcho))
	created := server.createFlow(t)
	server.drain(t)

	status, body := server.do(t, http.MethodGet, "/flows/"+created.ID+"/state", nil)
	require.Equal(t, http.StatusOK, status)

	var state map[string]any
	require.NoError(t, json.Unmarshal(body, &state))
	assert.Equal(t, string(models.FlowStatusAwaitingUser), state["status"])
	assert.Equal(t, true, state["settled"])

	prompt, ok := state["pending_prompt"].(map[string]any)
	require.True(t, ok, "expected a pending prompt, got %v", state["pending_prompt"])

	stepID, _ := prompt["step_id"].(string)
	require.NotEmpty(t, stepID)

	status, body = server.do(t, http.MethodPost, "/flows/"+created.ID+"/steps/"+stepID+"/respond", web.RespondRequest{Response: "yes"})
	require.Equal(t, http.StatusOK, status, string(body))

	server.drain(t)

	status, body = server.do(t, http.MethodGet, "/flows/"+created.ID, nil)
	require.Equal(t, http.StatusOK, status)

	flow := decodeFlow(t, body)
	assert.Equal(t, models.FlowStatusCompleted, flow.Status)
	assert.Equal(t, 2, flow.CompletedSteps)
	assert.Equal(t, "yes", flow.Steps[1].Result.(map[string]any)["answer"])

	// Responding again is accepted without changing anything.
	status, _ = server.do(t, http.MethodPost, "/flows/"+created.ID+"/steps/"+stepID+"/respond", web.RespondRequest{Response: "No"})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 0, server.queue.Len())

	status, body = server.do(t, http.MethodGet, "/flows/"+created.ID+"/logs", nil)
	require.Equal(t, http.StatusOK, status)

	var logs struct {
		Logs []*models.LogEntry `json:"logs"`
	}
	require.NoError(t, json.Unmarshal(body, &logs))
	require.NotEmpty(t, logs.Logs)
	assert.Equal(t, models.LogFlowCreated, logs.Logs[0].LogType)
}

func TestAPIHandlers_RespondErrors(t *testing.T) {
	t.Parallel()

	server := setupTestServer(t, planner.GeneratorFunc(confirmThenEcho))
	created := server.createFlow(t)

	status, body := server.do(t, http.MethodPost, "/flows/"+created.ID+"/steps/"+created.Steps[0].ID+"/respond", web.RespondRequest{Response: "yes"})
	assert.Equal(t, http.StatusConflict, status, "prompt has not been reached yet")
	assert.Equal(t, "conflict", problemType(t, body))

	status, body = server.do(t, http.MethodPost, "/flows/"+created.ID+"/steps/missing/respond", web.RespondRequest{Response: "yes"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "step_not_found", problemType(t, body))

	status, _ = server.do(t, http.MethodPost, "/flows/"+created.ID+"/steps/"+created.Steps[0].ID+"/respond", web.RespondRequest{})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = server.do(t, http.MethodGet, "/flows/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "flow_not_found", problemType(t, body))
}

func TestAPIHandlers_Lifecycle(t *testing.T) {
	t.Parallel()

	server := setupTestServer(t, planner.GeneratorFunc(confirmThenEcho))
	created := server.createFlow(t)
	server.drain(t)

	status, body := server.do(t, http.MethodPost, "/flows/"+created.ID+"/pause", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, models.FlowStatusPaused, decodeFlow(t, body).Status)

	status, body = server.do(t, http.MethodPost, "/flows/"+created.ID+"/resume", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, models.FlowStatusAwaitingUser, decodeFlow(t, body).Status)

	status, body = server.do(t, http.MethodPost, "/flows/"+created.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, models.FlowStatusCancelled, decodeFlow(t, body).Status)

	status, body = server.do(t, http.MethodPost, "/flows/"+created.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, models.FlowStatusCancelled, decodeFlow(t, body).Status)

	status, _ = server.do(t, http.MethodPost, "/flows/"+created.ID+"/retry", nil)
	assert.Equal(t, http.StatusConflict, status)
}

func TestAPIHandlers_InsertAndDeleteStep(t *testing.T) {
	t.Parallel()

	server := setupTestServer(t, planner.GeneratorFunc(confirmThenEcho))
	created := server.createFlow(t)

	status, body := server.do(t, http.MethodPost, "/flows/"+created.ID+"/steps", web.InsertStepRequest{
		Position: 3,
		Step: &web.StepRequest{
			Type:           string(models.StepTypeToolCall),
			Name:           "Echo again",
			CapabilitySlug: "echo",
			ParamMappings:  map[string]string{"previous": "{{steps.2.result.answer}}"},
		},
	})
	require.Equal(t, http.StatusCreated, status, string(body))

	flow := decodeFlow(t, body)
	require.Len(t, flow.Steps, 3)
	inserted := flow.Steps[2]
	assert.Equal(t, "Echo again", inserted.Name)

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{name: "missing step", body: map[string]any{"position": 1}, status: http.StatusBadRequest},
		{name: "tool call without capability", body: web.InsertStepRequest{Position: 1, Step: &web.StepRequest{Type: "tool_call"}}, status: http.StatusBadRequest},
		{name: "reserved type", body: web.InsertStepRequest{Position: 1, Step: &web.StepRequest{Type: "parallel"}}, status: http.StatusBadRequest},
		{
			name:   "position out of range",
			body:   web.InsertStepRequest{Position: 9, Step: &web.StepRequest{Type: "wait"}},
			status: http.StatusBadRequest,
		},
		{
			name: "forward reference",
			body: web.InsertStepRequest{Position: 1, Step: &web.StepRequest{
				Type: "tool_call", CapabilitySlug: "echo", ParamMappings: map[string]string{"x": "{{steps.2.result}}"},
			}},
			status: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		status, body := server.do(t, http.MethodPost, "/flows/"+created.ID+"/steps", tt.body)
		assert.Equal(t, tt.status, status, "%s: %s", tt.name, string(body))
	}

	status, body = server.do(t, http.MethodDelete, "/flows/"+created.ID+"/steps/"+created.Steps[1].ID, nil)
	assert.Equal(t, http.StatusConflict, status, "step 3 reads step 2: %s", string(body))

	status, body = server.do(t, http.MethodDelete, "/flows/"+created.ID+"/steps/"+inserted.ID, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Len(t, decodeFlow(t, body).Steps, 2)
}

func TestAPIHandlers_ListUserFlows(t *testing.T) {
	t.Parallel()

	server := setupTestServer(t, planner.GeneratorFunc(confirmThenEcho))
	server.createFlow(t)
	server.createFlow(t)

	status, body := server.do(t, http.MethodGet, "/users/u1/flows?tenant_id=acme", nil)
	require.Equal(t, http.StatusOK, status)

	var list web.ListFlowsResponse
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Equal(t, 2, list.TotalCount)

	status, body = server.do(t, http.MethodGet, "/users/u1/flows?tenant_id=other", nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Equal(t, 0, list.TotalCount)

	status, _ = server.do(t, http.MethodGet, "/users/u1/flows?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = server.do(t, http.MethodGet, "/users/u1/flows?status=sleeping", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPIHandlers_Capabilities(t *testing.T) {
	t.Parallel()

	server := setupTestServer(t, planner.GeneratorFunc(confirmThenEcho))

	status, body := server.do(t, http.MethodGet, "/capabilities", nil)
	require.Equal(t, http.StatusOK, status)

	var list struct {
		Capabilities []*models.Capability `json:"capabilities"`
		TotalCount   int                  `json:"total_count"`
	}
	require.NoError(t, json.Unmarshal(body, &list))
	require.Equal(t, 1, list.TotalCount)
	assert.Equal(t, "echo", list.Capabilities[0].Slug)

	status, body = server.do(t, http.MethodGet, "/capabilities/echo", nil)
	require.Equal(t, http.StatusOK, status)

	var capability models.Capability
	require.NoError(t, json.Unmarshal(body, &capability))
	assert.Equal(t, models.CapabilityTypeDirect, capability.Type)

	status, body = server.do(t, http.MethodGet, "/capabilities/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "capability_not_found", problemType(t, body))
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	t.Parallel()

	server := setupTestServer(t, planner.GeneratorFunc(confirmThenEcho))

	status, body := server.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, status)

	var health map[string]any
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "healthy", health["status"])
}
