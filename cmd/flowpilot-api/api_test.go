package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dukex/flowpilot/pkg/mocks"
	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/persistence/file"
	"github.com/dukex/flowpilot/pkg/registry"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func setupTestApp(t *testing.T) (*fiber.App, *mocks.MockFlowDriver) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	persistence := file.NewPersistence(t.TempDir())

	catalogue := registry.NewCatalogue(logger)
	require.NoError(t, catalogue.Load([]byte("capabilities:\n  - slug: echo\n    name: Echo\n    type: direct\n")))

	require.NoError(t, persistence.FlowRepository().Create(context.Background(), &models.Flow{
		ID:        "f1",
		TenantID:  "acme",
		UserID:    "u1",
		Title:     "Existing flow",
		Status:    models.FlowStatusRunning,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}))

	drv := &mocks.MockFlowDriver{}

	api := NewAPI(logger, persistence, catalogue, &mocks.MockFlowPlanner{}, drv)

	return api.App(), drv
}

func get(t *testing.T, app *fiber.App, path string) (int, string) {
	t.Helper()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(body)
}

func TestAPI_RootEndpoint(t *testing.T) {
	app, _ := setupTestApp(t)

	status, body := get(t, app, "/")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Flowpilot API", body)
}

func TestAPI_Probes(t *testing.T) {
	app, _ := setupTestApp(t)

	for _, path := range []string{"/livez", "/readyz"} {
		status, _ := get(t, app, path)
		assert.Equal(t, http.StatusOK, status, path)
	}
}

func TestAPI_RoutesReachServices(t *testing.T) {
	app, _ := setupTestApp(t)

	status, body := get(t, app, "/flows/f1")
	require.Equal(t, http.StatusOK, status)

	var flow models.Flow
	require.NoError(t, json.Unmarshal([]byte(body), &flow))
	assert.Equal(t, "Existing flow", flow.Title)

	status, body = get(t, app, "/capabilities")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"echo"`)

	status, _ = get(t, app, "/flows/unknown")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPI_CancelDelegatesToDriver(t *testing.T) {
	app, drv := setupTestApp(t)

	drv.On("Cancel", mock.Anything, "f1").
		Return(&models.Flow{ID: "f1", Status: models.FlowStatusCancelled}, nil).Once()

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/flows/f1/cancel", strings.NewReader("")))
	require.NoError(t, err)

	defer func() {
		_ = resp.Body.Close()
	}()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	drv.AssertExpectations(t)
}
