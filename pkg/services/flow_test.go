package services_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/flowpilot/pkg/driver"
	"github.com/dukex/flowpilot/pkg/mocks"
	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/persistence"
	"github.com/dukex/flowpilot/pkg/persistence/file"
	"github.com/dukex/flowpilot/pkg/planner"
	"github.com/dukex/flowpilot/pkg/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	service     *services.Flow
	persistence persistence.Persistence
	planner     *mocks.MockFlowPlanner
	driver      *mocks.MockFlowDriver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	p := file.NewPersistence(t.TempDir())
	plan := &mocks.MockFlowPlanner{}
	drv := &mocks.MockFlowDriver{}

	t.Cleanup(func() {
		plan.AssertExpectations(t)
		drv.AssertExpectations(t)
	})

	return &fixture{
		service:     services.NewFlow(discard(), p, plan, drv),
		persistence: p,
		planner:     plan,
		driver:      drv,
	}
}

func (f *fixture) store(t *testing.T, id, userID string, status models.FlowStatus) *models.Flow {
	t.Helper()

	flow := &models.Flow{
		ID:          id,
		TenantID:    "acme",
		UserID:      userID,
		Title:       "Flow " + id,
		Status:      status,
		FlowContext: map[string]any{},
		Steps: []*models.Step{
			{ID: id + "-2", FlowID: id, Position: 2, Type: models.StepTypeToolCall, Status: models.StepStatusPending},
			{ID: id + "-1", FlowID: id, Position: 1, Type: models.StepTypeToolCall, Status: models.StepStatusCompleted},
		},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, f.persistence.FlowRepository().Create(context.Background(), flow))

	return flow
}

func TestFlow_Create(t *testing.T) {
	f := newFixture(t)

	req := planner.PlanRequest{Request: "Find the landing page task", UserID: "u1", TenantID: "acme"}
	f.planner.On("Plan", mock.Anything, req).Return(&models.Flow{ID: "f1", TotalSteps: 4}, nil).Once()

	flow, err := f.service.Create(context.Background(), services.CreateFlowRequest{
		Request:  "Find the landing page task",
		UserID:   "u1",
		TenantID: "acme",
	})
	require.NoError(t, err)
	assert.Equal(t, "f1", flow.ID)
}

func TestFlow_CreateValidation(t *testing.T) {
	tests := []struct {
		name    string
		req     services.CreateFlowRequest
		wantErr error
	}{
		{name: "empty request", req: services.CreateFlowRequest{Request: "  ", UserID: "u", TenantID: "t"}, wantErr: planner.ErrEmptyRequest},
		{name: "missing user", req: services.CreateFlowRequest{Request: "x", TenantID: "t"}, wantErr: services.ErrUserIDRequired},
		{name: "missing tenant", req: services.CreateFlowRequest{Request: "x", UserID: "u"}, wantErr: services.ErrTenantIDRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			_, err := f.service.Create(context.Background(), tt.req)
			require.ErrorIs(t, err, tt.wantErr)
			assert.True(t, services.IsValidationError(err))
		})
	}
}

func TestFlow_CreatePlanningFailure(t *testing.T) {
	f := newFixture(t)

	f.planner.On("Plan", mock.Anything, mock.Anything).
		Return(nil, &planner.PlanningError{Stage: planner.StageGenerate, Err: errors.New("model offline")}).Once()

	_, err := f.service.Create(context.Background(), services.CreateFlowRequest{Request: "x", UserID: "u", TenantID: "t"})
	require.Error(t, err)
	assert.True(t, services.IsUpstreamError(err))
	assert.True(t, planner.IsPlanningError(err))
}

func TestFlow_FetchByIDOrdersSteps(t *testing.T) {
	f := newFixture(t)
	f.store(t, "f1", "u1", models.FlowStatusRunning)

	flow, err := f.service.FetchByID(context.Background(), "f1")
	require.NoError(t, err)
	require.Len(t, flow.Steps, 2)
	assert.Equal(t, 1, flow.Steps[0].Position)
	assert.Equal(t, 2, flow.Steps[1].Position)

	_, err = f.service.FetchByID(context.Background(), "missing")
	assert.True(t, services.IsNotFoundError(err))

	_, err = f.service.FetchByID(context.Background(), "")
	assert.ErrorIs(t, err, services.ErrFlowIDRequired)
}

func TestFlow_State(t *testing.T) {
	f := newFixture(t)
	f.store(t, "f1", "u1", models.FlowStatusRunning)

	state, err := f.service.State(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, "f1", state.FlowID)
	assert.Equal(t, models.FlowStatusRunning, state.Status)
	assert.False(t, state.Settled())
}

func TestFlow_Logs(t *testing.T) {
	f := newFixture(t)
	f.store(t, "f1", "u1", models.FlowStatusRunning)

	logs := f.persistence.LogRepository()
	require.NoError(t, logs.Append(context.Background(), &models.LogEntry{ID: "l1", FlowID: "f1", LogType: models.LogFlowCreated, ActorType: models.ActorAI}))
	require.NoError(t, logs.Append(context.Background(), &models.LogEntry{ID: "l2", FlowID: "f1", LogType: models.LogFlowStarted, ActorType: models.ActorSystem}))

	entries, err := f.service.Logs(context.Background(), "f1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.LogFlowCreated, entries[0].LogType)

	_, err = f.service.Logs(context.Background(), "missing")
	assert.True(t, services.IsNotFoundError(err))
}

func TestFlow_ListByUser(t *testing.T) {
	f := newFixture(t)
	f.store(t, "f1", "u1", models.FlowStatusRunning)
	f.store(t, "f2", "u1", models.FlowStatusCompleted)
	f.store(t, "f3", "u2", models.FlowStatusRunning)

	flows, err := f.service.ListByUser(context.Background(), services.ListFlowsRequest{UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, flows, 2)

	flows, err = f.service.ListByUser(context.Background(), services.ListFlowsRequest{UserID: "u1", Status: "completed"})
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, "f2", flows[0].ID)

	_, err = f.service.ListByUser(context.Background(), services.ListFlowsRequest{UserID: "u1", Status: "sleeping"})
	assert.ErrorIs(t, err, services.ErrInvalidFlowStatus)

	_, err = f.service.ListByUser(context.Background(), services.ListFlowsRequest{UserID: "u1", Limit: 500})
	assert.True(t, services.IsValidationError(err))

	_, err = f.service.ListByUser(context.Background(), services.ListFlowsRequest{})
	assert.ErrorIs(t, err, services.ErrUserIDRequired)
}

func TestFlow_MutationsDelegateToDriver(t *testing.T) {
	f := newFixture(t)
	updated := &models.Flow{
		ID: "f1",
		Steps: []*models.Step{
			{ID: "b", Position: 2},
			{ID: "a", Position: 1},
		},
	}

	f.driver.On("Respond", mock.Anything, "f1", "s1", "yes").Return(updated, nil).Once()
	f.driver.On("Cancel", mock.Anything, "f1").Return(updated, nil).Once()
	f.driver.On("Retry", mock.Anything, "f1").Return(nil, driver.ErrInvalidTransition).Once()
	f.driver.On("Pause", mock.Anything, "f1").Return(updated, nil).Once()
	f.driver.On("Resume", mock.Anything, "f1").Return(updated, nil).Once()
	f.driver.On("DeleteStep", mock.Anything, "f1", "s3").Return(nil, driver.ErrStepReferenced).Once()

	ctx := context.Background()

	flow, err := f.service.Respond(ctx, "f1", "s1", "yes")
	require.NoError(t, err)
	assert.Equal(t, "a", flow.Steps[0].ID)

	_, err = f.service.Cancel(ctx, "f1")
	require.NoError(t, err)

	_, err = f.service.Retry(ctx, "f1")
	assert.True(t, services.IsConflictError(err))

	_, err = f.service.Pause(ctx, "f1")
	require.NoError(t, err)

	_, err = f.service.Resume(ctx, "f1")
	require.NoError(t, err)

	_, err = f.service.DeleteStep(ctx, "f1", "s3")
	assert.True(t, services.IsConflictError(err))
}

func TestFlow_InsertStep(t *testing.T) {
	f := newFixture(t)
	step := &models.Step{Type: models.StepTypeToolCall, CapabilitySlug: "notify"}

	f.driver.On("InsertStep", mock.Anything, "f1", 2, step).Return(nil, driver.ErrInvalidPosition).Once()

	_, err := f.service.InsertStep(context.Background(), "f1", 2, step)
	assert.True(t, services.IsValidationError(err))

	_, err = f.service.InsertStep(context.Background(), "f1", 2, nil)
	assert.ErrorIs(t, err, services.ErrInvalidRequest)
}

func TestFlow_RejectsMissingIdentifiers(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Cancel(context.Background(), "")
	require.ErrorIs(t, err, services.ErrFlowIDRequired)

	_, err = f.service.Respond(context.Background(), "f1", "", "yes")
	require.ErrorIs(t, err, services.ErrStepIDRequired)

	_, err = f.service.DeleteStep(context.Background(), "f1", "")
	require.ErrorIs(t, err, services.ErrStepIDRequired)
}

func TestFlow_HealthCheck(t *testing.T) {
	p := mocks.NewMockPersistence()
	p.On("HealthCheck", mock.Anything).Return(errors.New("disk gone")).Once()

	service := services.NewFlow(discard(), p, &mocks.MockFlowPlanner{}, &mocks.MockFlowDriver{})

	message, ok := service.HealthCheck(context.Background())
	assert.False(t, ok)
	assert.Contains(t, message, "disk gone")
	p.AssertExpectations(t)
}
