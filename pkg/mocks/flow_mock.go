package mocks

import (
	"context"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/planner"
	"github.com/stretchr/testify/mock"
)

// MockFlowPlanner is a mock implementation of services.FlowPlanner interface.
type MockFlowPlanner struct {
	mock.Mock
}

func (m *MockFlowPlanner) Plan(ctx context.Context, req planner.PlanRequest) (*models.Flow, error) {
	args := m.Called(ctx, req)

	return flowOf(args)
}

// MockFlowDriver is a mock implementation of services.FlowDriver interface.
type MockFlowDriver struct {
	mock.Mock
}

func (m *MockFlowDriver) Respond(ctx context.Context, flowID, stepID string, response any) (*models.Flow, error) {
	return flowOf(m.Called(ctx, flowID, stepID, response))
}

func (m *MockFlowDriver) Cancel(ctx context.Context, flowID string) (*models.Flow, error) {
	return flowOf(m.Called(ctx, flowID))
}

func (m *MockFlowDriver) Retry(ctx context.Context, flowID string) (*models.Flow, error) {
	return flowOf(m.Called(ctx, flowID))
}

func (m *MockFlowDriver) Pause(ctx context.Context, flowID string) (*models.Flow, error) {
	return flowOf(m.Called(ctx, flowID))
}

func (m *MockFlowDriver) Resume(ctx context.Context, flowID string) (*models.Flow, error) {
	return flowOf(m.Called(ctx, flowID))
}

func (m *MockFlowDriver) InsertStep(ctx context.Context, flowID string, position int, step *models.Step) (*models.Flow, error) {
	return flowOf(m.Called(ctx, flowID, position, step))
}

func (m *MockFlowDriver) DeleteStep(ctx context.Context, flowID, stepID string) (*models.Flow, error) {
	return flowOf(m.Called(ctx, flowID, stepID))
}

func flowOf(args mock.Arguments) (*models.Flow, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Flow), args.Error(1)
}
