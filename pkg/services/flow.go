package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/persistence"
	"github.com/dukex/flowpilot/pkg/planner"
	"github.com/dukex/flowpilot/pkg/tracker"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// FlowPlanner creates flows from free-text requests.
type FlowPlanner interface {
	Plan(ctx context.Context, req planner.PlanRequest) (*models.Flow, error)
}

// FlowDriver performs the user-driven mutations of a flow.
type FlowDriver interface {
	Respond(ctx context.Context, flowID, stepID string, response any) (*models.Flow, error)
	Cancel(ctx context.Context, flowID string) (*models.Flow, error)
	Retry(ctx context.Context, flowID string) (*models.Flow, error)
	Pause(ctx context.Context, flowID string) (*models.Flow, error)
	Resume(ctx context.Context, flowID string) (*models.Flow, error)
	InsertStep(ctx context.Context, flowID string, position int, step *models.Step) (*models.Flow, error)
	DeleteStep(ctx context.Context, flowID, stepID string) (*models.Flow, error)
}

type Flow struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	planner     FlowPlanner
	driver      FlowDriver
}

// NewFlow creates a new flow service.
func NewFlow(logger *slog.Logger, persistence persistence.Persistence, planner FlowPlanner, driver FlowDriver) *Flow {
	return &Flow{
		logger:      logger.With("module", "flow_service"),
		persistence: persistence,
		planner:     planner,
		driver:      driver,
	}
}

// HealthCheck checks the health of the persistence layer.
func (f *Flow) HealthCheck(ctx context.Context) (string, bool) {
	if f.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := f.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// CreateFlowRequest asks the planner for a new flow.
type CreateFlowRequest struct {
	Request        string
	UserID         string
	TenantID       string
	ConversationID *string
}

// Create plans and persists a new flow. The first tick is already scheduled when it returns.
func (f *Flow) Create(ctx context.Context, req CreateFlowRequest) (*models.Flow, error) {
	switch {
	case strings.TrimSpace(req.Request) == "":
		return nil, NewValidationError("create_flow", "EMPTY_REQUEST", "request text is required", planner.ErrEmptyRequest)
	case req.UserID == "":
		return nil, NewValidationError("create_flow", "MISSING_USER", "user_id is required", ErrUserIDRequired)
	case req.TenantID == "":
		return nil, NewValidationError("create_flow", "MISSING_TENANT", "tenant_id is required", ErrTenantIDRequired)
	}

	flow, err := f.planner.Plan(ctx, planner.PlanRequest{
		Request:        req.Request,
		UserID:         req.UserID,
		TenantID:       req.TenantID,
		ConversationID: req.ConversationID,
	})
	if err != nil {
		f.logger.ErrorContext(ctx, "Failed to plan flow", "user_id", req.UserID, "error", err)

		return nil, &ServiceError{Op: "create_flow", Code: "PLANNING_FAILED", Err: err}
	}

	f.logger.InfoContext(ctx, "Flow planned", "flow_id", flow.ID, "steps", flow.TotalSteps)

	return flow, nil
}

// FetchByID returns the flow with its steps ordered by position.
func (f *Flow) FetchByID(ctx context.Context, id string) (*models.Flow, error) {
	if id == "" {
		return nil, ErrFlowIDRequired
	}

	flow, err := f.persistence.FlowRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	flow.SortSteps()

	return flow, nil
}

// State returns the client-facing view of a flow.
func (f *Flow) State(ctx context.Context, id string) (tracker.State, error) {
	flow, err := f.FetchByID(ctx, id)
	if err != nil {
		return tracker.State{}, err
	}

	return tracker.Materialize(flow), nil
}

// Logs returns the audit log of an existing flow in append order.
func (f *Flow) Logs(ctx context.Context, id string) ([]*models.LogEntry, error) {
	_, err := f.FetchByID(ctx, id)
	if err != nil {
		return nil, err
	}

	entries, err := f.persistence.LogRepository().ListByFlow(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list logs: %w", err)
	}

	return entries, nil
}

// ListFlowsRequest contains options for listing a user's flows.
type ListFlowsRequest struct {
	UserID   string
	TenantID string
	Status   string
	Limit    int
}

// ListByUser returns a user's flows, newest first.
func (f *Flow) ListByUser(ctx context.Context, req ListFlowsRequest) ([]*models.Flow, error) {
	if req.UserID == "" {
		return nil, NewValidationError("list_flows", "MISSING_USER", "user ID is required", ErrUserIDRequired)
	}

	opts := persistence.ListFlowsOptions{
		TenantID: req.TenantID,
		UserID:   req.UserID,
		Limit:    req.Limit,
	}

	switch {
	case opts.Limit <= 0:
		opts.Limit = defaultListLimit
	case opts.Limit > maxListLimit:
		return nil, NewValidationError("list_flows", "INVALID_LIMIT",
			fmt.Sprintf("limit must be at most %d", maxListLimit), ErrInvalidRequest)
	}

	if req.Status != "" {
		status, err := parseStatus(req.Status)
		if err != nil {
			return nil, NewValidationError("list_flows", "INVALID_STATUS", err.Error(), ErrInvalidFlowStatus)
		}

		opts.Status = &status
	}

	return f.persistence.FlowRepository().ListByUser(ctx, opts)
}

// Respond records a user's answer to an awaiting step.
func (f *Flow) Respond(ctx context.Context, flowID, stepID string, response any) (*models.Flow, error) {
	if stepID == "" {
		return nil, ErrStepIDRequired
	}

	return f.mutate(ctx, "respond", flowID, func() (*models.Flow, error) {
		return f.driver.Respond(ctx, flowID, stepID, response)
	})
}

func (f *Flow) Cancel(ctx context.Context, flowID string) (*models.Flow, error) {
	return f.mutate(ctx, "cancel", flowID, func() (*models.Flow, error) {
		return f.driver.Cancel(ctx, flowID)
	})
}

func (f *Flow) Retry(ctx context.Context, flowID string) (*models.Flow, error) {
	return f.mutate(ctx, "retry", flowID, func() (*models.Flow, error) {
		return f.driver.Retry(ctx, flowID)
	})
}

func (f *Flow) Pause(ctx context.Context, flowID string) (*models.Flow, error) {
	return f.mutate(ctx, "pause", flowID, func() (*models.Flow, error) {
		return f.driver.Pause(ctx, flowID)
	})
}

func (f *Flow) Resume(ctx context.Context, flowID string) (*models.Flow, error) {
	return f.mutate(ctx, "resume", flowID, func() (*models.Flow, error) {
		return f.driver.Resume(ctx, flowID)
	})
}

// InsertStep places a new pending step at position, shifting later steps.
func (f *Flow) InsertStep(ctx context.Context, flowID string, position int, step *models.Step) (*models.Flow, error) {
	if step == nil {
		return nil, NewValidationError("insert_step", "MISSING_STEP", "step is required", ErrInvalidRequest)
	}

	return f.mutate(ctx, "insert_step", flowID, func() (*models.Flow, error) {
		return f.driver.InsertStep(ctx, flowID, position, step)
	})
}

// DeleteStep removes a pending step that no later step reads.
func (f *Flow) DeleteStep(ctx context.Context, flowID, stepID string) (*models.Flow, error) {
	if stepID == "" {
		return nil, ErrStepIDRequired
	}

	return f.mutate(ctx, "delete_step", flowID, func() (*models.Flow, error) {
		return f.driver.DeleteStep(ctx, flowID, stepID)
	})
}

func (f *Flow) mutate(ctx context.Context, op, flowID string, fn func() (*models.Flow, error)) (*models.Flow, error) {
	if flowID == "" {
		return nil, ErrFlowIDRequired
	}

	flow, err := fn()
	if err != nil {
		f.logger.InfoContext(ctx, "Flow operation rejected", "op", op, "flow_id", flowID, "error", err)

		return nil, err
	}

	flow.SortSteps()

	return flow, nil
}

func parseStatus(raw string) (models.FlowStatus, error) {
	status := models.FlowStatus(raw)

	switch status {
	case models.FlowStatusPending,
		models.FlowStatusRunning,
		models.FlowStatusAwaitingUser,
		models.FlowStatusPaused,
		models.FlowStatusCompleted,
		models.FlowStatusFailed,
		models.FlowStatusCancelled:
		return status, nil
	}

	return "", fmt.Errorf("unknown flow status %q", raw)
}
