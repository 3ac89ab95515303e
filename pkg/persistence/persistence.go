// Package persistence provides the storage abstraction for flows, steps and their audit log.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/flowpilot/pkg/models"
)

type Persistence interface {
	FlowRepository() FlowRepository
	LogRepository() LogRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// FlowRepository stores flows together with their ordered steps.
type FlowRepository interface {
	// Create stores a new flow and its steps at version 1.
	Create(ctx context.Context, flow *models.Flow) error
	// Save replaces the flow and its whole step collection atomically.
	// It fails with ErrVersionConflict unless the stored version equals flow.Version,
	// and increments flow.Version on success.
	Save(ctx context.Context, flow *models.Flow) error
	// GetByID returns the flow with steps ordered by position.
	GetByID(ctx context.Context, id string) (*models.Flow, error)
	ListByUser(ctx context.Context, opts ListFlowsOptions) ([]*models.Flow, error)
	// ListStale returns flows in one of statuses whose last update is older than before.
	ListStale(ctx context.Context, statuses []models.FlowStatus, before time.Time) ([]*models.Flow, error)
}

// LogRepository is the append-only audit log.
type LogRepository interface {
	Append(ctx context.Context, entry *models.LogEntry) error
	ListByFlow(ctx context.Context, flowID string) ([]*models.LogEntry, error)
}

// ListFlowsOptions filters a user's flows.
type ListFlowsOptions struct {
	TenantID string
	UserID   string
	Status   *models.FlowStatus
	Limit    int
}
