// Package services exposes flow operations to the HTTP layer and classifies their errors.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/flowpilot/pkg/driver"
	"github.com/dukex/flowpilot/pkg/persistence"
	"github.com/dukex/flowpilot/pkg/planner"
	"github.com/dukex/flowpilot/pkg/registry"
	"github.com/dukex/flowpilot/pkg/resolver"
)

// Validation errors (400 Bad Request).
var (
	ErrInvalidRequest    = errors.New("invalid request")
	ErrUserIDRequired    = errors.New("user ID is required")
	ErrTenantIDRequired  = errors.New("tenant ID is required")
	ErrFlowIDRequired    = errors.New("flow ID is required")
	ErrStepIDRequired    = errors.New("step ID is required")
	ErrInvalidFlowStatus = errors.New("invalid flow status")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrUserIDRequired) ||
		errors.Is(err, ErrTenantIDRequired) ||
		errors.Is(err, ErrFlowIDRequired) ||
		errors.Is(err, ErrStepIDRequired) ||
		errors.Is(err, ErrInvalidFlowStatus) ||
		errors.Is(err, planner.ErrEmptyRequest) ||
		errors.Is(err, driver.ErrResponseRequired) ||
		errors.Is(err, driver.ErrInvalidPosition) ||
		errors.Is(err, driver.ErrInvalidStep) ||
		resolver.IsMissingDependency(err)
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return persistence.IsFlowNotFound(err) ||
		persistence.IsStepNotFound(err) ||
		errors.Is(err, registry.ErrCapabilityNotFound)
}

// IsConflictError checks if an error is a state conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, driver.ErrStepNotAwaitingUser) ||
		errors.Is(err, driver.ErrInvalidTransition) ||
		errors.Is(err, driver.ErrStepReferenced) ||
		errors.Is(err, driver.ErrStepNotPending) ||
		persistence.IsVersionConflict(err)
}

// IsUpstreamError checks if a plan could not be produced by the generator (HTTP 502).
// A plan that was generated but could not be stored is an internal error instead.
func IsUpstreamError(err error) bool {
	var planningErr *planner.PlanningError
	if !errors.As(err, &planningErr) {
		return false
	}

	return planningErr.Stage != planner.StagePersist
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
