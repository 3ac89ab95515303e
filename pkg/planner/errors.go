package planner

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyRequest = errors.New("request text is required")
	ErrEmptyPlan    = errors.New("generated plan has no steps")
	ErrUnparseable  = errors.New("generated plan could not be parsed")
)

// Planning stages reported by PlanningError.
const (
	StageCatalogue = "catalogue"
	StageGenerate  = "generate"
	StageParse     = "parse"
	StagePersist   = "persist"
)

// PlanningError reports a plan that could not be produced. No flow is persisted when it is returned.
type PlanningError struct {
	Stage string
	Err   error
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("planning failed at %s: %v", e.Stage, e.Err)
}

func (e *PlanningError) Unwrap() error {
	return e.Err
}

// IsPlanningError reports whether err is, or wraps, a PlanningError.
func IsPlanningError(err error) bool {
	var target *PlanningError

	return errors.As(err, &target)
}

func isParseError(err error) bool {
	return errors.Is(err, ErrUnparseable)
}
