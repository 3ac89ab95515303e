package resolver

import (
	"fmt"
	"maps"
	"slices"

	"github.com/dukex/flowpilot/pkg/models"
)

// CheckReferences rejects mappings that are malformed or that address a step at or after
// the step's own position. It needs no flow state, so it also serves plan edits.
func CheckReferences(step *models.Step) error {
	for _, name := range slices.Sorted(maps.Keys(step.ParamMappings)) {
		raw := step.ParamMappings[name]

		template, err := Parse(raw)
		if err != nil {
			return &MissingDependencyError{Param: name, Expression: raw, Reason: err.Error()}
		}

		for _, expr := range template.Exprs() {
			if expr.Family == FamilySteps && expr.Position >= step.Position {
				return &MissingDependencyError{
					Param:      name,
					Expression: expr.String(),
					Reason:     fmt.Sprintf("forward reference to step %d from step %d", expr.Position, step.Position),
				}
			}
		}
	}

	return nil
}

// References reports whether any mapping of step addresses the given position.
func References(step *models.Step, position int) bool {
	for _, raw := range step.ParamMappings {
		template, err := Parse(raw)
		if err != nil {
			continue
		}

		for _, expr := range template.Exprs() {
			if expr.Family == FamilySteps && expr.Position == position {
				return true
			}
		}
	}

	return false
}

// Shift rewrites step references at or after from by delta, keeping mappings valid
// after positions are spliced. Unparseable mappings are left untouched.
//
// Gotos are positions rather than step results: on an insertion (delta > 0) a goto aimed
// exactly at from keeps that position, so the jump lands on the inserted step instead of
// skipping over it.
func Shift(step *models.Step, from, delta int) {
	for name, raw := range step.ParamMappings {
		template, err := Parse(raw)
		if err != nil {
			continue
		}

		changed := false

		for _, expr := range template.Exprs() {
			if expr.Family == FamilySteps && expr.Position >= from {
				expr.Position += delta
				changed = true
			}
		}

		if changed {
			step.ParamMappings[name] = template.String()
		}
	}

	gotoFrom := from
	if delta > 0 {
		gotoFrom++
	}

	for _, target := range []*int{step.OnSuccessGoto, step.OnFailGoto} {
		if target != nil && *target >= gotoFrom {
			*target += delta
		}
	}
}
