package resolver

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/oliveagle/jsonpath"
)

// MissingDependencyError names a placeholder that could not be resolved.
type MissingDependencyError struct {
	Param      string
	Expression string
	Reason     string
}

func (e *MissingDependencyError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("missing dependency for %q (%s): %s", e.Param, e.Expression, e.Reason)
	}

	return fmt.Sprintf("missing dependency %s: %s", e.Expression, e.Reason)
}

// IsMissingDependency reports whether err is, or wraps, a MissingDependencyError.
func IsMissingDependency(err error) bool {
	var target *MissingDependencyError

	return errors.As(err, &target)
}

// Scope is the state a step's placeholders may read.
type Scope struct {
	Position      int
	FlowContext   map[string]any
	PriorResults  map[int]any
	UserResponses map[int]any
}

// Resolve merges the step's literal input_params with its resolved param_mappings.
// Mapped values win on key collision. Resolution has no side effects.
func Resolve(step *models.Step, flowContext map[string]any, priorResults, userResponses map[int]any) (map[string]any, error) {
	scope := Scope{
		Position:      step.Position,
		FlowContext:   flowContext,
		PriorResults:  priorResults,
		UserResponses: userResponses,
	}

	params := make(map[string]any, len(step.InputParams)+len(step.ParamMappings))
	maps.Copy(params, step.InputParams)

	for _, name := range slices.Sorted(maps.Keys(step.ParamMappings)) {
		raw := step.ParamMappings[name]

		template, err := Parse(raw)
		if err != nil {
			return nil, &MissingDependencyError{Param: name, Expression: raw, Reason: err.Error()}
		}

		value, err := template.Evaluate(scope)
		if err != nil {
			var missing *MissingDependencyError
			if errors.As(err, &missing) {
				missing.Param = name
			}

			return nil, err
		}

		params[name] = value
	}

	return params, nil
}

// Evaluate renders the template. A template made of a single placeholder keeps the
// value's type; anything else renders to a string.
func (t *Template) Evaluate(scope Scope) (any, error) {
	if expr := t.Single(); expr != nil {
		return expr.Evaluate(scope)
	}

	var b strings.Builder

	for _, part := range t.Parts {
		if part.Expr == nil {
			b.WriteString(part.Literal)

			continue
		}

		value, err := part.Expr.Evaluate(scope)
		if err != nil {
			return nil, err
		}

		b.WriteString(stringify(value))
	}

	return b.String(), nil
}

// Evaluate looks the expression up in scope.
func (e *Expr) Evaluate(scope Scope) (any, error) {
	switch e.Family {
	case FamilySteps:
		if e.Position >= scope.Position {
			return nil, &MissingDependencyError{
				Expression: e.String(),
				Reason:     fmt.Sprintf("forward reference to step %d from step %d", e.Position, scope.Position),
			}
		}

		result, ok := scope.PriorResults[e.Position]
		if !ok {
			return nil, &MissingDependencyError{Expression: e.String(), Reason: fmt.Sprintf("step %d has no result", e.Position)}
		}

		return e.lookup(result)
	case FamilyContext:
		if scope.FlowContext == nil {
			return nil, &MissingDependencyError{Expression: e.String(), Reason: "flow context is empty"}
		}

		return e.lookup(scope.FlowContext)
	case FamilyUserInput:
		response, ok := latestResponse(scope)
		if !ok {
			return nil, &MissingDependencyError{Expression: e.String(), Reason: "no user response recorded"}
		}

		return e.lookup(response)
	}

	return nil, &MissingDependencyError{Expression: e.String(), Reason: "unknown placeholder family"}
}

func (e *Expr) lookup(root any) (any, error) {
	if len(e.Path) == 0 {
		return root, nil
	}

	value, err := jsonpath.JsonPathLookup(root, jsonPathOf(e.Path))
	if err != nil {
		return nil, &MissingDependencyError{Expression: e.String(), Reason: err.Error()}
	}

	return value, nil
}

// latestResponse returns the current step's own response, else the nearest earlier one.
func latestResponse(scope Scope) (any, bool) {
	if response, ok := scope.UserResponses[scope.Position]; ok {
		return response, true
	}

	best := 0

	for position := range scope.UserResponses {
		if position < scope.Position && position > best {
			best = position
		}
	}

	if best == 0 {
		return nil, false
	}

	return scope.UserResponses[best], true
}

func jsonPathOf(path []string) string {
	var b strings.Builder

	b.WriteString("$")

	for _, segment := range path {
		if _, err := strconv.Atoi(segment); err == nil {
			b.WriteString("[" + segment + "]")

			continue
		}

		b.WriteString("." + segment)
	}

	return b.String()
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case map[string]any, []any:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}

		return string(encoded)
	default:
		return fmt.Sprint(v)
	}
}
