package driver

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dop251/goja"
)

const conditionTimeout = time.Second

// ConditionScope is what a conditional expression can read.
type ConditionScope struct {
	Context   map[string]any
	Steps     map[int]any
	UserInput any
}

// ConditionEvaluator runs conditional expressions as JavaScript. Each evaluation gets a fresh
// runtime with context, steps and user_input bound; the expression's truthiness is the result.
type ConditionEvaluator struct {
	timeout time.Duration
}

func NewConditionEvaluator() *ConditionEvaluator {
	return &ConditionEvaluator{timeout: conditionTimeout}
}

func (e *ConditionEvaluator) Evaluate(expression string, scope ConditionScope) (bool, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return true, nil
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	steps := make(map[string]any, len(scope.Steps))
	for position, result := range scope.Steps {
		steps[strconv.Itoa(position)] = map[string]any{"result": result}
	}

	flowContext := scope.Context
	if flowContext == nil {
		flowContext = map[string]any{}
	}

	for name, value := range map[string]any{"context": flowContext, "steps": steps, "user_input": scope.UserInput} {
		err := vm.Set(name, value)
		if err != nil {
			return false, fmt.Errorf("bind %s: %w", name, err)
		}
	}

	timer := time.AfterFunc(e.timeout, func() {
		vm.Interrupt("condition timed out")
	})
	defer timer.Stop()

	value, err := vm.RunString(expression)
	if err != nil {
		return false, fmt.Errorf("evaluate condition %q: %w", expression, err)
	}

	return value.ToBoolean(), nil
}
