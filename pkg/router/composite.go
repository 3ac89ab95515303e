package router

import (
	"context"
	"fmt"
	"maps"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/registry"
)

// MaxCompositeDepth bounds composite capabilities nested through their hops.
const MaxCompositeDepth = 5

type depthKey struct{}

func depthFrom(ctx context.Context) int {
	depth, _ := ctx.Value(depthKey{}).(int)

	return depth
}

type compositeAdapter struct {
	router   *Router
	registry registry.Registry
}

func (a *compositeAdapter) Execute(
	ctx context.Context,
	capability *models.Capability,
	params map[string]any,
	execCtx ExecutionContext,
) (models.Result, error) {
	depth := depthFrom(ctx)
	if depth >= MaxCompositeDepth {
		return models.Result{}, fmt.Errorf("%w: %s at depth %d", ErrCompositeDepth, capability.Slug, depth)
	}

	if a.registry == nil {
		return models.Result{}, fmt.Errorf("%w: composite %s has no registry", models.ErrCapabilityConfig, capability.Slug)
	}

	ctx = context.WithValue(ctx, depthKey{}, depth+1)

	var (
		hops     = make([]any, 0, len(capability.Composite.Hops))
		effects  models.SideEffects
		output   any
		previous any
		hasPrev  bool
		failed   int
	)

	for i, hop := range capability.Composite.Hops {
		target, err := a.registry.GetCapability(ctx, hop.Capability)
		if err != nil {
			return models.Result{}, fmt.Errorf("composite %s hop %d: %w", capability.Slug, i+1, err)
		}

		hopParams := maps.Clone(params)
		if hopParams == nil {
			hopParams = map[string]any{}
		}

		if hop.PassOutput && hasPrev {
			if m, ok := previous.(map[string]any); ok {
				maps.Copy(hopParams, m)
			} else {
				hopParams["input"] = previous
			}
		}

		maps.Copy(hopParams, hop.Params)

		result, err := a.router.Execute(ctx, target, hopParams, execCtx)
		if err != nil {
			return models.Result{}, fmt.Errorf("composite %s hop %d: %w", capability.Slug, i+1, err)
		}

		if result.IsMultipleMatches() {
			return result, nil
		}

		hops = append(hops, hopSummary(i+1, hop.Capability, result))

		if !result.Success {
			failed++

			if hop.StopOnError {
				failure := models.Failure(fmt.Sprintf("hop %d (%s) failed: %s", i+1, hop.Capability, result.Error), result.StatusCode)
				failure.Data = map[string]any{"hops": hops, "partial": true}

				return failure, nil
			}

			continue
		}

		previous, hasPrev = result.Data, true
		output = result.Data

		if result.SideEffects != nil {
			effects.Created = append(effects.Created, result.SideEffects.Created...)
			effects.Updated = append(effects.Updated, result.SideEffects.Updated...)
		}
	}

	data := map[string]any{
		"hops":        hops,
		"output":      output,
		"partial":     failed > 0,
		"failed_hops": failed,
	}

	if failed == len(capability.Composite.Hops) {
		failure := models.Failure(fmt.Sprintf("all %d hops of %s failed", failed, capability.Slug), 0)
		failure.Data = data

		return failure, nil
	}

	result := models.Result{Success: true, Data: data}
	if len(effects.Created) > 0 || len(effects.Updated) > 0 {
		result.SideEffects = &effects
	}

	return result, nil
}

func hopSummary(index int, slug string, result models.Result) map[string]any {
	summary := map[string]any{
		"hop":        index,
		"capability": slug,
		"success":    result.Success,
	}

	if result.Success {
		summary["data"] = result.Data
	} else {
		summary["error"] = result.Error
	}

	return summary
}
