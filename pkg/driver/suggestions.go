package driver

import (
	"fmt"
	"maps"
	"slices"

	"github.com/dukex/flowpilot/pkg/models"
)

const maxSuggestions = 3

// Suggestions derives closing follow-ups from the records the flow created or changed.
func Suggestions(flow *models.Flow) []string {
	var suggestions []string

	add := func(s string) {
		if len(suggestions) < maxSuggestions && !slices.Contains(suggestions, s) {
			suggestions = append(suggestions, s)
		}
	}

	created, _ := flow.FlowContext[models.ContextCreatedEntities].(map[string]any)
	updated, _ := flow.FlowContext[models.ContextUpdatedEntities].(map[string]any)

	for _, entity := range slices.Sorted(maps.Keys(created)) {
		label := firstLabel(created[entity])
		if label != "" {
			add(fmt.Sprintf("Open the new %s %q", entity, label))
		} else {
			add(fmt.Sprintf("Review the new %s", entity))
		}

		add(fmt.Sprintf("Share the new %s with your team", entity))
	}

	for _, entity := range slices.Sorted(maps.Keys(updated)) {
		add(fmt.Sprintf("Review the changes to %s", entity))
	}

	if len(suggestions) == 0 {
		add("Start another request")
	}

	return suggestions
}

func firstLabel(records any) string {
	list, _ := records.([]any)
	for _, item := range list {
		record, _ := item.(map[string]any)
		if label, ok := record["label"].(string); ok && label != "" {
			return label
		}
	}

	return ""
}
