package direct

import (
	"context"
	"fmt"
	"strings"

	"github.com/dukex/flowpilot/pkg/models"
)

// Searcher finds records matching free text.
type Searcher func(ctx context.Context, tenantID, query string) ([]map[string]any, error)

// Getter loads one record by id.
type Getter func(ctx context.Context, tenantID, id string) (map[string]any, error)

// SearchConfig describes a "find a record by id or free text" handler.
type SearchConfig struct {
	// IDParam is read first; when present the record is fetched with Get. Defaults to "id".
	IDParam string
	// QueryParam holds the free text. Defaults to "query".
	QueryParam string
	Search     Searcher
	Get        Getter
}

// SearchHandler builds a handler that returns {"matches": [...], "count": n} for zero or one
// match and a multiple_matches result when the text is ambiguous.
func SearchHandler(cfg SearchConfig) Handler {
	if cfg.IDParam == "" {
		cfg.IDParam = "id"
	}

	if cfg.QueryParam == "" {
		cfg.QueryParam = "query"
	}

	return HandlerFunc(func(ctx context.Context, req Request) (models.Result, error) {
		if id, ok := req.Params[cfg.IDParam].(string); ok && id != "" && cfg.Get != nil {
			record, err := cfg.Get(ctx, req.TenantID, id)
			if err != nil {
				return models.Result{}, fmt.Errorf("get %s: %w", id, err)
			}

			return found(recordsOf(record)), nil
		}

		query, _ := req.Params[cfg.QueryParam].(string)
		if strings.TrimSpace(query) == "" {
			return models.Failure(fmt.Sprintf("%s or %s is required", cfg.IDParam, cfg.QueryParam), 0), nil
		}

		if cfg.Search == nil {
			return models.Failure("search is not configured", 0), nil
		}

		matches, err := cfg.Search(ctx, req.TenantID, query)
		if err != nil {
			return models.Result{}, fmt.Errorf("search %q: %w", query, err)
		}

		if len(matches) > 1 {
			return models.MultipleMatches(matches), nil
		}

		return found(matches), nil
	})
}

func recordsOf(record map[string]any) []map[string]any {
	if record == nil {
		return []map[string]any{}
	}

	return []map[string]any{record}
}

func found(matches []map[string]any) models.Result {
	list := make([]any, 0, len(matches))
	for _, m := range matches {
		list = append(list, m)
	}

	return models.Result{
		Success: true,
		Data: map[string]any{
			"matches": list,
			"count":   len(list),
		},
	}
}

// Echo returns its params as data. Useful for wiring checks and dry runs.
var Echo = HandlerFunc(func(_ context.Context, req Request) (models.Result, error) {
	data := make(map[string]any, len(req.Params))
	for k, v := range req.Params {
		data[k] = v
	}

	return models.Result{Success: true, Data: data}, nil
})
