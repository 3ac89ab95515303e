package direct

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHandlers(t *testing.T) *Handlers {
	t.Helper()

	return NewHandlers(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHandlers_RegisterAndInvoke(t *testing.T) {
	h := newHandlers(t)

	require.ErrorIs(t, h.Register("", Echo), ErrHandlerNameRequired)
	require.NoError(t, h.Register("echo", Echo))
	assert.Equal(t, []string{"echo"}, h.Names())

	result, err := h.Invoke(context.Background(), "echo", Request{Params: map[string]any{"x": "y"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": "y"}, result.Data)

	_, err = h.Invoke(context.Background(), "unknown", Request{})
	assert.ErrorIs(t, err, ErrHandlerNotFound)
}

func TestHandlers_InvokeRecoversPanics(t *testing.T) {
	h := newHandlers(t)
	require.NoError(t, h.Register("explode", HandlerFunc(func(context.Context, Request) (models.Result, error) {
		var m map[string]any
		m["x"] = 1

		return models.Result{}, nil
	})))

	result, err := h.Invoke(context.Background(), "explode", Request{})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "panicked")
}

func TestHandlers_LoadPluginsEmptyDir(t *testing.T) {
	h := newHandlers(t)

	require.NoError(t, h.LoadPlugins(""))
	require.NoError(t, h.LoadPlugins(t.TempDir()))
	assert.Empty(t, h.Names())
}

func TestSearchHandler(t *testing.T) {
	records := []map[string]any{
		{"id": "1", "title": "Landing page"},
		{"id": "2", "title": "Landing copy"},
		{"id": "3", "title": "Pricing"},
	}

	handler := SearchHandler(SearchConfig{
		Search: func(_ context.Context, _ string, query string) ([]map[string]any, error) {
			if query == "broken" {
				return nil, errors.New("index offline")
			}

			var out []map[string]any

			for _, r := range records {
				if len(query) <= len(r["title"].(string)) && r["title"].(string)[:len(query)] == query {
					out = append(out, r)
				}
			}

			return out, nil
		},
		Get: func(_ context.Context, _ string, id string) (map[string]any, error) {
			for _, r := range records {
				if r["id"] == id {
					return r, nil
				}
			}

			return nil, nil
		},
	})

	h := newHandlers(t)
	require.NoError(t, h.Register("find_task", handler))

	invoke := func(params map[string]any) models.Result {
		result, err := h.Invoke(context.Background(), "find_task", Request{Params: params})
		require.NoError(t, err)

		return result
	}

	single := invoke(map[string]any{"query": "Pricing"})
	assert.True(t, single.Success)
	assert.False(t, single.IsMultipleMatches())
	assert.Equal(t, 1, single.Data.(map[string]any)["count"])

	ambiguous := invoke(map[string]any{"query": "Landing"})
	assert.True(t, ambiguous.IsMultipleMatches())
	assert.Len(t, ambiguous.Matches, 2)

	byID := invoke(map[string]any{"id": "2", "query": "ignored"})
	assert.Equal(t, []any{records[1]}, byID.Data.(map[string]any)["matches"])

	none := invoke(map[string]any{"query": "Nothing"})
	assert.True(t, none.Success)
	assert.Equal(t, 0, none.Data.(map[string]any)["count"])

	missing := invoke(map[string]any{})
	assert.False(t, missing.Success)

	broken := invoke(map[string]any{"query": "broken"})
	assert.False(t, broken.Success)
	assert.Contains(t, broken.Error, "index offline")
}
