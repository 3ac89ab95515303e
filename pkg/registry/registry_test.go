package registry

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const catalogueYAML = `
capabilities:
  - slug: search_tasks
    name: Search tasks
    type: direct
    input_schema:
      type: object
      required: [search]
      properties:
        search:
          type: string
          aliases: [title, query]
  - slug: notify_slack
    name: Notify Slack
    type: notification
    notification:
      url: https://hooks.example.com/slack
      source: flowpilot
`

func newTestCatalogue(t *testing.T) *Catalogue {
	t.Helper()

	return NewCatalogue(slog.New(slog.NewTextHandler(os.Stdout, nil)))
}

func TestCatalogue_Load(t *testing.T) {
	catalogue := newTestCatalogue(t)
	require.NoError(t, catalogue.Load([]byte(catalogueYAML)))

	capability, err := catalogue.GetCapability(t.Context(), "search_tasks")
	require.NoError(t, err)
	assert.Equal(t, models.CapabilityTypeDirect, capability.Type)
	assert.Equal(t, []string{"title", "query"}, capability.InputSchema.Properties["search"].Aliases)

	list, err := catalogue.ListCapabilities(t.Context())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "notify_slack", list[0].Slug)
}

func TestCatalogue_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capabilities.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalogueYAML), 0600))

	catalogue := newTestCatalogue(t)
	require.NoError(t, catalogue.LoadFile(path))

	_, err := catalogue.GetCapability(t.Context(), "notify_slack")
	require.NoError(t, err)

	assert.Error(t, catalogue.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestCatalogue_RejectsMismatchedVariant(t *testing.T) {
	catalogue := newTestCatalogue(t)

	err := catalogue.Register(&models.Capability{
		Slug:         "broken",
		Type:         models.CapabilityTypeOutboundCall,
		Notification: &models.NotificationConfig{URL: "https://example.com"},
	})
	assert.ErrorIs(t, err, models.ErrCapabilityConfig)

	err = catalogue.Register(&models.Capability{Slug: "weird", Type: "grpc"})
	assert.ErrorIs(t, err, models.ErrCapabilityType)
}

func TestCatalogue_GetCapability_NotFound(t *testing.T) {
	_, err := newTestCatalogue(t).GetCapability(t.Context(), "missing")
	assert.ErrorIs(t, err, ErrCapabilityNotFound)
}

type countingRegistry struct {
	Registry

	gets  int
	lists int
}

func (c *countingRegistry) GetCapability(ctx context.Context, slug string) (*models.Capability, error) {
	c.gets++

	return c.Registry.GetCapability(ctx, slug)
}

func (c *countingRegistry) ListCapabilities(ctx context.Context) ([]*models.Capability, error) {
	c.lists++

	return c.Registry.ListCapabilities(ctx)
}

func TestCachedRegistry(t *testing.T) {
	catalogue := newTestCatalogue(t)
	require.NoError(t, catalogue.Load([]byte(catalogueYAML)))

	counting := &countingRegistry{Registry: catalogue}
	cached := NewCachedRegistry(counting, time.Minute)

	for range 3 {
		_, err := cached.GetCapability(t.Context(), "search_tasks")
		require.NoError(t, err)

		_, err = cached.ListCapabilities(t.Context())
		require.NoError(t, err)
	}

	assert.Equal(t, 1, counting.gets)
	assert.Equal(t, 1, counting.lists)

	_, err := cached.GetCapability(t.Context(), "missing")
	require.ErrorIs(t, err, ErrCapabilityNotFound)
	_, err = cached.GetCapability(t.Context(), "missing")
	require.ErrorIs(t, err, ErrCapabilityNotFound)
	assert.Equal(t, 3, counting.gets)

	cached.Invalidate()

	_, err = cached.GetCapability(t.Context(), "search_tasks")
	require.NoError(t, err)
	assert.Equal(t, 4, counting.gets)
}
