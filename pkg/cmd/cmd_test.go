package cmd

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/planner"
	"github.com/dukex/flowpilot/pkg/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParsePersistenceURL(t *testing.T) {
	tests := []struct {
		url      string
		provider string
		path     string
	}{
		{url: "file:///var/lib/flowpilot", provider: "file", path: "/var/lib/flowpilot"},
		{url: "./data", provider: "file", path: "./data"},
		{url: "postgres://u:p@db:5432/flows", provider: "postgres", path: "u:p@db:5432/flows"},
	}

	for _, tt := range tests {
		provider, path := parsePersistenceURL(tt.url)
		assert.Equal(t, tt.provider, provider, tt.url)
		assert.Equal(t, tt.path, path, tt.url)
	}
}

func TestNewQueue_Memory(t *testing.T) {
	q, locker := NewQueue(discard(), "memory://")
	require.IsType(t, &queue.MemoryQueue{}, q)
	require.IsType(t, &queue.MemoryLocker{}, locker)

	require.NoError(t, q.Enqueue(context.Background(), queue.NewTask("f1", queue.ReasonPlanned)))
	assert.Equal(t, 1, q.(*queue.MemoryQueue).Len())

	assert.Panics(t, func() { NewQueue(discard(), "amqp://broker") })
}

func TestNewEngine_FileBackedWithoutModel(t *testing.T) {
	dir := t.TempDir()
	catalogue := filepath.Join(dir, "capabilities.yaml")
	require.NoError(t, os.WriteFile(catalogue, []byte(`
capabilities:
  - slug: echo
    name: Echo
    type: direct
`), 0o600))

	ctx := context.Background()
	engine := NewEngine(ctx, discard(), EngineConfig{
		ServiceName:       "flowpilot-test",
		DatabaseURL:       "file://" + filepath.Join(dir, "data"),
		QueueURL:          "memory://",
		EventBus:          "gochannel",
		CataloguePath:     catalogue,
		CatalogueCacheTTL: time.Second,
	})
	defer engine.Close(ctx, discard())

	capability, err := engine.Registry.GetCapability(ctx, "echo")
	require.NoError(t, err)
	assert.Equal(t, models.CapabilityTypeDirect, capability.Type)

	_, err = engine.Planner.Plan(ctx, planner.PlanRequest{Request: "say hello", UserID: "u1", TenantID: "acme"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errNoLanguageModel)
}
