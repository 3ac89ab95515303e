package services_test

import (
	"context"
	"testing"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/registry"
	"github.com/dukex/flowpilot/pkg/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const capabilitiesYAML = `
capabilities:
  - slug: update_task
    name: Update task
    type: direct
  - slug: notify_slack
    name: Notify Slack
    type: notification
    notification:
      url: https://hooks.example.com/slack
  - slug: create_comment
    name: Create comment
    type: direct
`

func newCapabilityService(t *testing.T) *services.Capability {
	t.Helper()

	catalogue := registry.NewCatalogue(discard())
	require.NoError(t, catalogue.Load([]byte(capabilitiesYAML)))

	return services.NewCapability(catalogue)
}

func TestCapability_List(t *testing.T) {
	service := newCapabilityService(t)

	all, err := service.List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "create_comment", all[0].Slug)
	assert.Equal(t, "update_task", all[2].Slug)

	direct, err := service.List(context.Background(), string(models.CapabilityTypeDirect))
	require.NoError(t, err)
	assert.Len(t, direct, 2)

	none, err := service.List(context.Background(), "composite")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCapability_Get(t *testing.T) {
	service := newCapabilityService(t)

	capability, err := service.Get(context.Background(), "notify_slack")
	require.NoError(t, err)
	assert.Equal(t, models.CapabilityTypeNotification, capability.Type)

	_, err = service.Get(context.Background(), "unknown")
	assert.True(t, services.IsNotFoundError(err))

	_, err = service.Get(context.Background(), "")
	assert.True(t, services.IsValidationError(err))
}
