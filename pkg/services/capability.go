package services

import (
	"context"
	"slices"
	"strings"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/registry"
)

type Capability struct {
	registry registry.Registry
}

// NewCapability creates a read-only view over the capability registry.
func NewCapability(registry registry.Registry) *Capability {
	return &Capability{registry: registry}
}

func (c *Capability) Get(ctx context.Context, slug string) (*models.Capability, error) {
	if slug == "" {
		return nil, NewValidationError("get_capability", "MISSING_SLUG", "capability slug is required", ErrInvalidRequest)
	}

	return c.registry.GetCapability(ctx, slug)
}

// List returns every capability ordered by slug, optionally restricted to one type.
func (c *Capability) List(ctx context.Context, capabilityType string) ([]*models.Capability, error) {
	capabilities, err := c.registry.ListCapabilities(ctx)
	if err != nil {
		return nil, err
	}

	capabilities = slices.Clone(capabilities)

	if capabilityType != "" {
		capabilities = slices.DeleteFunc(capabilities, func(capability *models.Capability) bool {
			return string(capability.Type) != capabilityType
		})
	}

	slices.SortFunc(capabilities, func(a, b *models.Capability) int {
		return strings.Compare(a.Slug, b.Slug)
	})

	return capabilities, nil
}
