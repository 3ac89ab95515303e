// Package registry provides the read-only capability catalogue consulted by the planner and driver.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/dukex/flowpilot/pkg/models"
	"gopkg.in/yaml.v3"
)

// ErrCapabilityNotFound indicates no capability is registered under the slug.
var ErrCapabilityNotFound = errors.New("capability not found")

// Registry is the capability lookup service.
type Registry interface {
	GetCapability(ctx context.Context, slug string) (*models.Capability, error)
	ListCapabilities(ctx context.Context) ([]*models.Capability, error)
}

// Catalogue is an in-memory Registry, typically loaded from a YAML file.
type Catalogue struct {
	logger       *slog.Logger
	mu           sync.RWMutex
	capabilities map[string]*models.Capability
}

type catalogueFile struct {
	Capabilities []*models.Capability `yaml:"capabilities"`
}

func NewCatalogue(log *slog.Logger) *Catalogue {
	return &Catalogue{
		logger:       log,
		capabilities: make(map[string]*models.Capability),
	}
}

// Register adds or replaces a capability after validating its variant config.
func (c *Catalogue) Register(capability *models.Capability) error {
	err := capability.Validate()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.capabilities[capability.Slug] = capability

	return nil
}

// LoadFile registers every capability declared in a YAML catalogue file.
func (c *Catalogue) LoadFile(path string) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read capability catalogue %s: %w", path, err)
	}

	return c.Load(body)
}

// Load registers every capability declared in a YAML document.
func (c *Catalogue) Load(body []byte) error {
	var file catalogueFile

	err := yaml.Unmarshal(body, &file)
	if err != nil {
		return fmt.Errorf("failed to parse capability catalogue: %w", err)
	}

	for _, capability := range file.Capabilities {
		err := c.Register(capability)
		if err != nil {
			return fmt.Errorf("invalid capability %q: %w", capability.Slug, err)
		}
	}

	c.logger.Info("Loaded capability catalogue", "count", len(file.Capabilities))

	return nil
}

func (c *Catalogue) GetCapability(_ context.Context, slug string) (*models.Capability, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	capability, ok := c.capabilities[slug]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCapabilityNotFound, slug)
	}

	return capability, nil
}

// ListCapabilities returns the catalogue sorted by slug.
func (c *Catalogue) ListCapabilities(_ context.Context) ([]*models.Capability, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	list := make([]*models.Capability, 0, len(c.capabilities))
	for _, capability := range c.capabilities {
		list = append(list, capability)
	}

	sort.Slice(list, func(i, j int) bool { return list[i].Slug < list[j].Slug })

	return list, nil
}
