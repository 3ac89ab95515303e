package registry

import (
	"context"
	"time"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/patrickmn/go-cache"
)

const listKey = "__all__"

// CachedRegistry fronts a slower Registry (e.g. a remote catalogue) with a TTL cache.
// Lookup misses are not cached.
type CachedRegistry struct {
	next  Registry
	cache *cache.Cache
}

func NewCachedRegistry(next Registry, ttl time.Duration) *CachedRegistry {
	return &CachedRegistry{
		next:  next,
		cache: cache.New(ttl, 2*ttl),
	}
}

func (r *CachedRegistry) GetCapability(ctx context.Context, slug string) (*models.Capability, error) {
	if cached, ok := r.cache.Get(slug); ok {
		return cached.(*models.Capability), nil
	}

	capability, err := r.next.GetCapability(ctx, slug)
	if err != nil {
		return nil, err
	}

	r.cache.SetDefault(slug, capability)

	return capability, nil
}

func (r *CachedRegistry) ListCapabilities(ctx context.Context) ([]*models.Capability, error) {
	if cached, ok := r.cache.Get(listKey); ok {
		return cached.([]*models.Capability), nil
	}

	list, err := r.next.ListCapabilities(ctx)
	if err != nil {
		return nil, err
	}

	r.cache.SetDefault(listKey, list)

	return list, nil
}

// Invalidate drops every cached entry.
func (r *CachedRegistry) Invalidate() {
	r.cache.Flush()
}
