package cache

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"affiliate-tracking/internal/models"
)

// TenantLoader loads tenant configuration from the source of truth.
type TenantLoader interface {
	GetTenant(ctx context.Context, id string) (models.Tenant, error)
}

// TenantCache is a read-through TenantLoader. Concurrent misses for the same
// tenant share one load. Cache failures fall back to the loader; they never
// fail a lookup.
type TenantCache struct {
	loader TenantLoader
	cache  Cache
	ttl    time.Duration
	group  singleflight.Group
}

// NewTenantCache wraps loader with c, keeping entries for ttl.
func NewTenantCache(loader TenantLoader, c Cache, ttl time.Duration) *TenantCache {
	return &TenantCache{loader: loader, cache: c, ttl: ttl}
}

func tenantKey(id string) string {
	return Key("tenant", id)
}

// GetTenant returns the cached tenant or loads and caches it.
func (tc *TenantCache) GetTenant(ctx context.Context, id string) (models.Tenant, error) {
	var t models.Tenant
	err := GetJSON(ctx, tc.cache, tenantKey(id), &t)
	if err == nil {
		return t, nil
	}
	if err != ErrNotFound {
		zerolog.Ctx(ctx).Warn().Err(err).Str("tenant_id", id).Msg("tenant cache read failed")
	}

	// The shared load must outlive any single caller; each caller still
	// gives up when its own context ends.
	loadCtx := context.WithoutCancel(ctx)
	ch := tc.group.DoChan(id, func() (interface{}, error) {
		loaded, err := tc.loader.GetTenant(loadCtx, id)
		if err != nil {
			return models.Tenant{}, err
		}
		if err := SetJSON(loadCtx, tc.cache, tenantKey(id), loaded, tc.ttl); err != nil {
			zerolog.Ctx(loadCtx).Warn().Err(err).Str("tenant_id", id).Msg("tenant cache write failed")
		}
		return loaded, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return models.Tenant{}, res.Err
		}
		return res.Val.(models.Tenant), nil
	case <-ctx.Done():
		return models.Tenant{}, ctx.Err()
	}
}

// Invalidate drops the cached entry for a tenant.
func (tc *TenantCache) Invalidate(ctx context.Context, id string) error {
	return tc.cache.Delete(ctx, tenantKey(id))
}
