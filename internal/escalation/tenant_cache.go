package escalation

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/myle1996kh/base-chatbot/internal/domain"
)

// TenantLoader fetches a tenant record; nil, nil means absent.
type TenantLoader interface {
	GetTenant(ctx context.Context, tenantID string) (*domain.Tenant, error)
}

// TenantCache memoizes tenant records so the tenant check and keyword lookup
// on the inbound message path do not hit the store every time.
// Absent tenants are not cached.
type TenantCache struct {
	loader TenantLoader
	cache  *cache.Cache
}

// NewTenantCache returns a cache whose entries live for ttl. A ttl <= 0 disables caching.
func NewTenantCache(loader TenantLoader, ttl time.Duration) *TenantCache {
	c := &TenantCache{loader: loader}
	if ttl > 0 {
		c.cache = cache.New(ttl, 2*ttl)
	}
	return c
}

// Get returns the tenant, loading it on a miss.
func (c *TenantCache) Get(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	if c.cache != nil {
		if v, ok := c.cache.Get(tenantID); ok {
			return v.(*domain.Tenant), nil
		}
	}
	tenant, err := c.loader.GetTenant(ctx, tenantID)
	if err != nil || tenant == nil {
		return tenant, err
	}
	if c.cache != nil {
		c.cache.SetDefault(tenantID, tenant)
	}
	return tenant, nil
}

// Invalidate drops a cached tenant.
func (c *TenantCache) Invalidate(tenantID string) {
	if c.cache != nil {
		c.cache.Delete(tenantID)
	}
}
