// Package admin is the Tenant Admin: tenant enumeration, per-tenant
// document stats, and bulk tenant deletion, each backed by the Vector
// Store Gateway behind short-lived caches.
package admin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aurorabench/converge-backend/internal/model"
)

// DefaultCacheTTL bounds how stale ListTenants/GetStats results may be.
const DefaultCacheTTL = 5 * time.Minute

// Store is the subset of the Vector Store Gateway the Tenant Admin needs.
type Store interface {
	DistinctTenants(ctx context.Context) ([]string, error)
	CountDistinctDocuments(ctx context.Context, tenant string) (int, error)
	DeleteByTenant(ctx context.Context, tenant string) error
}

// TenantStats is the shape returned by GetStats.
type TenantStats struct {
	TenantID       string `json:"tenant_id"`
	DocumentCount  int    `json:"document_count"`
	CollectionName string `json:"collection_name"`
	LastUpdated    string `json:"last_updated"`
}

// cachedValue is a generic TTL cache entry.
type cachedValue[T any] struct {
	value   T
	cachedAt time.Time
}

// Service implements listTenants/getStats/deleteTenant.
type Service struct {
	store Store
	ttl   time.Duration

	mu         sync.Mutex
	tenants    *cachedValue[[]string]
	statsCache map[string]cachedValue[TenantStats]
}

// New creates a Service. ttl <= 0 uses DefaultCacheTTL.
func New(store Store, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Service{store: store, ttl: ttl, statsCache: map[string]cachedValue[TenantStats]{}}
}

// ListTenants returns every distinct tenant with at least one indexed
// chunk, served from cache within the TTL window.
func (s *Service) ListTenants(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	if s.tenants != nil && time.Since(s.tenants.cachedAt) < s.ttl {
		tenants := s.tenants.value
		s.mu.Unlock()
		return tenants, nil
	}
	s.mu.Unlock()

	tenants, err := s.store.DistinctTenants(ctx)
	if err != nil {
		return nil, fmt.Errorf("admin.ListTenants: %w", err)
	}

	s.mu.Lock()
	s.tenants = &cachedValue[[]string]{value: tenants, cachedAt: time.Now()}
	s.mu.Unlock()
	return tenants, nil
}

// GetStats returns tenant's document count, validating tenant_id
// syntactically before touching the store. A tenant with no indexed
// chunks gets a zero count, not an error.
func (s *Service) GetStats(ctx context.Context, tenant string) (*TenantStats, error) {
	if !model.ValidTenantID(tenant) {
		return nil, fmt.Errorf("admin.GetStats: invalid tenant_id %q", tenant)
	}

	s.mu.Lock()
	if cached, ok := s.statsCache[tenant]; ok && time.Since(cached.cachedAt) < s.ttl {
		stats := cached.value
		s.mu.Unlock()
		return &stats, nil
	}
	s.mu.Unlock()

	count, err := s.store.CountDistinctDocuments(ctx, tenant)
	if err != nil {
		return nil, fmt.Errorf("admin.GetStats: %w", err)
	}

	stats := TenantStats{
		TenantID:       tenant,
		DocumentCount:  count,
		CollectionName: tenant,
		LastUpdated:    time.Now().UTC().Format(time.RFC3339),
	}

	s.mu.Lock()
	s.statsCache[tenant] = cachedValue[TenantStats]{value: stats, cachedAt: time.Now()}
	s.mu.Unlock()
	return &stats, nil
}

// DeleteTenant removes every chunk belonging to tenant and invalidates the
// admin caches. confirm must be true or the call is refused.
func (s *Service) DeleteTenant(ctx context.Context, tenant string, confirm bool) error {
	if !model.ValidTenantID(tenant) {
		return fmt.Errorf("admin.DeleteTenant: invalid tenant_id %q", tenant)
	}
	if !confirm {
		return fmt.Errorf("admin.DeleteTenant: confirm is required to delete tenant %q", tenant)
	}

	if err := s.store.DeleteByTenant(ctx, tenant); err != nil {
		return fmt.Errorf("admin.DeleteTenant: %w", err)
	}

	s.mu.Lock()
	s.tenants = nil
	delete(s.statsCache, tenant)
	s.mu.Unlock()
	return nil
}
