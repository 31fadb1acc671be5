package admin

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeStore struct {
	tenants       []string
	tenantCalls   int
	counts        map[string]int
	countCalls    int
	deleted       []string
	deleteErr     error
}

func (s *fakeStore) DistinctTenants(ctx context.Context) ([]string, error) {
	s.tenantCalls++
	return s.tenants, nil
}

func (s *fakeStore) CountDistinctDocuments(ctx context.Context, tenant string) (int, error) {
	s.countCalls++
	return s.counts[tenant], nil
}

func (s *fakeStore) DeleteByTenant(ctx context.Context, tenant string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deleted = append(s.deleted, tenant)
	return nil
}

func TestListTenants_CachesWithinTTL(t *testing.T) {
	store := &fakeStore{tenants: []string{"acme", "globex"}}
	svc := New(store, time.Hour)

	first, err := svc.ListTenants(context.Background())
	if err != nil {
		t.Fatalf("ListTenants() error: %v", err)
	}
	second, err := svc.ListTenants(context.Background())
	if err != nil {
		t.Fatalf("ListTenants() error: %v", err)
	}
	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("unexpected results: %v / %v", first, second)
	}
	if store.tenantCalls != 1 {
		t.Errorf("store.DistinctTenants called %d times, want 1 (second call should be cached)", store.tenantCalls)
	}
}

func TestListTenants_RefetchesAfterTTLExpires(t *testing.T) {
	store := &fakeStore{tenants: []string{"acme"}}
	svc := New(store, time.Millisecond)

	if _, err := svc.ListTenants(context.Background()); err != nil {
		t.Fatalf("ListTenants() error: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := svc.ListTenants(context.Background()); err != nil {
		t.Fatalf("ListTenants() error: %v", err)
	}
	if store.tenantCalls != 2 {
		t.Errorf("store.DistinctTenants called %d times, want 2 (cache should have expired)", store.tenantCalls)
	}
}

func TestGetStats_RejectsInvalidTenantID(t *testing.T) {
	store := &fakeStore{counts: map[string]int{}}
	svc := New(store, time.Hour)

	_, err := svc.GetStats(context.Background(), "not a valid id!")
	if err == nil {
		t.Fatal("expected an error for a syntactically invalid tenant_id")
	}
	if store.countCalls != 0 {
		t.Error("CountDistinctDocuments should not be called for an invalid tenant_id")
	}
}

func TestGetStats_CachesPerTenant(t *testing.T) {
	store := &fakeStore{counts: map[string]int{"acme": 7}}
	svc := New(store, time.Hour)

	stats, err := svc.GetStats(context.Background(), "acme")
	if err != nil {
		t.Fatalf("GetStats() error: %v", err)
	}
	if stats.DocumentCount != 7 {
		t.Errorf("DocumentCount = %d, want 7", stats.DocumentCount)
	}
	if _, err := svc.GetStats(context.Background(), "acme"); err != nil {
		t.Fatalf("GetStats() error: %v", err)
	}
	if store.countCalls != 1 {
		t.Errorf("CountDistinctDocuments called %d times, want 1 (second call should be cached)", store.countCalls)
	}
}

func TestDeleteTenant_RefusesWithoutConfirm(t *testing.T) {
	store := &fakeStore{}
	svc := New(store, time.Hour)

	err := svc.DeleteTenant(context.Background(), "acme", false)
	if err == nil {
		t.Fatal("expected an error when confirm is false")
	}
	if len(store.deleted) != 0 {
		t.Error("DeleteByTenant should not be called without confirm")
	}
}

func TestDeleteTenant_RejectsInvalidTenantID(t *testing.T) {
	store := &fakeStore{}
	svc := New(store, time.Hour)

	err := svc.DeleteTenant(context.Background(), "../etc/passwd", true)
	if err == nil {
		t.Fatal("expected an error for an invalid tenant_id")
	}
}

func TestDeleteTenant_InvalidatesCaches(t *testing.T) {
	store := &fakeStore{tenants: []string{"acme"}, counts: map[string]int{"acme": 3}}
	svc := New(store, time.Hour)

	if _, err := svc.ListTenants(context.Background()); err != nil {
		t.Fatalf("ListTenants() error: %v", err)
	}
	if _, err := svc.GetStats(context.Background(), "acme"); err != nil {
		t.Fatalf("GetStats() error: %v", err)
	}

	if err := svc.DeleteTenant(context.Background(), "acme", true); err != nil {
		t.Fatalf("DeleteTenant() error: %v", err)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "acme" {
		t.Fatalf("deleted = %v, want [acme]", store.deleted)
	}

	// Both caches must be invalidated: the next calls should hit the store again.
	store.tenants = nil
	tenants, err := svc.ListTenants(context.Background())
	if err != nil {
		t.Fatalf("ListTenants() error: %v", err)
	}
	if len(tenants) != 0 {
		t.Errorf("expected the tenants cache to have been invalidated, got %v", tenants)
	}
	if store.tenantCalls != 2 {
		t.Errorf("store.DistinctTenants called %d times, want 2", store.tenantCalls)
	}
}

func TestDeleteTenant_PropagatesStoreError(t *testing.T) {
	store := &fakeStore{deleteErr: errors.New("boom")}
	svc := New(store, time.Hour)

	err := svc.DeleteTenant(context.Background(), "acme", true)
	if err == nil {
		t.Fatal("expected the store error to propagate")
	}
}
