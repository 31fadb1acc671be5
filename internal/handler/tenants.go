package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aurorabench/converge-backend/internal/admin"
	"github.com/aurorabench/converge-backend/internal/apperr"
	"github.com/aurorabench/converge-backend/internal/model"
)

// TenantDeps bundles the Tenants handler's dependencies.
type TenantDeps struct {
	Admin *admin.Service
}

// ListTenants handles GET /tenants.
func ListTenants(deps TenantDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenants, err := deps.Admin.ListTenants(r.Context())
		if err != nil {
			respondError(w, apperr.Wrap(apperr.UpstreamUnavailable, err, "could not list tenants"))
			return
		}
		respondOK(w, map[string]any{"tenants": tenants})
	}
}

// GetTenantStats handles GET /tenants/:tenant_id.
func GetTenantStats(deps TenantDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := chi.URLParam(r, "tenant_id")
		if !model.ValidTenantID(tenant) {
			respondError(w, apperr.InvalidField("tenant_id", "tenant_id must be a valid tenant id"))
			return
		}
		stats, err := deps.Admin.GetStats(r.Context(), tenant)
		if err != nil {
			respondError(w, apperr.Wrap(apperr.UpstreamUnavailable, err, "could not load tenant stats"))
			return
		}
		respondOK(w, stats)
	}
}

// DeleteTenant handles DELETE /tenants/:tenant_id?confirm=true.
func DeleteTenant(deps TenantDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := chi.URLParam(r, "tenant_id")
		if !model.ValidTenantID(tenant) {
			respondError(w, apperr.InvalidField("tenant_id", "tenant_id must be a valid tenant id"))
			return
		}
		confirm := r.URL.Query().Get("confirm") == "true"
		if err := deps.Admin.DeleteTenant(r.Context(), tenant, confirm); err != nil {
			respondError(w, apperr.Wrap(apperr.InvalidInput, err, "tenant deletion refused"))
			return
		}
		respondOK(w, map[string]any{"deleted": true})
	}
}
