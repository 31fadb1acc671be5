package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const tenantIDKey contextKey = "tenantID"

// WithTenantID returns a context carrying tenantID, set once per request
// after the caller's tenant has been resolved (from the request body/path,
// not from auth — authenticating the end customer is assumed upstream).
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// TenantIDFromContext returns the tenant set by WithTenantID, or "".
func TenantIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(tenantIDKey).(string)
	return v
}

const userIDKey contextKey = "userID"

// WithUserID returns a context carrying the end user's id, the identity
// RateLimit keys on when it is set.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext is the identity RateLimit keys on: the id set by
// WithUserID, or, when none was set, the tenant value WithTenantID set.
func UserIDFromContext(ctx context.Context) string {
	if v, _ := ctx.Value(userIDKey).(string); v != "" {
		return v
	}
	return TenantIDFromContext(ctx)
}

// AdminAuth verifies a bearer JWT signed with JWT_SECRET on every request
// to the admin surface (GET/DELETE /tenants). Requests without a valid
// token are rejected before reaching the handler.
func AdminAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token := strings.TrimPrefix(header, "Bearer ")
			if token == "" || token == header {
				writeAuthError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			_, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrTokenSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"success": false, "error": msg})
}
