// Package tenant provides tenant scoping: context propagation, the global
// sentinel scope, and HTTP middleware extracting the tenant from a header.
package tenant

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const (
	tenantIDKey contextKey = "tenant_id"
	userIDKey   contextKey = "user_id"

	// Global is the sentinel scope for platform-wide plugin instances.
	Global = "global"

	// HeaderName is the HTTP header carrying the tenant ID.
	HeaderName = "X-Tenant-ID"
)

// Normalize maps an empty tenant ID to the global sentinel scope.
func Normalize(tenantID string) string {
	if strings.TrimSpace(tenantID) == "" {
		return Global
	}
	return tenantID
}

// FromContext extracts the tenant ID from the context, or "" if unset.
func FromContext(ctx context.Context) string {
	if v, ok := ctx.Value(tenantIDKey).(string); ok {
		return v
	}
	return ""
}

// WithTenant returns a context with the tenant ID set.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// UserFromContext extracts the acting user ID from the context, or "".
func UserFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// WithUser returns a context with the acting user ID set.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// Middleware extracts the tenant ID from the request header and injects it
// into the request context. Requests without the header run in the global
// scope; no tenant is ever required here since platform-level plugins are
// addressed without one.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := strings.TrimSpace(r.Header.Get(HeaderName))
		if tenantID != "" {
			r = r.WithContext(WithTenant(r.Context(), tenantID))
		}
		next.ServeHTTP(w, r)
	})
}
