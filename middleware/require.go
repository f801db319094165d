package middleware

import (
	"errors"
	"net/http"

	"github.com/qualisys/qauth"
	"github.com/qualisys/qauth/permission"
)

// Authorizer is satisfied by *qauth.Engine.
type Authorizer interface {
	Authorize(claims *qauth.Claims, tenantID string, need permission.Role) error
}

// TenantFunc extracts the tenant a request targets. An empty result means
// the token's own tenant.
type TenantFunc func(*http.Request) string

// TenantFromHeader reads the tenant from header name.
func TenantFromHeader(name string) TenantFunc {
	return func(r *http.Request) string { return r.Header.Get(name) }
}

// TenantFromPath reads the tenant from a ServeMux path wildcard.
func TenantFromPath(wildcard string) TenantFunc {
	return func(r *http.Request) string { return r.PathValue(wildcard) }
}

// RequireRole must run after Guard. It answers 403 unless the claims hold at
// least need in the request's tenant.
func RequireRole(a Authorizer, need permission.Role, tenant TenantFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				unauthorized(w, "")
				return
			}
			tenantID := ""
			if tenant != nil {
				tenantID = tenant(r)
			}
			if err := a.Authorize(claims, tenantID, need); err != nil {
				msg := "forbidden"
				if errors.Is(err, qauth.ErrTenantSelectionRequired) {
					msg = "tenant selection required"
				}
				http.Error(w, msg, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
