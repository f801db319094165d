package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/qualisys/qauth"
)

// Validator is satisfied by *qauth.Engine.
type Validator interface {
	ValidateAccess(ctx context.Context, token string) (*qauth.Claims, error)
}

type claimsContextKey struct{}

// ClaimsFromContext returns the claims stored by Guard.
func ClaimsFromContext(ctx context.Context) (*qauth.Claims, bool) {
	c, ok := ctx.Value(claimsContextKey{}).(*qauth.Claims)
	return c, ok && c != nil
}

// WithClaims stores c the way Guard does.
func WithClaims(ctx context.Context, c *qauth.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, c)
}

// Guard rejects requests without a valid bearer access token.
func Guard(v Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil {
				unauthorized(w, "")
				return
			}
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				unauthorized(w, "")
				return
			}
			claims, err := v.ValidateAccess(r.Context(), token)
			if err != nil {
				desc := "invalid token"
				if errors.Is(err, qauth.ErrTokenExpired) {
					desc = "token expired"
				}
				unauthorized(w, desc)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func unauthorized(w http.ResponseWriter, desc string) {
	challenge := `Bearer realm="qualisys"`
	if desc != "" {
		challenge += `, error="invalid_token", error_description="` + desc + `"`
	}
	w.Header().Set("WWW-Authenticate", challenge)
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func bearerToken(value string) (string, bool) {
	const bearer = "bearer "
	if len(value) <= len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}
	token := strings.TrimSpace(value[len(bearer):])
	return token, token != ""
}
