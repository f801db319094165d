package qauth

import (
	"context"
	"time"

	"github.com/qualisys/qauth/jwt"
	"github.com/qualisys/qauth/permission"
)

// ValidateAccess verifies an access token's signature, issuer, audience and
// expiry. It does not consult Redis; a revoked session's access token stays
// valid until it expires. Failures match ErrTokenExpired,
// ErrTokenInvalidSignature or ErrTokenMalformed.
func (e *Engine) ValidateAccess(_ context.Context, token string) (*Claims, error) {
	if e == nil || e.signer == nil {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	ac, err := e.signer.Validate(token)
	e.metrics.Observe(MetricValidateLatency, time.Since(start))
	if err != nil {
		return nil, err
	}
	return claimsFromJWT(ac), nil
}

func claimsFromJWT(ac *jwt.AccessClaims) *Claims {
	c := &Claims{
		IdentityID:              ac.UID,
		TenantID:                ac.TID,
		Role:                    permission.Role(ac.Role),
		DeviceID:                ac.SID,
		TokenID:                 ac.ID,
		TenantSelectionRequired: ac.TSR,
	}
	if ac.IssuedAt != nil {
		c.IssuedAt = ac.IssuedAt.Time
	}
	if ac.ExpiresAt != nil {
		c.ExpiresAt = ac.ExpiresAt.Time
	}
	return c
}

// Authorize reports whether claims grant at least role need in tenantID. An
// empty tenantID checks the token's own tenant. Tokens issued before tenant
// selection fail with ErrTenantSelectionRequired.
func (e *Engine) Authorize(claims *Claims, tenantID string, need permission.Role) error {
	reg := permission.DefaultRegistry()
	if e != nil && e.roles != nil {
		reg = e.roles
	}
	return authorize(reg, claims, tenantID, need)
}

// Authorize checks claims against the built-in QUALISYS roles.
func Authorize(claims *Claims, tenantID string, need permission.Role) error {
	return authorize(defaultRoles, claims, tenantID, need)
}

var defaultRoles = permission.DefaultRegistry()

func authorize(reg *permission.Registry, claims *Claims, tenantID string, need permission.Role) error {
	if claims == nil {
		return ErrUnauthorized
	}
	if claims.TenantSelectionRequired {
		return ErrTenantSelectionRequired
	}
	return reg.Authorize(permission.Grant{TenantID: claims.TenantID, Role: claims.Role}, tenantID, need)
}
