package flows

import (
	"context"
	"errors"
	"time"

	"github.com/qualisys/qauth/jwt"
	"github.com/qualisys/qauth/session"
)

// RefreshResult is the flow-local refresh output.
type RefreshResult struct {
	Failure    FailureKind
	Err        error
	IdentityID string
	TenantID   string
	DeviceID   string
	// Revoked counts records dropped as a consequence of this call.
	Revoked int
	Pair    *Pair
}

// RefreshDeps captures refresh dependencies.
type RefreshDeps struct {
	AccessTTL time.Duration

	Rotate           func(context.Context, string) (string, *session.Record, error)
	InvalidateAll    func(context.Context, string) (int, error)
	InvalidateTenant func(context.Context, string, string) (int, error)
	InvalidateDevice func(context.Context, string, string, string) (int, error)

	IdentityByID func(context.Context, string) (*Identity, error)
	Memberships  func(context.Context, string) ([]Membership, error)
	SignAccess   func(jwt.AccessClaims, time.Duration) (string, *jwt.AccessClaims, error)

	Warn func(string, ...any)
}

// RunRefresh rotates a refresh token and signs a new access token. Every
// failure is closed: no token is returned unless rotation succeeded and the
// identity still holds the session's tenant.
func RunRefresh(ctx context.Context, raw string, deps RefreshDeps) RefreshResult {
	var res RefreshResult

	next, rec, err := deps.Rotate(ctx, raw)
	if err != nil {
		var reused *session.ReusedError
		switch {
		case errors.As(err, &reused):
			res.Failure = FailureReused
			res.IdentityID = reused.IdentityID
			res.TenantID = reused.TenantID
			res.DeviceID = reused.DeviceID
			n, rerr := deps.InvalidateAll(ctx, reused.IdentityID)
			res.Revoked = n
			res.Err = err
			if rerr != nil {
				res.Err = errors.Join(err, rerr)
			}
		case errors.Is(err, session.ErrRedisUnavailable):
			res.Failure = FailureStoreUnavailable
			res.Err = err
		default:
			res.Failure = FailureUnauthorized
			res.Err = err
		}
		return res
	}
	res.IdentityID = rec.IdentityID
	res.TenantID = rec.TenantID
	res.DeviceID = rec.DeviceID

	ident, err := deps.IdentityByID(ctx, rec.IdentityID)
	if err != nil {
		res.Failure = FailureIdentityUnavailable
		res.Err = err
		dropRotated(ctx, deps, rec)
		return res
	}
	if ident == nil || !ident.Active {
		n, err := deps.InvalidateAll(ctx, rec.IdentityID)
		if err != nil {
			warn(deps.Warn, "revoking sessions of inactive identity failed", "identity_id", rec.IdentityID, "error", err)
		}
		res.Failure = FailureUnauthorized
		res.Err = errors.New("identity inactive")
		res.Revoked = n
		return res
	}

	memberships, err := deps.Memberships(ctx, ident.ID)
	if err != nil {
		res.Failure = FailureIdentityUnavailable
		res.Err = err
		dropRotated(ctx, deps, rec)
		return res
	}

	claims := jwt.AccessClaims{UID: ident.ID, SID: rec.DeviceID}
	pair := &Pair{
		RefreshToken:     next,
		RefreshExpiresAt: rec.ExpiresAt,
		IdentityID:       ident.ID,
		TenantID:         rec.TenantID,
		DeviceID:         rec.DeviceID,
	}
	if rec.TenantID != "" {
		m, ok := findMembership(memberships, rec.TenantID)
		if !ok {
			n, err := deps.InvalidateTenant(ctx, ident.ID, rec.TenantID)
			if err != nil {
				warn(deps.Warn, "revoking sessions of removed membership failed",
					"identity_id", ident.ID, "tenant_id", rec.TenantID, "error", err)
			}
			res.Failure = FailureUnauthorized
			res.Err = errors.New("membership revoked")
			res.Revoked = n
			return res
		}
		claims.TID = m.TenantID
		claims.Role = m.Role
	} else {
		active := activeMemberships(memberships)
		claims.Role = ident.Role
		claims.TSR = len(active) > 1
		if claims.TSR {
			pair.Tenants = active
		}
	}
	pair.Role = claims.Role
	pair.TenantSelectionRequired = claims.TSR

	token, issued, err := deps.SignAccess(claims, deps.AccessTTL)
	if err != nil {
		res.Failure = FailureInternal
		res.Err = err
		dropRotated(ctx, deps, rec)
		return res
	}
	pair.AccessToken = token
	pair.AccessExpiresAt = issued.ExpiresAt.Time
	res.Pair = pair
	return res
}

// dropRotated removes a record whose replacement token will never reach the
// client.
func dropRotated(ctx context.Context, deps RefreshDeps, rec *session.Record) {
	if _, err := deps.InvalidateDevice(ctx, rec.IdentityID, rec.TenantID, rec.DeviceID); err != nil {
		warn(deps.Warn, "dropping unreachable session failed", "identity_id", rec.IdentityID, "error", err)
	}
}
