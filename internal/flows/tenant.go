package flows

import (
	"context"
	"errors"
	"time"

	"github.com/qualisys/qauth/jwt"
	"github.com/qualisys/qauth/session"
)

// SelectTenantResult is the flow-local tenant selection output.
type SelectTenantResult struct {
	Failure    FailureKind
	Err        error
	IdentityID string
	DeviceID   string
	Pair       *Pair
}

// SelectTenantDeps captures tenant selection dependencies.
type SelectTenantDeps struct {
	Issue IssueDeps
	Now   func() time.Time

	ValidateAccess   func(string) (*jwt.AccessClaims, error)
	IdentityByID     func(context.Context, string) (*Identity, error)
	Memberships      func(context.Context, string) ([]Membership, error)
	GetSession       func(ctx context.Context, identityID, tenantID, deviceID string) (*session.Record, error)
	InvalidateDevice func(ctx context.Context, identityID, tenantID, deviceID string) (int, error)
}

// RunSelectTenant converts the tenantless session behind accessToken into a
// session bound to tenantID. The new session keeps the device and the
// remaining lifetime of the old one, and the tenantless record is dropped.
func RunSelectTenant(ctx context.Context, accessToken, tenantID string, deps SelectTenantDeps) SelectTenantResult {
	var res SelectTenantResult

	claims, err := deps.ValidateAccess(accessToken)
	if err != nil {
		res.Failure = FailureUnauthorized
		res.Err = err
		return res
	}
	res.IdentityID = claims.UID
	res.DeviceID = claims.SID
	if claims.TID != "" {
		res.Failure = FailureAlreadySelected
		return res
	}

	ident, err := deps.IdentityByID(ctx, claims.UID)
	if err != nil {
		res.Failure = FailureIdentityUnavailable
		res.Err = err
		return res
	}
	if ident == nil || !ident.Active {
		res.Failure = FailureUnauthorized
		res.Err = errors.New("identity inactive")
		return res
	}

	memberships, err := deps.Memberships(ctx, ident.ID)
	if err != nil {
		res.Failure = FailureIdentityUnavailable
		res.Err = err
		return res
	}
	if _, ok := findMembership(memberships, tenantID); !ok {
		res.Failure = FailureForbidden
		return res
	}

	current, err := deps.GetSession(ctx, ident.ID, "", claims.SID)
	if err != nil {
		if errors.Is(err, session.ErrRedisUnavailable) {
			res.Failure = FailureStoreUnavailable
		} else {
			res.Failure = FailureUnauthorized
		}
		res.Err = err
		return res
	}
	remaining := current.ExpiresAt.Sub(deps.Now())
	if remaining <= 0 {
		res.Failure = FailureUnauthorized
		res.Err = session.ErrExpired
		return res
	}

	issued := RunIssue(ctx, IssueRequest{
		Identity:    *ident,
		Memberships: memberships,
		TenantID:    tenantID,
		RememberMe:  current.RememberMe,
		DeviceID:    claims.SID,
		Lifetime:    remaining,
	}, deps.Issue)
	if issued.Failure != FailureNone {
		res.Failure = issued.Failure
		res.Err = issued.Err
		return res
	}

	if _, err := deps.InvalidateDevice(ctx, ident.ID, "", claims.SID); err != nil {
		warn(deps.Issue.Warn, "dropping tenantless session failed", "identity_id", ident.ID, "error", err)
	}
	res.Pair = issued.Pair
	return res
}
