package flows

import (
	"context"
	"errors"
	"time"

	"github.com/qualisys/qauth/jwt"
	"github.com/qualisys/qauth/session"
)

// IssueDeps is shared by every flow that mints a new session.
type IssueDeps struct {
	AccessTTL     time.Duration
	RefreshTTL    func(rememberMe bool) time.Duration
	CreateSession func(context.Context, session.Record, time.Duration) (string, *session.Record, error)
	SignAccess    func(jwt.AccessClaims, time.Duration) (string, *jwt.AccessClaims, error)
	Warn          func(string, ...any)
}

// IssueRequest describes the session to mint. When TenantID is empty the
// tenant is resolved from Memberships. A positive Lifetime overrides
// RefreshTTL.
type IssueRequest struct {
	Identity    Identity
	Memberships []Membership
	TenantID    string
	RememberMe  bool
	DeviceID    string
	Lifetime    time.Duration
}

// IssueResult is returned by RunIssue.
type IssueResult struct {
	Failure FailureKind
	Err     error
	Pair    *Pair
}

// ResolveTenant decides the session tenant for an identity. A single active
// membership is selected automatically. Several defer the choice, and none
// yields a tenantless session carrying the identity's own role.
func ResolveTenant(ident Identity, memberships []Membership) (tenantID, role string, deferred bool, active []Membership) {
	active = activeMemberships(memberships)
	switch len(active) {
	case 0:
		return "", ident.Role, false, active
	case 1:
		return active[0].TenantID, active[0].Role, false, active
	default:
		return "", ident.Role, true, active
	}
}

// RunIssue creates the refresh record and signs the access token. A refresh
// store outage degrades to an access-only pair.
func RunIssue(ctx context.Context, req IssueRequest, deps IssueDeps) IssueResult {
	tenantID, role, deferred, active := ResolveTenant(req.Identity, req.Memberships)
	if req.TenantID != "" {
		m, ok := findMembership(active, req.TenantID)
		if !ok {
			return IssueResult{Failure: FailureForbidden, Err: errors.New("no active membership for tenant")}
		}
		tenantID, role, deferred = m.TenantID, m.Role, false
	}

	lifetime := req.Lifetime
	if lifetime <= 0 {
		lifetime = deps.RefreshTTL(req.RememberMe)
	}

	pair := &Pair{
		IdentityID:              req.Identity.ID,
		TenantID:                tenantID,
		Role:                    role,
		DeviceID:                req.DeviceID,
		TenantSelectionRequired: deferred,
	}
	if deferred {
		pair.Tenants = active
	}

	raw, rec, err := deps.CreateSession(ctx, session.Record{
		IdentityID: req.Identity.ID,
		TenantID:   tenantID,
		DeviceID:   req.DeviceID,
		RememberMe: req.RememberMe,
	}, lifetime)
	switch {
	case err == nil:
		pair.RefreshToken = raw
		pair.RefreshExpiresAt = rec.ExpiresAt
	case errors.Is(err, session.ErrRedisUnavailable):
		warn(deps.Warn, "refresh store unavailable, issuing access token only",
			"identity_id", req.Identity.ID, "error", err)
		pair.Degraded = true
	default:
		return IssueResult{Failure: FailureInternal, Err: err}
	}

	token, claims, err := deps.SignAccess(jwt.AccessClaims{
		UID:  req.Identity.ID,
		TID:  tenantID,
		Role: role,
		SID:  req.DeviceID,
		TSR:  deferred,
	}, deps.AccessTTL)
	if err != nil {
		return IssueResult{Failure: FailureInternal, Err: err}
	}
	pair.AccessToken = token
	pair.AccessExpiresAt = claims.ExpiresAt.Time
	return IssueResult{Pair: pair}
}
