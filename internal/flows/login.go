package flows

import (
	"context"
	"errors"
	"time"

	"github.com/qualisys/qauth/internal/limiters"
	"github.com/qualisys/qauth/password"
)

// LoginRequest is the flow-local login input.
type LoginRequest struct {
	Identifier string
	Password   string
	RememberMe bool
	DeviceID   string
}

// LoginResult is the flow-local login output. Exactly one of Pair and
// ChallengeID is set on success. IdentityID is set whenever the identifier
// resolved to a stored identity, including on a password mismatch.
type LoginResult struct {
	Failure    FailureKind
	Err        error
	IdentityID string
	RetryAfter time.Duration

	// LimiterBypassed is set when the guard backend failed and the attempt
	// proceeded without throttle or lockout enforcement.
	LimiterBypassed bool
	// Tripped is set when this attempt's failure engaged the throttle or lock.
	Tripped bool
	// Rehashed is set when the stored hash was upgraded after a match.
	Rehashed bool

	Pair               *Pair
	ChallengeID        string
	ChallengeExpiresAt time.Time
}

// LoginDeps captures login dependencies.
type LoginDeps struct {
	Issue IssueDeps

	CheckGuard         func(context.Context, string) (limiters.Decision, error)
	RecordGuardFailure func(context.Context, string) (limiters.Decision, error)
	ResetGuard         func(context.Context, string) error

	LookupIdentity func(context.Context, string) (*Identity, error)
	Memberships    func(context.Context, string) ([]Membership, error)
	CheckPassword  func(password, stored string) password.Result
	UpgradeHash    func(ctx context.Context, identityID, password string) error

	// StartMFA is called for identities with a second factor enrolled. It
	// returns the challenge ID and its expiry.
	StartMFA func(ctx context.Context, identityID, deviceID string, rememberMe bool) (string, time.Time, error)

	Warn func(string, ...any)
}

// RunLogin verifies credentials under the throttle and lockout guard and
// issues a session or an MFA challenge.
//
// Unknown, inactive and hashless identities cost the same password
// computation as a real mismatch and share its failure kind.
func RunLogin(ctx context.Context, req LoginRequest, deps LoginDeps) LoginResult {
	var res LoginResult

	decision, err := deps.CheckGuard(ctx, req.Identifier)
	if err != nil {
		warn(deps.Warn, "login guard unavailable, proceeding without limits", "error", err)
		res.LimiterBypassed = true
	} else if !decision.Allowed() {
		if decision.Locked {
			res.Failure = FailureLocked
			return res
		}
		res.Failure = FailureThrottled
		res.RetryAfter = decision.RetryAfter
		return res
	}

	ident, err := deps.LookupIdentity(ctx, req.Identifier)
	if err != nil {
		res.Failure = FailureIdentityUnavailable
		res.Err = err
		return res
	}

	stored := ""
	if ident != nil && ident.Active {
		stored = ident.PasswordHash
	}
	if ident != nil {
		res.IdentityID = ident.ID
	}
	check := deps.CheckPassword(req.Password, stored)
	if !check.Match {
		return recordLoginFailure(ctx, req, deps, res)
	}

	if !res.LimiterBypassed {
		if err := deps.ResetGuard(ctx, req.Identifier); err != nil {
			warn(deps.Warn, "login guard reset failed", "identity_id", ident.ID, "error", err)
		}
	}

	if check.NeedsRehash && deps.UpgradeHash != nil {
		if err := deps.UpgradeHash(ctx, ident.ID, req.Password); err != nil {
			warn(deps.Warn, "password rehash failed", "identity_id", ident.ID, "error", err)
		} else {
			res.Rehashed = true
		}
	}

	if ident.MFAEnabled {
		if deps.StartMFA == nil {
			res.Failure = FailureInternal
			res.Err = errors.New("mfa enrolled but no challenge store configured")
			return res
		}
		id, expires, err := deps.StartMFA(ctx, ident.ID, req.DeviceID, req.RememberMe)
		if err != nil {
			res.Failure = FailureStoreUnavailable
			res.Err = err
			return res
		}
		res.ChallengeID = id
		res.ChallengeExpiresAt = expires
		return res
	}

	memberships, err := deps.Memberships(ctx, ident.ID)
	if err != nil {
		res.Failure = FailureIdentityUnavailable
		res.Err = err
		return res
	}

	issued := RunIssue(ctx, IssueRequest{
		Identity:    *ident,
		Memberships: memberships,
		RememberMe:  req.RememberMe,
		DeviceID:    req.DeviceID,
	}, deps.Issue)
	if issued.Failure != FailureNone {
		res.Failure = issued.Failure
		res.Err = issued.Err
		return res
	}
	res.Pair = issued.Pair
	return res
}

func recordLoginFailure(ctx context.Context, req LoginRequest, deps LoginDeps, res LoginResult) LoginResult {
	res.Failure = FailureInvalidCredentials
	if res.LimiterBypassed {
		return res
	}

	decision, err := deps.RecordGuardFailure(ctx, req.Identifier)
	if err != nil {
		warn(deps.Warn, "login guard failure not recorded", "error", err)
		res.LimiterBypassed = true
		return res
	}
	switch {
	case decision.Locked:
		res.Failure = FailureLocked
		res.Tripped = true
	case decision.Throttled:
		res.Failure = FailureThrottled
		res.RetryAfter = decision.RetryAfter
		res.Tripped = true
	}
	return res
}
