package qauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/qualisys/qauth/internal/flows"
	"github.com/qualisys/qauth/internal/stores"
)

// Login verifies an email and password. On success the result carries either
// a TokenPair or, for identities with a second factor, an MFAChallenge to be
// completed with ConfirmMFA.
//
// Unknown emails, wrong passwords and inactive accounts all return
// ErrInvalidCredentials after the same amount of hashing work. Repeated
// failures return a *ThrottledError and eventually a *LockedError.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	email := normalizeEmail(req.Email)
	if email == "" {
		e.verifier.CheckDecoy(req.Password)
		return nil, ErrInvalidCredentials
	}
	device := newDeviceID(ctx)
	subject := map[string]string{"subject": subjectDigest(email)}

	res := flows.RunLogin(ctx, flows.LoginRequest{
		Identifier: email,
		Password:   req.Password,
		RememberMe: req.RememberMe,
		DeviceID:   device,
	}, e.loginDeps())

	if res.LimiterBypassed {
		e.metrics.Inc(MetricLimiterFailOpen)
		e.emitAudit(ctx, EventLimiterFailOpen, false, res.IdentityID, "", device, ErrStoreUnavailable, nil)
	}
	if res.Rehashed {
		e.metrics.Inc(MetricPasswordRehashed)
	}

	switch res.Failure {
	case flows.FailureNone:
	case flows.FailureInvalidCredentials:
		e.metrics.Inc(MetricLoginFailure)
		e.emitAudit(ctx, EventLoginFailure, false, res.IdentityID, "", device, ErrInvalidCredentials, subject)
		return nil, ErrInvalidCredentials
	case flows.FailureThrottled:
		e.metrics.Inc(MetricLoginThrottled)
		err := &ThrottledError{RetryAfter: res.RetryAfter}
		e.emitAudit(ctx, EventLoginThrottled, false, e.auditIdentity(ctx, email, res.IdentityID), "", device, err, subject)
		return nil, err
	case flows.FailureLocked:
		e.metrics.Inc(MetricLoginLocked)
		err := e.lockedError(ctx, email)
		subject["tripped"] = fmt.Sprint(res.Tripped)
		e.emitAudit(ctx, EventLoginLocked, false, e.auditIdentity(ctx, email, res.IdentityID), "", device, err, subject)
		return nil, err
	default:
		err := failureError(res.Failure, 0, res.Err)
		e.metrics.Inc(MetricLoginFailure)
		e.emitAudit(ctx, EventLoginFailure, false, res.IdentityID, "", device, err, subject)
		return nil, err
	}

	if res.ChallengeID != "" {
		e.metrics.Inc(MetricMFARequired)
		e.emitAudit(ctx, EventMFARequired, true, res.IdentityID, "", device, nil, nil)
		return &LoginResult{MFA: &MFAChallenge{ID: res.ChallengeID, Type: "totp", ExpiresAt: res.ChallengeExpiresAt}}, nil
	}

	pair := toTokenPair(res.Pair)
	e.recordIssued(ctx, EventLoginSuccess, MetricLoginSuccess, pair, nil)
	return &LoginResult{Pair: pair}, nil
}

// LoginFederated signs in an identity verified by an external provider such
// as Google. The identity is matched by verified email; providers that
// implement FederatedProvisioner may create it on first login. Password
// throttling and the second factor do not apply.
func (e *Engine) LoginFederated(ctx context.Context, fi FederatedIdentity, rememberMe bool) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	email := normalizeEmail(fi.Email)
	if email == "" || !fi.EmailVerified {
		return nil, ErrFederatedEmailUnverified
	}
	fi.Email = email
	device := newDeviceID(ctx)
	meta := map[string]string{"provider": fi.Provider}

	ident, err := e.provider.IdentityByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIdentityUnavailable, err)
	}
	if ident == nil {
		if p, ok := e.provider.(FederatedProvisioner); ok {
			ident, err = p.ProvisionFederated(ctx, fi)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrIdentityUnavailable, err)
			}
		}
	}
	if ident == nil || !ident.Active {
		e.metrics.Inc(MetricLoginFailure)
		e.emitAudit(ctx, EventLoginFailure, false, "", "", device, ErrInvalidCredentials, meta)
		return nil, ErrInvalidCredentials
	}

	pair, err := e.issue(ctx, ident.ID, rememberMe, device)
	if err != nil {
		e.metrics.Inc(MetricLoginFailure)
		e.emitAudit(ctx, EventLoginFailure, false, ident.ID, "", device, err, meta)
		return nil, err
	}
	e.metrics.Inc(MetricFederatedLogin)
	e.recordIssued(ctx, EventFederatedLogin, MetricLoginSuccess, pair, meta)
	return &LoginResult{Pair: pair}, nil
}

// issue mints a session for an already authenticated identity.
func (e *Engine) issue(ctx context.Context, identityID string, rememberMe bool, device string) (*TokenPair, error) {
	ident, err := e.lookupByID(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if ident == nil || !ident.Active {
		return nil, ErrInvalidCredentials
	}
	ms, err := e.memberships(ctx, ident.ID)
	if err != nil {
		return nil, err
	}
	res := flows.RunIssue(ctx, flows.IssueRequest{
		Identity:    *ident,
		Memberships: ms,
		RememberMe:  rememberMe,
		DeviceID:    device,
	}, e.issueDeps())
	if res.Failure != flows.FailureNone {
		return nil, failureError(res.Failure, 0, res.Err)
	}
	return toTokenPair(res.Pair), nil
}

func (e *Engine) recordIssued(ctx context.Context, event string, metric MetricID, pair *TokenPair, meta map[string]string) {
	e.metrics.Inc(metric)
	if pair.Degraded {
		e.metrics.Inc(MetricLoginDegraded)
		e.emitAudit(ctx, EventLoginDegraded, true, pair.IdentityID, pair.TenantID, pair.DeviceID, ErrStoreUnavailable, nil)
	} else {
		e.metrics.Inc(MetricSessionCreated)
	}
	if pair.TenantSelectionRequired {
		if meta == nil {
			meta = map[string]string{}
		}
		meta["tenant_selection_required"] = "true"
	}
	e.emitAudit(ctx, event, true, pair.IdentityID, pair.TenantID, pair.DeviceID, nil, meta)
}

func (e *Engine) loginDeps() flows.LoginDeps {
	deps := flows.LoginDeps{
		Issue:              e.issueDeps(),
		CheckGuard:         e.guard.Check,
		RecordGuardFailure: e.guard.RecordFailure,
		ResetGuard:         e.guard.Reset,
		LookupIdentity:     e.lookupByEmail,
		Memberships:        e.memberships,
		CheckPassword:      e.verifier.Check,
		StartMFA:           e.startMFA,
		Warn:               e.warn,
	}
	if e.config.Password.UpgradeOnLogin {
		deps.UpgradeHash = e.upgradeHash
	}
	return deps
}

func (e *Engine) upgradeHash(ctx context.Context, identityID, password string) error {
	hash, err := e.hasher.Hash(password)
	if err != nil {
		return err
	}
	return e.provider.UpdatePasswordHash(ctx, identityID, hash)
}

func (e *Engine) startMFA(ctx context.Context, identityID, deviceID string, rememberMe bool) (string, time.Time, error) {
	ttl := e.config.MFA.ChallengeTTL
	id, err := e.challenges.Create(ctx, stores.Challenge{
		IdentityID: identityID,
		DeviceID:   deviceID,
		RememberMe: rememberMe,
	}, ttl)
	if err != nil {
		return "", time.Time{}, err
	}
	return id, e.now().Add(ttl), nil
}

func (e *Engine) lockedError(ctx context.Context, email string) error {
	err := &LockedError{Policy: e.unlock.Name()}
	if e.unlock.LockTTL() > 0 {
		st, serr := e.guard.Status(ctx, email)
		if serr == nil && !st.LockExpiresAt.IsZero() {
			err.Until = st.LockExpiresAt
		}
	}
	return err
}

// auditIdentity resolves email for audit records when the guard rejected the
// attempt before the identity was looked up.
func (e *Engine) auditIdentity(ctx context.Context, email, known string) string {
	if known != "" || e.audit == nil {
		return known
	}
	ident, err := e.lookupByEmail(ctx, email)
	if err != nil || ident == nil {
		return ""
	}
	return ident.ID
}

func isUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, stores.ErrChallengeBackend)
}
