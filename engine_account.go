package qauth

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/qualisys/qauth/password"
)

// ChangePassword replaces identityID's password after checking the current
// one. Every session of the identity is revoked, including the caller's.
func (e *Engine) ChangePassword(ctx context.Context, identityID, current, next string) error {
	if err := e.ready(); err != nil {
		return err
	}
	ident, err := e.provider.IdentityByID(ctx, identityID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIdentityUnavailable, err)
	}
	if ident == nil || !ident.Active {
		e.verifier.CheckDecoy(current)
		return ErrInvalidCredentials
	}

	if !e.verifier.Check(current, ident.PasswordHash).Match {
		e.emitAudit(ctx, EventPasswordChangeFailed, false, identityID, "", "", ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}
	if e.verifier.Check(next, ident.PasswordHash).Match {
		e.emitAudit(ctx, EventPasswordChangeFailed, false, identityID, "", "", ErrPasswordReuse, nil)
		return ErrPasswordReuse
	}

	hash, err := e.hasher.Hash(next)
	if err != nil {
		if errors.Is(err, password.ErrTooShort) {
			return fmt.Errorf("%w: at least %d bytes", ErrPasswordPolicy, e.hasher.Config().MinLength)
		}
		return fmt.Errorf("qauth: hash password: %w", err)
	}
	if err := e.provider.UpdatePasswordHash(ctx, identityID, hash); err != nil {
		return fmt.Errorf("%w: %v", ErrIdentityUnavailable, err)
	}
	e.metrics.Inc(MetricPasswordChanged)

	n, err := e.sessions.InvalidateAll(ctx, identityID)
	if err != nil {
		e.warn("revoking sessions after password change failed", "identity_id", identityID, "error", err)
		e.emitAudit(ctx, EventPasswordChanged, true, identityID, "", "", ErrStoreUnavailable, nil)
		return fmt.Errorf("%w: password changed but sessions were not revoked: %v", ErrStoreUnavailable, err)
	}
	e.metrics.Add(MetricSessionRevoked, uint64(n))

	if err := e.guard.Reset(ctx, normalizeEmail(ident.Email)); err != nil {
		e.warn("resetting login guard failed", "identity_id", identityID, "error", err)
	}
	e.emitAudit(ctx, EventPasswordChanged, true, identityID, "", "", nil,
		map[string]string{"revoked": strconv.Itoa(n)})
	return nil
}

// Unlock lifts the lock on email and clears its failure counters. Hosts call
// it once the account owner has been verified out of band.
func (e *Engine) Unlock(ctx context.Context, email string) error {
	if err := e.ready(); err != nil {
		return err
	}
	email = normalizeEmail(email)
	if email == "" {
		return ErrInvalidRequest
	}
	if err := e.guard.Unlock(ctx, email); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.metrics.Inc(MetricUnlock)
	e.emitAudit(ctx, EventUnlock, true, e.auditIdentity(ctx, email, ""), "", "", nil,
		map[string]string{"policy": e.unlock.Name(), "subject": subjectDigest(email)})
	return nil
}

// LockoutStatus reports the lock state and failure counts of email.
func (e *Engine) LockoutStatus(ctx context.Context, email string) (*LockoutStatus, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	st, err := e.guard.Status(ctx, normalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return &LockoutStatus{
		Locked:           st.Locked,
		LockExpiresAt:    st.LockExpiresAt,
		ThrottleFailures: st.ThrottleFailures,
		LockoutFailures:  st.LockoutFailures,
		Policy:           e.unlock.Name(),
	}, nil
}
