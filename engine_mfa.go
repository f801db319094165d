package qauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/qualisys/qauth/internal/limiters"
	"github.com/qualisys/qauth/internal/stores"
)

// ConfirmMFA completes a login that returned an MFAChallenge. Wrong, replayed
// and expired codes all return ErrMFAInvalid; each failure consumes one of the
// challenge's attempts. A challenge completes at most once.
func (e *Engine) ConfirmMFA(ctx context.Context, challengeID, code string) (*TokenPair, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	ch, err := e.challenges.Get(ctx, challengeID)
	if err != nil {
		if isUnavailable(err) {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return nil, ErrMFAInvalid
	}

	if err := e.mfaLimiter.Check(ctx, ch.IdentityID); err != nil {
		if errors.Is(err, limiters.ErrMFARateLimited) {
			e.metrics.Inc(MetricMFAFailure)
			e.emitAudit(ctx, EventMFAFailure, false, ch.IdentityID, "", ch.DeviceID, ErrMFARateLimited, nil)
			return nil, ErrMFARateLimited
		}
		e.warn("mfa limiter unavailable, proceeding without limits", "identity_id", ch.IdentityID, "error", err)
		e.metrics.Inc(MetricLimiterFailOpen)
	}

	secret, err := e.provider.TOTPSecret(ctx, ch.IdentityID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIdentityUnavailable, err)
	}
	if len(secret) == 0 {
		return nil, ErrMFAUnavailable
	}

	ok, counter, err := e.totp.Verify(secret, code, e.now())
	if err != nil || !ok {
		return nil, e.failMFA(ctx, challengeID, ch, "invalid_code")
	}

	cfg := e.totp.Config()
	stepWindow := time.Duration(cfg.Period*(2*cfg.Skew+2)) * time.Second
	fresh, err := e.challenges.MarkStepUsed(ctx, ch.IdentityID, counter, stepWindow)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !fresh {
		e.metrics.Inc(MetricMFAReplay)
		return nil, e.failMFA(ctx, challengeID, ch, "replay")
	}

	consumed, err := e.challenges.Consume(ctx, challengeID)
	if err != nil {
		if isUnavailable(err) {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return nil, ErrMFAInvalid
	}
	if err := e.mfaLimiter.Reset(ctx, consumed.IdentityID); err != nil {
		e.warn("mfa limiter reset failed", "identity_id", consumed.IdentityID, "error", err)
	}

	pair, err := e.issue(ctx, consumed.IdentityID, consumed.RememberMe, consumed.DeviceID)
	if err != nil {
		e.metrics.Inc(MetricMFAFailure)
		e.emitAudit(ctx, EventMFAFailure, false, consumed.IdentityID, "", consumed.DeviceID, err, nil)
		return nil, err
	}
	e.metrics.Inc(MetricMFASuccess)
	e.emitAudit(ctx, EventMFASuccess, true, pair.IdentityID, pair.TenantID, pair.DeviceID, nil, nil)
	e.recordIssued(ctx, EventLoginSuccess, MetricLoginSuccess, pair, map[string]string{"mfa": "totp"})
	return pair, nil
}

func (e *Engine) failMFA(ctx context.Context, challengeID string, ch *stores.Challenge, reason string) error {
	e.metrics.Inc(MetricMFAFailure)
	meta := map[string]string{"reason": reason}

	exceeded, err := e.challenges.RecordFailure(ctx, challengeID, e.config.MFA.MaxAttempts)
	if err != nil && !errors.Is(err, stores.ErrChallengeNotFound) && !errors.Is(err, stores.ErrChallengeExpired) {
		e.warn("mfa failure not recorded", "identity_id", ch.IdentityID, "error", err)
	}
	if exceeded {
		meta["challenge_exhausted"] = "true"
	}
	if err := e.mfaLimiter.RecordFailure(ctx, ch.IdentityID); err != nil {
		e.warn("mfa limiter failure not recorded", "identity_id", ch.IdentityID, "error", err)
	}
	e.emitAudit(ctx, EventMFAFailure, false, ch.IdentityID, "", ch.DeviceID, ErrMFAInvalid, meta)
	return ErrMFAInvalid
}
