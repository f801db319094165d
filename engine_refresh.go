package qauth

import (
	"context"
	"errors"
	"strconv"

	"github.com/qualisys/qauth/internal/flows"
)

// Refresh rotates a refresh token. The old token stops working and the new
// pair keeps the session's original expiry. Every failure is ErrUnauthorized;
// a store outage additionally matches ErrStoreUnavailable.
//
// Presenting an already rotated token revokes every session of its owner in
// every tenant.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	res := flows.RunRefresh(ctx, refreshToken, flows.RefreshDeps{
		AccessTTL:        e.config.JWT.AccessTTL,
		Rotate:           e.sessions.Rotate,
		InvalidateAll:    e.sessions.InvalidateAll,
		InvalidateTenant: e.sessions.InvalidateTenant,
		InvalidateDevice: e.sessions.InvalidateDevice,
		IdentityByID:     e.lookupByID,
		Memberships:      e.memberships,
		SignAccess:       e.signer.Issue,
		Warn:             e.warn,
	})

	switch res.Failure {
	case flows.FailureNone:
		e.metrics.Inc(MetricRefreshSuccess)
		e.emitAudit(ctx, EventRefreshSuccess, true, res.IdentityID, res.TenantID, res.DeviceID, nil, nil)
		return toTokenPair(res.Pair), nil
	case flows.FailureReused:
		e.metrics.Inc(MetricRefreshReuseDetected)
		e.metrics.Add(MetricSessionRevoked, uint64(res.Revoked))
		e.logger.Warn("refresh token reuse detected, revoked all sessions",
			"identity_id", res.IdentityID, "tenant_id", res.TenantID, "device_id", res.DeviceID, "revoked", res.Revoked)
		e.emitAudit(ctx, EventRefreshReuseDetected, false, res.IdentityID, res.TenantID, res.DeviceID, ErrUnauthorized,
			map[string]string{"revoked": strconv.Itoa(res.Revoked)})
	case flows.FailureStoreUnavailable:
		e.metrics.Inc(MetricRefreshStoreUnavailable)
		e.metrics.Inc(MetricRefreshFailure)
		e.emitAudit(ctx, EventRefreshInvalid, false, "", "", "", ErrStoreUnavailable, nil)
	default:
		e.metrics.Inc(MetricRefreshFailure)
		e.metrics.Add(MetricSessionRevoked, uint64(res.Revoked))
		e.emitAudit(ctx, EventRefreshInvalid, false, res.IdentityID, res.TenantID, res.DeviceID, res.Err,
			map[string]string{"reason": res.Failure.String()})
	}
	err := failureError(res.Failure, 0, res.Err)
	if !errors.Is(err, ErrUnauthorized) {
		err = errors.Join(ErrUnauthorized, err)
	}
	return nil, err
}
