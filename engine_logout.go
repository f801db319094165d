package qauth

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/qualisys/qauth/internal/flows"
	"github.com/qualisys/qauth/session"
)

func (e *Engine) logoutDeps() flows.LogoutDeps {
	return flows.LogoutDeps{
		InvalidateOne: e.sessions.InvalidateOne,
		InvalidateAll: e.sessions.InvalidateAll,
	}
}

// Logout revokes the session behind refreshToken. Unknown, malformed and
// already revoked tokens succeed.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if err := e.ready(); err != nil {
		return err
	}
	res := flows.RunLogout(ctx, refreshToken, e.logoutDeps())
	if res.Failure != flows.FailureNone {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, res.Err)
	}
	e.metrics.Inc(MetricLogout)
	if res.Record != nil {
		e.metrics.Inc(MetricSessionRevoked)
		e.emitAudit(ctx, EventLogout, true, res.Record.IdentityID, res.Record.TenantID, res.Record.DeviceID, nil, nil)
	}
	return nil
}

// LogoutAll revokes every session of identityID in every tenant. It fails
// with ErrStoreUnavailable rather than report a revocation that did not
// happen.
func (e *Engine) LogoutAll(ctx context.Context, identityID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	res := flows.RunLogoutAll(ctx, identityID, e.logoutDeps())
	if res.Failure != flows.FailureNone {
		e.emitAudit(ctx, EventLogoutAll, false, identityID, "", "", ErrStoreUnavailable, nil)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, res.Err)
	}
	e.metrics.Inc(MetricLogoutAll)
	e.metrics.Add(MetricSessionRevoked, uint64(res.Revoked))
	e.emitAudit(ctx, EventLogoutAll, true, identityID, "", "", nil,
		map[string]string{"revoked": strconv.Itoa(res.Revoked)})
	return nil
}

// LogoutTenant revokes identityID's sessions in tenantID only. Hosts call it
// when a membership is removed.
func (e *Engine) LogoutTenant(ctx context.Context, identityID, tenantID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if tenantID == "" {
		return ErrInvalidRequest
	}
	n, err := e.sessions.InvalidateTenant(ctx, identityID, tenantID)
	if errors.Is(err, session.ErrInvalidRecord) {
		return ErrInvalidRequest
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.metrics.Add(MetricSessionRevoked, uint64(n))
	e.emitAudit(ctx, EventLogoutTenant, true, identityID, tenantID, "", nil,
		map[string]string{"revoked": strconv.Itoa(n)})
	return nil
}

// ListSessions returns identityID's live sessions, most recently used first.
func (e *Engine) ListSessions(ctx context.Context, identityID string) ([]SessionSummary, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	list, err := e.sessions.List(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	out := make([]SessionSummary, len(list))
	for i, s := range list {
		out[i] = SessionSummary{
			TenantID:   s.TenantID,
			DeviceID:   s.DeviceID,
			RememberMe: s.RememberMe,
			CreatedAt:  s.CreatedAt,
			LastUsedAt: s.LastUsedAt,
			ExpiresAt:  s.ExpiresAt,
		}
	}
	return out, nil
}

// RevokeSession revokes one device of identityID in every tenant. Revoking an
// unknown device succeeds.
func (e *Engine) RevokeSession(ctx context.Context, identityID, deviceID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	n, err := e.sessions.RevokeDevice(ctx, identityID, deviceID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if n > 0 {
		e.metrics.Add(MetricSessionRevoked, uint64(n))
		e.emitAudit(ctx, EventSessionRevoked, true, identityID, "", deviceID, nil, nil)
	}
	return nil
}
