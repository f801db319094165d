package qauth

import (
	"context"

	"github.com/qualisys/qauth/internal/flows"
)

// SelectTenant binds a tenantless login to one of the identity's tenants.
// accessToken must be a valid token issued with TenantSelectionRequired.
// The returned pair replaces the tenantless one, which stops working.
func (e *Engine) SelectTenant(ctx context.Context, accessToken, tenantID string) (*TokenPair, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if tenantID == "" {
		return nil, ErrInvalidRequest
	}

	res := flows.RunSelectTenant(ctx, accessToken, tenantID, flows.SelectTenantDeps{
		Issue:            e.issueDeps(),
		Now:              e.now,
		ValidateAccess:   e.signer.Validate,
		IdentityByID:     e.lookupByID,
		Memberships:      e.memberships,
		GetSession:       e.sessions.Get,
		InvalidateDevice: e.sessions.InvalidateDevice,
	})
	if res.Failure != flows.FailureNone {
		err := failureError(res.Failure, 0, res.Err)
		if res.Failure == flows.FailureForbidden {
			e.metrics.Inc(MetricTenantSelectForbidden)
		}
		e.emitAudit(ctx, EventTenantSelectDenied, false, res.IdentityID, tenantID, res.DeviceID, err, nil)
		return nil, err
	}

	pair := toTokenPair(res.Pair)
	e.metrics.Inc(MetricTenantSelectSuccess)
	if !pair.Degraded {
		e.metrics.Inc(MetricSessionCreated)
	}
	e.emitAudit(ctx, EventTenantSelected, true, pair.IdentityID, pair.TenantID, pair.DeviceID, nil, nil)
	return pair, nil
}
