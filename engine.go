package qauth

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	internalaudit "github.com/qualisys/qauth/internal/audit"
	"github.com/qualisys/qauth/internal/flows"
	"github.com/qualisys/qauth/internal/limiters"
	"github.com/qualisys/qauth/internal/stores"
	"github.com/qualisys/qauth/jwt"
	"github.com/qualisys/qauth/password"
	"github.com/qualisys/qauth/permission"
	"github.com/qualisys/qauth/session"
	"github.com/qualisys/qauth/totp"
)

// Engine runs every authentication and session operation. It is safe for
// concurrent use once built.
type Engine struct {
	config   Config
	logger   *slog.Logger
	now      func() time.Time
	provider IdentityProvider

	verifier   *password.Verifier
	hasher     *password.Argon2
	signer     *jwt.Manager
	sessions   *session.Store
	guard      *limiters.LoginGuard
	mfaLimiter *limiters.MFALimiter
	challenges *stores.ChallengeStore
	totp       *totp.Manager
	unlock     UnlockPolicy
	roles      *permission.Registry

	audit   *internalaudit.Dispatcher
	metrics *Metrics

	ephemeralKey    bool
	ephemeralPepper bool
}

// Close flushes pending audit events and stops the dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// AuditDropped returns the number of audit events that never reached the sink.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return NewMetrics(MetricsConfig{}).Snapshot()
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the active configuration without secrets.
func (e *Engine) Config() Config {
	cfg := cloneConfig(e.config)
	cfg.JWT.PrivateKey = nil
	cfg.Session.Pepper = nil
	return cfg
}

// PublicKey returns the Ed25519 public key other services verify access
// tokens with, PEM encoded.
func (e *Engine) PublicKey() ([]byte, error) {
	priv, err := jwt.ParsePrivateKey(e.config.JWT.PrivateKey)
	if err != nil {
		return nil, err
	}
	return jwt.MarshalPublicKeyPEM(priv.Public().(ed25519.PublicKey))
}

func (e *Engine) ready() error {
	if e == nil || e.sessions == nil || e.signer == nil || e.provider == nil {
		return ErrEngineNotReady
	}
	return nil
}

func (e *Engine) warn(msg string, args ...any) {
	e.logger.Warn(msg, args...)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func newDeviceID(ctx context.Context) string {
	if id := DeviceIDFromContext(ctx); id != "" {
		return id
	}
	return ulid.Make().String()
}

func (e *Engine) refreshTTL(rememberMe bool) time.Duration {
	if rememberMe {
		return e.config.Session.RememberMeTTL
	}
	return e.config.Session.RefreshTTL
}

func toFlowIdentity(id *Identity) *flows.Identity {
	if id == nil {
		return nil
	}
	return &flows.Identity{
		ID:           id.ID,
		Email:        id.Email,
		PasswordHash: id.PasswordHash,
		Role:         string(id.Role),
		Active:       id.Active,
		MFAEnabled:   id.MFAEnabled,
	}
}

func toFlowMemberships(ms []Membership) []flows.Membership {
	out := make([]flows.Membership, len(ms))
	for i, m := range ms {
		out[i] = flows.Membership{TenantID: m.TenantID, Role: string(m.Role), Active: m.Active}
	}
	return out
}

func toTokenPair(p *flows.Pair) *TokenPair {
	if p == nil {
		return nil
	}
	out := &TokenPair{
		AccessToken:             p.AccessToken,
		RefreshToken:            p.RefreshToken,
		AccessExpiresAt:         p.AccessExpiresAt,
		RefreshExpiresAt:        p.RefreshExpiresAt,
		IdentityID:              p.IdentityID,
		TenantID:                p.TenantID,
		Role:                    permission.Role(p.Role),
		DeviceID:                p.DeviceID,
		TenantSelectionRequired: p.TenantSelectionRequired,
		Degraded:                p.Degraded,
	}
	for _, m := range p.Tenants {
		out.Tenants = append(out.Tenants, TenantChoice{TenantID: m.TenantID, Role: permission.Role(m.Role)})
	}
	return out
}

func (e *Engine) lookupByEmail(ctx context.Context, email string) (*flows.Identity, error) {
	id, err := e.provider.IdentityByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIdentityUnavailable, err)
	}
	return toFlowIdentity(id), nil
}

func (e *Engine) lookupByID(ctx context.Context, identityID string) (*flows.Identity, error) {
	id, err := e.provider.IdentityByID(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIdentityUnavailable, err)
	}
	return toFlowIdentity(id), nil
}

func (e *Engine) memberships(ctx context.Context, identityID string) ([]flows.Membership, error) {
	ms, err := e.provider.Memberships(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIdentityUnavailable, err)
	}
	return toFlowMemberships(ms), nil
}

func (e *Engine) issueDeps() flows.IssueDeps {
	return flows.IssueDeps{
		AccessTTL:     e.config.JWT.AccessTTL,
		RefreshTTL:    e.refreshTTL,
		CreateSession: e.sessions.Create,
		SignAccess:    e.signer.Issue,
		Warn:          e.warn,
	}
}

// failureError maps a flow failure to the public error returned to callers.
func failureError(kind flows.FailureKind, retryAfter time.Duration, cause error) error {
	switch kind {
	case flows.FailureNone:
		return nil
	case flows.FailureInvalidCredentials:
		return ErrInvalidCredentials
	case flows.FailureThrottled:
		return &ThrottledError{RetryAfter: retryAfter}
	case flows.FailureLocked:
		return ErrAccountLocked
	case flows.FailureUnauthorized, flows.FailureReused:
		return ErrUnauthorized
	case flows.FailureForbidden:
		return ErrForbidden
	case flows.FailureAlreadySelected:
		return ErrTenantAlreadySelected
	case flows.FailureIdentityUnavailable:
		if cause != nil && errors.Is(cause, ErrIdentityUnavailable) {
			return cause
		}
		return fmt.Errorf("%w: %v", ErrIdentityUnavailable, cause)
	case flows.FailureStoreUnavailable:
		return errors.Join(ErrUnauthorized, fmt.Errorf("%w: %v", ErrStoreUnavailable, cause))
	default:
		if cause == nil {
			cause = errors.New("internal error")
		}
		return fmt.Errorf("qauth: %w", cause)
	}
}
