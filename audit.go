package qauth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"

	internalaudit "github.com/qualisys/qauth/internal/audit"
)

// AuditEvent is one security-relevant record.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the engine's dispatcher goroutine.
type AuditSink = internalaudit.Sink

// NoOpAuditSink discards events.
type NoOpAuditSink = internalaudit.NoOpSink

// ChannelAuditSink buffers events in a channel.
type ChannelAuditSink = internalaudit.ChannelSink

// JSONAuditSink writes one JSON object per line.
type JSONAuditSink = internalaudit.JSONWriterSink

// SlogAuditSink writes events through a structured logger.
type SlogAuditSink = internalaudit.SlogSink

// MultiAuditSink fans events out to several sinks.
type MultiAuditSink = internalaudit.MultiSink

func NewChannelAuditSink(buffer int) *ChannelAuditSink { return internalaudit.NewChannelSink(buffer) }
func NewJSONAuditSink(w io.Writer) *JSONAuditSink       { return internalaudit.NewJSONWriterSink(w) }
func NewSlogAuditSink(l *slog.Logger) *SlogAuditSink    { return internalaudit.NewSlogSink(l) }

// Audit event types.
const (
	EventLoginSuccess         = "login_success"
	EventLoginFailure         = "login_failure"
	EventLoginThrottled       = "login_throttled"
	EventLoginLocked          = "login_locked"
	EventLoginDegraded        = "login_degraded"
	EventLimiterFailOpen      = "limiter_fail_open"
	EventMFARequired          = "mfa_required"
	EventMFASuccess           = "mfa_success"
	EventMFAFailure           = "mfa_failure"
	EventFederatedLogin       = "federated_login"
	EventRefreshSuccess       = "refresh_success"
	EventRefreshInvalid       = "refresh_invalid"
	EventRefreshReuseDetected = "refresh_reuse_detected"
	EventTenantSelected       = "tenant_selected"
	EventTenantSelectDenied   = "tenant_select_denied"
	EventLogout               = "logout"
	EventLogoutAll            = "logout_all"
	EventLogoutTenant         = "logout_tenant"
	EventSessionRevoked       = "session_revoked"
	EventPasswordChanged      = "password_changed"
	EventPasswordChangeFailed = "password_change_failed"
	EventUnlock               = "account_unlocked"
)

func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, identityID, tenantID, deviceID string, err error, metadata map[string]string) {
	if e == nil || e.audit == nil {
		return
	}
	ev := AuditEvent{
		Timestamp:  e.now(),
		Type:       eventType,
		IdentityID: identityID,
		TenantID:   tenantID,
		DeviceID:   deviceID,
		Success:    success,
		Metadata:   metadata,
	}
	if err != nil {
		ev.Error = publicReason(err)
	}
	if ip := ClientIPFromContext(ctx); ip != "" {
		if ev.Metadata == nil {
			ev.Metadata = map[string]string{}
		}
		ev.Metadata["client_ip"] = ip
	}
	e.audit.Emit(ctx, ev)
}

// subjectDigest identifies a login subject in audit metadata without
// recording the email itself.
func subjectDigest(email string) string {
	sum := sha256.Sum256([]byte(email))
	return hex.EncodeToString(sum[:12])
}

// publicReason maps err to the sentinel message it wraps so backend detail
// does not leak into audit trails.
func publicReason(err error) string {
	for _, s := range []error{
		ErrInvalidCredentials, ErrLoginThrottled, ErrAccountLocked, ErrStoreUnavailable,
		ErrIdentityUnavailable, ErrMFAInvalid, ErrMFARateLimited, ErrForbidden,
		ErrTenantAlreadySelected, ErrPasswordReuse, ErrPasswordPolicy, ErrUnauthorized,
	} {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return err.Error()
}
