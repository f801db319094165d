package session

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrRedisUnavailable wraps every Redis transport or timeout failure.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrNotFound means the token is unknown, already revoked, or never existed.
	ErrNotFound = errors.New("refresh token not found")
	// ErrExpired means the token's record outlived its absolute expiry.
	ErrExpired = errors.New("refresh token expired")
	// ErrReused means the token was already rotated. Use errors.As with
	// *ReusedError to learn the owner.
	ErrReused = errors.New("refresh token reused")
	// ErrInvalidRecord rejects identifiers that cannot be keyed safely.
	ErrInvalidRecord = errors.New("invalid session record")
)

// ReusedError identifies the record a replayed token used to belong to.
type ReusedError struct {
	IdentityID string
	TenantID   string
	DeviceID   string
}

func (e *ReusedError) Error() string {
	return fmt.Sprintf("%s: identity %s device %s", ErrReused, e.IdentityID, e.DeviceID)
}

func (e *ReusedError) Unwrap() error { return ErrReused }

// Record is the server-side state of one refresh token.
type Record struct {
	IdentityID string
	TenantID   string
	DeviceID   string
	RememberMe bool
	CreatedAt  time.Time
	LastUsedAt time.Time
	ExpiresAt  time.Time
}

// Summary is the listing view of a record. It never carries token material.
type Summary struct {
	TenantID   string
	DeviceID   string
	RememberMe bool
	CreatedAt  time.Time
	LastUsedAt time.Time
	ExpiresAt  time.Time
}

const maxIDLength = 128

// tenantlessID stands in for the empty tenant inside keys. It is reserved and
// cannot name a real tenant.
const tenantlessID = "0"

func validateID(field, v string) error {
	if v == "" || len(v) > maxIDLength || strings.ContainsAny(v, ": \t\r\n") {
		return fmt.Errorf("%w: %s", ErrInvalidRecord, field)
	}
	return nil
}

// validateTenantID accepts the empty tenant or a well-formed tenant ID other
// than the reserved placeholder.
func validateTenantID(tenantID string) error {
	if tenantID == "" {
		return nil
	}
	if tenantID == tenantlessID {
		return fmt.Errorf("%w: tenant %q is reserved", ErrInvalidRecord, tenantID)
	}
	return validateID("tenant", tenantID)
}

func normalizeTenantID(tenantID string) string {
	if tenantID == "" {
		return tenantlessID
	}
	return tenantID
}

// denormalizeTenantID maps the stored placeholder back to the empty tenant.
func denormalizeTenantID(tenantID string) string {
	if tenantID == tenantlessID {
		return ""
	}
	return tenantID
}
