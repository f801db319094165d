package qauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/qualisys/qauth/jwt"
	"github.com/qualisys/qauth/permission"
)

var (
	// ErrInvalidCredentials covers unknown identities, wrong passwords and
	// inactive accounts alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrLoginThrottled is returned while an identifier is in its throttle
	// window. Use errors.As with *ThrottledError for the retry hint.
	ErrLoginThrottled = errors.New("login throttled")
	// ErrAccountLocked is returned until the lock is lifted by the unlock
	// policy.
	ErrAccountLocked = errors.New("account locked")
	// ErrUnauthorized is the single failure of refresh, tenant selection and
	// token-bound operations.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when the identity lacks the tenant or role.
	ErrForbidden = permission.ErrForbidden
	// ErrTenantSelectionRequired is returned for tenantless tokens on
	// tenant-scoped checks.
	ErrTenantSelectionRequired = permission.ErrTenantSelectionRequired
	// ErrTenantAlreadySelected is returned by SelectTenant for tokens that are
	// already bound to a tenant.
	ErrTenantAlreadySelected = errors.New("tenant already selected")
	// ErrStoreUnavailable wraps Redis failures on fail-closed paths.
	ErrStoreUnavailable = errors.New("session store unavailable")
	// ErrIdentityUnavailable wraps IdentityProvider failures.
	ErrIdentityUnavailable = errors.New("identity provider unavailable")
	// ErrMFAInvalid is returned for wrong, replayed or expired second-factor
	// codes and unknown challenges.
	ErrMFAInvalid = errors.New("mfa challenge invalid")
	// ErrMFARateLimited is returned when too many codes failed for an identity.
	ErrMFARateLimited = errors.New("mfa rate limited")
	// ErrMFAUnavailable is returned when MFA is required but not configured.
	ErrMFAUnavailable = errors.New("mfa unavailable")
	// ErrFederatedEmailUnverified rejects federated identities without a
	// verified email.
	ErrFederatedEmailUnverified = errors.New("federated email not verified")
	// ErrPasswordPolicy is returned for new passwords the hasher rejects.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrPasswordReuse is returned when the new password equals the old one.
	ErrPasswordReuse = errors.New("password reuse")
	// ErrEngineNotReady is returned by operations on a nil or half-built Engine.
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrInvalidRequest is returned for malformed input such as empty emails.
	ErrInvalidRequest = errors.New("invalid request")
)

// Access token validation failures. Errors from ValidateAccess match exactly
// one of these with errors.Is.
var (
	ErrTokenExpired          = jwt.ErrExpired
	ErrTokenInvalidSignature = jwt.ErrInvalidSignature
	ErrTokenMalformed        = jwt.ErrMalformed
)

// ThrottledError carries the retry hint of a throttled login.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("%s: retry after %s", ErrLoginThrottled, e.RetryAfter.Round(time.Second))
}

func (e *ThrottledError) Unwrap() error { return ErrLoginThrottled }

// LockedError reports a locked identifier and the policy that unlocks it.
type LockedError struct {
	// Policy is the UnlockPolicy name, such as "verification" or "timed".
	Policy string
	// Until is zero when the lock persists until an explicit unlock.
	Until time.Time
}

func (e *LockedError) Error() string {
	if e.Until.IsZero() {
		return fmt.Sprintf("%s: unlock via %s", ErrAccountLocked, e.Policy)
	}
	return fmt.Sprintf("%s: until %s", ErrAccountLocked, e.Until.UTC().Format(time.RFC3339))
}

func (e *LockedError) Unwrap() error { return ErrAccountLocked }
