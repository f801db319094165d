package qauth

import (
	"context"
	"time"

	"github.com/qualisys/qauth/permission"
)

// Identity is an account as seen by the auth core.
type Identity struct {
	ID    string
	Email string
	// PasswordHash is a PHC Argon2id string or a legacy bcrypt hash. Empty for
	// federated-only accounts.
	PasswordHash string
	// Role applies to tenantless tokens.
	Role       permission.Role
	Active     bool
	MFAEnabled bool
}

// Membership binds an identity to a tenant with a role.
type Membership struct {
	TenantID string
	Role     permission.Role
	Active   bool
}

// IdentityProvider is the host's identity and membership store. Lookups
// return (nil, nil) for unknown identities; errors mean the backend failed.
type IdentityProvider interface {
	IdentityByEmail(ctx context.Context, email string) (*Identity, error)
	IdentityByID(ctx context.Context, id string) (*Identity, error)
	Memberships(ctx context.Context, identityID string) ([]Membership, error)
	UpdatePasswordHash(ctx context.Context, identityID, hash string) error
	// TOTPSecret returns the raw TOTP secret, or nil when none is enrolled.
	TOTPSecret(ctx context.Context, identityID string) ([]byte, error)
}

// FederatedProvisioner is optionally implemented by an IdentityProvider that
// creates identities on first federated login.
type FederatedProvisioner interface {
	ProvisionFederated(ctx context.Context, fi FederatedIdentity) (*Identity, error)
}

// FederatedIdentity is the verified result of an external identity provider.
type FederatedIdentity struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
}

// LoginRequest is the input of Engine.Login.
type LoginRequest struct {
	Email      string
	Password   string
	RememberMe bool
}

// LoginResult holds either a token pair or a pending MFA challenge.
type LoginResult struct {
	Pair *TokenPair
	MFA  *MFAChallenge
}

// MFAChallenge is returned when a second factor is required.
type MFAChallenge struct {
	ID        string
	Type      string
	ExpiresAt time.Time
}

// TenantChoice is offered when a login must pick a tenant.
type TenantChoice struct {
	TenantID string
	Role     permission.Role
}

// TokenPair is the result of a successful login, refresh or tenant selection.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time

	IdentityID string
	TenantID   string
	Role       permission.Role
	DeviceID   string

	// TenantSelectionRequired is set when the identity holds several active
	// memberships. Call Engine.SelectTenant with one of Tenants.
	TenantSelectionRequired bool
	Tenants                 []TenantChoice

	// Degraded is set when no refresh token could be stored. The access
	// token is valid; the client must log in again when it expires.
	Degraded bool
}

// Claims is the validated view of an access token.
type Claims struct {
	IdentityID              string
	TenantID                string
	Role                    permission.Role
	DeviceID                string
	TokenID                 string
	IssuedAt                time.Time
	ExpiresAt               time.Time
	TenantSelectionRequired bool
}

// SessionSummary describes one live refresh session.
type SessionSummary struct {
	TenantID   string
	DeviceID   string
	RememberMe bool
	CreatedAt  time.Time
	LastUsedAt time.Time
	ExpiresAt  time.Time
}

// LockoutStatus is the operator view of one login identifier.
type LockoutStatus struct {
	Locked           bool
	LockExpiresAt    time.Time
	ThrottleFailures int
	LockoutFailures  int
	Policy           string
}
