package flows

import "time"

// FailureKind classifies why a flow did not succeed.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureInvalidCredentials
	FailureThrottled
	FailureLocked
	FailureUnauthorized
	FailureReused
	FailureForbidden
	FailureAlreadySelected
	FailureIdentityUnavailable
	FailureStoreUnavailable
	FailureInternal
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureInvalidCredentials:
		return "invalid_credentials"
	case FailureThrottled:
		return "throttled"
	case FailureLocked:
		return "locked"
	case FailureUnauthorized:
		return "unauthorized"
	case FailureReused:
		return "reused"
	case FailureForbidden:
		return "forbidden"
	case FailureAlreadySelected:
		return "tenant_already_selected"
	case FailureIdentityUnavailable:
		return "identity_unavailable"
	case FailureStoreUnavailable:
		return "store_unavailable"
	default:
		return "internal"
	}
}

// Identity is the flow-local view of an account.
type Identity struct {
	ID           string
	Email        string
	PasswordHash string
	Role         string
	Active       bool
	MFAEnabled   bool
}

// Membership is the flow-local view of one tenant membership.
type Membership struct {
	TenantID string
	Role     string
	Active   bool
}

// Pair is the token set produced by a successful flow.
type Pair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time

	IdentityID string
	TenantID   string
	Role       string
	DeviceID   string

	TenantSelectionRequired bool
	Tenants                 []Membership
	// Degraded is set when the refresh store could not be written and only
	// an access token was issued.
	Degraded bool
}

func activeMemberships(all []Membership) []Membership {
	out := make([]Membership, 0, len(all))
	for _, m := range all {
		if m.Active && m.TenantID != "" {
			out = append(out, m)
		}
	}
	return out
}

func findMembership(all []Membership, tenantID string) (Membership, bool) {
	for _, m := range all {
		if m.Active && m.TenantID == tenantID {
			return m, true
		}
	}
	return Membership{}, false
}

func warn(fn func(string, ...any), msg string, args ...any) {
	if fn != nil {
		fn(msg, args...)
	}
}
