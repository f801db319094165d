package security

import "time"

// Minimum Argon2id cost below which a report flags the hasher as weak.
const (
	minArgonMemoryKB = 19 * 1024
	minArgonTime     = 2
)

// Finding codes.
const (
	FindingEphemeralKey    = "ephemeral_signing_key"
	FindingEphemeralPepper = "ephemeral_refresh_pepper"
	FindingWeakArgon2      = "weak_argon2"
	FindingAuditDisabled   = "audit_disabled"
	FindingLongAccessTTL   = "long_access_ttl"
)

type PasswordReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

type Report struct {
	ProductionMode   bool
	SigningAlgorithm string
	KeyID            string
	VerifyKeys       int
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	RememberMeTTL    time.Duration
	ReuseWindow      time.Duration
	Argon2           PasswordReport

	ThrottleMax    int
	ThrottleWindow time.Duration
	LockoutMax     int
	LockoutWindow  time.Duration
	UnlockPolicy   string
	// PersistentLockout is set when locks only lift on an explicit unlock.
	PersistentLockout bool

	MFARateMax     int
	AuditEnabled   bool
	MetricsEnabled bool

	Findings []string
}

type ReportInput struct {
	ProductionMode  bool
	EphemeralKey    bool
	EphemeralPepper bool
	KeyID           string
	VerifyKeys      int
	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	RememberMeTTL   time.Duration
	ReuseWindow     time.Duration
	Password        PasswordReport
	ThrottleMax     int
	ThrottleWindow  time.Duration
	LockoutMax      int
	LockoutWindow   time.Duration
	UnlockPolicy    string
	LockTTL         time.Duration
	MFARateMax      int
	AuditEnabled    bool
	MetricsEnabled  bool
}

func BuildReport(in ReportInput) Report {
	r := Report{
		ProductionMode:    in.ProductionMode,
		SigningAlgorithm:  "EdDSA",
		KeyID:             in.KeyID,
		VerifyKeys:        in.VerifyKeys,
		AccessTTL:         in.AccessTTL,
		RefreshTTL:        in.RefreshTTL,
		RememberMeTTL:     in.RememberMeTTL,
		ReuseWindow:       in.ReuseWindow,
		Argon2:            in.Password,
		ThrottleMax:       in.ThrottleMax,
		ThrottleWindow:    in.ThrottleWindow,
		LockoutMax:        in.LockoutMax,
		LockoutWindow:     in.LockoutWindow,
		UnlockPolicy:      in.UnlockPolicy,
		PersistentLockout: in.LockTTL == 0,
		MFARateMax:        in.MFARateMax,
		AuditEnabled:      in.AuditEnabled,
		MetricsEnabled:    in.MetricsEnabled,
	}

	if in.EphemeralKey {
		r.Findings = append(r.Findings, FindingEphemeralKey)
	}
	if in.EphemeralPepper {
		r.Findings = append(r.Findings, FindingEphemeralPepper)
	}
	if in.Password.Memory < minArgonMemoryKB || in.Password.Time < minArgonTime {
		r.Findings = append(r.Findings, FindingWeakArgon2)
	}
	if !in.AuditEnabled {
		r.Findings = append(r.Findings, FindingAuditDisabled)
	}
	if in.AccessTTL > time.Hour {
		r.Findings = append(r.Findings, FindingLongAccessTTL)
	}
	return r
}
