package qauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/qualisys/qauth/password"
	"github.com/qualisys/qauth/refresh"
	"github.com/qualisys/qauth/totp"
)

// Config is the complete engine configuration. Start from DefaultConfig.
type Config struct {
	JWT      JWTConfig
	Password PasswordConfig
	Session  SessionConfig
	Limits   LimitsConfig
	MFA      MFAConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
	Security SecurityConfig
}

// JWTConfig configures access tokens. Keys are PEM or raw Ed25519 bytes.
type JWTConfig struct {
	AccessTTL  time.Duration
	Issuer     string
	Audience   string
	Leeway     time.Duration
	KeyID      string
	PrivateKey []byte
	PublicKey  []byte
	// VerifyKeys maps kid to public key during key rotation.
	VerifyKeys map[string][]byte
}

// PasswordConfig holds Argon2id parameters.
type PasswordConfig struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	MinLength   int
	// UpgradeOnLogin rehashes bcrypt and outdated Argon2 hashes after a
	// successful login.
	UpgradeOnLogin bool
}

// SessionConfig holds refresh session settings.
type SessionConfig struct {
	RefreshTTL    time.Duration
	RememberMeTTL time.Duration
	// ReuseWindow is how long a rotated token is remembered for reuse
	// detection, capped by the session's remaining lifetime.
	ReuseWindow time.Duration
	RedisPrefix string
	OpTimeout   time.Duration
	// Pepper keys the HMAC of stored refresh tokens.
	Pepper []byte
}

// LimitsConfig holds the throttle and lockout policies.
type LimitsConfig struct {
	ThrottleMax    int
	ThrottleWindow time.Duration
	LockoutMax     int
	LockoutWindow  time.Duration
	// UnlockAfter selects TimedUnlock when > 0 and no policy was set on the
	// Builder. Zero means VerificationUnlock.
	UnlockAfter time.Duration
}

// MFAConfig configures the TOTP second factor.
type MFAConfig struct {
	ChallengeTTL time.Duration
	MaxAttempts  int
	RateMax      int
	RateWindow   time.Duration
	TOTP         totp.Config
}

// AuditConfig configures the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// SecurityConfig holds deployment-wide switches.
type SecurityConfig struct {
	// ProductionMode requires signing keys and a refresh pepper. Without it,
	// ephemeral ones are generated at Build.
	ProductionMode bool
}

// DefaultConfig returns the QUALISYS defaults.
func DefaultConfig() Config {
	pw := password.DefaultConfig()
	return Config{
		JWT: JWTConfig{
			AccessTTL: 15 * time.Minute,
			Issuer:    "qualisys",
			Audience:  "qualisys-api",
			Leeway:    30 * time.Second,
		},
		Password: PasswordConfig{
			Memory:         pw.Memory,
			Time:           pw.Time,
			Parallelism:    pw.Parallelism,
			SaltLength:     pw.SaltLength,
			KeyLength:      pw.KeyLength,
			MinLength:      pw.MinLength,
			UpgradeOnLogin: true,
		},
		Session: SessionConfig{
			RefreshTTL:    7 * 24 * time.Hour,
			RememberMeTTL: 30 * 24 * time.Hour,
			ReuseWindow:   24 * time.Hour,
			RedisPrefix:   "qa",
			OpTimeout:     2 * time.Second,
		},
		Limits: LimitsConfig{
			ThrottleMax:    5,
			ThrottleWindow: 15 * time.Minute,
			LockoutMax:     10,
			LockoutWindow:  time.Hour,
		},
		MFA: MFAConfig{
			ChallengeTTL: 5 * time.Minute,
			MaxAttempts:  5,
			RateMax:      5,
			RateWindow:   time.Minute,
			TOTP:         totp.DefaultConfig(),
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	out.Session.Pepper = cloneBytes(cfg.Session.Pepper)
	if cfg.JWT.VerifyKeys != nil {
		out.JWT.VerifyKeys = make(map[string][]byte, len(cfg.JWT.VerifyKeys))
		for kid, key := range cfg.JWT.VerifyKeys {
			out.JWT.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (c PasswordConfig) argon2() password.Config {
	return password.Config{
		Memory:      c.Memory,
		Time:        c.Time,
		Parallelism: c.Parallelism,
		SaltLength:  c.SaltLength,
		KeyLength:   c.KeyLength,
		MinLength:   c.MinLength,
	}
}

// Validate reports the first configuration error.
func (c *Config) Validate() error {
	if c.JWT.AccessTTL <= 0 {
		return errors.New("jwt.access_ttl must be > 0")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("jwt.leeway must be between 0 and 2m")
	}
	if c.Session.RefreshTTL <= 0 {
		return errors.New("session.refresh_ttl must be > 0")
	}
	if c.Session.RememberMeTTL < c.Session.RefreshTTL {
		return errors.New("session.remember_me_ttl must be >= session.refresh_ttl")
	}
	if c.JWT.AccessTTL >= c.Session.RefreshTTL {
		return errors.New("jwt.access_ttl must be shorter than session.refresh_ttl")
	}
	if c.Session.ReuseWindow <= 0 {
		return errors.New("session.reuse_window must be > 0")
	}
	if c.Session.OpTimeout <= 0 {
		return errors.New("session.op_timeout must be > 0")
	}
	if c.Session.RedisPrefix == "" {
		return errors.New("session.redis_prefix is required")
	}
	if len(c.Session.Pepper) > 0 && len(c.Session.Pepper) < refresh.MinPepperBytes {
		return fmt.Errorf("session.pepper must be at least %d bytes", refresh.MinPepperBytes)
	}
	if err := c.Password.argon2().Validate(); err != nil {
		return fmt.Errorf("password: %w", err)
	}
	if c.Limits.ThrottleMax <= 0 || c.Limits.ThrottleWindow <= 0 {
		return errors.New("limits.throttle must be > 0")
	}
	if c.Limits.LockoutMax <= 0 || c.Limits.LockoutWindow <= 0 {
		return errors.New("limits.lockout must be > 0")
	}
	if c.Limits.UnlockAfter < 0 {
		return errors.New("limits.unlock_after must be >= 0")
	}
	if c.MFA.ChallengeTTL <= 0 || c.MFA.MaxAttempts <= 0 {
		return errors.New("mfa.challenge_ttl and mfa.max_attempts must be > 0")
	}
	if c.MFA.RateMax <= 0 || c.MFA.RateWindow <= 0 {
		return errors.New("mfa.rate must be > 0")
	}
	if err := c.MFA.TOTP.Validate(); err != nil {
		return fmt.Errorf("mfa: %w", err)
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("audit.buffer_size must be > 0 when audit is enabled")
	}
	if c.Security.ProductionMode {
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("jwt.private_key is required in production mode")
		}
		if len(c.Session.Pepper) == 0 {
			return errors.New("session.pepper is required in production mode")
		}
	}
	return nil
}

// LintWarning is a non-fatal configuration concern.
type LintWarning struct {
	Code    string
	Message string
}

// LintWarnings is the result of Config.Lint.
type LintWarnings []LintWarning

// Codes returns the warning codes in order.
func (ws LintWarnings) Codes() []string {
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.Code
	}
	return out
}

// Lint reports settings that are valid but risky.
func (c *Config) Lint() LintWarnings {
	var ws LintWarnings
	add := func(code, msg string) {
		ws = append(ws, LintWarning{Code: code, Message: msg})
	}

	if !c.Security.ProductionMode {
		add("production_mode_off", "ephemeral keys are generated when none are configured")
	}
	if c.JWT.Leeway > time.Minute {
		add("leeway_large", "access token leeway above 1m extends every token's life")
	}
	if c.JWT.AccessTTL > time.Hour {
		add("access_ttl_long", "access tokens cannot be revoked before they expire")
	}
	if c.Session.RememberMeTTL > 90*24*time.Hour {
		add("refresh_ttl_long", "remember-me sessions above 90 days")
	}
	if c.Session.ReuseWindow < time.Hour {
		add("reuse_window_short", "rotated tokens are forgotten quickly; late replays look unknown instead of reused")
	}
	if c.Limits.LockoutMax <= c.Limits.ThrottleMax {
		add("lockout_before_throttle", "lockout engages before the throttle has a chance to")
	}
	if c.Limits.UnlockAfter > 0 && c.Limits.UnlockAfter < c.Limits.LockoutWindow {
		add("unlock_before_window", "timed unlock is shorter than the lockout window")
	}
	if !c.Audit.Enabled {
		add("audit_disabled", "security events are not recorded")
	}
	return ws
}
