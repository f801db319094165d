package qauth

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment variables read by ConfigFromEnv. Durations use
// time.ParseDuration syntax, the pepper is standard base64 and key variables
// name PEM files.
const (
	EnvIssuer         = "QAUTH_ISSUER"
	EnvAudience       = "QAUTH_AUDIENCE"
	EnvAccessTTL      = "QAUTH_ACCESS_TTL"
	EnvLeeway         = "QAUTH_JWT_LEEWAY"
	EnvKeyID          = "QAUTH_JWT_KEY_ID"
	EnvPrivateKeyFile = "QAUTH_JWT_PRIVATE_KEY_FILE"
	EnvPublicKeyFile  = "QAUTH_JWT_PUBLIC_KEY_FILE"
	EnvRefreshTTL     = "QAUTH_REFRESH_TTL"
	EnvRememberMeTTL  = "QAUTH_REMEMBER_ME_TTL"
	EnvReuseWindow    = "QAUTH_REUSE_WINDOW"
	EnvRedisPrefix    = "QAUTH_REDIS_PREFIX"
	EnvRefreshPepper  = "QAUTH_REFRESH_PEPPER"
	EnvThrottleMax    = "QAUTH_THROTTLE_MAX"
	EnvThrottleWindow = "QAUTH_THROTTLE_WINDOW"
	EnvLockoutMax     = "QAUTH_LOCKOUT_MAX"
	EnvLockoutWindow  = "QAUTH_LOCKOUT_WINDOW"
	EnvUnlockAfter    = "QAUTH_UNLOCK_AFTER"
	EnvTOTPIssuer     = "QAUTH_TOTP_ISSUER"
	EnvAuditEnabled   = "QAUTH_AUDIT_ENABLED"
	EnvMetricsEnabled = "QAUTH_METRICS_ENABLED"
	EnvProductionMode = "QAUTH_PRODUCTION"
)

// ConfigFromEnv overlays QAUTH_* environment variables on DefaultConfig.
// Unset variables keep their defaults. The result is not validated.
func ConfigFromEnv() (Config, error) {
	return configFromLookup(os.LookupEnv, os.ReadFile)
}

type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (r *envReader) fail(key string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("qauth: %s: %w", key, err)
	}
}

func (r *envReader) str(key string, dst *string) {
	if v, ok := r.lookup(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func (r *envReader) duration(key string, dst *time.Duration) {
	var s string
	r.str(key, &s)
	if s == "" {
		return
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		r.fail(key, err)
		return
	}
	*dst = d
}

func (r *envReader) integer(key string, dst *int) {
	var s string
	r.str(key, &s)
	if s == "" {
		return
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		r.fail(key, err)
		return
	}
	*dst = n
}

func (r *envReader) flag(key string, dst *bool) {
	var s string
	r.str(key, &s)
	if s == "" {
		return
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		r.fail(key, err)
		return
	}
	*dst = b
}

func configFromLookup(lookup func(string) (string, bool), readFile func(string) ([]byte, error)) (Config, error) {
	cfg := DefaultConfig()
	r := &envReader{lookup: lookup}

	r.str(EnvIssuer, &cfg.JWT.Issuer)
	r.str(EnvAudience, &cfg.JWT.Audience)
	r.str(EnvKeyID, &cfg.JWT.KeyID)
	r.duration(EnvAccessTTL, &cfg.JWT.AccessTTL)
	r.duration(EnvLeeway, &cfg.JWT.Leeway)

	r.duration(EnvRefreshTTL, &cfg.Session.RefreshTTL)
	r.duration(EnvRememberMeTTL, &cfg.Session.RememberMeTTL)
	r.duration(EnvReuseWindow, &cfg.Session.ReuseWindow)
	r.str(EnvRedisPrefix, &cfg.Session.RedisPrefix)

	r.integer(EnvThrottleMax, &cfg.Limits.ThrottleMax)
	r.duration(EnvThrottleWindow, &cfg.Limits.ThrottleWindow)
	r.integer(EnvLockoutMax, &cfg.Limits.LockoutMax)
	r.duration(EnvLockoutWindow, &cfg.Limits.LockoutWindow)
	r.duration(EnvUnlockAfter, &cfg.Limits.UnlockAfter)

	r.str(EnvTOTPIssuer, &cfg.MFA.TOTP.Issuer)
	r.flag(EnvAuditEnabled, &cfg.Audit.Enabled)
	r.flag(EnvMetricsEnabled, &cfg.Metrics.Enabled)
	r.flag(EnvProductionMode, &cfg.Security.ProductionMode)

	var pepper string
	r.str(EnvRefreshPepper, &pepper)
	if pepper != "" {
		b, err := base64.StdEncoding.DecodeString(pepper)
		if err != nil {
			r.fail(EnvRefreshPepper, err)
		}
		cfg.Session.Pepper = b
	}

	for key, dst := range map[string]*[]byte{
		EnvPrivateKeyFile: &cfg.JWT.PrivateKey,
		EnvPublicKeyFile:  &cfg.JWT.PublicKey,
	} {
		var path string
		r.str(key, &path)
		if path == "" {
			continue
		}
		b, err := readFile(path)
		if err != nil {
			r.fail(key, err)
			continue
		}
		*dst = b
	}

	if r.err != nil {
		return Config{}, r.err
	}
	return cfg, nil
}
