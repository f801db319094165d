package limiters

import (
	"context"
	"errors"
	"time"

	"github.com/qualisys/qauth/internal/rate"
	"github.com/redis/go-redis/v9"
)

const (
	defaultMFAMaxAttempts = 5
	defaultMFAWindow      = time.Minute
)

// ErrMFARateLimited is returned once an identity exhausts its MFA attempts.
var ErrMFARateLimited = errors.New("mfa attempts rate limited")

// MFALimiterConfig holds the MFA attempt policy. Zero values take defaults
// (5 attempts per minute).
type MFALimiterConfig struct {
	Prefix      string
	MaxAttempts int
	Window      time.Duration
	OpTimeout   time.Duration
	Now         func() time.Time
}

// MFALimiter caps MFA code attempts per identity across challenges.
type MFALimiter struct {
	window *rate.Window
	max    int
}

// NewMFALimiter returns a limiter backed by client.
func NewMFALimiter(client redis.UniversalClient, cfg MFALimiterConfig) *MFALimiter {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMFAMaxAttempts
	}
	if cfg.Window <= 0 {
		cfg.Window = defaultMFAWindow
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "qa"
	}
	return &MFALimiter{
		window: rate.NewWindow(client, cfg.Prefix+":mfa:", cfg.Window, cfg.OpTimeout, cfg.Now),
		max:    cfg.MaxAttempts,
	}
}

// Check rejects with ErrMFARateLimited when the budget is spent.
func (l *MFALimiter) Check(ctx context.Context, identityID string) error {
	if l == nil {
		return nil
	}
	st, err := l.window.Peek(ctx, identityID, l.max)
	if err != nil {
		return wrap(err)
	}
	if st.Count >= l.max {
		return ErrMFARateLimited
	}
	return nil
}

// RecordFailure counts one failed code.
func (l *MFALimiter) RecordFailure(ctx context.Context, identityID string) error {
	if l == nil {
		return nil
	}
	if _, err := l.window.Add(ctx, identityID, l.max); err != nil {
		return wrap(err)
	}
	return nil
}

// Reset clears the identity's attempts.
func (l *MFALimiter) Reset(ctx context.Context, identityID string) error {
	if l == nil {
		return nil
	}
	if err := l.window.Reset(ctx, identityID); err != nil {
		return wrap(err)
	}
	return nil
}
