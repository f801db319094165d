package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/qualisys/qauth/internal/rate"
	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps limiter backend failures.
var ErrUnavailable = errors.New("login limiter unavailable")

// LoginConfig holds both window policies.
type LoginConfig struct {
	Prefix         string
	ThrottleMax    int
	ThrottleWindow time.Duration
	LockoutMax     int
	LockoutWindow  time.Duration
	// LockTTL bounds the lock flag. Zero keeps it until Unlock.
	LockTTL   time.Duration
	OpTimeout time.Duration
	Now       func() time.Time
}

// Decision is the guard's verdict for one identifier.
type Decision struct {
	Throttled  bool
	RetryAfter time.Duration
	Locked     bool
}

// Allowed reports whether the caller may proceed to credential verification.
func (d Decision) Allowed() bool {
	return !d.Throttled && !d.Locked
}

// Status is an operator view of one identifier.
type Status struct {
	Locked           bool
	LockExpiresAt    time.Time
	ThrottleFailures int
	LockoutFailures  int
}

// LoginGuard enforces the throttle and lockout policies.
type LoginGuard struct {
	redis    redis.UniversalClient
	cfg      LoginConfig
	throttle *rate.Window
	lockout  *rate.Window
	now      func() time.Time
}

// NewLoginGuard validates cfg and returns a guard.
func NewLoginGuard(client redis.UniversalClient, cfg LoginConfig) (*LoginGuard, error) {
	if client == nil {
		return nil, errors.New("login guard requires a redis client")
	}
	if cfg.ThrottleMax <= 0 || cfg.ThrottleWindow <= 0 {
		return nil, errors.New("throttle policy must be > 0")
	}
	if cfg.LockoutMax <= 0 || cfg.LockoutWindow <= 0 {
		return nil, errors.New("lockout policy must be > 0")
	}
	if cfg.LockTTL < 0 {
		return nil, errors.New("lock ttl must be >= 0")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "qa"
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 2 * time.Second
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &LoginGuard{
		redis:    client,
		cfg:      cfg,
		throttle: rate.NewWindow(client, cfg.Prefix+":lt:", cfg.ThrottleWindow, cfg.OpTimeout, now),
		lockout:  rate.NewWindow(client, cfg.Prefix+":ll:", cfg.LockoutWindow, cfg.OpTimeout, now),
		now:      now,
	}, nil
}

func (g *LoginGuard) lockKey(subject string) string {
	return g.cfg.Prefix + ":lk:" + subject
}

func wrap(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// Check runs before credentials are verified. A throttled identifier is
// rejected once its failures exceed ThrottleMax within the window.
func (g *LoginGuard) Check(ctx context.Context, identifier string) (Decision, error) {
	subject := Subject(identifier)

	locked, err := g.isLocked(ctx, subject)
	if err != nil {
		return Decision{}, err
	}
	if locked {
		return Decision{Locked: true}, nil
	}

	st, err := g.throttle.Peek(ctx, subject, g.cfg.ThrottleMax+1)
	if err != nil {
		return Decision{}, wrap(err)
	}
	if st.Count > g.cfg.ThrottleMax {
		return Decision{Throttled: true, RetryAfter: st.RetryAfter(g.now())}, nil
	}
	return Decision{}, nil
}

// RecordFailure counts one failed verification in both windows. Lockout takes
// precedence over throttling in the returned decision.
func (g *LoginGuard) RecordFailure(ctx context.Context, identifier string) (Decision, error) {
	subject := Subject(identifier)

	lo, err := g.lockout.Add(ctx, subject, g.cfg.LockoutMax)
	if err != nil {
		return Decision{}, wrap(err)
	}
	th, err := g.throttle.Add(ctx, subject, g.cfg.ThrottleMax)
	if err != nil {
		return Decision{}, wrap(err)
	}

	if lo.Count >= g.cfg.LockoutMax {
		if err := g.lock(ctx, subject); err != nil {
			return Decision{}, err
		}
		return Decision{Locked: true}, nil
	}
	if th.Count >= g.cfg.ThrottleMax {
		return Decision{Throttled: true, RetryAfter: th.RetryAfter(g.now())}, nil
	}
	return Decision{}, nil
}

// Reset clears both windows after a successful authentication. The lock flag
// is left alone.
func (g *LoginGuard) Reset(ctx context.Context, identifier string) error {
	subject := Subject(identifier)
	if err := g.throttle.Reset(ctx, subject); err != nil {
		return wrap(err)
	}
	if err := g.lockout.Reset(ctx, subject); err != nil {
		return wrap(err)
	}
	return nil
}

// Unlock clears the lock flag and both windows.
func (g *LoginGuard) Unlock(ctx context.Context, identifier string) error {
	subject := Subject(identifier)
	ctx, cancel := context.WithTimeout(ctx, g.cfg.OpTimeout)
	defer cancel()
	err := g.redis.Del(ctx, g.lockKey(subject), g.cfg.Prefix+":lt:"+subject, g.cfg.Prefix+":ll:"+subject).Err()
	if err != nil {
		return wrap(err)
	}
	return nil
}

// Status reports lock state and current window counts.
func (g *LoginGuard) Status(ctx context.Context, identifier string) (Status, error) {
	subject := Subject(identifier)

	th, err := g.throttle.Peek(ctx, subject, 0)
	if err != nil {
		return Status{}, wrap(err)
	}
	lo, err := g.lockout.Peek(ctx, subject, 0)
	if err != nil {
		return Status{}, wrap(err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.OpTimeout)
	defer cancel()
	ttl, err := g.redis.PTTL(ctx, g.lockKey(subject)).Result()
	if err != nil {
		return Status{}, wrap(err)
	}

	st := Status{ThrottleFailures: th.Count, LockoutFailures: lo.Count}
	switch {
	case ttl == -1:
		st.Locked = true
	case ttl > 0:
		st.Locked = true
		st.LockExpiresAt = g.now().Add(ttl)
	}
	return st, nil
}

func (g *LoginGuard) isLocked(ctx context.Context, subject string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.OpTimeout)
	defer cancel()
	n, err := g.redis.Exists(ctx, g.lockKey(subject)).Result()
	if err != nil {
		return false, wrap(err)
	}
	return n > 0, nil
}

func (g *LoginGuard) lock(ctx context.Context, subject string) error {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.OpTimeout)
	defer cancel()
	if err := g.redis.Set(ctx, g.lockKey(subject), g.now().Unix(), g.cfg.LockTTL).Err(); err != nil {
		return wrap(err)
	}
	return nil
}
