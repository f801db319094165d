package limiters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func newTestGuard(t *testing.T, lockTTL time.Duration) (*LoginGuard, *miniredis.Miniredis, *clock) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), ContextTimeoutEnabled: true})
	t.Cleanup(func() { _ = rdb.Close() })
	c := &clock{t: time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)}
	g, err := NewLoginGuard(rdb, LoginConfig{
		ThrottleMax:    5,
		ThrottleWindow: 15 * time.Minute,
		LockoutMax:     10,
		LockoutWindow:  60 * time.Minute,
		LockTTL:        lockTTL,
		Now:            c.Now,
	})
	if err != nil {
		t.Fatalf("NewLoginGuard: %v", err)
	}
	return g, mr, c
}

func fail(t *testing.T, g *LoginGuard, id string, n int) Decision {
	t.Helper()
	var d Decision
	for i := 0; i < n; i++ {
		var err error
		d, err = g.RecordFailure(context.Background(), id)
		if err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}
	return d
}

func TestThrottleAfterFiveFailures(t *testing.T) {
	g, _, c := newTestGuard(t, 0)
	ctx := context.Background()

	if d := fail(t, g, "a@x.io", 4); !d.Allowed() {
		t.Fatalf("four failures must not throttle: %+v", d)
	}
	c.t = c.t.Add(2 * time.Minute)
	d := fail(t, g, "a@x.io", 1)
	if !d.Throttled || d.Locked {
		t.Fatalf("fifth failure must throttle: %+v", d)
	}
	if d.RetryAfter <= 0 || d.RetryAfter > 15*time.Minute {
		t.Fatalf("unexpected retry after %v", d.RetryAfter)
	}

	// One more verification is allowed; beyond that the check rejects fast.
	if d, _ := g.Check(ctx, "a@x.io"); !d.Allowed() {
		t.Fatalf("check at the threshold must still allow: %+v", d)
	}
	fail(t, g, "a@x.io", 1)
	d, err := g.Check(ctx, "a@x.io")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !d.Throttled || d.Locked {
		t.Fatalf("expected throttled check, got %+v", d)
	}

	c.t = c.t.Add(16 * time.Minute)
	if d, _ := g.Check(ctx, "a@x.io"); !d.Allowed() {
		t.Fatalf("throttle must auto-reset after the window: %+v", d)
	}
}

func TestSuccessResetsCounters(t *testing.T) {
	g, _, _ := newTestGuard(t, 0)
	ctx := context.Background()

	fail(t, g, "a@x.io", 5)
	if err := g.Reset(ctx, "a@x.io"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	st, err := g.Status(ctx, "a@x.io")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.ThrottleFailures != 0 || st.LockoutFailures != 0 {
		t.Fatalf("expected cleared counters, got %+v", st)
	}
}

func TestLockoutIndependentOfThrottle(t *testing.T) {
	g, _, c := newTestGuard(t, 0)
	ctx := context.Background()

	fail(t, g, "a@x.io", 5)
	c.t = c.t.Add(16 * time.Minute)
	if d, _ := g.Check(ctx, "a@x.io"); !d.Allowed() {
		t.Fatalf("throttle should have cleared: %+v", d)
	}
	d := fail(t, g, "a@x.io", 5)
	if !d.Locked {
		t.Fatalf("tenth failure within the hour must lock: %+v", d)
	}

	c.t = c.t.Add(3 * time.Hour)
	d, err := g.Check(ctx, "a@x.io")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !d.Locked {
		t.Fatal("lock must not lapse with time under verification unlock")
	}

	if err := g.Unlock(ctx, "a@x.io"); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if d, _ := g.Check(ctx, "a@x.io"); !d.Allowed() {
		t.Fatalf("unlock must clear the lock: %+v", d)
	}
}

func TestTimedLockExpires(t *testing.T) {
	g, mr, _ := newTestGuard(t, 30*time.Minute)
	ctx := context.Background()

	fail(t, g, "a@x.io", 10)
	st, err := g.Status(ctx, "a@x.io")
	if err != nil || !st.Locked || st.LockExpiresAt.IsZero() {
		t.Fatalf("expected timed lock, got %+v err=%v", st, err)
	}

	mr.FastForward(31 * time.Minute)
	if d, _ := g.Check(ctx, "a@x.io"); d.Locked {
		t.Fatal("timed lock must lapse")
	}
}

func TestIdentifiersNormalized(t *testing.T) {
	g, _, _ := newTestGuard(t, 0)
	fail(t, g, "A@X.io ", 5)
	st, err := g.Status(context.Background(), "a@x.io")
	if err != nil || st.ThrottleFailures != 5 {
		t.Fatalf("expected normalized subject, got %+v err=%v", st, err)
	}
}

func TestGuardUnavailable(t *testing.T) {
	g, mr, _ := newTestGuard(t, 0)
	mr.Close()
	if _, err := g.Check(context.Background(), "a@x.io"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestMFALimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), ContextTimeoutEnabled: true})
	defer rdb.Close()
	l := NewMFALimiter(rdb, MFALimiterConfig{MaxAttempts: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.Check(ctx, "u1"); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
		_ = l.RecordFailure(ctx, "u1")
	}
	if err := l.Check(ctx, "u1"); !errors.Is(err, ErrMFARateLimited) {
		t.Fatalf("expected ErrMFARateLimited, got %v", err)
	}
	_ = l.Reset(ctx, "u1")
	if err := l.Check(ctx, "u1"); err != nil {
		t.Fatalf("reset must clear attempts: %v", err)
	}
}
