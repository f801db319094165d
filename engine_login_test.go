package qauth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/qualisys/qauth/permission"
)

func TestLoginSingleTenant(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "u1", "ada@example.com", member("t1", permission.Admin))
	ctx := context.Background()

	res, err := env.engine.Login(ctx, LoginRequest{Email: "  Ada@Example.com ", Password: testPassword})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	pair := res.Pair
	if pair == nil || pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("expected full pair, got %+v", res)
	}
	if pair.TenantID != "t1" || pair.Role != permission.Admin || pair.TenantSelectionRequired {
		t.Fatalf("unexpected scope: %+v", pair)
	}
	if !pair.AccessExpiresAt.Equal(t0.Add(15 * time.Minute)) {
		t.Fatalf("access expiry: %v", pair.AccessExpiresAt)
	}

	claims, err := env.engine.ValidateAccess(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	if claims.IdentityID != "u1" || claims.TenantID != "t1" || claims.DeviceID != pair.DeviceID {
		t.Fatalf("claims: %+v", claims)
	}
	if err := env.engine.Authorize(claims, "", permission.Developer); err != nil {
		t.Fatalf("admin should satisfy developer: %v", err)
	}
	if err := env.engine.Authorize(claims, "", permission.Owner); !errors.Is(err, ErrForbidden) {
		t.Fatalf("admin should not satisfy owner, got %v", err)
	}
	if err := env.engine.Authorize(claims, "t2", permission.Viewer); !errors.Is(err, ErrForbidden) {
		t.Fatalf("cross-tenant check should be forbidden, got %v", err)
	}

	if !hasEvent(env.drainAudit(), EventLoginSuccess) {
		t.Fatal("expected login_success audit event")
	}
}

func TestLoginDeviceIDFromContext(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "u1", "ada@example.com", member("t1", permission.Viewer))

	ctx := WithDeviceID(context.Background(), "laptop-1")
	res, err := env.engine.Login(ctx, LoginRequest{Email: "ada@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.Pair.DeviceID != "laptop-1" {
		t.Fatalf("device: %q", res.Pair.DeviceID)
	}
}

func TestLoginInvalidCredentialsUniform(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "u1", "ada@example.com")
	env.provider.put(Identity{ID: "u2", Email: "gone@example.com", PasswordHash: hashPassword(t, testPassword), Active: false})
	ctx := context.Background()

	cases := []LoginRequest{
		{Email: "ada@example.com", Password: "wrong password!"},
		{Email: "nobody@example.com", Password: testPassword},
		{Email: "gone@example.com", Password: testPassword},
		{Email: "", Password: testPassword},
	}
	for _, req := range cases {
		_, err := env.engine.Login(ctx, req)
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("%q: expected ErrInvalidCredentials, got %v", req.Email, err)
		}
		if err.Error() != ErrInvalidCredentials.Error() {
			t.Fatalf("%q: error text must not vary, got %q", req.Email, err.Error())
		}
	}
}

func TestLoginTimingDoesNotRevealAccounts(t *testing.T) {
	if testing.Short() {
		t.Skip("timing test")
	}
	env := newTestEnv(t)
	env.addUser(t, "u1", "ada@example.com")
	ctx := context.Background()

	measure := func(email string) time.Duration {
		var total time.Duration
		for i := 0; i < 4; i++ {
			start := time.Now()
			_, _ = env.engine.Login(ctx, LoginRequest{Email: email, Password: "wrong password!"})
			total += time.Since(start)
			_ = env.engine.Unlock(ctx, email)
		}
		return total / 4
	}
	known := measure("ada@example.com")
	unknown := measure("nobody@example.com")
	if unknown < known/3 || known < unknown/3 {
		t.Fatalf("timing differs too much: known=%v unknown=%v", known, unknown)
	}
}

func TestLoginThrottleThenSuccessResets(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "u1", "ada@example.com", member("t1", permission.Viewer))
	ctx := context.Background()
	bad := LoginRequest{Email: "ada@example.com", Password: "wrong password!"}

	for i := 1; i <= 4; i++ {
		if _, err := env.engine.Login(ctx, bad); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
		env.advance(time.Minute)
	}
	_, err := env.engine.Login(ctx, bad)
	var throttled *ThrottledError
	if !errors.As(err, &throttled) || !errors.Is(err, ErrLoginThrottled) {
		t.Fatalf("5th failure: expected ThrottledError, got %v", err)
	}
	if throttled.RetryAfter <= 0 || throttled.RetryAfter > 15*time.Minute {
		t.Fatalf("retry after: %v", throttled.RetryAfter)
	}

	env.login(t, "ada@example.com", false)

	st, err := env.engine.LockoutStatus(ctx, "ada@example.com")
	if err != nil {
		t.Fatalf("LockoutStatus: %v", err)
	}
	if st.ThrottleFailures != 0 || st.LockoutFailures != 0 || st.Locked {
		t.Fatalf("counters not reset: %+v", st)
	}
}

func TestLoginThrottledSkipsCredentialCheck(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "u1", "ada@example.com")
	ctx := context.Background()
	bad := LoginRequest{Email: "ada@example.com", Password: "wrong password!"}

	for i := 0; i < 6; i++ {
		_, _ = env.engine.Login(ctx, bad)
	}
	_, err := env.engine.Login(ctx, LoginRequest{Email: "ada@example.com", Password: testPassword})
	if !errors.Is(err, ErrLoginThrottled) {
		t.Fatalf("expected throttled even with correct password, got %v", err)
	}

	env.advance(16 * time.Minute)
	env.login(t, "ada@example.com", false)
}

func lockOut(t *testing.T, env *testEnv, email string) {
	t.Helper()
	ctx := context.Background()
	bad := LoginRequest{Email: email, Password: "wrong password!"}
	for i := 0; i < 5; i++ {
		_, _ = env.engine.Login(ctx, bad)
	}
	env.advance(16 * time.Minute)
	var err error
	for i := 0; i < 5; i++ {
		_, err = env.engine.Login(ctx, bad)
	}
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("10th failure: expected ErrAccountLocked, got %v", err)
	}
}

func TestLockoutRequiresUnlock(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "u1", "ada@example.com")
	ctx := context.Background()
	lockOut(t, env, "ada@example.com")

	env.advance(3 * time.Hour)
	_, err := env.engine.Login(ctx, LoginRequest{Email: "ada@example.com", Password: testPassword})
	var locked *LockedError
	if !errors.As(err, &locked) {
		t.Fatalf("expected LockedError after waiting, got %v", err)
	}
	if locked.Policy != "verification" || !locked.Until.IsZero() {
		t.Fatalf("lock detail: %+v", locked)
	}

	if err := env.engine.Unlock(ctx, "ADA@example.com"); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	env.login(t, "ada@example.com", false)

	events := env.drainAudit()
	if !hasEvent(events, EventLoginLocked) || !hasEvent(events, EventUnlock) {
		t.Fatal("expected login_locked and account_unlocked events")
	}
}

func TestLoginFailureEventsNameAccount(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "u1", "ada@example.com")
	ctx := context.Background()
	lockOut(t, env, "ada@example.com")
	_, _ = env.engine.Login(ctx, LoginRequest{Email: "nobody@example.com", Password: "wrong password!"})
	if err := env.engine.Unlock(ctx, "ada@example.com"); err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	want := subjectDigest("ada@example.com")
	counts := map[string]int{}
	for _, ev := range env.drainAudit() {
		if ev.Metadata["subject"] == subjectDigest("nobody@example.com") {
			if ev.Type != EventLoginFailure || ev.IdentityID != "" {
				t.Fatalf("unknown email event: %+v", ev)
			}
			continue
		}
		switch ev.Type {
		case EventLoginFailure, EventLoginThrottled, EventLoginLocked, EventUnlock:
		default:
			continue
		}
		if ev.IdentityID != "u1" || ev.Metadata["subject"] != want {
			t.Fatalf("%s event does not name the account: %+v", ev.Type, ev)
		}
		counts[ev.Type]++
	}
	for _, typ := range []string{EventLoginFailure, EventLoginThrottled, EventLoginLocked, EventUnlock} {
		if counts[typ] == 0 {
			t.Fatalf("missing %s event, got %v", typ, counts)
		}
	}
}

func TestTimedUnlockPolicy(t *testing.T) {
	env := newTestEnv(t, func(b *Builder) { b.WithUnlockPolicy(TimedUnlock{After: 30 * time.Minute}) })
	env.addUser(t, "u1", "ada@example.com")
	ctx := context.Background()
	lockOut(t, env, "ada@example.com")

	_, err := env.engine.Login(ctx, LoginRequest{Email: "ada@example.com", Password: testPassword})
	var locked *LockedError
	if !errors.As(err, &locked) || locked.Policy != "timed" {
		t.Fatalf("expected timed LockedError, got %v", err)
	}
	if locked.Until.IsZero() {
		t.Fatal("timed lock should report expiry")
	}

	env.advance(31 * time.Minute)
	env.login(t, "ada@example.com", false)
}

func TestLoginMultiTenantDefersSelection(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "u1", "ada@example.com",
		member("t1", permission.Developer),
		member("t2", permission.Owner),
		Membership{TenantID: "t3", Role: permission.Admin, Active: false},
	)
	ctx := context.Background()

	pair := env.login(t, "ada@example.com", false)
	if !pair.TenantSelectionRequired || pair.TenantID != "" {
		t.Fatalf("expected deferred tenant, got %+v", pair)
	}
	if len(pair.Tenants) != 2 {
		t.Fatalf("expected 2 active tenant choices, got %+v", pair.Tenants)
	}

	claims, err := env.engine.ValidateAccess(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	if err := env.engine.Authorize(claims, "t1", permission.Viewer); !errors.Is(err, ErrTenantSelectionRequired) {
		t.Fatalf("expected ErrTenantSelectionRequired, got %v", err)
	}
}

func TestLoginNoMembershipsIsTenantless(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "u1", "ada@example.com")

	pair := env.login(t, "ada@example.com", false)
	if pair.TenantID != "" || pair.TenantSelectionRequired || pair.Role != permission.Viewer {
		t.Fatalf("unexpected scope: %+v", pair)
	}
}

func TestRememberMeLifetimes(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "u1", "ada@example.com", member("t1", permission.Viewer))

	short := env.login(t, "ada@example.com", false)
	long := env.login(t, "ada@example.com", true)
	if !short.RefreshExpiresAt.Equal(t0.Add(7 * 24 * time.Hour)) {
		t.Fatalf("default refresh expiry: %v", short.RefreshExpiresAt)
	}
	if !long.RefreshExpiresAt.Equal(t0.Add(30 * 24 * time.Hour)) {
		t.Fatalf("remember-me refresh expiry: %v", long.RefreshExpiresAt)
	}
	if short.DeviceID == long.DeviceID {
		t.Fatal("each login should get its own device")
	}
}

func TestLoginDegradedWhenRedisDown(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "u1", "ada@example.com", member("t1", permission.Viewer))
	env.mr.Close()

	res, err := env.engine.Login(context.Background(), LoginRequest{Email: "ada@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("Login should fail open for access issuance: %v", err)
	}
	if !res.Pair.Degraded || res.Pair.RefreshToken != "" || res.Pair.AccessToken == "" {
		t.Fatalf("expected access-only pair, got %+v", res.Pair)
	}
	snap := env.engine.MetricsSnapshot()
	if snap.Counters[MetricLimiterFailOpen] == 0 || snap.Counters[MetricLoginDegraded] != 1 {
		t.Fatalf("metrics: %+v", snap.Counters)
	}
}

func TestLoginIdentityUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.provider.lookupErr = errors.New("db down")

	_, err := env.engine.Login(context.Background(), LoginRequest{Email: "ada@example.com", Password: testPassword})
	if !errors.Is(err, ErrIdentityUnavailable) {
		t.Fatalf("expected ErrIdentityUnavailable, got %v", err)
	}
}

func TestLoginUpgradesLegacyHash(t *testing.T) {
	env := newTestEnv(t)
	env.provider.put(Identity{
		ID:    "u1",
		Email: "ada@example.com",
		PasswordHash: bcryptHash(t, testPassword),
		Role:         permission.Viewer,
		Active:       true,
	})
	env.login(t, "ada@example.com", false)
	if env.provider.updates != 1 {
		t.Fatalf("expected one hash upgrade, got %d", env.provider.updates)
	}
	env.login(t, "ada@example.com", false)
	if env.provider.updates != 1 {
		t.Fatalf("upgraded hash should not be rehashed again, got %d", env.provider.updates)
	}
}
