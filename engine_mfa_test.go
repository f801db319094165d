package qauth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/qualisys/qauth/permission"
	"github.com/qualisys/qauth/totp"
)

var mfaSecret = []byte("12345678901234567890")

func addMFAUser(t *testing.T, env *testEnv) {
	t.Helper()
	env.provider.put(Identity{
		ID:           "u1",
		Email:        "ada@example.com",
		PasswordHash: hashPassword(t, testPassword),
		Role:         permission.Viewer,
		Active:       true,
		MFAEnabled:   true,
	}, member("t1", permission.QAAutomation))
	env.provider.mu.Lock()
	env.provider.secrets["u1"] = mfaSecret
	env.provider.mu.Unlock()
}

func currentCode(t *testing.T, env *testEnv) string {
	t.Helper()
	m, err := totp.New(totp.DefaultConfig())
	if err != nil {
		t.Fatalf("totp.New: %v", err)
	}
	code, err := m.Code(mfaSecret, env.clock.Now())
	if err != nil {
		t.Fatalf("Code: %v", err)
	}
	return code
}

func wrongCode(code string) string {
	b := []byte(code)
	b[0] = '0' + (b[0]-'0'+5)%10
	return string(b)
}

func startChallenge(t *testing.T, env *testEnv) *MFAChallenge {
	t.Helper()
	res, err := env.engine.Login(context.Background(), LoginRequest{Email: "ada@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.Pair != nil || res.MFA == nil {
		t.Fatalf("expected MFA challenge, got %+v", res)
	}
	return res.MFA
}

func TestMFALoginFlow(t *testing.T) {
	env := newTestEnv(t)
	addMFAUser(t, env)
	ctx := context.Background()

	ch := startChallenge(t, env)
	if ch.Type != "totp" || !ch.ExpiresAt.Equal(t0.Add(5*time.Minute)) {
		t.Fatalf("challenge: %+v", ch)
	}

	code := currentCode(t, env)
	if _, err := env.engine.ConfirmMFA(ctx, ch.ID, wrongCode(code)); !errors.Is(err, ErrMFAInvalid) {
		t.Fatalf("wrong code: expected ErrMFAInvalid, got %v", err)
	}
	pair, err := env.engine.ConfirmMFA(ctx, ch.ID, code)
	if err != nil {
		t.Fatalf("ConfirmMFA: %v", err)
	}
	if pair.TenantID != "t1" || pair.Role != permission.QAAutomation || pair.RefreshToken == "" {
		t.Fatalf("pair: %+v", pair)
	}
	if _, err := env.engine.ConfirmMFA(ctx, ch.ID, code); !errors.Is(err, ErrMFAInvalid) {
		t.Fatalf("challenge reuse: expected ErrMFAInvalid, got %v", err)
	}

	events := env.drainAudit()
	if !hasEvent(events, EventMFARequired) || !hasEvent(events, EventMFASuccess) || !hasEvent(events, EventMFAFailure) {
		t.Fatal("expected mfa_required, mfa_success and mfa_failure events")
	}
}

func TestMFARejectsReplayedCode(t *testing.T) {
	env := newTestEnv(t)
	addMFAUser(t, env)
	ctx := context.Background()

	code := currentCode(t, env)
	if _, err := env.engine.ConfirmMFA(ctx, startChallenge(t, env).ID, code); err != nil {
		t.Fatalf("ConfirmMFA: %v", err)
	}

	second := startChallenge(t, env)
	if _, err := env.engine.ConfirmMFA(ctx, second.ID, code); !errors.Is(err, ErrMFAInvalid) {
		t.Fatalf("replayed code: expected ErrMFAInvalid, got %v", err)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricMFAReplay]; got != 1 {
		t.Fatalf("replay metric: %d", got)
	}

	env.advance(30 * time.Second)
	if _, err := env.engine.ConfirmMFA(ctx, second.ID, currentCode(t, env)); err != nil {
		t.Fatalf("next step code: %v", err)
	}
}

func TestMFAChallengeExhaustedAndRateLimited(t *testing.T) {
	env := newTestEnv(t)
	addMFAUser(t, env)
	ctx := context.Background()

	ch := startChallenge(t, env)
	code := currentCode(t, env)
	for i := 0; i < 5; i++ {
		if _, err := env.engine.ConfirmMFA(ctx, ch.ID, wrongCode(code)); !errors.Is(err, ErrMFAInvalid) {
			t.Fatalf("attempt %d: expected ErrMFAInvalid, got %v", i+1, err)
		}
	}
	if _, err := env.engine.ConfirmMFA(ctx, ch.ID, code); !errors.Is(err, ErrMFAInvalid) {
		t.Fatalf("exhausted challenge: expected ErrMFAInvalid, got %v", err)
	}

	fresh := startChallenge(t, env)
	if _, err := env.engine.ConfirmMFA(ctx, fresh.ID, code); !errors.Is(err, ErrMFARateLimited) {
		t.Fatalf("expected ErrMFARateLimited, got %v", err)
	}

	env.advance(61 * time.Second)
	if _, err := env.engine.ConfirmMFA(ctx, fresh.ID, currentCode(t, env)); err != nil {
		t.Fatalf("after limiter window: %v", err)
	}
}

func TestMFAChallengeExpires(t *testing.T) {
	env := newTestEnv(t)
	addMFAUser(t, env)
	ch := startChallenge(t, env)

	env.advance(6 * time.Minute)
	if _, err := env.engine.ConfirmMFA(context.Background(), ch.ID, currentCode(t, env)); !errors.Is(err, ErrMFAInvalid) {
		t.Fatalf("expired challenge: expected ErrMFAInvalid, got %v", err)
	}
}

func TestMFANotEnrolled(t *testing.T) {
	env := newTestEnv(t)
	addMFAUser(t, env)
	ch := startChallenge(t, env)

	env.provider.mu.Lock()
	delete(env.provider.secrets, "u1")
	env.provider.mu.Unlock()
	if _, err := env.engine.ConfirmMFA(context.Background(), ch.ID, "123456"); !errors.Is(err, ErrMFAUnavailable) {
		t.Fatalf("expected ErrMFAUnavailable, got %v", err)
	}
}

type provisioningProvider struct {
	*memProvider
}

func (p provisioningProvider) ProvisionFederated(_ context.Context, fi FederatedIdentity) (*Identity, error) {
	id := Identity{ID: "g-" + fi.Subject, Email: fi.Email, Role: permission.Viewer, Active: true}
	p.put(id)
	return &id, nil
}

func TestLoginFederated(t *testing.T) {
	env := newTestEnv(t)
	addMFAUser(t, env)
	ctx := context.Background()

	_, err := env.engine.LoginFederated(ctx, FederatedIdentity{Provider: "google", Email: "ada@example.com"}, false)
	if !errors.Is(err, ErrFederatedEmailUnverified) {
		t.Fatalf("unverified email: expected ErrFederatedEmailUnverified, got %v", err)
	}

	res, err := env.engine.LoginFederated(ctx, FederatedIdentity{Provider: "google", Subject: "1", Email: "ADA@example.com", EmailVerified: true}, true)
	if err != nil {
		t.Fatalf("LoginFederated: %v", err)
	}
	if res.MFA != nil || res.Pair == nil || res.Pair.TenantID != "t1" {
		t.Fatalf("federated login should skip the second factor: %+v", res)
	}
	if !res.Pair.RefreshExpiresAt.Equal(t0.Add(30 * 24 * time.Hour)) {
		t.Fatalf("remember-me expiry: %v", res.Pair.RefreshExpiresAt)
	}

	_, err = env.engine.LoginFederated(ctx, FederatedIdentity{Provider: "google", Subject: "2", Email: "new@example.com", EmailVerified: true}, false)
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown identity without provisioner: expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginFederatedProvisions(t *testing.T) {
	p := provisioningProvider{memProvider: newMemProvider()}
	env := newTestEnv(t, func(b *Builder) { b.WithIdentityProvider(p) })

	res, err := env.engine.LoginFederated(context.Background(), FederatedIdentity{Provider: "google", Subject: "42", Email: "new@example.com", EmailVerified: true}, false)
	if err != nil {
		t.Fatalf("LoginFederated: %v", err)
	}
	if res.Pair.IdentityID != "g-42" {
		t.Fatalf("identity: %+v", res.Pair)
	}
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "u1", "ada@example.com", member("t1", permission.Viewer))
	ctx := context.Background()
	pair := env.login(t, "ada@example.com", false)

	if err := env.engine.ChangePassword(ctx, "u1", "not my password", "another long password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong current: expected ErrInvalidCredentials, got %v", err)
	}
	if err := env.engine.ChangePassword(ctx, "u1", testPassword, testPassword); !errors.Is(err, ErrPasswordReuse) {
		t.Fatalf("same password: expected ErrPasswordReuse, got %v", err)
	}
	if err := env.engine.ChangePassword(ctx, "u1", testPassword, "short"); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("short password: expected ErrPasswordPolicy, got %v", err)
	}

	const next = "another long password"
	if err := env.engine.ChangePassword(ctx, "u1", testPassword, next); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if _, err := env.engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("sessions should be revoked after password change, got %v", err)
	}
	if _, err := env.engine.Login(ctx, LoginRequest{Email: "ada@example.com", Password: testPassword}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password should fail, got %v", err)
	}
	if _, err := env.engine.Login(ctx, LoginRequest{Email: "ada@example.com", Password: next}); err != nil {
		t.Fatalf("new password: %v", err)
	}
}
