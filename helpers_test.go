package qauth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/qualisys/qauth/password"
	"github.com/qualisys/qauth/permission"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

const testPassword = "correct horse battery"

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

type memProvider struct {
	mu          sync.Mutex
	identities  map[string]*Identity
	memberships map[string][]Membership
	secrets     map[string][]byte
	updates     int
	lookupErr   error
}

func newMemProvider() *memProvider {
	return &memProvider{
		identities:  map[string]*Identity{},
		memberships: map[string][]Membership{},
		secrets:     map[string][]byte{},
	}
}

func (p *memProvider) put(id Identity, ms ...Membership) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := id
	p.identities[id.ID] = &cp
	p.memberships[id.ID] = ms
}

func (p *memProvider) setMemberships(identityID string, ms ...Membership) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.memberships[identityID] = ms
}

func (p *memProvider) setActive(identityID string, active bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.identities[identityID].Active = active
}

func (p *memProvider) IdentityByEmail(_ context.Context, email string) (*Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lookupErr != nil {
		return nil, p.lookupErr
	}
	for _, id := range p.identities {
		if id.Email == email {
			cp := *id
			return &cp, nil
		}
	}
	return nil, nil
}

func (p *memProvider) IdentityByID(_ context.Context, identityID string) (*Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lookupErr != nil {
		return nil, p.lookupErr
	}
	id, ok := p.identities[identityID]
	if !ok {
		return nil, nil
	}
	cp := *id
	return &cp, nil
}

func (p *memProvider) Memberships(_ context.Context, identityID string) ([]Membership, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Membership(nil), p.memberships[identityID]...), nil
}

func (p *memProvider) UpdatePasswordHash(_ context.Context, identityID, hash string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.identities[identityID].PasswordHash = hash
	p.updates++
	return nil
}

func (p *memProvider) TOTPSecret(_ context.Context, identityID string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.secrets[identityID], nil
}

type testEnv struct {
	engine   *Engine
	mr       *miniredis.Miniredis
	provider *memProvider
	clock    *testClock
	audit    *ChannelAuditSink
}

// advance moves the engine clock and Redis TTLs together.
func (env *testEnv) advance(d time.Duration) {
	env.clock.mu.Lock()
	env.clock.t = env.clock.t.Add(d)
	env.clock.mu.Unlock()
	env.mr.FastForward(d)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Audit.BufferSize = 256
	return cfg
}

func newTestEnv(t testing.TB, mutate ...func(*Builder)) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1, ContextTimeoutEnabled: true})
	t.Cleanup(func() { _ = rdb.Close() })

	env := &testEnv{
		mr:       mr,
		provider: newMemProvider(),
		clock:    &testClock{t: t0},
		audit:    NewChannelAuditSink(256),
	}
	b := New().
		WithConfig(testConfig()).
		WithRedis(rdb).
		WithIdentityProvider(env.provider).
		WithAuditSink(env.audit).
		WithClock(env.clock.Now)
	for _, m := range mutate {
		m(b)
	}
	e, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(e.Close)
	env.engine = e
	return env
}

func bcryptHash(t testing.TB, pw string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(h)
}

func hashPassword(t testing.TB, pw string) string {
	t.Helper()
	cfg := password.DefaultConfig()
	cfg.Memory, cfg.Time, cfg.Parallelism = 8*1024, 1, 1
	a, err := password.NewArgon2(cfg)
	if err != nil {
		t.Fatalf("NewArgon2: %v", err)
	}
	h, err := a.Hash(pw)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	return h
}

// addUser registers an active identity with testPassword.
func (env *testEnv) addUser(t testing.TB, id, email string, ms ...Membership) {
	t.Helper()
	env.provider.put(Identity{
		ID:           id,
		Email:        email,
		PasswordHash: hashPassword(t, testPassword),
		Role:         permission.Viewer,
		Active:       true,
	}, ms...)
}

func member(tenant string, role permission.Role) Membership {
	return Membership{TenantID: tenant, Role: role, Active: true}
}

func (env *testEnv) login(t testing.TB, email string, remember bool) *TokenPair {
	t.Helper()
	res, err := env.engine.Login(context.Background(), LoginRequest{Email: email, Password: testPassword, RememberMe: remember})
	if err != nil {
		t.Fatalf("Login(%s): %v", email, err)
	}
	if res.Pair == nil {
		t.Fatalf("Login(%s): expected token pair, got %+v", email, res)
	}
	return res.Pair
}

// drainAudit closes the engine and returns every event emitted so far.
func (env *testEnv) drainAudit() []AuditEvent {
	env.engine.Close()
	var out []AuditEvent
	for {
		select {
		case ev := <-env.audit.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func hasEvent(events []AuditEvent, typ string) bool {
	for _, ev := range events {
		if ev.Type == typ {
			return true
		}
	}
	return false
}
