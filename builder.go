package qauth

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	internalaudit "github.com/qualisys/qauth/internal/audit"
	"github.com/qualisys/qauth/internal/limiters"
	"github.com/qualisys/qauth/internal/stores"
	"github.com/qualisys/qauth/jwt"
	"github.com/qualisys/qauth/password"
	"github.com/qualisys/qauth/permission"
	"github.com/qualisys/qauth/refresh"
	"github.com/qualisys/qauth/session"
	"github.com/qualisys/qauth/totp"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. A Builder builds at most once.
type Builder struct {
	config   Config
	redis    redis.UniversalClient
	provider IdentityProvider
	sink     AuditSink
	logger   *slog.Logger
	now      func() time.Time
	unlock   UnlockPolicy
	roles    *permission.Registry

	built bool
}

// New returns a Builder preloaded with DefaultConfig.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithConfig replaces the configuration with a deep copy of cfg.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client shared by the refresh store and limiters.
// It must address a single primary, not a Cluster, and be created with
// ContextTimeoutEnabled so Session.OpTimeout bounds socket I/O.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithIdentityProvider sets the identity and membership source.
func (b *Builder) WithIdentityProvider(p IdentityProvider) *Builder {
	b.provider = p
	return b
}

// WithAuditSink sets where audit events go. Without one, events are logged
// through the engine logger.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.sink = sink
	return b
}

// WithLogger sets the structured logger for operational warnings. Without
// one, warnings are discarded.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides time.Now for every component. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithUnlockPolicy overrides Limits.UnlockAfter.
func (b *Builder) WithUnlockPolicy(p UnlockPolicy) *Builder {
	b.unlock = p
	return b
}

// WithRoleRegistry replaces the default QUALISYS role ladder.
func (b *Builder) WithRoleRegistry(r *permission.Registry) *Builder {
	b.roles = r
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	b.built = true

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, errors.New("redis client is required")
	}
	if b.provider == nil {
		return nil, errors.New("identity provider is required")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	switch enabled, known := contextTimeoutEnabled(b.redis); {
	case !known:
		logger.Warn("cannot inspect redis client options; session.op_timeout is only enforced with ContextTimeoutEnabled",
			"client", fmt.Sprintf("%T", b.redis))
	case !enabled:
		return nil, errors.New("redis client must set ContextTimeoutEnabled for session.op_timeout to apply")
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	var ephemeralKey, ephemeralPepper bool
	if len(cfg.JWT.PrivateKey) == 0 {
		if len(cfg.JWT.PublicKey) > 0 || len(cfg.JWT.VerifyKeys) > 0 {
			return nil, errors.New("jwt.private_key is required to issue tokens")
		}
		_, priv, err := jwt.GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		cfg.JWT.PrivateKey = priv
		ephemeralKey = true
		logger.Warn("no signing key configured, generated an ephemeral one; tokens will not survive a restart")
	}
	if len(cfg.Session.Pepper) == 0 {
		pepper, err := refresh.GeneratePepper()
		if err != nil {
			return nil, err
		}
		cfg.Session.Pepper = pepper
		ephemeralPepper = true
		logger.Warn("no refresh pepper configured, generated an ephemeral one; refresh tokens will not survive a restart")
	}

	signer, err := jwt.NewManager(jwt.Config{
		PrivateKey: cfg.JWT.PrivateKey,
		PublicKey:  cfg.JWT.PublicKey,
		Issuer:     cfg.JWT.Issuer,
		Audience:   cfg.JWT.Audience,
		Leeway:     cfg.JWT.Leeway,
		KeyID:      cfg.JWT.KeyID,
		VerifyKeys: cfg.JWT.VerifyKeys,
		Now:        now,
	})
	if err != nil {
		return nil, fmt.Errorf("jwt: %w", err)
	}

	argon, err := password.NewArgon2(cfg.Password.argon2())
	if err != nil {
		return nil, err
	}
	verifier, err := password.NewVerifier(argon)
	if err != nil {
		return nil, err
	}

	hasher, err := refresh.NewHasher(cfg.Session.Pepper)
	if err != nil {
		return nil, err
	}
	sessions, err := session.NewStore(b.redis, hasher, session.Config{
		Prefix:      cfg.Session.RedisPrefix,
		ReuseWindow: cfg.Session.ReuseWindow,
		OpTimeout:   cfg.Session.OpTimeout,
		Now:         now,
	})
	if err != nil {
		return nil, err
	}

	unlock := b.unlock
	if unlock == nil {
		if cfg.Limits.UnlockAfter > 0 {
			unlock = TimedUnlock{After: cfg.Limits.UnlockAfter}
		} else {
			unlock = VerificationUnlock{}
		}
	}
	guard, err := limiters.NewLoginGuard(b.redis, limiters.LoginConfig{
		Prefix:         cfg.Session.RedisPrefix,
		ThrottleMax:    cfg.Limits.ThrottleMax,
		ThrottleWindow: cfg.Limits.ThrottleWindow,
		LockoutMax:     cfg.Limits.LockoutMax,
		LockoutWindow:  cfg.Limits.LockoutWindow,
		LockTTL:        unlock.LockTTL(),
		OpTimeout:      cfg.Session.OpTimeout,
		Now:            now,
	})
	if err != nil {
		return nil, err
	}

	totpManager, err := totp.New(cfg.MFA.TOTP)
	if err != nil {
		return nil, err
	}

	roles := b.roles
	if roles == nil {
		roles = permission.DefaultRegistry()
	}

	sink := b.sink
	if sink == nil {
		sink = internalaudit.NewSlogSink(logger)
	}
	dispatcher := internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
		OnDrop: func(ev internalaudit.Event, reason string) {
			logger.Warn("audit event dropped", "event_type", ev.Type, "identity_id", ev.IdentityID, "reason", reason)
		},
	}, sink)

	e := &Engine{
		config:   cfg,
		logger:   logger,
		now:      now,
		provider: b.provider,
		verifier: verifier,
		hasher:   argon,
		signer:   signer,
		sessions: sessions,
		guard:    guard,
		mfaLimiter: limiters.NewMFALimiter(b.redis, limiters.MFALimiterConfig{
			Prefix:      cfg.Session.RedisPrefix,
			MaxAttempts: cfg.MFA.RateMax,
			Window:      cfg.MFA.RateWindow,
			OpTimeout:   cfg.Session.OpTimeout,
			Now:         now,
		}),
		challenges: stores.NewChallengeStore(b.redis, cfg.Session.RedisPrefix, cfg.Session.OpTimeout, now),
		totp:       totpManager,
		unlock:     unlock,
		roles:      roles,
		audit:      dispatcher,
		metrics:    NewMetrics(cfg.Metrics),

		ephemeralKey:    ephemeralKey,
		ephemeralPepper: ephemeralPepper,
	}
	return e, nil
}

// contextTimeoutEnabled reports whether client honours context deadlines on
// socket reads and writes. known is false for client types it cannot inspect.
func contextTimeoutEnabled(client redis.UniversalClient) (enabled, known bool) {
	switch c := client.(type) {
	case *redis.Client:
		return c.Options().ContextTimeoutEnabled, true
	case *redis.ClusterClient:
		return c.Options().ContextTimeoutEnabled, true
	}
	return false, false
}
