package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Config configures a Manager. PrivateKey is optional; a manager without one
// can only validate.
type Config struct {
	PrivateKey []byte
	PublicKey  []byte
	Issuer     string
	Audience   string
	Leeway     time.Duration
	// KeyID is written to the kid header of issued tokens.
	KeyID string
	// VerifyKeys maps kid to public key for rotation windows. When set, tokens
	// must carry a known kid.
	VerifyKeys map[string][]byte
	Now        func() time.Time
}

// AccessClaims are the claims embedded in every access token.
type AccessClaims struct {
	UID  string `json:"uid"`
	TID  string `json:"tid,omitempty"`
	Role string `json:"role,omitempty"`
	SID  string `json:"sid"`
	// TSR marks a token issued before tenant selection.
	TSR bool `json:"tsr,omitempty"`
	gjwt.RegisteredClaims
}

// Manager signs and validates access tokens.
type Manager struct {
	cfg        Config
	signKey    ed25519.PrivateKey
	verifyKey  ed25519.PublicKey
	verifyKeys map[string]ed25519.PublicKey
	now        func() time.Time
}

// NewManager validates cfg and parses key material once.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	m := &Manager{cfg: cfg, now: cfg.Now}
	if m.now == nil {
		m.now = time.Now
	}

	if len(cfg.PrivateKey) > 0 {
		key, err := ParsePrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		m.signKey = key
	}
	if len(cfg.PublicKey) > 0 {
		key, err := ParsePublicKey(cfg.PublicKey)
		if err != nil {
			return nil, err
		}
		m.verifyKey = key
	} else if m.signKey != nil {
		m.verifyKey = m.signKey.Public().(ed25519.PublicKey)
	}

	if len(cfg.VerifyKeys) > 0 {
		m.verifyKeys = make(map[string]ed25519.PublicKey, len(cfg.VerifyKeys))
		for kid, raw := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("verify key map contains empty kid")
			}
			key, err := ParsePublicKey(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid ed25519 verify key for kid %q: %w", kid, err)
			}
			m.verifyKeys[kid] = key
		}
		if cfg.KeyID != "" {
			if _, ok := m.verifyKeys[cfg.KeyID]; !ok {
				return nil, errors.New("KeyID is not present in VerifyKeys")
			}
		}
	}

	if m.verifyKey == nil && len(m.verifyKeys) == 0 {
		return nil, errors.New("ed25519 requires a public key or verify key set")
	}
	if m.signKey != nil && m.verifyKey != nil && len(m.verifyKeys) == 0 {
		if !m.signKey.Public().(ed25519.PublicKey).Equal(m.verifyKey) {
			return nil, errors.New("public key does not match private key")
		}
	}
	return m, nil
}

// NewVerifier returns a validate-only manager for services that hold only the
// public key.
func NewVerifier(publicKey []byte, issuer, audience string) (*Manager, error) {
	return NewManager(Config{PublicKey: publicKey, Issuer: issuer, Audience: audience})
}

// CanIssue reports whether m holds a signing key.
func (m *Manager) CanIssue() bool {
	return m != nil && m.signKey != nil
}

// Issue signs claims with a lifetime of ttl. Temporal claims and jti are set
// here; any caller-provided values are overwritten.
func (m *Manager) Issue(claims AccessClaims, ttl time.Duration) (string, *AccessClaims, error) {
	if !m.CanIssue() {
		return "", nil, errors.New("manager has no signing key")
	}
	if ttl <= 0 {
		return "", nil, errors.New("access ttl must be > 0")
	}
	if claims.UID == "" {
		return "", nil, errors.New("access claims require uid")
	}

	now := m.now().Truncate(time.Second)
	claims.RegisteredClaims = gjwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   claims.UID,
		Issuer:    m.cfg.Issuer,
		IssuedAt:  gjwt.NewNumericDate(now),
		NotBefore: gjwt.NewNumericDate(now),
		ExpiresAt: gjwt.NewNumericDate(now.Add(ttl)),
	}
	if m.cfg.Audience != "" {
		claims.Audience = gjwt.ClaimStrings{m.cfg.Audience}
	}

	token := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, claims)
	if m.cfg.KeyID != "" {
		token.Header["kid"] = m.cfg.KeyID
	}
	signed, err := token.SignedString(m.signKey)
	if err != nil {
		return "", nil, fmt.Errorf("sign access token: %w", err)
	}
	return signed, &claims, nil
}

// Validate verifies signature, algorithm, issuer, audience and expiry. Every
// failure is a *ValidationError.
func (m *Manager) Validate(tokenStr string) (*AccessClaims, error) {
	options := []gjwt.ParserOption{
		gjwt.WithValidMethods([]string{gjwt.SigningMethodEdDSA.Alg()}),
		gjwt.WithExpirationRequired(),
		gjwt.WithIssuedAt(),
		gjwt.WithTimeFunc(m.now),
	}
	if m.cfg.Leeway > 0 {
		options = append(options, gjwt.WithLeeway(m.cfg.Leeway))
	}
	if m.cfg.Issuer != "" {
		options = append(options, gjwt.WithIssuer(m.cfg.Issuer))
	}
	if m.cfg.Audience != "" {
		options = append(options, gjwt.WithAudience(m.cfg.Audience))
	}

	claims := &AccessClaims{}
	token, err := gjwt.NewParser(options...).ParseWithClaims(tokenStr, claims, m.keyFunc)
	if err != nil {
		return nil, classify(err)
	}
	if !token.Valid {
		return nil, &ValidationError{Kind: KindMalformed}
	}
	if claims.UID == "" || claims.ID == "" || claims.SID == "" {
		return nil, &ValidationError{Kind: KindMalformed, Err: errors.New("missing required claims")}
	}
	return claims, nil
}

func (m *Manager) keyFunc(t *gjwt.Token) (interface{}, error) {
	if t.Method.Alg() != gjwt.SigningMethodEdDSA.Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}
	kid, _ := t.Header["kid"].(string)
	if len(m.verifyKeys) > 0 {
		key, ok := m.verifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return key, nil
	}
	if m.cfg.KeyID != "" && kid != m.cfg.KeyID {
		return nil, errors.New("unknown kid")
	}
	return m.verifyKey, nil
}
