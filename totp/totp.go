package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// SecretBytes is the length of secrets produced by [Manager.GenerateSecret].
const SecretBytes = 20

var (
	// ErrEmptySecret is returned when verification is attempted without a secret.
	ErrEmptySecret = errors.New("totp: empty secret")
	// ErrUnsupportedAlgorithm is returned for HMAC algorithms other than SHA1, SHA256 and SHA512.
	ErrUnsupportedAlgorithm = errors.New("totp: unsupported algorithm")
	// ErrInvalidSecret is returned when a base32 secret cannot be decoded.
	ErrInvalidSecret = errors.New("totp: invalid secret encoding")
)

var secretEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Config controls code generation and the accepted clock skew.
type Config struct {
	Issuer    string
	Digits    int
	Period    int
	Algorithm string
	// Skew is the number of periods accepted on either side of now.
	Skew int
}

// DefaultConfig returns the authenticator-app compatible defaults.
func DefaultConfig() Config {
	return Config{
		Issuer:    "QUALISYS",
		Digits:    6,
		Period:    30,
		Algorithm: "SHA1",
		Skew:      1,
	}
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	if c.Digits != 6 && c.Digits != 8 {
		return errors.New("totp: digits must be 6 or 8")
	}
	if c.Period <= 0 {
		return errors.New("totp: period must be > 0")
	}
	if c.Skew < 0 || c.Skew > 3 {
		return errors.New("totp: skew must be between 0 and 3")
	}
	if _, err := hmacFunc(c.Algorithm); err != nil {
		return err
	}
	return nil
}

// Manager generates and verifies codes for one configuration.
type Manager struct {
	cfg Config
}

// New validates cfg and returns a Manager.
func New(cfg Config) (*Manager, error) {
	if cfg.Algorithm == "" {
		cfg.Algorithm = "SHA1"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{cfg: cfg}, nil
}

// Config returns the active configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// GenerateSecret returns a fresh random secret and its base32 form.
func (m *Manager) GenerateSecret() ([]byte, string, error) {
	raw := make([]byte, SecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", err
	}
	return raw, secretEncoding.EncodeToString(raw), nil
}

// DecodeSecret parses a base32 secret with or without padding.
func DecodeSecret(s string) ([]byte, error) {
	cleaned := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	cleaned = strings.TrimRight(cleaned, "=")
	raw, err := secretEncoding.DecodeString(cleaned)
	if err != nil || len(raw) == 0 {
		return nil, ErrInvalidSecret
	}
	return raw, nil
}

// ProvisionURI builds the otpauth:// URI shown as a QR code during enrolment.
func (m *Manager) ProvisionURI(secretBase32, account string) string {
	label := url.PathEscape(m.cfg.Issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", secretBase32)
	v.Set("issuer", m.cfg.Issuer)
	v.Set("period", strconv.Itoa(m.cfg.Period))
	v.Set("digits", strconv.Itoa(m.cfg.Digits))
	v.Set("algorithm", strings.ToUpper(m.cfg.Algorithm))

	return "otpauth://totp/" + label + "?" + v.Encode()
}

// Code returns the code for the time step containing now.
func (m *Manager) Code(secret []byte, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", ErrEmptySecret
	}
	return hotp(secret, now.Unix()/int64(m.cfg.Period), m.cfg.Digits, m.cfg.Algorithm)
}

// Verify checks code against the window around now. On success it returns the
// matched counter so the caller can reject a second use of the same step.
func (m *Manager) Verify(secret []byte, code string, now time.Time) (bool, int64, error) {
	trimmed := strings.TrimSpace(code)
	if len(trimmed) != m.cfg.Digits || !numeric(trimmed) {
		return false, 0, nil
	}
	if len(secret) == 0 {
		return false, 0, ErrEmptySecret
	}

	base := now.Unix() / int64(m.cfg.Period)
	for step := -m.cfg.Skew; step <= m.cfg.Skew; step++ {
		counter := base + int64(step)
		if counter < 0 {
			continue
		}
		generated, err := hotp(secret, counter, m.cfg.Digits, m.cfg.Algorithm)
		if err != nil {
			return false, 0, err
		}
		if subtle.ConstantTimeCompare([]byte(generated), []byte(trimmed)) == 1 {
			return true, counter, nil
		}
	}
	return false, 0, nil
}

func hotp(secret []byte, counter int64, digits int, algorithm string) (string, error) {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	hf, err := hmacFunc(algorithm)
	if err != nil {
		return "", err
	}
	mac := hmac.New(hf, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", digits, bin%mod), nil
}

func hmacFunc(algorithm string) (func() hash.Hash, error) {
	switch strings.ToUpper(algorithm) {
	case "", "SHA1":
		return sha1.New, nil
	case "SHA256":
		return sha256.New, nil
	case "SHA512":
		return sha512.New, nil
	default:
		return nil, ErrUnsupportedAlgorithm
	}
}

func numeric(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
