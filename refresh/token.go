package refresh

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
)

const (
	tokenBytes = 32
	// TokenLength is the length of an encoded refresh token.
	TokenLength = 43
	// MinPepperBytes is the minimum accepted pepper size.
	MinPepperBytes = 32
)

// ErrMalformed is returned for strings that cannot be refresh tokens.
var ErrMalformed = errors.New("refresh: malformed token")

// Generate returns a new raw refresh token.
func Generate() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Parse checks the structural shape of raw without touching any store.
func Parse(raw string) error {
	if len(raw) != TokenLength {
		return ErrMalformed
	}
	decoded, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil || len(decoded) != tokenBytes {
		return ErrMalformed
	}
	return nil
}

// GeneratePepper returns a random pepper suitable for NewHasher.
func GeneratePepper() ([]byte, error) {
	buf := make([]byte, MinPepperBytes)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Hasher derives the stored form of a token.
type Hasher struct {
	key []byte
}

// NewHasher copies pepper and returns a Hasher.
func NewHasher(pepper []byte) (*Hasher, error) {
	if len(pepper) < MinPepperBytes {
		return nil, errors.New("refresh pepper must be at least 32 bytes")
	}
	key := make([]byte, len(pepper))
	copy(key, pepper)
	return &Hasher{key: key}, nil
}

// Sum returns hex(HMAC-SHA256(pepper, raw)).
func (h *Hasher) Sum(raw string) string {
	mac := hmac.New(sha256.New, h.key)
	_, _ = mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}
