package jwt

import (
	"crypto/ed25519"
	"errors"
	"strings"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newTestManager(t *testing.T, clock *fakeClock) (*Manager, ed25519.PublicKey) {
	t.Helper()
	pub, priv, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate keys: %v", err)
	}
	m, err := NewManager(Config{
		PrivateKey: priv,
		Issuer:     "qauth",
		Audience:   "qualisys-api",
		Now:        clock.Now,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m, pub
}

func TestIssueAndValidate(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	m, _ := newTestManager(t, clock)

	tok, issued, err := m.Issue(AccessClaims{UID: "u1", TID: "t1", Role: "admin", SID: "d1"}, 15*time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if issued.ID == "" {
		t.Fatal("expected jti to be set")
	}

	claims, err := m.Validate(tok)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.UID != "u1" || claims.TID != "t1" || claims.Role != "admin" || claims.SID != "d1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if !claims.ExpiresAt.Time.Equal(clock.t.Add(15 * time.Minute)) {
		t.Fatalf("unexpected expiry %v", claims.ExpiresAt.Time)
	}
}

func TestIssueUniqueTokenIDs(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	m, _ := newTestManager(t, clock)

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		_, c, err := m.Issue(AccessClaims{UID: "u1", SID: "d1"}, time.Minute)
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		if seen[c.ID] {
			t.Fatalf("duplicate jti %s", c.ID)
		}
		seen[c.ID] = true
	}
}

func TestTenantClaimOmittedWhenEmpty(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	m, _ := newTestManager(t, clock)

	tok, _, err := m.Issue(AccessClaims{UID: "u1", SID: "d1", TSR: true}, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := m.Validate(tok)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.TID != "" || !claims.TSR {
		t.Fatalf("expected tenantless token flagged for selection, got %+v", claims)
	}
}

func TestValidateExpired(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	m, _ := newTestManager(t, clock)

	tok, _, err := m.Issue(AccessClaims{UID: "u1", SID: "d1"}, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	clock.t = clock.t.Add(2 * time.Minute)

	_, err = m.Validate(tok)
	if !errors.Is(err, ErrExpired) || KindOf(err) != KindExpired {
		t.Fatalf("expected expired, got %v", err)
	}
}

func TestValidateInvalidSignature(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	m, _ := newTestManager(t, clock)
	other, _ := newTestManager(t, clock)

	tok, _, err := other.Issue(AccessClaims{UID: "u1", SID: "d1"}, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Validate(tok); KindOf(err) != KindInvalidSignature {
		t.Fatalf("expected invalid signature, got %v", err)
	}

	good, _, _ := m.Issue(AccessClaims{UID: "u1", SID: "d1"}, time.Minute)
	parts := strings.Split(good, ".")
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)
	if _, err := m.Validate(tampered); KindOf(err) != KindInvalidSignature {
		t.Fatalf("expected invalid signature for tampered token, got %v", err)
	}
}

func TestValidateRejectsWrongAlgorithm(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	m, _ := newTestManager(t, clock)

	claims := AccessClaims{UID: "u1", SID: "d1", RegisteredClaims: gjwt.RegisteredClaims{
		ID:        "x",
		IssuedAt:  gjwt.NewNumericDate(clock.t),
		ExpiresAt: gjwt.NewNumericDate(clock.t.Add(time.Minute)),
	}}
	tok, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString([]byte("secret-secret-secret-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.Validate(tok); KindOf(err) != KindInvalidSignature {
		t.Fatalf("expected alg confusion to be rejected as invalid signature, got %v", err)
	}
}

func TestValidateMalformed(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	m, _ := newTestManager(t, clock)

	for _, tok := range []string{"", "abc", "a.b.c", "eyJhbGciOiJFZERTQSJ9.e30"} {
		if _, err := m.Validate(tok); KindOf(err) != KindMalformed {
			t.Fatalf("expected malformed for %q, got %v", tok, err)
		}
	}
}

func TestVerifierOnlyValidates(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	m, pub := newTestManager(t, clock)

	pemPub, err := MarshalPublicKeyPEM(pub)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	v, err := NewVerifier(pemPub, "qauth", "qualisys-api")
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	if v.CanIssue() {
		t.Fatal("verifier must not be able to issue")
	}

	tok, _, err := m.Issue(AccessClaims{UID: "u1", SID: "d1"}, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := v.Validate(tok); err != nil {
		t.Fatalf("verifier validate: %v", err)
	}
	if _, _, err := v.Issue(AccessClaims{UID: "u1", SID: "d1"}, time.Minute); err == nil {
		t.Fatal("expected issue to fail without signing key")
	}
}

func TestPEMRoundTrip(t *testing.T) {
	pub, priv, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	privPEM, err := MarshalPrivateKeyPEM(priv)
	if err != nil {
		t.Fatalf("marshal private: %v", err)
	}
	parsed, err := ParsePrivateKey(privPEM)
	if err != nil {
		t.Fatalf("parse private: %v", err)
	}
	if !parsed.Public().(ed25519.PublicKey).Equal(pub) {
		t.Fatal("parsed private key does not match")
	}
}

func TestNewManagerRejectsMismatchedKeys(t *testing.T) {
	_, priv, _ := GenerateKeyPair()
	otherPub, _, _ := GenerateKeyPair()
	if _, err := NewManager(Config{PrivateKey: priv, PublicKey: otherPub}); err == nil {
		t.Fatal("expected mismatched key pair to be rejected")
	}
	if _, err := NewManager(Config{}); err == nil {
		t.Fatal("expected missing keys to be rejected")
	}
}

func TestKeyRotationWithVerifyKeys(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	oldPub, oldPriv, _ := GenerateKeyPair()
	newPub, newPriv, _ := GenerateKeyPair()
	keys := map[string][]byte{"k1": oldPub, "k2": newPub}

	oldSigner, err := NewManager(Config{PrivateKey: oldPriv, KeyID: "k1", VerifyKeys: keys, Now: clock.Now})
	if err != nil {
		t.Fatalf("old signer: %v", err)
	}
	newSigner, err := NewManager(Config{PrivateKey: newPriv, KeyID: "k2", VerifyKeys: keys, Now: clock.Now})
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	tok, _, err := oldSigner.Issue(AccessClaims{UID: "u1", SID: "d1"}, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := newSigner.Validate(tok); err != nil {
		t.Fatalf("expected token signed with previous key to validate: %v", err)
	}
}
