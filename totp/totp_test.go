package totp

import (
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"
)

func rfcManager(t *testing.T, algorithm string) *Manager {
	t.Helper()
	m, err := New(Config{Issuer: "QUALISYS", Digits: 8, Period: 30, Algorithm: algorithm})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestVerifyRFC6238Vectors(t *testing.T) {
	cases := []struct {
		algorithm string
		secret    string
		ts        int64
		code      string
	}{
		{"SHA1", "12345678901234567890", 59, "94287082"},
		{"SHA1", "12345678901234567890", 1111111109, "07081804"},
		{"SHA1", "12345678901234567890", 1234567890, "89005924"},
		{"SHA1", "12345678901234567890", 20000000000, "65353130"},
		{"SHA256", "12345678901234567890123456789012", 59, "46119246"},
		{"SHA256", "12345678901234567890123456789012", 2000000000, "90698825"},
		{"SHA512", "1234567890123456789012345678901234567890123456789012345678901234", 59, "90693936"},
		{"SHA512", "1234567890123456789012345678901234567890123456789012345678901234", 1111111111, "99943326"},
	}

	for _, tc := range cases {
		m := rfcManager(t, tc.algorithm)
		ok, counter, err := m.Verify([]byte(tc.secret), tc.code, time.Unix(tc.ts, 0))
		if err != nil || !ok {
			t.Fatalf("%s vector at t=%d: ok=%v err=%v", tc.algorithm, tc.ts, ok, err)
		}
		if counter != tc.ts/30 {
			t.Fatalf("counter = %d, want %d", counter, tc.ts/30)
		}
	}
}

func TestVerifySkewWindow(t *testing.T) {
	m, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	secret, _, err := m.GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	now := time.Unix(1_800_000_000, 0)

	prev, _ := m.Code(secret, now.Add(-30*time.Second))
	if ok, _, _ := m.Verify(secret, prev, now); !ok {
		t.Fatal("previous step should be accepted with skew 1")
	}
	old, _ := m.Code(secret, now.Add(-90*time.Second))
	if ok, _, _ := m.Verify(secret, old, now); ok {
		t.Fatal("code three steps old should be rejected")
	}
}

func TestVerifyRejectsMalformedCodes(t *testing.T) {
	m, _ := New(DefaultConfig())
	secret := []byte("12345678901234567890")
	for _, code := range []string{"", "12345", "1234567", "12a456", " "} {
		if ok, _, err := m.Verify(secret, code, time.Now()); ok || err != nil {
			t.Fatalf("code %q: ok=%v err=%v", code, ok, err)
		}
	}
	if _, _, err := m.Verify(nil, "123456", time.Now()); !errors.Is(err, ErrEmptySecret) {
		t.Fatalf("expected ErrEmptySecret, got %v", err)
	}
}

func TestDecodeSecretRoundTrip(t *testing.T) {
	m, _ := New(DefaultConfig())
	raw, encoded, err := m.GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	decoded, err := DecodeSecret(strings.ToLower(encoded) + "====")
	if err != nil {
		t.Fatalf("DecodeSecret: %v", err)
	}
	if string(decoded) != string(raw) {
		t.Fatal("decoded secret differs")
	}
	if _, err := DecodeSecret("!!"); !errors.Is(err, ErrInvalidSecret) {
		t.Fatalf("expected ErrInvalidSecret, got %v", err)
	}
}

func TestProvisionURI(t *testing.T) {
	m, _ := New(DefaultConfig())
	uri := m.ProvisionURI("JBSWY3DPEHPK3PXP", "qa@example.com")
	u, err := url.Parse(uri)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Scheme != "otpauth" || u.Host != "totp" {
		t.Fatalf("unexpected uri %s", uri)
	}
	q := u.Query()
	if q.Get("issuer") != "QUALISYS" || q.Get("digits") != "6" || q.Get("secret") != "JBSWY3DPEHPK3PXP" {
		t.Fatalf("unexpected query %v", q)
	}
}

func TestConfigValidate(t *testing.T) {
	bad := []Config{
		{Digits: 7, Period: 30},
		{Digits: 6, Period: 0},
		{Digits: 6, Period: 30, Skew: 4},
		{Digits: 6, Period: 30, Algorithm: "MD5"},
	}
	for i, cfg := range bad {
		if _, err := New(cfg); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}
