package jwt

import (
	"errors"

	gjwt "github.com/golang-jwt/jwt/v5"
)

// Kind classifies an access-token validation failure.
type Kind uint8

const (
	KindMalformed Kind = iota + 1
	KindInvalidSignature
	KindExpired
)

func (k Kind) String() string {
	switch k {
	case KindExpired:
		return "expired"
	case KindInvalidSignature:
		return "invalid_signature"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

var (
	ErrExpired          = errors.New("access token expired")
	ErrInvalidSignature = errors.New("access token signature invalid")
	ErrMalformed        = errors.New("access token malformed")
)

// ValidationError is returned by Validate. errors.Is matches the sentinel for
// its Kind.
type ValidationError struct {
	Kind Kind
	Err  error
}

func (e *ValidationError) Error() string {
	if e.Err == nil {
		return e.sentinel().Error()
	}
	return e.sentinel().Error() + ": " + e.Err.Error()
}

func (e *ValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.sentinel()}
	}
	return []error{e.sentinel(), e.Err}
}

func (e *ValidationError) sentinel() error {
	switch e.Kind {
	case KindExpired:
		return ErrExpired
	case KindInvalidSignature:
		return ErrInvalidSignature
	default:
		return ErrMalformed
	}
}

// KindOf extracts the failure kind from err, or 0 if err is not a validation
// failure.
func KindOf(err error) Kind {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Kind
	}
	return 0
}

func classify(err error) *ValidationError {
	switch {
	case errors.Is(err, gjwt.ErrTokenSignatureInvalid),
		errors.Is(err, gjwt.ErrTokenUnverifiable):
		return &ValidationError{Kind: KindInvalidSignature, Err: err}
	case errors.Is(err, gjwt.ErrTokenExpired):
		return &ValidationError{Kind: KindExpired, Err: err}
	default:
		return &ValidationError{Kind: KindMalformed, Err: err}
	}
}
