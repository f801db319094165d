// Package totp implements RFC 6238 time-based one-time passwords for the
// second login factor.
//
// The package is pure computation. Replay protection and attempt limits are
// enforced by the caller, which receives the matched time-step counter from
// [Manager.Verify].
package totp
