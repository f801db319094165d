// Package stores provides Redis-backed, short-lived records used by the
// second login factor: pending MFA challenges and used TOTP steps.
//
// Each challenge is a versioned binary record stored with a relative TTL.
// Failure accounting uses WATCH/MULTI optimistic transactions with retry,
// and consumption uses GETDEL so a challenge completes at most once.
//
// The package owns persistence only. Code verification and login decisions
// live in the callers.
package stores
