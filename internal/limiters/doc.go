// Package limiters provides the login guard and MFA attempt limiter built on
// internal/rate sliding windows.
//
// # Limiters
//
//   - [LoginGuard] keeps two independent windows per login identifier: a short
//     throttle window (retryable) and a long lockout window. Reaching the
//     lockout threshold sets a lock flag that only [LoginGuard.Unlock] or the
//     flag's own TTL clears.
//   - [MFALimiter] caps MFA code attempts per identity.
//
// Subjects are SHA-256 digests of the normalized identifier, so raw email
// addresses never appear in Redis key names.
//
// # What this package must NOT do
//
//   - Import qauth or any sibling internal package except internal/rate.
//   - Decide consequences; callers turn a Decision into a response.
package limiters
