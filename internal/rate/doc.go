// Package rate provides the sliding-window counter used by every limiter.
//
// # Window semantics
//
// Each subject owns one sorted set. An event is a member scored by its
// timestamp in milliseconds. Adding an event trims members older than the
// window, inserts the new one, counts, and refreshes the key TTL in a single
// Lua script, so concurrent instances never lose or double-count events.
//
// Timestamps come from an injectable clock. Key TTLs are relative, so Redis
// still reclaims idle keys on its own.
//
// # What this package must NOT do
//
//   - Implement domain-specific policies (those live in internal/limiters).
//   - Be imported outside the qauth module.
package rate
