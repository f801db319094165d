// Package session is the Redis-backed refresh store.
//
// Each live refresh token belongs to exactly one (tenant, identity, device)
// record. The raw token is never stored; the record holds its keyed hash and a
// pointer key maps that hash back to the record.
//
// # Key layout
//
//	<p>:s:<tenant>:<identity>:<device>   hash   h c lu e r i t d
//	<p>:u:<tenant>:<identity>            set    device ids
//	<p>:it:<identity>                    set    tenant ids with live records
//	<p>:h:<hash>                         string record suffix
//	<p>:x:<hash>                         hash   reuse tombstone (i t d)
//
// The tenant appears in every record key, so revoking an identity's sessions in
// one tenant cannot touch another tenant.
//
// # Atomicity
//
// Create, Rotate and every invalidation run as single Lua scripts. Rotate
// resolves the pointer, checks the hash, writes the tombstone and installs the
// replacement in one step, so two concurrent rotations of the same token cannot
// both succeed. Scripts derive record keys from pointer values, which requires
// a single Redis primary (standalone or sentinel), not Redis Cluster.
//
// # What this package must NOT do
//
//   - Import qauth, jwt, or permission.
//   - Decide what to do about reuse; it reports it.
//   - Store raw refresh tokens.
package session
