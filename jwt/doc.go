// Package jwt issues and validates short-lived access tokens.
//
// Tokens are signed with Ed25519 (EdDSA) so that any service holding only the
// public key can verify them. A token carries the identity id, the tenant id
// (absent until a multi-tenant identity selects one), the role within that
// tenant, the device/session id and a unique token id.
//
// Validation failures are typed. [KindExpired] means the caller should refresh;
// [KindInvalidSignature] and [KindMalformed] mean the token must be rejected.
//
// # Key lifecycle
//
// Production keys come from a secret store and are loaded with [ParsePrivateKey]
// and [ParsePublicKey]. [GenerateKeyPair] exists for development processes and
// for the qauth-keygen command; a generated key dies with the process, which
// invalidates every outstanding token on restart.
//
// # What this package must NOT do
//
//   - Persist anything.
//   - Make network calls.
package jwt
