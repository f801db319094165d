// Package refresh generates and hashes opaque refresh tokens.
//
// # Token format
//
// A refresh token is 32 bytes from crypto/rand, base64url-encoded without
// padding (43 characters). It carries no claims. The server keeps only
// HMAC-SHA256(pepper, token) in hex, so a leaked store dump cannot be replayed
// and cannot be brute-forced offline without the pepper.
//
// # Architecture boundaries
//
// This package owns token generation and hashing. Rotation, reuse detection and
// revocation live in the session store and the Engine.
//
// # What this package must NOT do
//
//   - Access Redis or any I/O.
//   - Import qauth, jwt, or session.
package refresh
