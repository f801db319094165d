// Package middleware adapts qauth.Engine to net/http.
//
// # Adapters
//
//   - [ClientInfo] copies the device id header and client IP into the
//     request context for login and audit.
//   - [Guard] validates the bearer access token and stores its claims.
//   - [RequireRole] runs the capability check for a tenant.
//   - [PerClientLimit] paces credential endpoints per client IP.
//
// # What this package must NOT do
//
//   - Parse or sign tokens itself (the engine does).
//   - Touch Redis or the identity store.
//   - Define routes or deliver tokens in cookies.
package middleware
