// Package qauth is the authentication and session core of QUALISYS.
//
// It verifies passwords, issues short-lived Ed25519 access tokens and
// rotating refresh tokens, scopes sessions to tenants, and enforces login
// throttling and lockout. Every stateful piece lives in Redis; identities and
// memberships come from an [IdentityProvider] supplied by the host service.
//
// # Quick start
//
//	engine, err := qauth.New().
//		WithConfig(qauth.DefaultConfig()).
//		WithRedis(redisClient).
//		WithIdentityProvider(provider).
//		WithLogger(logger).
//		Build()
//	if err != nil { ... }
//	defer engine.Close()
//
//	res, err := engine.Login(ctx, qauth.LoginRequest{Email: email, Password: pw})
//
// # Failure policy
//
// Issuing access tokens fails open: if the limiter store is down, login
// proceeds without throttling, and if the refresh store is down, login
// returns an access-only [TokenPair] marked Degraded. Refresh, tenant
// selection and logout-all fail closed.
//
// # Redis topology
//
// The refresh store and limiters run Lua scripts that address keys derived
// at run time. A single Redis primary (with replicas or Sentinel) is
// required; Redis Cluster is not supported.
package qauth
