package flows

import (
	"context"

	"github.com/qualisys/qauth/session"
)

// LogoutResult reports what a logout revoked.
type LogoutResult struct {
	Failure FailureKind
	Err     error
	Record  *session.Record
	Revoked int
}

// LogoutDeps captures logout dependencies.
type LogoutDeps struct {
	InvalidateOne func(context.Context, string) (*session.Record, error)
	InvalidateAll func(context.Context, string) (int, error)
}

// RunLogout revokes the session behind raw. Unknown or already revoked tokens
// succeed with a nil Record.
func RunLogout(ctx context.Context, raw string, deps LogoutDeps) LogoutResult {
	rec, err := deps.InvalidateOne(ctx, raw)
	if err != nil {
		return LogoutResult{Failure: FailureStoreUnavailable, Err: err}
	}
	res := LogoutResult{Record: rec}
	if rec != nil {
		res.Revoked = 1
	}
	return res
}

// RunLogoutAll revokes every session of identityID. A store outage is a
// failure, never a silent success.
func RunLogoutAll(ctx context.Context, identityID string, deps LogoutDeps) LogoutResult {
	n, err := deps.InvalidateAll(ctx, identityID)
	if err != nil {
		return LogoutResult{Failure: FailureStoreUnavailable, Err: err}
	}
	return LogoutResult{Revoked: n}
}
