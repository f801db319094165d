package qauth

import "time"

// UnlockPolicy decides how a locked identifier becomes usable again.
type UnlockPolicy interface {
	// LockTTL bounds the lock. Zero keeps it until Engine.Unlock.
	LockTTL() time.Duration
	Name() string
}

// VerificationUnlock keeps the lock until the host verifies the account
// holder out of band and calls Engine.Unlock.
type VerificationUnlock struct{}

func (VerificationUnlock) LockTTL() time.Duration { return 0 }
func (VerificationUnlock) Name() string           { return "verification" }

// TimedUnlock lifts the lock after a fixed duration.
type TimedUnlock struct {
	After time.Duration
}

func (p TimedUnlock) LockTTL() time.Duration { return p.After }
func (p TimedUnlock) Name() string           { return "timed" }
