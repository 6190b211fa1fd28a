package auth

import "time"

// LockoutPolicy decides login blocking from an account's failure counter and
// lock expiry. It is pure: callers persist the returned state themselves.
type LockoutPolicy struct {
	MaxAttempts  int
	LockDuration time.Duration
}

type LockoutState struct {
	FailedAttempts int
	LockedUntil    *time.Time
}

// IsBlocked reports whether the account is currently locked out.
func (p LockoutPolicy) IsBlocked(state LockoutState, now time.Time) bool {
	return state.LockedUntil != nil && now.Before(*state.LockedUntil)
}

// OnFailure returns the state after one more failed attempt. Reaching the
// threshold sets the lock and zeroes the counter, so an account that waits
// out the lock starts clean.
func (p LockoutPolicy) OnFailure(state LockoutState, now time.Time) LockoutState {
	next := LockoutState{
		FailedAttempts: state.FailedAttempts + 1,
		LockedUntil:    state.LockedUntil,
	}
	if next.FailedAttempts >= p.MaxAttempts {
		until := now.UTC().Add(p.LockDuration)
		next.LockedUntil = &until
		next.FailedAttempts = 0
	}
	return next
}

// OnSuccess clears the counter and any lock.
func (p LockoutPolicy) OnSuccess(LockoutState) LockoutState {
	return LockoutState{}
}
