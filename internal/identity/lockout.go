package identity

// LockoutPolicy decides when repeated failed logins lock an account. It is a
// pure function of the counter; resetting the counter is a separate explicit
// operation taken only after a verified password match.
type LockoutPolicy struct {
	Threshold int
}

// DefaultLockoutThreshold is the number of consecutive failures that locks an
// account.
const DefaultLockoutThreshold = 3

// NewLockoutPolicy builds a policy; non-positive thresholds fall back to the
// default.
func NewLockoutPolicy(threshold int) LockoutPolicy {
	if threshold < 1 {
		threshold = DefaultLockoutThreshold
	}
	return LockoutPolicy{Threshold: threshold}
}

// ShouldLock reports whether the given failed-login count requires a lock.
func (p LockoutPolicy) ShouldLock(failedCount int) bool {
	return failedCount >= p.Threshold
}
