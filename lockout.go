package auth

import "time"

const (
	DefaultMaxLoginAttempts = 3
	DefaultLockoutDuration  = 5 * time.Minute
)

// LockoutStatus describes the lockout state of an account after a check or a
// recorded failure.
type LockoutStatus struct {
	Locked            bool
	Until             time.Time
	Remaining         time.Duration
	AttemptsRemaining int
}

// LockoutTracker counts consecutive failed logins and opens a lockout window
// once MaxAttempts is reached.
type LockoutTracker struct {
	MaxAttempts int
	Duration    time.Duration
}

// DefaultLockoutTracker locks for five minutes after three failures.
func DefaultLockoutTracker() *LockoutTracker {
	return &LockoutTracker{
		MaxAttempts: DefaultMaxLoginAttempts,
		Duration:    DefaultLockoutDuration,
	}
}

// CheckLocked must run before the credential is verified.
func (l *LockoutTracker) CheckLocked(account *Account, now time.Time) LockoutStatus {
	if account.LockoutEnd != nil && now.Before(*account.LockoutEnd) {
		return LockoutStatus{
			Locked:    true,
			Until:     *account.LockoutEnd,
			Remaining: account.LockoutEnd.Sub(now),
		}
	}
	if account.LockoutEnd != nil {
		return LockoutStatus{AttemptsRemaining: l.maxAttempts()}
	}
	return LockoutStatus{AttemptsRemaining: l.remaining(account)}
}

// RecordFailure increments the failure counter and locks the account when
// the counter reaches MaxAttempts. A failure after an expired window starts a
// new count.
func (l *LockoutTracker) RecordFailure(account *Account, now time.Time) LockoutStatus {
	if account.LockoutEnd != nil && !now.Before(*account.LockoutEnd) {
		account.LockoutEnd = nil
		account.FailedLoginAttempts = 0
	}

	account.FailedLoginAttempts++
	if account.FailedLoginAttempts >= l.maxAttempts() {
		until := now.Add(l.Duration)
		account.LockoutEnd = timePtr(until)
		return LockoutStatus{
			Locked:    true,
			Until:     until,
			Remaining: l.Duration,
		}
	}

	return LockoutStatus{AttemptsRemaining: l.remaining(account)}
}

// Reset clears the counter and any lockout window.
func (l *LockoutTracker) Reset(account *Account) {
	account.FailedLoginAttempts = 0
	account.LockoutEnd = nil
}

func (l *LockoutTracker) maxAttempts() int {
	if l.MaxAttempts <= 0 {
		return DefaultMaxLoginAttempts
	}
	return l.MaxAttempts
}

func (l *LockoutTracker) remaining(account *Account) int {
	left := l.maxAttempts() - account.FailedLoginAttempts
	if left < 0 {
		return 0
	}
	return left
}
