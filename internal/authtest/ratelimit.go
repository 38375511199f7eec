package authtest

import "time"

const (
	// maxLoginFailures is the number of consecutive bad passwords for one
	// username before logins are locked.
	maxLoginFailures = 5
	baseLockout      = time.Minute
	maxLockout       = 15 * time.Minute
	attemptExpiry    = time.Hour
)

// loginLimiter applies exponential backoff to repeated failed logins per
// username. It is used under the server's lock.
type loginLimiter struct {
	attempts map[string]*attemptRecord
}

type attemptRecord struct {
	failures    int
	lastFailure time.Time
	lockedUntil time.Time
}

func newLoginLimiter() *loginLimiter {
	return &loginLimiter{attempts: make(map[string]*attemptRecord)}
}

// check reports whether username is locked at now and for how long.
func (l *loginLimiter) check(username string, now time.Time) (bool, time.Duration) {
	rec, ok := l.attempts[username]
	if !ok {
		return false, 0
	}
	if now.Sub(rec.lastFailure) > attemptExpiry {
		delete(l.attempts, username)
		return false, 0
	}
	if now.Before(rec.lockedUntil) {
		return true, rec.lockedUntil.Sub(now)
	}
	return false, 0
}

// fail records a bad password. Once maxLoginFailures is reached each further
// failure doubles the lockout, up to maxLockout.
func (l *loginLimiter) fail(username string, now time.Time) {
	rec, ok := l.attempts[username]
	if !ok {
		rec = &attemptRecord{}
		l.attempts[username] = rec
	}
	rec.failures++
	rec.lastFailure = now
	if rec.failures < maxLoginFailures {
		return
	}
	lockout := baseLockout
	for i := maxLoginFailures; i < rec.failures && lockout < maxLockout; i++ {
		lockout *= 2
	}
	rec.lockedUntil = now.Add(min(lockout, maxLockout))
}

func (l *loginLimiter) succeed(username string) {
	delete(l.attempts, username)
}
