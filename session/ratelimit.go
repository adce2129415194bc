package session

import (
	"sync"
	"time"
)

const (
	// attemptWindow is the sliding window for the attempts-per-minute
	// limit.
	attemptWindow = time.Minute
	// windowLimit is how many attempts the window admits before backoff
	// starts.
	windowLimit = 3
	// maxBackoff caps the exponential backoff.
	maxBackoff = 300 * time.Second
	// lockoutThreshold is the consecutive-failure count that trips a
	// lockout.
	lockoutThreshold = 5
	// lockoutDuration is how long a lockout lasts.
	lockoutDuration = 15 * time.Minute
)

// attemptRecord tracks unlock attempts for one account. The attemptMu is
// held for the whole duration of a password validation so that attempts on
// the same account are strictly serialized; this is the one lock in the
// core that is documented to span a suspension point.
type attemptRecord struct {
	attemptMu sync.Mutex

	failures     []time.Time // sliding window of recorded failures
	consecutive  int         // resets only on success
	backoffUntil time.Time
	lockedUntil  time.Time
}

func (ar *attemptRecord) pruneWindow(now time.Time) {
	cutoff := now.Add(-attemptWindow)
	kept := ar.failures[:0]
	for _, t := range ar.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	ar.failures = kept
}

// lockedOut reports the remaining lockout, zero if none.
func (ar *attemptRecord) lockedOut(now time.Time) time.Duration {
	if now.Before(ar.lockedUntil) {
		return ar.lockedUntil.Sub(now)
	}
	return 0
}

// inBackoff reports the remaining backoff, zero if none.
func (ar *attemptRecord) inBackoff(now time.Time) time.Duration {
	if now.Before(ar.backoffUntil) {
		return ar.backoffUntil.Sub(now)
	}
	return 0
}

// recordFailure notes a failed (or rejected-while-limited) attempt and
// returns the resulting schedule: remaining attempts before backoff, the
// backoff if one starts now, and whether the account is now locked out.
//
// The schedule follows the observable contract: failures one and two report
// 2 and 1 attempts remaining, the third starts a 2 s backoff, the fourth
// 4 s, and the fifth locks the account out for 15 minutes.
func (ar *attemptRecord) recordFailure(now time.Time) (remaining int, backoff time.Duration, locked bool) {
	ar.pruneWindow(now)
	ar.failures = append(ar.failures, now)
	ar.consecutive++

	if ar.consecutive >= lockoutThreshold {
		ar.lockedUntil = now.Add(lockoutDuration)
		ar.backoffUntil = time.Time{}
		return 0, lockoutDuration, true
	}

	if n := len(ar.failures); n >= windowLimit {
		backoff = time.Duration(1<<(n-2)) * time.Second
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		ar.backoffUntil = now.Add(backoff)
		return 0, backoff, false
	}

	return windowLimit - len(ar.failures), 0, false
}

// reset clears all failure state after a successful unlock.
func (ar *attemptRecord) reset() {
	ar.failures = nil
	ar.consecutive = 0
	ar.backoffUntil = time.Time{}
	ar.lockedUntil = time.Time{}
}
