// Package session owns the wallet's unlock state. It is the gate between
// callers and signing keys: while the session is unlocked, derived keys may
// live in its cache; the moment it locks, for any reason, the cache is
// zeroized.
//
// # State machine
//
// A session is Locked, Unlocking (a password prompt is open), Unlocked,
// RateLimited (attempt backoff in force), or LockedOut. Unlock attempts are
// strictly serialized per account, sliding-window rate limited at three per
// minute with exponential backoff, and escalate to a fifteen-minute lockout
// after five consecutive failures.
//
// # Clock
//
// Every timeout, backoff, and cache-age decision goes through an injectable
// TimeProvider so tests can drive the clock deterministically.
//
// Inactivity locks the session after the configured timeout (15 minutes by
// default). When the secure-memory probe reported that page locking is
// unavailable, the effective timeout is shortened to 5 minutes: keys that
// could be swapped to disk should not linger.
package session
