package session

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/walletcore/securemem"
	"github.com/opd-ai/walletcore/walleterr"
)

// State is the session's position in the unlock state machine.
type State int

const (
	// StateLocked means no derived key is cached and any signing
	// operation needs a password.
	StateLocked State = iota
	// StateUnlocking means a password attempt is in flight.
	StateUnlocking
	// StateUnlocked means derived keys may be cached and used.
	StateUnlocked
	// StateRateLimited means an attempt backoff is in force.
	StateRateLimited
	// StateLockedOut means five consecutive failures tripped the
	// fifteen-minute lockout.
	StateLockedOut
)

func (s State) String() string {
	switch s {
	case StateLocked:
		return "locked"
	case StateUnlocking:
		return "unlocking"
	case StateUnlocked:
		return "unlocked"
	case StateRateLimited:
		return "rate-limited"
	case StateLockedOut:
		return "locked-out"
	}
	return "unknown"
}

const (
	// DefaultTimeout is the default inactivity timeout.
	DefaultTimeout = 15 * time.Minute
	// ReducedTimeout applies when page locking is unavailable.
	ReducedTimeout = 5 * time.Minute
)

// Config carries the session policy knobs.
type Config struct {
	// Timeout is the inactivity timeout. Zero means DefaultTimeout; a
	// negative value disables auto-lock entirely ("never").
	Timeout time.Duration
	// LockOnMinimize locks the session on a window-minimize signal.
	LockOnMinimize bool
	// SwapLockAvailable is the startup secure-memory probe result. When
	// false the effective timeout is capped at ReducedTimeout.
	SwapLockAvailable bool
}

// Session is the unlock state machine plus the derived-key cache. One
// instance exists per wallet process; tests construct their own with a fake
// clock.
type Session struct {
	mu           sync.Mutex
	state        State
	lastActivity time.Time
	cfg          Config
	cache        *keyCache
	attempts     map[string]*attemptRecord
	tp           TimeProvider
}

// New creates a locked session.
func New(cfg Config, tp TimeProvider) *Session {
	if tp == nil {
		tp = DefaultTimeProvider{}
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Session{
		state:    StateLocked,
		cfg:      cfg,
		cache:    newKeyCache(),
		attempts: make(map[string]*attemptRecord),
		tp:       tp,
	}
}

// EffectiveTimeout is the inactivity timeout in force: the configured value,
// capped at ReducedTimeout when page locking is unavailable. A negative
// configured timeout (auto-lock disabled) is still capped when the probe
// failed; unlockable swap is not a place to keep keys forever.
func (s *Session) EffectiveTimeout() time.Duration {
	if !s.cfg.SwapLockAvailable {
		if s.cfg.Timeout < 0 || s.cfg.Timeout > ReducedTimeout {
			return ReducedTimeout
		}
	}
	return s.cfg.Timeout
}

// State returns the current state, applying any expiry that has become due:
// inactivity locks an unlocked session, elapsed backoffs and lockouts decay
// to Locked.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() State {
	now := s.tp.Now()
	switch s.state {
	case StateUnlocked:
		timeout := s.EffectiveTimeout()
		if timeout >= 0 && now.Sub(s.lastActivity) > timeout {
			s.lockLocked("inactivity timeout")
		}
	case StateRateLimited, StateLockedOut:
		if !s.anyLimitActive(now) {
			s.state = StateLocked
		}
	}
	return s.state
}

func (s *Session) anyLimitActive(now time.Time) bool {
	for _, ar := range s.attempts {
		if ar.lockedOut(now) > 0 || ar.inBackoff(now) > 0 {
			return true
		}
	}
	return false
}

// Unlocked reports whether the session is currently unlocked.
func (s *Session) Unlocked() bool { return s.State() == StateUnlocked }

// Touch records user activity, extending the inactivity window. It has no
// effect while locked.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stateLocked() == StateUnlocked {
		s.lastActivity = s.tp.Now()
	}
}

// Lock locks the session and zeroizes every cached key, regardless of the
// current state.
func (s *Session) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lockLocked("manual lock")
}

// Minimized signals a window-minimize event; it locks the session when the
// lock-on-minimize policy is enabled.
func (s *Session) Minimized() {
	if !s.cfg.LockOnMinimize {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lockLocked("window minimized")
}

func (s *Session) lockLocked(reason string) {
	if s.state == StateUnlocked || s.cache.len() > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "Lock",
			"reason":   reason,
			"evicted":  s.cache.len(),
		}).Info("session locked")
	}
	s.cache.clear()
	s.state = StateLocked
}

// Attempt is one serialized password-validation attempt. Exactly one of
// Succeed, Fail, or Cancel must be called to release it.
type Attempt struct {
	s         *Session
	accountID string
	record    *attemptRecord
	done      bool
}

// Begin starts an unlock attempt for an account. It blocks while another
// attempt for the same account is in flight, then applies the rate-limit
// and lockout gates. A gate rejection counts as a failed attempt when a
// backoff is hammered, which is how persistent hammering escalates to a
// lockout.
func (s *Session) Begin(accountID string) (*Attempt, error) {
	ar := s.record(accountID)

	// Serializes validation attempts per account. Held until the Attempt
	// is released; password validation happens under it by design.
	ar.attemptMu.Lock()

	s.mu.Lock()
	now := s.tp.Now()

	if remaining := ar.lockedOut(now); remaining > 0 {
		s.state = StateLockedOut
		s.mu.Unlock()
		ar.attemptMu.Unlock()
		return nil, walleterr.AccountLocked(remaining)
	}

	if ar.inBackoff(now) > 0 {
		// Hammering the backoff still counts against the account.
		_, backoff, locked := ar.recordFailure(now)
		if locked {
			s.state = StateLockedOut
			s.mu.Unlock()
			ar.attemptMu.Unlock()
			return nil, walleterr.AccountLocked(lockoutDuration)
		}
		s.state = StateRateLimited
		s.mu.Unlock()
		ar.attemptMu.Unlock()
		return nil, walleterr.TooManyAttempts(backoff)
	}

	s.state = StateUnlocking
	s.mu.Unlock()

	return &Attempt{s: s, accountID: accountID, record: ar}, nil
}

func (s *Session) record(accountID string) *attemptRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	ar, ok := s.attempts[accountID]
	if !ok {
		ar = &attemptRecord{}
		s.attempts[accountID] = ar
	}
	return ar
}

// Succeed reports a correct password: failure state resets and the session
// becomes unlocked.
func (a *Attempt) Succeed() {
	if a.done {
		return
	}
	a.done = true

	a.s.mu.Lock()
	a.record.reset()
	a.s.state = StateUnlocked
	a.s.lastActivity = a.s.tp.Now()
	a.s.mu.Unlock()
	a.record.attemptMu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Succeed",
		"account":  a.accountID,
	}).Info("session unlocked")
}

// Fail reports a wrong password and returns the error the caller should
// surface: incorrect-password with attempts remaining, too-many-attempts
// with the backoff, or account-locked after the fifth consecutive failure.
func (a *Attempt) Fail() error {
	if a.done {
		return walleterr.ErrIncorrectPassword
	}
	a.done = true

	a.s.mu.Lock()
	now := a.s.tp.Now()
	remaining, backoff, locked := a.record.recordFailure(now)

	var err error
	switch {
	case locked:
		a.s.state = StateLockedOut
		err = walleterr.AccountLocked(backoff)
		logrus.WithFields(logrus.Fields{
			"function": "Fail",
			"account":  a.accountID,
		}).Warn("account locked out after repeated failures")
	case backoff > 0:
		a.s.state = StateRateLimited
		err = walleterr.TooManyAttempts(backoff)
	default:
		a.s.state = StateLocked
		err = walleterr.IncorrectPassword(remaining)
	}
	a.s.mu.Unlock()
	a.record.attemptMu.Unlock()
	return err
}

// Cancel releases the attempt without recording an outcome; the prompt was
// dismissed.
func (a *Attempt) Cancel() {
	if a.done {
		return
	}
	a.done = true

	a.s.mu.Lock()
	if a.s.state == StateUnlocking {
		a.s.state = StateLocked
	}
	a.s.mu.Unlock()
	a.record.attemptMu.Unlock()
}

// CacheGet returns a caller-owned copy of the cached key for addr, or nil
// when the session is locked, the entry is absent, or the entry has
// outlived the session timeout.
func (s *Session) CacheGet(addr common.Address) *securemem.Region {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stateLocked() != StateUnlocked {
		return nil
	}
	key := s.cache.get(addr, s.tp.Now(), s.EffectiveTimeout())
	if key == nil {
		return nil
	}
	return key.Clone()
}

// CachePut inserts a derived key, taking ownership of the region. Inserting
// while locked destroys the key and reports false.
func (s *Session) CachePut(addr common.Address, key *securemem.Region) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stateLocked() != StateUnlocked {
		key.Destroy()
		return false
	}
	s.cache.insert(addr, key, s.tp.Now())
	return true
}

// CacheEvict zeroizes and removes the key for addr.
func (s *Session) CacheEvict(addr common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.evict(addr)
}

// CacheClear zeroizes and removes every cached key without locking the
// session.
func (s *Session) CacheClear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.clear()
}

// CacheLen reports the number of cached keys after applying any inactivity
// lock that has come due.
func (s *Session) CacheLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stateLocked()
	return s.cache.len()
}
