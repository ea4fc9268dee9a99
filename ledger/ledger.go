// Package ledger keeps the bounded, time-decayed log of authentication
// attempts and makes the lockout decision. Lockout is a sliding-window count
// over the retained attempts, keyed independently by subject email and by
// originating network address: one threshold catches a single account being
// hammered from anywhere, the higher one catches a single address hammering
// many accounts.
package ledger

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/valkyrsec/vault-guard/audit"
)

// FailureReason tags why an attempt failed. The set is closed; an empty
// reason means the attempt succeeded.
type FailureReason string

const (
	ReasonNone            FailureReason = ""
	ReasonAccountLocked   FailureReason = "account_locked"
	ReasonUserNotFound    FailureReason = "user_not_found"
	ReasonInvalidPassword FailureReason = "invalid_password"
	ReasonSystemError     FailureReason = "system_error"
)

// Attempt is one immutable authentication attempt record.
type Attempt struct {
	ID        string
	Email     string
	Success   bool
	Address   string
	UserAgent string
	Reason    FailureReason
	At        time.Time
}

// Config carries the lockout policy and retention knobs.
type Config struct {
	// Window is the sliding lockout window. <= 0 falls back to 15 minutes.
	Window time.Duration
	// MaxEmailFailures locks an email once this many failures fall inside
	// the window. <= 0 falls back to 5.
	MaxEmailFailures int
	// MaxAddressFailures locks a network address once this many failures
	// fall inside the window. <= 0 falls back to 2x MaxEmailFailures.
	MaxAddressFailures int
	// Retention bounds how long attempts are kept at all. <= 0 falls back
	// to one week.
	Retention time.Duration
	// MaxRecords caps the retained attempt population, oldest evicted
	// first. <= 0 falls back to 10000.
	MaxRecords int
	// Now is the clock; nil means time.Now.
	Now func() time.Time
	// EmitAudit, when set, receives the audit event for each recorded
	// attempt. The ledger never reaches into the audit log directly.
	EmitAudit func(audit.Event)
}

const (
	defaultWindow        = 15 * time.Minute
	defaultEmailFailures = 5
	defaultRetention     = 7 * 24 * time.Hour
	defaultMaxRecords    = 10000
)

// Ledger is the concurrent attempt log. All appends and window counts run
// under one mutex, so parallel logins cannot lose attempts and a count
// never observes a half-appended record.
type Ledger struct {
	mu       sync.Mutex
	attempts []Attempt
	cfg      Config
}

// New creates a ledger with defaults applied.
func New(cfg Config) *Ledger {
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	if cfg.MaxEmailFailures <= 0 {
		cfg.MaxEmailFailures = defaultEmailFailures
	}
	if cfg.MaxAddressFailures <= 0 {
		cfg.MaxAddressFailures = cfg.MaxEmailFailures * 2
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = defaultMaxRecords
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Ledger{cfg: cfg}
}

// Record appends an attempt, prunes anything past retention, and emits the
// corresponding audit event (authentication type; info severity on success,
// medium on failure). It returns the stored record.
//
// A successful attempt does not clear earlier failures; only the sliding
// window ages them out.
func (l *Ledger) Record(email string, success bool, address, userAgent string, reason FailureReason) Attempt {
	l.mu.Lock()
	now := l.cfg.Now()
	a := Attempt{
		ID:        uuid.NewString(),
		Email:     email,
		Success:   success,
		Address:   address,
		UserAgent: userAgent,
		Reason:    reason,
		At:        now,
	}
	if success {
		a.Reason = ReasonNone
	}
	l.attempts = append(l.attempts, a)
	l.pruneLocked(now)

	var windowFailures int
	if !success {
		windowFailures = l.countFailuresLocked(now, func(c Attempt) bool { return c.Email == email })
	}
	l.mu.Unlock()

	if l.cfg.EmitAudit != nil {
		l.cfg.EmitAudit(attemptAuditEvent(a, windowFailures >= l.cfg.MaxEmailFailures))
	}
	return a
}

func attemptAuditEvent(a Attempt, overThreshold bool) audit.Event {
	e := audit.Event{
		Type:       audit.EventAuthentication,
		Category:   audit.CategorySecurity,
		Severity:   audit.SeverityMedium,
		Action:     "login_attempt",
		ActorEmail: a.Email,
		Address:    a.Address,
		UserAgent:  a.UserAgent,
		Outcome:    audit.OutcomeFailure,
	}
	if a.Success {
		e.Severity = audit.SeverityInfo
		e.Outcome = audit.OutcomeSuccess
		return e
	}

	e.Details = map[string]string{"reason": string(a.Reason)}
	if overThreshold {
		e.Details[audit.FlagMultipleFailedAttempts] = "true"
	}
	return e
}

// CanAttempt reports whether another authentication attempt is allowed for
// the email/address pair. Either scope tripping its threshold within the
// window denies the attempt.
func (l *Ledger) CanAttempt(email, address string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.cfg.Now()
	emailFailures := l.countFailuresLocked(now, func(a Attempt) bool { return a.Email == email })
	if emailFailures >= l.cfg.MaxEmailFailures {
		return false
	}
	if address != "" {
		addressFailures := l.countFailuresLocked(now, func(a Attempt) bool { return a.Address == address })
		if addressFailures >= l.cfg.MaxAddressFailures {
			return false
		}
	}
	return true
}

// IsLocked reports whether the email alone is locked out.
func (l *Ledger) IsLocked(email string) bool {
	return !l.CanAttempt(email, "")
}

// FailureCounts returns the in-window failure counts for an email and an
// address, for display and for detector input.
func (l *Ledger) FailureCounts(email, address string) (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.cfg.Now()
	emailFailures := l.countFailuresLocked(now, func(a Attempt) bool { return a.Email == email })
	var addressFailures int
	if address != "" {
		addressFailures = l.countFailuresLocked(now, func(a Attempt) bool { return a.Address == address })
	}
	return emailFailures, addressFailures
}

// RecentAttempts returns up to limit attempts, newest first.
func (l *Ledger) RecentAttempts(limit int) []Attempt {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(l.attempts)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Attempt, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, l.attempts[i])
	}
	return out
}

// Sweep drops attempts older than the retention window and returns how many
// were removed.
func (l *Ledger) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	before := len(l.attempts)
	l.pruneLocked(l.cfg.Now())
	return before - len(l.attempts)
}

func (l *Ledger) countFailuresLocked(now time.Time, match func(Attempt) bool) int {
	cutoff := now.Add(-l.cfg.Window)
	count := 0
	for _, a := range l.attempts {
		if a.Success || a.At.Before(cutoff) {
			continue
		}
		if match(a) {
			count++
		}
	}
	return count
}

func (l *Ledger) pruneLocked(now time.Time) {
	cutoff := now.Add(-l.cfg.Retention)
	kept := l.attempts[:0]
	for _, a := range l.attempts {
		if a.At.After(cutoff) {
			kept = append(kept, a)
		}
	}
	l.attempts = kept

	if over := len(l.attempts) - l.cfg.MaxRecords; over > 0 {
		l.attempts = append(l.attempts[:0:0], l.attempts[over:]...)
	}
}
