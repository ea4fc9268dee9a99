// Package session owns the authenticated-session records and the registries
// that store them. The default registry is in-memory and is the single
// authority for session state in a process; the Redis-backed registry
// implements the same interface for deployments that need the state in an
// external key-value cache.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrStoreUnavailable wraps backend failures from external registries. The
// in-memory registry never returns it.
var ErrStoreUnavailable = errors.New("session store unavailable")

// Session binds a bearer token to a user for a bounded lifetime. The token
// is opaque and unguessable; callers hold only the token string, never the
// record itself. ExpiresAt is always the creation or last refresh instant
// plus the lifetime selected by Remember.
type Session struct {
	Token        string    `json:"token"`
	UserID       string    `json:"user_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	ExpiresAt    time.Time `json:"expires_at"`
	Remember     bool      `json:"remember"`
	Address      string    `json:"address,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
}

// Valid reports whether the session is live at the given instant.
func (s *Session) Valid(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// Registry is the session store contract. Validate and Refresh are
// side-effecting reads: both delete the record when it has expired, and on
// success Validate bumps LastActivity while Refresh additionally recomputes
// ExpiresAt from "now". Absent or expired tokens yield (nil, nil) — that is
// an expected outcome, not an error.
//
// Implementations must make per-token operations linearizable: a destroyed
// session is never resurrected by a concurrent validate or refresh.
type Registry interface {
	Create(ctx context.Context, userID string, remember bool, address, userAgent string) (*Session, error)
	Validate(ctx context.Context, tok string) (*Session, error)
	Refresh(ctx context.Context, tok string) (*Session, error)
	Destroy(ctx context.Context, tok string) error
	DestroyAllForUser(ctx context.Context, userID string) (int, error)
	ListByUser(ctx context.Context, userID string) ([]*Session, error)
	SweepExpired(ctx context.Context) (int, error)
}

// Config carries the two lifetimes and the clock shared by all registry
// implementations.
type Config struct {
	// DefaultLifetime applies when Remember is false. <= 0 falls back to
	// 24 hours.
	DefaultLifetime time.Duration
	// RememberLifetime applies when Remember is true. <= 0 falls back to
	// 30 days.
	RememberLifetime time.Duration
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

const (
	defaultLifetime  = 24 * time.Hour
	rememberLifetime = 30 * 24 * time.Hour
)

func (c Config) withDefaults() Config {
	if c.DefaultLifetime <= 0 {
		c.DefaultLifetime = defaultLifetime
	}
	if c.RememberLifetime <= 0 {
		c.RememberLifetime = rememberLifetime
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

func (c Config) lifetime(remember bool) time.Duration {
	if remember {
		return c.RememberLifetime
	}
	return c.DefaultLifetime
}
