// Package reset keeps single-use password-reset tokens. A user has at most
// one live token at a time: issuing a new one invalidates every earlier
// unused token for that user. Redemption is atomic, so a token can never be
// consumed twice under concurrent requests.
package reset

import (
	"sync"
	"time"

	"github.com/valkyrsec/vault-guard/internal/token"
)

// Token is one issued reset credential. Value is the opaque secret handed to
// the user; Used flips exactly once, on successful redemption.
type Token struct {
	Value     string
	UserID    string
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Used      bool
}

// Live reports whether the token can still be redeemed at the given instant.
func (t *Token) Live(now time.Time) bool {
	return !t.Used && now.Before(t.ExpiresAt)
}

// Config carries the token lifetime and the clock.
type Config struct {
	// TTL is the token lifetime. <= 0 falls back to 24 hours.
	TTL time.Duration
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

const defaultTTL = 24 * time.Hour

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = defaultTTL
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Registry is the in-memory reset-token store. One mutex covers every
// read-modify-write, which is what makes Consume a single-redemption
// operation.
type Registry struct {
	mu     sync.Mutex
	tokens map[string]*Token
	cfg    Config
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		tokens: make(map[string]*Token),
		cfg:    cfg.withDefaults(),
	}
}

// Issue mints a fresh token for the user, invalidating all prior unused
// tokens for the same user in the same step. The caller has already resolved
// the user; the registry never consults the directory itself.
func (r *Registry) Issue(userID, email string) (*Token, error) {
	value, err := token.New()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for v, t := range r.tokens {
		if t.UserID == userID && !t.Used {
			delete(r.tokens, v)
		}
	}

	now := r.cfg.Now()
	t := &Token{
		Value:     value,
		UserID:    userID,
		Email:     email,
		IssuedAt:  now,
		ExpiresAt: now.Add(r.cfg.TTL),
	}
	r.tokens[value] = t

	out := *t
	return &out, nil
}

// Validate returns the token when it is live, nil when absent, expired, or
// already used. It never mutates the record.
func (r *Registry) Validate(value string) *Token {
	if token.Check(value) != nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tokens[value]
	if !ok || !t.Live(r.cfg.Now()) {
		return nil
	}

	out := *t
	return &out
}

// Consume marks the token used and returns it. Exactly one of two concurrent
// Consume calls on the same value wins; the loser gets nil, same as for an
// absent or expired token.
func (r *Registry) Consume(value string) *Token {
	if token.Check(value) != nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tokens[value]
	if !ok || !t.Live(r.cfg.Now()) {
		return nil
	}

	t.Used = true
	out := *t
	return &out
}

// SweepExpired purges used and expired tokens, returning how many were
// removed. Idempotent.
func (r *Registry) SweepExpired() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.cfg.Now()
	removed := 0
	for v, t := range r.tokens {
		if !t.Live(now) {
			delete(r.tokens, v)
			removed++
		}
	}
	return removed
}

// Len reports the current population, live or not.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}
