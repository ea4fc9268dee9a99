package session

import (
	"context"
	"sync"

	"github.com/valkyrsec/vault-guard/internal/token"
)

// MemoryRegistry is the in-process session authority. One mutex covers each
// full read-modify-write, which is what makes per-token operations
// linearizable: validate, refresh, and destroy on the same token behave as
// if sequential.
type MemoryRegistry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	cfg      Config
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry(cfg Config) *MemoryRegistry {
	return &MemoryRegistry{
		sessions: make(map[string]*Session),
		cfg:      cfg.withDefaults(),
	}
}

// Create mints a session with a fresh unguessable token.
func (r *MemoryRegistry) Create(_ context.Context, userID string, remember bool, address, userAgent string) (*Session, error) {
	tok, err := token.New()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.cfg.Now()
	s := &Session{
		Token:        tok,
		UserID:       userID,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(r.cfg.lifetime(remember)),
		Remember:     remember,
		Address:      address,
		UserAgent:    userAgent,
	}
	r.sessions[tok] = s

	out := *s
	return &out, nil
}

// Validate returns the session when live, bumping its last activity, and
// deletes it when expired. Both cases are decided under the lock.
func (r *MemoryRegistry) Validate(_ context.Context, tok string) (*Session, error) {
	if token.Check(tok) != nil {
		return nil, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[tok]
	if !ok {
		return nil, nil
	}

	now := r.cfg.Now()
	if !s.Valid(now) {
		delete(r.sessions, tok)
		return nil, nil
	}

	s.LastActivity = now
	out := *s
	return &out, nil
}

// Refresh re-validates and restarts the lifetime from now.
func (r *MemoryRegistry) Refresh(_ context.Context, tok string) (*Session, error) {
	if token.Check(tok) != nil {
		return nil, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[tok]
	if !ok {
		return nil, nil
	}

	now := r.cfg.Now()
	if !s.Valid(now) {
		delete(r.sessions, tok)
		return nil, nil
	}

	s.LastActivity = now
	s.ExpiresAt = now.Add(r.cfg.lifetime(s.Remember))
	out := *s
	return &out, nil
}

// Destroy removes the session. Destroying an absent token is a no-op.
func (r *MemoryRegistry) Destroy(_ context.Context, tok string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, tok)
	return nil
}

// DestroyAllForUser removes every session owned by the user and returns how
// many were removed.
func (r *MemoryRegistry) DestroyAllForUser(_ context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for tok, s := range r.sessions {
		if s.UserID == userID {
			delete(r.sessions, tok)
			removed++
		}
	}
	return removed, nil
}

// ListByUser returns copies of the user's live sessions.
func (r *MemoryRegistry) ListByUser(_ context.Context, userID string) ([]*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.cfg.Now()
	var out []*Session
	for _, s := range r.sessions {
		if s.UserID != userID || !s.Valid(now) {
			continue
		}
		c := *s
		out = append(out, &c)
	}
	return out, nil
}

// SweepExpired removes every expired session. Idempotent.
func (r *MemoryRegistry) SweepExpired(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.cfg.Now()
	removed := 0
	for tok, s := range r.sessions {
		if !s.Valid(now) {
			delete(r.sessions, tok)
			removed++
		}
	}
	return removed, nil
}

// Len reports the current population, live or not.
func (r *MemoryRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
