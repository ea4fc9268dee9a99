package guard

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/valkyrsec/vault-guard/audit"
	"github.com/valkyrsec/vault-guard/ledger"
	"github.com/valkyrsec/vault-guard/session"
)

// AuthRequest carries one authentication attempt.
type AuthRequest struct {
	Email    string
	Password string
	Remember bool
	// Address and UserAgent describe the caller's network origin; both feed
	// the lockout ledger and the audit trail.
	Address   string
	UserAgent string
}

// Authenticate runs the login flow: lockout check, directory lookup,
// credential check, session creation. Every failure before the session step
// collapses into ErrInvalidCredentials so unauthenticated callers cannot
// distinguish lockout from a wrong password; the recorded attempt and audit
// event keep the real reason.
func (e *Engine) Authenticate(ctx context.Context, req AuthRequest) (*AuthResult, error) {
	if e.isClosed() {
		return nil, ErrEngineClosed
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return nil, ErrCredentialsRequired
	}

	if !e.attempts.CanAttempt(email, req.Address) {
		e.attempts.Record(email, false, req.Address, req.UserAgent, ledger.ReasonAccountLocked)
		e.metrics.Inc(MetricLoginLockedOut)
		e.log.Info("login denied by lockout", slog.String("email", email))
		return nil, ErrInvalidCredentials
	}

	user, err := e.directory.FindUserByEmail(ctx, email)
	if err != nil {
		e.attempts.Record(email, false, req.Address, req.UserAgent, ledger.ReasonSystemError)
		e.metrics.Inc(MetricLoginFailure)
		e.log.Error("user directory lookup failed", slog.String("email", email), slog.Any("error", err))
		return nil, ErrInternal
	}
	if user == nil {
		// Burn a verification anyway so a missing user costs the same as a
		// wrong password.
		e.hasher.Verify(req.Password, decoyDigest)
		e.attempts.Record(email, false, req.Address, req.UserAgent, ledger.ReasonUserNotFound)
		e.metrics.Inc(MetricLoginFailure)
		return nil, ErrInvalidCredentials
	}

	if !e.hasher.Verify(req.Password, user.PasswordHash) {
		e.attempts.Record(email, false, req.Address, req.UserAgent, ledger.ReasonInvalidPassword)
		e.metrics.Inc(MetricLoginFailure)
		return nil, ErrInvalidCredentials
	}

	sess, err := e.sessions.Create(ctx, user.ID, req.Remember, req.Address, req.UserAgent)
	if err != nil {
		e.attempts.Record(email, false, req.Address, req.UserAgent, ledger.ReasonSystemError)
		e.metrics.Inc(MetricLoginFailure)
		e.log.Error("session creation failed", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, ErrInternal
	}

	e.attempts.Record(email, true, req.Address, req.UserAgent, ledger.ReasonNone)
	e.metrics.Inc(MetricLoginSuccess)
	e.metrics.Inc(MetricSessionCreated)

	result := &AuthResult{
		SessionToken: sess.Token,
		Session:      sess,
		User:         summarize(user),
	}
	if e.tokens != nil {
		access, err := e.tokens.IssueAccess(user.ID, sess.Token, user.Email, user.Role)
		if err != nil {
			// The session is already live; the assertion is an optimization
			// the caller can live without.
			e.log.Warn("access assertion issuance failed", slog.String("user_id", user.ID), slog.Any("error", err))
		} else {
			result.AccessToken = access
		}
	}

	e.log.Info("login succeeded", slog.String("user_id", user.ID))
	return result, nil
}

// ValidateSession resolves a session token, bumping its activity timestamp.
// Unknown and expired tokens return ErrSessionNotFound.
func (e *Engine) ValidateSession(ctx context.Context, token string) (*session.Session, error) {
	if e.isClosed() {
		return nil, ErrEngineClosed
	}

	// Latency is measured on the wall clock, not the injected one: the
	// injected clock is session-lifetime time and may be virtual.
	start := time.Now()
	sess, err := e.sessions.Validate(ctx, token)
	e.metrics.Observe(MetricValidateLatency, time.Since(start))
	if err != nil {
		e.log.Error("session validation failed", slog.Any("error", err))
		return nil, ErrInternal
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}

	e.metrics.Inc(MetricSessionValidated)
	return sess, nil
}

// RefreshSession re-validates and restarts the session lifetime. A failing
// refresh is reported but non-fatal by design: callers keep the session they
// already validated for the current request.
func (e *Engine) RefreshSession(ctx context.Context, token string) (*session.Session, error) {
	if e.isClosed() {
		return nil, ErrEngineClosed
	}

	sess, err := e.sessions.Refresh(ctx, token)
	if err != nil {
		e.log.Warn("session refresh failed", slog.Any("error", err))
		return nil, ErrInternal
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}

	e.metrics.Inc(MetricSessionRefreshed)
	return sess, nil
}

// Logout destroys the session and records a session-management audit event.
// Logging out an unknown token succeeds silently.
func (e *Engine) Logout(ctx context.Context, token string) error {
	if e.isClosed() {
		return ErrEngineClosed
	}

	sess, err := e.sessions.Validate(ctx, token)
	if err != nil {
		return ErrInternal
	}
	if err := e.sessions.Destroy(ctx, token); err != nil {
		return ErrInternal
	}

	e.metrics.Inc(MetricLogout)
	if sess != nil {
		e.appendAudit(ctx, audit.Event{
			Type:      audit.EventSessionManagement,
			Category:  audit.CategoryAccess,
			Severity:  audit.SeverityInfo,
			Action:    "logout",
			ActorID:   sess.UserID,
			Address:   sess.Address,
			SessionID: sess.Token,
			Outcome:   audit.OutcomeSuccess,
		})
	}
	return nil
}

// LogoutAll destroys every session of the user and returns how many were
// removed.
func (e *Engine) LogoutAll(ctx context.Context, userID string) (int, error) {
	if e.isClosed() {
		return 0, ErrEngineClosed
	}

	removed, err := e.sessions.DestroyAllForUser(ctx, userID)
	if err != nil {
		return 0, ErrInternal
	}

	e.metrics.Inc(MetricLogoutAll)
	e.appendAudit(ctx, audit.Event{
		Type:     audit.EventSessionManagement,
		Category: audit.CategoryAccess,
		Severity: audit.SeverityLow,
		Action:   "logout_all",
		ActorID:  userID,
		Details:  map[string]string{"sessions_removed": strconv.Itoa(removed)},
		Outcome:  audit.OutcomeSuccess,
	})
	return removed, nil
}

// decoyDigest keeps the not-found path as slow as a real verification. Any
// well-formed digest works; the comparison always fails.
const decoyDigest = "$argon2id$v=19$m=65536,t=3,p=2$AAAAAAAAAAAAAAAAAAAAAA==$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="
