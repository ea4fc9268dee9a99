package guard

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/valkyrsec/vault-guard/audit"
	"github.com/valkyrsec/vault-guard/detect"
	"github.com/valkyrsec/vault-guard/jwt"
	"github.com/valkyrsec/vault-guard/ledger"
	"github.com/valkyrsec/vault-guard/password"
	"github.com/valkyrsec/vault-guard/reset"
	"github.com/valkyrsec/vault-guard/session"
)

// Engine composes the registries behind the authentication operations. Each
// store is owned exclusively by the engine; components never reach into one
// another, so every cross-component effect flows through the methods here.
type Engine struct {
	cfg Config
	log *slog.Logger

	hasher   *password.Hasher
	sessions session.Registry
	attempts *ledger.Ledger
	auditLog *audit.Log
	resets   *reset.Registry
	detector *detect.Detector
	tokens   *jwt.Manager // nil when the JWT feature is off

	metrics    *Metrics
	dispatcher *audit.Dispatcher
	directory  UserDirectory
	notifier   Notifier
	sweeper    *sweeper

	now            func() time.Time
	alertThreshold int
	closed         atomic.Bool
}

// Close stops the background sweeper and drains the audit dispatcher.
// Idempotent; operations after Close return ErrEngineClosed.
func (e *Engine) Close() {
	if e.closed.Swap(true) {
		return
	}
	if e.sweeper != nil {
		e.sweeper.stop()
	}
	e.dispatcher.Close()
}

func (e *Engine) isClosed() bool {
	return e.closed.Load()
}

// MetricsSnapshot copies the current counter set.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// AuditDropped reports audit events discarded under dispatcher backpressure.
func (e *Engine) AuditDropped() uint64 {
	return e.dispatcher.Dropped()
}

// LogAuditEvent is the single audit entry point for callers outside the
// engine (admin tooling, request middleware). The stored event, with its
// assigned ID and risk score, is returned.
func (e *Engine) LogAuditEvent(ctx context.Context, event audit.Event) audit.Event {
	return e.appendAudit(ctx, event)
}

func (e *Engine) appendAudit(ctx context.Context, event audit.Event) audit.Event {
	stored := e.auditLog.Append(ctx, event)
	if stored.RiskScore >= e.alertThreshold {
		e.metrics.Inc(MetricAuditHighRisk)
		e.log.Warn("high risk audit event",
			slog.String("type", string(stored.Type)),
			slog.String("action", stored.Action),
			slog.Int("risk_score", stored.RiskScore),
		)
	}
	return stored
}

// appendAttemptAudit is the ledger's audit hook; the ledger builds the event,
// the engine owns where it goes.
func (e *Engine) appendAttemptAudit(event audit.Event) {
	e.appendAudit(context.Background(), event)
}

// FailureCounts exposes the in-window failure counts for an email and an
// address.
func (e *Engine) FailureCounts(email, address string) (int, int) {
	return e.attempts.FailureCounts(email, address)
}

// IsLockedOut reports whether the email is currently denied authentication
// attempts.
func (e *Engine) IsLockedOut(email string) bool {
	return e.attempts.IsLocked(email)
}

// RecentAttempts returns up to limit login attempts, newest first.
func (e *Engine) RecentAttempts(limit int) []ledger.Attempt {
	return e.attempts.RecentAttempts(limit)
}

// ListSessions returns the user's live sessions.
func (e *Engine) ListSessions(ctx context.Context, userID string) ([]*session.Session, error) {
	if e.isClosed() {
		return nil, ErrEngineClosed
	}
	return e.sessions.ListByUser(ctx, userID)
}

// ParseAccess verifies a short-lived access assertion. Returns
// ErrSessionNotFound when the JWT feature is off.
func (e *Engine) ParseAccess(tokenStr string) (*jwt.AccessClaims, error) {
	if e.tokens == nil {
		return nil, ErrSessionNotFound
	}
	return e.tokens.ParseAccess(tokenStr)
}

// ScanLimit for detector reads; see DetectConfig.
func (e *Engine) detectorEvents() []audit.Event {
	return e.auditLog.Query(audit.Filter{Limit: e.cfg.Detect.scanLimit()})
}

// GetSuspiciousActivity runs the detection heuristics over recent audit
// events and returns findings sorted by descending risk.
func (e *Engine) GetSuspiciousActivity() []detect.Finding {
	return e.detector.Scan(e.detectorEvents())
}
