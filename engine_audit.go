package guard

import (
	"time"

	"github.com/valkyrsec/vault-guard/audit"
)

// QueryAuditEvents runs a conjunctive filter over the audit log, newest
// first.
func (e *Engine) QueryAuditEvents(f audit.Filter) []audit.Event {
	return e.auditLog.Query(f)
}

// AuditSummary aggregates the audit log within [from, to]; zero bounds are
// open.
func (e *Engine) AuditSummary(from, to time.Time) audit.Summary {
	return e.auditLog.Summarize(from, to)
}

// AuditLen reports the current audit event population.
func (e *Engine) AuditLen() int {
	return e.auditLog.Len()
}
