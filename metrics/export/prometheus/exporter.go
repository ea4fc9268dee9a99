// Package prometheus renders engine metrics in the Prometheus text
// exposition format without depending on a client library.
package prometheus

import (
	"net/http"
	"strconv"
	"strings"

	guard "github.com/valkyrsec/vault-guard"
)

type metricsSource interface {
	MetricsSnapshot() guard.MetricsSnapshot
	AuditDropped() uint64
}

type counterDef struct {
	id   guard.MetricID
	name string
	help string
}

var counterDefs = []counterDef{
	{guard.MetricLoginSuccess, "vaultguard_login_success_total", "Successful authentications."},
	{guard.MetricLoginFailure, "vaultguard_login_failure_total", "Failed authentications."},
	{guard.MetricLoginLockedOut, "vaultguard_login_locked_out_total", "Authentications denied by lockout."},
	{guard.MetricSessionCreated, "vaultguard_session_created_total", "Sessions created."},
	{guard.MetricSessionValidated, "vaultguard_session_validated_total", "Successful session validations."},
	{guard.MetricSessionRefreshed, "vaultguard_session_refreshed_total", "Successful session refreshes."},
	{guard.MetricLogout, "vaultguard_logout_total", "Single-session logouts."},
	{guard.MetricLogoutAll, "vaultguard_logout_all_total", "All-session logouts."},
	{guard.MetricPasswordResetRequest, "vaultguard_password_reset_request_total", "Password reset requests."},
	{guard.MetricPasswordResetConfirmSuccess, "vaultguard_password_reset_confirm_success_total", "Successful password reset confirmations."},
	{guard.MetricPasswordResetConfirmFailure, "vaultguard_password_reset_confirm_failure_total", "Failed password reset confirmations."},
	{guard.MetricAuditHighRisk, "vaultguard_audit_high_risk_total", "Audit events at or above the alert threshold."},
	{guard.MetricSweepRuns, "vaultguard_sweep_runs_total", "Background sweep executions."},
}

var histogramBounds = [8]string{"0.005", "0.01", "0.025", "0.05", "0.1", "0.25", "0.5", "+Inf"}

// Exporter renders a metrics source in text exposition format.
type Exporter struct {
	source metricsSource
}

// NewExporter creates an exporter reading from the given engine.
func NewExporter(engine *guard.Engine) *Exporter {
	return &Exporter{source: engine}
}

// NewExporterFromSource creates an exporter from a custom source.
func NewExporterFromSource(source metricsSource) *Exporter {
	return &Exporter{source: source}
}

// Handler returns an http.Handler serving the rendered metrics.
func (p *Exporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(p.Render()))
	})
}

// Render writes the current metrics. An exporter without a source, or a
// source with nothing recorded, renders empty.
func (p *Exporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	snapshot := p.source.MetricsSnapshot()
	dropped := p.source.AuditDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return ""
	}

	var b strings.Builder
	b.Grow(8192)

	for _, def := range counterDefs {
		writeCounter(&b, def.name, def.help, snapshot.Counters[def.id])
	}

	if buckets, ok := snapshot.Histograms[guard.MetricValidateLatency]; ok {
		writeHistogram(&b, "vaultguard_validate_latency_seconds", "Session validation latency.", cumulative(buckets))
	}

	writeCounter(&b, "vaultguard_audit_dropped_total", "Audit events dropped under dispatcher backpressure.", dropped)

	return b.String()
}

func cumulative(buckets []uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(out); i++ {
		if i < len(buckets) {
			running += buckets[i]
		}
		out[i] = running
	}
	return out
}

func writeCounter(b *strings.Builder, name, help string, value uint64) {
	b.WriteString("# HELP ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(escapeHelp(help))
	b.WriteByte('\n')
	b.WriteString("# TYPE ")
	b.WriteString(name)
	b.WriteString(" counter\n")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(value, 10))
	b.WriteByte('\n')
}

func writeHistogram(b *strings.Builder, name, help string, buckets [8]uint64) {
	b.WriteString("# HELP ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(escapeHelp(help))
	b.WriteByte('\n')
	b.WriteString("# TYPE ")
	b.WriteString(name)
	b.WriteString(" histogram\n")

	for i, le := range histogramBounds {
		b.WriteString(name)
		b.WriteString("_bucket{le=\"")
		b.WriteString(le)
		b.WriteString("\"} ")
		b.WriteString(strconv.FormatUint(buckets[i], 10))
		b.WriteByte('\n')
	}

	count := buckets[len(buckets)-1]
	b.WriteString(name)
	b.WriteString("_count ")
	b.WriteString(strconv.FormatUint(count, 10))
	b.WriteByte('\n')
}

func escapeHelp(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "\n", `\n`)
}
