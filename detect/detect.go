// Package detect runs on-demand heuristics over recent audit events and
// reports suspicious-activity findings. It is read-only analysis: the
// detector never mutates the audit log it scans.
package detect

import (
	"fmt"
	"sort"
	"time"

	"github.com/valkyrsec/vault-guard/audit"
)

// FindingType identifies the heuristic that produced a finding.
type FindingType string

const (
	FindingBruteForce          FindingType = "brute_force"
	FindingPrivilegeEscalation FindingType = "privilege_escalation"
	FindingUnusualLoginPattern FindingType = "unusual_login_pattern"
)

// Status is the triage state of a finding. The detector always emits
// StatusActive; downstream tooling moves findings through the rest.
type Status string

const (
	StatusActive        Status = "active"
	StatusInvestigating Status = "investigating"
	StatusResolved      Status = "resolved"
	StatusFalsePositive Status = "false_positive"
)

// Finding is one detected pattern with the audit events that triggered it.
type Finding struct {
	Type        FindingType
	Description string
	RiskScore   int
	Events      []audit.Event
	UserEmails  []string
	DetectedAt  time.Time
	Status      Status
}

// Config carries the detection thresholds and the clock.
type Config struct {
	// BruteForceWindow bounds the failed-login lookback. <= 0 falls back
	// to one hour.
	BruteForceWindow time.Duration
	// BruteForceThreshold is the failed-attempt count per email that
	// becomes a finding. <= 0 falls back to 5.
	BruteForceThreshold int
	// PatternWindow bounds the privilege-escalation and login-pattern
	// lookbacks. <= 0 falls back to 24 hours.
	PatternWindow time.Duration
	// DistinctAddressThreshold is the distinct-address count per email
	// that becomes an unusual-login finding. <= 0 falls back to 3.
	DistinctAddressThreshold int
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

const (
	defaultBruteForceWindow    = time.Hour
	defaultBruteForceThreshold = 5
	defaultPatternWindow       = 24 * time.Hour
	defaultDistinctAddresses   = 3
)

// Detector applies the heuristics. It is stateless beyond its config and safe
// for concurrent use.
type Detector struct {
	cfg Config
}

// New creates a detector with defaults applied.
func New(cfg Config) *Detector {
	if cfg.BruteForceWindow <= 0 {
		cfg.BruteForceWindow = defaultBruteForceWindow
	}
	if cfg.BruteForceThreshold <= 0 {
		cfg.BruteForceThreshold = defaultBruteForceThreshold
	}
	if cfg.PatternWindow <= 0 {
		cfg.PatternWindow = defaultPatternWindow
	}
	if cfg.DistinctAddressThreshold <= 0 {
		cfg.DistinctAddressThreshold = defaultDistinctAddresses
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Detector{cfg: cfg}
}

// Scan runs every heuristic over the given events and returns the findings
// sorted by descending risk score.
func (d *Detector) Scan(events []audit.Event) []Finding {
	now := d.cfg.Now()

	var findings []Finding
	findings = append(findings, d.bruteForce(events, now)...)
	findings = append(findings, d.privilegeEscalation(events, now)...)
	findings = append(findings, d.unusualLoginPattern(events, now)...)

	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].RiskScore > findings[j].RiskScore
	})
	return findings
}

// bruteForce groups failed authentication events inside the lookback by actor
// email; each group at or over the threshold is a finding with risk
// count x 10.
func (d *Detector) bruteForce(events []audit.Event, now time.Time) []Finding {
	cutoff := now.Add(-d.cfg.BruteForceWindow)
	byEmail := make(map[string][]audit.Event)
	for _, e := range events {
		if e.Type != audit.EventAuthentication || e.Outcome != audit.OutcomeFailure {
			continue
		}
		if e.ActorEmail == "" || e.Time.Before(cutoff) {
			continue
		}
		byEmail[e.ActorEmail] = append(byEmail[e.ActorEmail], e)
	}

	var findings []Finding
	for _, email := range sortedKeys(byEmail) {
		group := byEmail[email]
		if len(group) < d.cfg.BruteForceThreshold {
			continue
		}
		findings = append(findings, Finding{
			Type:        FindingBruteForce,
			Description: fmt.Sprintf("%d failed login attempts for %s within %s", len(group), email, d.cfg.BruteForceWindow),
			RiskScore:   capRisk(len(group) * 10),
			Events:      group,
			UserEmails:  []string{email},
			DetectedAt:  now,
			Status:      StatusActive,
		})
	}
	return findings
}

// privilegeEscalation collects authorization events inside the lookback whose
// details carry the escalation flag; any at all become one finding covering
// them, risk count x 20.
func (d *Detector) privilegeEscalation(events []audit.Event, now time.Time) []Finding {
	cutoff := now.Add(-d.cfg.PatternWindow)
	var group []audit.Event
	emails := make(map[string]struct{})
	for _, e := range events {
		if e.Type != audit.EventAuthorization || e.Time.Before(cutoff) {
			continue
		}
		if !audit.HasFlag(e.Details, audit.FlagPrivilegeEscalation) {
			continue
		}
		group = append(group, e)
		if e.ActorEmail != "" {
			emails[e.ActorEmail] = struct{}{}
		}
	}
	if len(group) == 0 {
		return nil
	}

	return []Finding{{
		Type:        FindingPrivilegeEscalation,
		Description: fmt.Sprintf("%d privilege escalation attempts within %s", len(group), d.cfg.PatternWindow),
		RiskScore:   capRisk(len(group) * 20),
		Events:      group,
		UserEmails:  setToSorted(emails),
		DetectedAt:  now,
		Status:      StatusActive,
	}}
}

// unusualLoginPattern groups successful authentication events inside the
// lookback by actor email; an email seen from enough distinct addresses is a
// finding with risk distinctCount x 15.
func (d *Detector) unusualLoginPattern(events []audit.Event, now time.Time) []Finding {
	cutoff := now.Add(-d.cfg.PatternWindow)
	byEmail := make(map[string][]audit.Event)
	addresses := make(map[string]map[string]struct{})
	for _, e := range events {
		if e.Type != audit.EventAuthentication || e.Outcome != audit.OutcomeSuccess {
			continue
		}
		if e.ActorEmail == "" || e.Address == "" || e.Time.Before(cutoff) {
			continue
		}
		byEmail[e.ActorEmail] = append(byEmail[e.ActorEmail], e)
		if addresses[e.ActorEmail] == nil {
			addresses[e.ActorEmail] = make(map[string]struct{})
		}
		addresses[e.ActorEmail][e.Address] = struct{}{}
	}

	var findings []Finding
	for _, email := range sortedKeys(byEmail) {
		distinct := len(addresses[email])
		if distinct < d.cfg.DistinctAddressThreshold {
			continue
		}
		findings = append(findings, Finding{
			Type:        FindingUnusualLoginPattern,
			Description: fmt.Sprintf("logins for %s from %d distinct addresses within %s", email, distinct, d.cfg.PatternWindow),
			RiskScore:   capRisk(distinct * 15),
			Events:      byEmail[email],
			UserEmails:  []string{email},
			DetectedAt:  now,
			Status:      StatusActive,
		})
	}
	return findings
}

func capRisk(n int) int {
	if n > 100 {
		return 100
	}
	return n
}

func sortedKeys(m map[string][]audit.Event) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func setToSorted(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
