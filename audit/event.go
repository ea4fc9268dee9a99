// Package audit is the system of record for security-relevant actions. It
// keeps a capped, append-only in-memory log of risk-scored events, answers
// filtered queries and aggregate summaries over it, and forwards high-risk
// events to an asynchronous alert dispatcher.
package audit

import (
	"math"
	"time"
)

// EventType classifies what kind of action an event records.
type EventType string

const (
	EventAuthentication      EventType = "authentication"
	EventAuthorization       EventType = "authorization"
	EventUserManagement      EventType = "user_management"
	EventSessionManagement   EventType = "session_management"
	EventPasswordManagement  EventType = "password_management"
	EventSecurityViolation   EventType = "security_violation"
	EventSystemAccess        EventType = "system_access"
	EventDataAccess          EventType = "data_access"
	EventConfigurationChange EventType = "configuration_change"
	EventAdminAction         EventType = "admin_action"
)

// Category groups event types into broad audit domains.
type Category string

const (
	CategorySecurity Category = "security"
	CategoryAccess   Category = "access"
	CategoryAdmin    Category = "admin"
	CategoryUser     Category = "user"
	CategorySystem   Category = "system"
	CategoryData     Category = "data"
)

// Severity is the reporter-assigned weight of an event.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Outcome records whether the audited action succeeded.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePartial Outcome = "partial"
)

// Detail flags that add flat risk bonuses when present in Event.Details.
const (
	FlagMultipleFailedAttempts = "multipleFailedAttempts"
	FlagPrivilegeEscalation    = "privilegeEscalation"
	FlagOutsideBusinessHours   = "outsideBusinessHours"
	FlagUnusualLocation        = "unusualLocation"
)

// Event is one immutable audit record. ID, Time, and RiskScore are assigned
// by Log.Append; everything else is supplied by the reporter. The risk score
// is a pure function of the other fields and is never recomputed after the
// event is appended.
type Event struct {
	ID          string            `json:"id"`
	Time        time.Time         `json:"time"`
	Type        EventType         `json:"type"`
	Category    Category          `json:"category"`
	Severity    Severity          `json:"severity"`
	Action      string            `json:"action"`
	ActorID     string            `json:"actor_id,omitempty"`
	ActorEmail  string            `json:"actor_email,omitempty"`
	TargetID    string            `json:"target_id,omitempty"`
	TargetEmail string            `json:"target_email,omitempty"`
	Address     string            `json:"address,omitempty"`
	UserAgent   string            `json:"user_agent,omitempty"`
	SessionID   string            `json:"session_id,omitempty"`
	Resource    string            `json:"resource,omitempty"`
	Details     map[string]string `json:"details,omitempty"`
	Outcome     Outcome           `json:"outcome"`
	RiskScore   int               `json:"risk_score"`
	Tags        []string          `json:"tags,omitempty"`
}

var baseScores = map[EventType]float64{
	EventAuthentication:      20,
	EventAuthorization:       30,
	EventUserManagement:      40,
	EventSessionManagement:   25,
	EventPasswordManagement:  35,
	EventSecurityViolation:   80,
	EventSystemAccess:        50,
	EventDataAccess:          45,
	EventConfigurationChange: 60,
	EventAdminAction:         55,
}

var severityFactors = map[Severity]float64{
	SeverityInfo:     0.5,
	SeverityLow:      1.0,
	SeverityMedium:   1.5,
	SeverityHigh:     2.0,
	SeverityCritical: 3.0,
}

var flagBonuses = map[string]float64{
	FlagMultipleFailedAttempts: 20,
	FlagPrivilegeEscalation:    30,
	FlagOutsideBusinessHours:   15,
	FlagUnusualLocation:        25,
}

// RiskScore computes the deterministic 0-100 risk score for an event:
// base score by type, scaled by severity, scaled by outcome, plus flat
// bonuses for recognized detail flags, rounded and clamped.
func RiskScore(e Event) int {
	score := baseScores[e.Type]

	if factor, ok := severityFactors[e.Severity]; ok {
		score *= factor
	}

	switch e.Outcome {
	case OutcomeFailure:
		score *= 1.5
	case OutcomePartial:
		score *= 1.2
	}

	for flag, bonus := range flagBonuses {
		if HasFlag(e.Details, flag) {
			score += bonus
		}
	}

	rounded := int(math.Round(score))
	if rounded < 0 {
		return 0
	}
	if rounded > 100 {
		return 100
	}
	return rounded
}

// HasFlag reports whether a detail flag is set. A flag is set when the key
// is present with any value other than "", "false", or "0".
func HasFlag(details map[string]string, flag string) bool {
	v, ok := details[flag]
	if !ok {
		return false
	}
	return v != "" && v != "false" && v != "0"
}
