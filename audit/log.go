package audit

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Config controls log capacity, retention, and alerting.
type Config struct {
	// MaxEvents caps the in-memory population; the oldest events are
	// evicted first once the cap is exceeded. <= 0 falls back to 10000.
	MaxEvents int
	// Retention is the age beyond which Sweep purges events regardless of
	// population. <= 0 falls back to 90 days.
	Retention time.Duration
	// AlertThreshold is the risk score at or above which appended events
	// are forwarded to the dispatcher. <= 0 falls back to 70.
	AlertThreshold int
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

const (
	defaultMaxEvents      = 10000
	defaultRetention      = 90 * 24 * time.Hour
	defaultAlertThreshold = 70
)

// Log is the concurrent, append-only audit store. All reads observe a
// consistent snapshot: Append holds the write lock for the full
// score-assign-append sequence, so a query never sees a half-written event.
type Log struct {
	mu         sync.RWMutex
	events     []Event
	cfg        Config
	dispatcher *Dispatcher
}

// NewLog creates an audit log. dispatcher may be nil, in which case
// high-risk events are retained but not forwarded anywhere.
func NewLog(cfg Config, dispatcher *Dispatcher) *Log {
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = defaultMaxEvents
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	if cfg.AlertThreshold <= 0 {
		cfg.AlertThreshold = defaultAlertThreshold
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Log{
		cfg:        cfg,
		dispatcher: dispatcher,
	}
}

// Append assigns the event its ID, timestamp, and risk score, stores it,
// and forwards it to the alert dispatcher when the score reaches the
// threshold. The stored event is returned.
func (l *Log) Append(ctx context.Context, e Event) Event {
	l.mu.Lock()
	e.ID = uuid.NewString()
	e.Time = l.cfg.Now()
	e.RiskScore = RiskScore(e)

	l.events = append(l.events, e)
	if over := len(l.events) - l.cfg.MaxEvents; over > 0 {
		l.events = append(l.events[:0:0], l.events[over:]...)
	}
	l.mu.Unlock()

	if e.RiskScore >= l.cfg.AlertThreshold {
		l.dispatcher.Emit(ctx, e)
	}
	return e
}

// Filter is a conjunctive query over the log. Zero-valued fields match
// everything; slice fields match when the event value is any listed value.
type Filter struct {
	Types       []EventType
	Categories  []Category
	Severities  []Severity
	ActorIDs    []string
	ActorEmails []string
	Addresses   []string
	Outcomes    []Outcome
	From        time.Time
	To          time.Time
	MinRisk     int
	MaxRisk     int // 0 means unbounded
	Tags        []string
	Search      string
	Offset      int
	Limit       int // 0 means no page cap
}

// Query returns matching events sorted newest-first, paginated by
// Offset/Limit.
func (l *Log) Query(f Filter) []Event {
	l.mu.RLock()
	matched := make([]Event, 0)
	for _, e := range l.events {
		if f.matches(e) {
			matched = append(matched, e)
		}
	}
	l.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Time.After(matched[j].Time)
	})

	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return []Event{}
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched
}

func (f Filter) matches(e Event) bool {
	if len(f.Types) > 0 && !containsType(f.Types, e.Type) {
		return false
	}
	if len(f.Categories) > 0 && !containsCategory(f.Categories, e.Category) {
		return false
	}
	if len(f.Severities) > 0 && !containsSeverity(f.Severities, e.Severity) {
		return false
	}
	if len(f.ActorIDs) > 0 && !containsString(f.ActorIDs, e.ActorID) {
		return false
	}
	if len(f.ActorEmails) > 0 && !containsString(f.ActorEmails, e.ActorEmail) {
		return false
	}
	if len(f.Addresses) > 0 && !containsString(f.Addresses, e.Address) {
		return false
	}
	if len(f.Outcomes) > 0 && !containsOutcome(f.Outcomes, e.Outcome) {
		return false
	}
	if !f.From.IsZero() && e.Time.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Time.After(f.To) {
		return false
	}
	if e.RiskScore < f.MinRisk {
		return false
	}
	if f.MaxRisk > 0 && e.RiskScore > f.MaxRisk {
		return false
	}
	for _, tag := range f.Tags {
		if !containsString(e.Tags, tag) {
			return false
		}
	}
	if f.Search != "" && !searchMatches(e, f.Search) {
		return false
	}
	return true
}

func searchMatches(e Event, term string) bool {
	term = strings.ToLower(term)
	if strings.Contains(strings.ToLower(e.Action), term) {
		return true
	}
	if strings.Contains(strings.ToLower(e.ActorEmail), term) {
		return true
	}
	if strings.Contains(strings.ToLower(e.TargetEmail), term) {
		return true
	}
	if strings.Contains(strings.ToLower(e.Resource), term) {
		return true
	}
	for k, v := range e.Details {
		if strings.Contains(strings.ToLower(k), term) || strings.Contains(strings.ToLower(v), term) {
			return true
		}
	}
	return false
}

// ActorCount pairs an actor identity with its event count.
type ActorCount struct {
	ActorID    string
	ActorEmail string
	Count      int
}

// AddressCount pairs a network address with its event count.
type AddressCount struct {
	Address string
	Count   int
}

// Summary aggregates the log (or a time slice of it) for dashboards.
// RiskHistogram buckets are 0-20, 21-40, 41-60, 61-80, 81-100.
type Summary struct {
	Total         int
	ByType        map[EventType]int
	ByCategory    map[Category]int
	BySeverity    map[Severity]int
	ByOutcome     map[Outcome]int
	TopActors     []ActorCount
	TopAddresses  []AddressCount
	RiskHistogram [5]int
}

const summaryTopN = 5

// Summarize aggregates events within [from, to]; zero bounds are open.
func (l *Log) Summarize(from, to time.Time) Summary {
	s := Summary{
		ByType:     make(map[EventType]int),
		ByCategory: make(map[Category]int),
		BySeverity: make(map[Severity]int),
		ByOutcome:  make(map[Outcome]int),
	}
	actorCounts := make(map[string]*ActorCount)
	addressCounts := make(map[string]int)

	l.mu.RLock()
	for _, e := range l.events {
		if !from.IsZero() && e.Time.Before(from) {
			continue
		}
		if !to.IsZero() && e.Time.After(to) {
			continue
		}

		s.Total++
		s.ByType[e.Type]++
		s.ByCategory[e.Category]++
		s.BySeverity[e.Severity]++
		s.ByOutcome[e.Outcome]++

		if e.ActorID != "" || e.ActorEmail != "" {
			key := e.ActorID + "\x00" + e.ActorEmail
			if c, ok := actorCounts[key]; ok {
				c.Count++
			} else {
				actorCounts[key] = &ActorCount{ActorID: e.ActorID, ActorEmail: e.ActorEmail, Count: 1}
			}
		}
		if e.Address != "" {
			addressCounts[e.Address]++
		}

		s.RiskHistogram[riskBucket(e.RiskScore)]++
	}
	l.mu.RUnlock()

	for _, c := range actorCounts {
		s.TopActors = append(s.TopActors, *c)
	}
	sort.Slice(s.TopActors, func(i, j int) bool {
		if s.TopActors[i].Count != s.TopActors[j].Count {
			return s.TopActors[i].Count > s.TopActors[j].Count
		}
		return s.TopActors[i].ActorEmail < s.TopActors[j].ActorEmail
	})
	if len(s.TopActors) > summaryTopN {
		s.TopActors = s.TopActors[:summaryTopN]
	}

	for addr, count := range addressCounts {
		s.TopAddresses = append(s.TopAddresses, AddressCount{Address: addr, Count: count})
	}
	sort.Slice(s.TopAddresses, func(i, j int) bool {
		if s.TopAddresses[i].Count != s.TopAddresses[j].Count {
			return s.TopAddresses[i].Count > s.TopAddresses[j].Count
		}
		return s.TopAddresses[i].Address < s.TopAddresses[j].Address
	})
	if len(s.TopAddresses) > summaryTopN {
		s.TopAddresses = s.TopAddresses[:summaryTopN]
	}

	return s
}

func riskBucket(score int) int {
	switch {
	case score <= 20:
		return 0
	case score <= 40:
		return 1
	case score <= 60:
		return 2
	case score <= 80:
		return 3
	default:
		return 4
	}
}

// Sweep purges events older than the retention window and returns how many
// were removed.
func (l *Log) Sweep() int {
	cutoff := l.cfg.Now().Add(-l.cfg.Retention)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.events[:0]
	for _, e := range l.events {
		if e.Time.After(cutoff) {
			kept = append(kept, e)
		}
	}
	removed := len(l.events) - len(kept)
	l.events = kept
	return removed
}

// Len returns the current event population.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

func containsType(hay []EventType, needle EventType) bool {
	for _, v := range hay {
		if v == needle {
			return true
		}
	}
	return false
}

func containsCategory(hay []Category, needle Category) bool {
	for _, v := range hay {
		if v == needle {
			return true
		}
	}
	return false
}

func containsSeverity(hay []Severity, needle Severity) bool {
	for _, v := range hay {
		if v == needle {
			return true
		}
	}
	return false
}

func containsOutcome(hay []Outcome, needle Outcome) bool {
	for _, v := range hay {
		if v == needle {
			return true
		}
	}
	return false
}

func containsString(hay []string, needle string) bool {
	for _, v := range hay {
		if v == needle {
			return true
		}
	}
	return false
}
