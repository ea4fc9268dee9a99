package ledger

import (
	"sync"
	"testing"
	"time"

	"github.com/valkyrsec/vault-guard/audit"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLedger(clock *fakeClock, emit func(audit.Event)) *Ledger {
	return New(Config{
		Window:             15 * time.Minute,
		MaxEmailFailures:   5,
		MaxAddressFailures: 10,
		Now:                clock.Now,
		EmitAudit:          emit,
	})
}

func TestLockoutAfterEmailThreshold(t *testing.T) {
	clock := newFakeClock()
	l := newTestLedger(clock, nil)

	for i := 0; i < 4; i++ {
		l.Record("user@x.com", false, "10.0.0.1", "ua", ReasonInvalidPassword)
		if !l.CanAttempt("user@x.com", "10.0.0.1") {
			t.Fatalf("locked out after %d failures", i+1)
		}
	}

	l.Record("user@x.com", false, "10.0.0.1", "ua", ReasonInvalidPassword)
	if l.CanAttempt("user@x.com", "10.0.0.1") {
		t.Error("not locked out after 5 failures")
	}
	if !l.IsLocked("user@x.com") {
		t.Error("IsLocked disagrees with CanAttempt")
	}
	if l.IsLocked("other@x.com") {
		t.Error("unrelated email locked")
	}
}

func TestLockoutAfterAddressThreshold(t *testing.T) {
	clock := newFakeClock()
	l := newTestLedger(clock, nil)

	// Ten distinct accounts hammered from one address.
	emails := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}
	for _, e := range emails {
		l.Record(e+"@x.com", false, "10.0.0.9", "ua", ReasonInvalidPassword)
	}

	if l.CanAttempt("fresh@x.com", "10.0.0.9") {
		t.Error("address not locked after 10 failures")
	}
	if !l.CanAttempt("fresh@x.com", "10.0.0.200") {
		t.Error("unrelated address locked")
	}
	// The email-only view of a fresh account is still open.
	if l.IsLocked("fresh@x.com") {
		t.Error("fresh email locked by address failures")
	}
}

func TestWindowAgingUnlocks(t *testing.T) {
	clock := newFakeClock()
	l := newTestLedger(clock, nil)

	for i := 0; i < 5; i++ {
		l.Record("user@x.com", false, "10.0.0.1", "ua", ReasonInvalidPassword)
	}
	if l.CanAttempt("user@x.com", "10.0.0.1") {
		t.Fatal("not locked")
	}

	clock.Advance(16 * time.Minute)
	if !l.CanAttempt("user@x.com", "10.0.0.1") {
		t.Error("still locked after the window passed")
	}
}

func TestSuccessDoesNotResetFailures(t *testing.T) {
	clock := newFakeClock()
	l := newTestLedger(clock, nil)

	for i := 0; i < 4; i++ {
		l.Record("user@x.com", false, "10.0.0.1", "ua", ReasonInvalidPassword)
	}
	l.Record("user@x.com", true, "10.0.0.1", "ua", ReasonNone)

	emailFailures, _ := l.FailureCounts("user@x.com", "")
	if emailFailures != 4 {
		t.Errorf("failure count = %d after success, want 4", emailFailures)
	}

	l.Record("user@x.com", false, "10.0.0.1", "ua", ReasonInvalidPassword)
	if l.CanAttempt("user@x.com", "10.0.0.1") {
		t.Error("fifth in-window failure did not lock despite interleaved success")
	}
}

func TestRecordEmitsAuditEvents(t *testing.T) {
	clock := newFakeClock()
	var events []audit.Event
	l := newTestLedger(clock, func(e audit.Event) { events = append(events, e) })

	l.Record("user@x.com", true, "10.0.0.1", "ua", ReasonNone)
	l.Record("user@x.com", false, "10.0.0.1", "ua", ReasonInvalidPassword)

	if len(events) != 2 {
		t.Fatalf("emitted %d events, want 2", len(events))
	}

	success := events[0]
	if success.Type != audit.EventAuthentication || success.Outcome != audit.OutcomeSuccess {
		t.Errorf("success event = %s/%s", success.Type, success.Outcome)
	}
	if success.Severity != audit.SeverityInfo {
		t.Errorf("success severity = %s, want info", success.Severity)
	}

	failure := events[1]
	if failure.Outcome != audit.OutcomeFailure || failure.Severity != audit.SeverityMedium {
		t.Errorf("failure event = %s severity %s", failure.Outcome, failure.Severity)
	}
	if failure.Details["reason"] != string(ReasonInvalidPassword) {
		t.Errorf("failure reason detail = %q", failure.Details["reason"])
	}
}

func TestRecordFlagsRepeatedFailures(t *testing.T) {
	clock := newFakeClock()
	var events []audit.Event
	l := newTestLedger(clock, func(e audit.Event) { events = append(events, e) })

	for i := 0; i < 5; i++ {
		l.Record("user@x.com", false, "10.0.0.1", "ua", ReasonInvalidPassword)
	}

	last := events[len(events)-1]
	if !audit.HasFlag(last.Details, audit.FlagMultipleFailedAttempts) {
		t.Error("fifth failure not flagged")
	}
	first := events[0]
	if audit.HasFlag(first.Details, audit.FlagMultipleFailedAttempts) {
		t.Error("first failure flagged")
	}
}

func TestConcurrentRecordsLoseNothing(t *testing.T) {
	clock := newFakeClock()
	l := newTestLedger(clock, nil)

	const workers = 16
	const perWorker = 25

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < perWorker; j++ {
				l.Record("user@x.com", false, "10.0.0.1", "ua", ReasonInvalidPassword)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := len(l.RecentAttempts(0)); got != workers*perWorker {
		t.Errorf("recorded %d attempts, want %d", got, workers*perWorker)
	}
}

func TestRecentAttemptsNewestFirst(t *testing.T) {
	clock := newFakeClock()
	l := newTestLedger(clock, nil)

	l.Record("first@x.com", false, "", "", ReasonUserNotFound)
	clock.Advance(time.Minute)
	l.Record("second@x.com", false, "", "", ReasonUserNotFound)

	got := l.RecentAttempts(2)
	if len(got) != 2 || got[0].Email != "second@x.com" || got[1].Email != "first@x.com" {
		t.Errorf("unexpected order: %+v", got)
	}

	if limited := l.RecentAttempts(1); len(limited) != 1 || limited[0].Email != "second@x.com" {
		t.Errorf("limit not applied: %+v", limited)
	}
}

func TestSweepDropsOldAttempts(t *testing.T) {
	clock := newFakeClock()
	l := New(Config{Retention: 3 * time.Hour, Now: clock.Now})

	l.Record("user@x.com", false, "", "", ReasonInvalidPassword)
	clock.Advance(2 * time.Hour)
	l.Record("user@x.com", false, "", "", ReasonInvalidPassword)
	clock.Advance(2 * time.Hour)

	if removed := l.Sweep(); removed != 1 {
		t.Errorf("Sweep removed %d, want 1", removed)
	}
	if got := len(l.RecentAttempts(0)); got != 1 {
		t.Errorf("%d attempts retained, want 1", got)
	}
}

func TestMaxRecordsEvictsOldest(t *testing.T) {
	clock := newFakeClock()
	l := New(Config{MaxRecords: 10, Now: clock.Now})

	for i := 0; i < 15; i++ {
		l.Record("user@x.com", false, "", "", ReasonInvalidPassword)
	}
	if got := len(l.RecentAttempts(0)); got != 10 {
		t.Errorf("%d attempts retained, want 10", got)
	}
}
