package guard

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// sweeper drives the periodic retention jobs: expired sessions, aged login
// attempts, dead reset tokens, and audit events past retention. Each store's
// sweep is independent, so one failing backend never starves the others.
type sweeper struct {
	engine   *Engine
	interval time.Duration

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func newSweeper(e *Engine, interval time.Duration) *sweeper {
	return &sweeper{
		engine:   e,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (s *sweeper) start() {
	s.wg.Add(1)
	go s.run()
}

func (s *sweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweepOnce(context.Background())
		case <-s.done:
			return
		}
	}
}

func (s *sweeper) sweepOnce(ctx context.Context) {
	e := s.engine
	e.metrics.Inc(MetricSweepRuns)

	if removed, err := e.sessions.SweepExpired(ctx); err != nil {
		e.log.Error("session sweep failed", slog.Any("error", err))
	} else if removed > 0 {
		e.log.Debug("session sweep", slog.Int("removed", removed))
	}

	if removed := e.attempts.Sweep(); removed > 0 {
		e.log.Debug("attempt sweep", slog.Int("removed", removed))
	}
	if removed := e.resets.SweepExpired(); removed > 0 {
		e.log.Debug("reset token sweep", slog.Int("removed", removed))
	}
	if removed := e.auditLog.Sweep(); removed > 0 {
		e.log.Debug("audit sweep", slog.Int("removed", removed))
	}
}

func (s *sweeper) stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
}

// SweepNow runs one synchronous sweep pass over every store. Exposed for
// operational tooling and deterministic tests; safe to call whether or not
// the background sweeper is running.
func (e *Engine) SweepNow(ctx context.Context) {
	if e.isClosed() {
		return
	}
	sw := e.sweeper
	if sw == nil {
		sw = newSweeper(e, time.Hour)
	}
	sw.sweepOnce(ctx)
}
