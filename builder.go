package guard

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/valkyrsec/vault-guard/audit"
	"github.com/valkyrsec/vault-guard/detect"
	"github.com/valkyrsec/vault-guard/jwt"
	"github.com/valkyrsec/vault-guard/ledger"
	"github.com/valkyrsec/vault-guard/password"
	"github.com/valkyrsec/vault-guard/reset"
	"github.com/valkyrsec/vault-guard/session"
)

// Builder assembles an Engine. A builder is single-use: Build wires the
// component graph once and refuses a second call.
type Builder struct {
	config Config

	directory UserDirectory
	notifier  Notifier
	auditSink audit.Sink
	logger    *slog.Logger
	redis     redis.UniversalClient
	registry  session.Registry
	clock     func() time.Time

	built bool
}

// New starts a builder with the default configuration.
func New() *Builder {
	return &Builder{config: defaultConfig()}
}

// WithConfig replaces the whole configuration tree.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithUserDirectory sets the external user store. Required.
func (b *Builder) WithUserDirectory(d UserDirectory) *Builder {
	b.directory = d
	return b
}

// WithNotifier sets the out-of-band notification delivery. Optional; without
// it, reset tokens are issued but only reachable through the registry.
func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithAuditSink sets where high-risk audit events are forwarded.
func (b *Builder) WithAuditSink(sink audit.Sink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the structured logger. Defaults to a discarding logger.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithRedis backs the session registry with Redis instead of process
// memory. Ignored when WithSessionRegistry is also used.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithSessionRegistry supplies a custom session registry implementation.
func (b *Builder) WithSessionRegistry(r session.Registry) *Builder {
	b.registry = r
	return b
}

// WithClock overrides the time source for every component. Tests use this to
// advance virtual time instead of sleeping.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// WithMetricsEnabled toggles the counter set.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and wires the engine. The returned
// engine owns its background goroutines; call Close to release them.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.directory == nil {
		return nil, errors.New("user directory required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(cfg.Password.Hasher)
	if err != nil {
		return nil, err
	}

	clock := b.clock
	if clock == nil {
		clock = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	dispatcher := audit.NewDispatcher(cfg.Audit.Dispatcher, b.auditSink)

	auditCfg := cfg.Audit.logConfig()
	auditCfg.Now = clock
	auditLog := audit.NewLog(auditCfg, dispatcher)

	alertThreshold := cfg.Audit.AlertThreshold
	if alertThreshold <= 0 {
		alertThreshold = 70
	}

	registry := b.registry
	if registry == nil {
		sessCfg := cfg.Session
		sessCfg.Now = clock
		if b.redis != nil {
			registry = session.NewRedisRegistry(b.redis, "vg", sessCfg)
		} else {
			registry = session.NewMemoryRegistry(sessCfg)
		}
	}

	resetCfg := cfg.Reset.resetConfig()
	resetCfg.Now = clock

	detectCfg := cfg.Detect.detectConfig()
	detectCfg.Now = clock

	e := &Engine{
		cfg:            cfg,
		log:            logger,
		hasher:         hasher,
		sessions:       registry,
		auditLog:       auditLog,
		resets:         reset.NewRegistry(resetCfg),
		detector:       detect.New(detectCfg),
		metrics:        NewMetrics(cfg.Metrics),
		dispatcher:     dispatcher,
		directory:      b.directory,
		notifier:       b.notifier,
		now:            clock,
		alertThreshold: alertThreshold,
	}

	ledgerCfg := cfg.Lockout.ledgerConfig()
	ledgerCfg.Now = clock
	ledgerCfg.EmitAudit = e.appendAttemptAudit
	e.attempts = ledger.New(ledgerCfg)

	if cfg.JWT.Enabled {
		manager, err := jwt.NewManager(jwtManagerConfig(cfg.JWT, clock))
		if err != nil {
			return nil, err
		}
		e.tokens = manager
	}

	if cfg.Sweep.Enabled {
		interval := cfg.Sweep.Interval
		if interval <= 0 {
			interval = defaultSweepInterval
		}
		e.sweeper = newSweeper(e, interval)
		e.sweeper.start()
	}

	b.built = true
	return e, nil
}

func jwtManagerConfig(cfg JWTConfig, clock func() time.Time) jwt.Config {
	out := cfg.managerConfig()
	out.Now = clock
	return out
}
