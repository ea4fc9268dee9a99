package guard

import (
	"errors"
	"fmt"
	"time"

	"github.com/valkyrsec/vault-guard/audit"
	"github.com/valkyrsec/vault-guard/detect"
	"github.com/valkyrsec/vault-guard/jwt"
	"github.com/valkyrsec/vault-guard/ledger"
	"github.com/valkyrsec/vault-guard/password"
	"github.com/valkyrsec/vault-guard/reset"
	"github.com/valkyrsec/vault-guard/session"
)

// Config is the full engine configuration tree. Zero values fall back to the
// documented defaults of each section; the clock and cross-component hooks
// are always overwritten by Build and cannot be set here.
type Config struct {
	Password PasswordConfig
	Session  session.Config
	Lockout  LockoutConfig
	Reset    ResetConfig
	Audit    AuditConfig
	Detect   DetectConfig
	JWT      JWTConfig
	Metrics  MetricsConfig
	Sweep    SweepConfig
}

// PasswordConfig covers the hasher work factor. Policy rules are fixed.
type PasswordConfig struct {
	Hasher password.HasherConfig
}

// LockoutConfig is the login-attempt ledger policy. The address threshold
// defaults to twice the email threshold; the ratio is policy, not law, so
// both are independently settable.
type LockoutConfig struct {
	Window             time.Duration
	MaxEmailFailures   int
	MaxAddressFailures int
	Retention          time.Duration
	MaxRecords         int
}

// ResetConfig covers password-reset token issuance.
type ResetConfig struct {
	TTL time.Duration
}

// AuditConfig covers the audit log and its alert dispatcher.
type AuditConfig struct {
	MaxEvents      int
	Retention      time.Duration
	AlertThreshold int
	Dispatcher     audit.DispatcherConfig
}

// DetectConfig covers the suspicious-activity heuristics.
type DetectConfig struct {
	BruteForceWindow         time.Duration
	BruteForceThreshold      int
	PatternWindow            time.Duration
	DistinctAddressThreshold int
	// ScanLimit bounds how many recent audit events a scan reads. <= 0
	// falls back to 5000.
	ScanLimit int
}

// JWTConfig enables short-lived access assertions alongside the opaque
// session token.
type JWTConfig struct {
	Enabled       bool
	AccessTTL     time.Duration
	SigningMethod jwt.SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

// MetricsConfig enables the engine counter set.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// SweepConfig controls the background retention sweeper.
type SweepConfig struct {
	Enabled  bool
	Interval time.Duration
}

const (
	defaultDetectScanLimit = 5000
	defaultSweepInterval   = time.Hour
	minSweepInterval       = time.Minute
)

func defaultConfig() Config {
	return Config{
		Password: PasswordConfig{
			Hasher: password.HasherConfig{
				Memory:      64 * 1024,
				Time:        3,
				Parallelism: 2,
				SaltLength:  16,
				KeyLength:   32,
			},
		},
		Audit: AuditConfig{
			Dispatcher: audit.DispatcherConfig{
				Enabled:    true,
				BufferSize: 256,
				DropIfFull: true,
			},
		},
		JWT: JWTConfig{
			AccessTTL:     5 * time.Minute,
			SigningMethod: jwt.MethodHS256,
		},
		Sweep: SweepConfig{
			Enabled:  true,
			Interval: defaultSweepInterval,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = append([]byte(nil), cfg.JWT.PrivateKey...)
	out.JWT.PublicKey = append([]byte(nil), cfg.JWT.PublicKey...)
	return out
}

// Validate rejects configurations the engine cannot run with. Zero values
// are fine everywhere; only actively contradictory settings fail.
func (c Config) Validate() error {
	if c.Audit.AlertThreshold < 0 || c.Audit.AlertThreshold > 100 {
		return errors.New("audit alert threshold must be within [0,100]")
	}
	if c.Lockout.MaxEmailFailures < 0 || c.Lockout.MaxAddressFailures < 0 {
		return errors.New("lockout thresholds must not be negative")
	}
	if c.Lockout.MaxAddressFailures > 0 && c.Lockout.MaxEmailFailures > 0 &&
		c.Lockout.MaxAddressFailures < c.Lockout.MaxEmailFailures {
		return errors.New("address lockout threshold must not be below the email threshold")
	}
	if c.Sweep.Enabled && c.Sweep.Interval > 0 && c.Sweep.Interval < minSweepInterval {
		return fmt.Errorf("sweep interval must be at least %s", minSweepInterval)
	}
	if c.JWT.Enabled {
		if c.JWT.AccessTTL <= 0 {
			return errors.New("jwt requires a positive access TTL")
		}
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("jwt requires signing key material")
		}
	}
	return nil
}

func (c LockoutConfig) ledgerConfig() ledger.Config {
	return ledger.Config{
		Window:             c.Window,
		MaxEmailFailures:   c.MaxEmailFailures,
		MaxAddressFailures: c.MaxAddressFailures,
		Retention:          c.Retention,
		MaxRecords:         c.MaxRecords,
	}
}

func (c ResetConfig) resetConfig() reset.Config {
	return reset.Config{TTL: c.TTL}
}

func (c AuditConfig) logConfig() audit.Config {
	return audit.Config{
		MaxEvents:      c.MaxEvents,
		Retention:      c.Retention,
		AlertThreshold: c.AlertThreshold,
	}
}

func (c DetectConfig) detectConfig() detect.Config {
	return detect.Config{
		BruteForceWindow:         c.BruteForceWindow,
		BruteForceThreshold:      c.BruteForceThreshold,
		PatternWindow:            c.PatternWindow,
		DistinctAddressThreshold: c.DistinctAddressThreshold,
	}
}

func (c DetectConfig) scanLimit() int {
	if c.ScanLimit <= 0 {
		return defaultDetectScanLimit
	}
	return c.ScanLimit
}

func (c JWTConfig) managerConfig() jwt.Config {
	return jwt.Config{
		AccessTTL:     c.AccessTTL,
		SigningMethod: c.SigningMethod,
		PrivateKey:    c.PrivateKey,
		PublicKey:     c.PublicKey,
		Issuer:        c.Issuer,
		Audience:      c.Audience,
		Leeway:        c.Leeway,
	}
}
