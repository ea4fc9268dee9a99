package guard

import "time"

// SecurityReport is a static snapshot of the engine's effective security
// posture, for startup logging and compliance checks.
type SecurityReport struct {
	HashAlgorithm      string
	Argon2             PasswordConfigReport
	SessionLifetime    time.Duration
	RememberLifetime   time.Duration
	LockoutWindow      time.Duration
	MaxEmailFailures   int
	MaxAddressFailures int
	ResetTokenTTL      time.Duration
	AuditRetention     time.Duration
	AlertThreshold     int
	AccessTokensActive bool
	SigningAlgorithm   string
	SweeperActive      bool
	MetricsActive      bool
}

// PasswordConfigReport mirrors the hasher work factor.
type PasswordConfigReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// SecurityReport reports the effective configuration after defaults.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	sessionLifetime := e.cfg.Session.DefaultLifetime
	if sessionLifetime <= 0 {
		sessionLifetime = 24 * time.Hour
	}
	rememberLifetime := e.cfg.Session.RememberLifetime
	if rememberLifetime <= 0 {
		rememberLifetime = 30 * 24 * time.Hour
	}
	window := e.cfg.Lockout.Window
	if window <= 0 {
		window = 15 * time.Minute
	}
	emailFailures := e.cfg.Lockout.MaxEmailFailures
	if emailFailures <= 0 {
		emailFailures = 5
	}
	addressFailures := e.cfg.Lockout.MaxAddressFailures
	if addressFailures <= 0 {
		addressFailures = emailFailures * 2
	}
	resetTTL := e.cfg.Reset.TTL
	if resetTTL <= 0 {
		resetTTL = 24 * time.Hour
	}
	auditRetention := e.cfg.Audit.Retention
	if auditRetention <= 0 {
		auditRetention = 90 * 24 * time.Hour
	}

	return SecurityReport{
		HashAlgorithm: "argon2id",
		Argon2: PasswordConfigReport{
			Memory:      e.cfg.Password.Hasher.Memory,
			Time:        e.cfg.Password.Hasher.Time,
			Parallelism: e.cfg.Password.Hasher.Parallelism,
			SaltLength:  e.cfg.Password.Hasher.SaltLength,
			KeyLength:   e.cfg.Password.Hasher.KeyLength,
		},
		SessionLifetime:    sessionLifetime,
		RememberLifetime:   rememberLifetime,
		LockoutWindow:      window,
		MaxEmailFailures:   emailFailures,
		MaxAddressFailures: addressFailures,
		ResetTokenTTL:      resetTTL,
		AuditRetention:     auditRetention,
		AlertThreshold:     e.alertThreshold,
		AccessTokensActive: e.tokens != nil,
		SigningAlgorithm:   string(e.cfg.JWT.SigningMethod),
		SweeperActive:      e.sweeper != nil,
		MetricsActive:      e.metrics.Enabled(),
	}
}
