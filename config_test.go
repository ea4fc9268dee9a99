package guard

import (
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"alert threshold too high", func(c *Config) { c.Audit.AlertThreshold = 101 }, true},
		{"alert threshold negative", func(c *Config) { c.Audit.AlertThreshold = -1 }, true},
		{"negative lockout threshold", func(c *Config) { c.Lockout.MaxEmailFailures = -1 }, true},
		{"address below email threshold", func(c *Config) {
			c.Lockout.MaxEmailFailures = 10
			c.Lockout.MaxAddressFailures = 5
		}, true},
		{"address threshold equal is fine", func(c *Config) {
			c.Lockout.MaxEmailFailures = 5
			c.Lockout.MaxAddressFailures = 5
		}, false},
		{"sweep interval too short", func(c *Config) {
			c.Sweep.Enabled = true
			c.Sweep.Interval = time.Second
		}, true},
		{"jwt enabled without key", func(c *Config) { c.JWT.Enabled = true }, true},
		{"jwt enabled with key", func(c *Config) {
			c.JWT.Enabled = true
			c.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
		}, false},
		{"jwt enabled without TTL", func(c *Config) {
			c.JWT.Enabled = true
			c.JWT.AccessTTL = 0
			c.JWT.PrivateKey = []byte("k")
		}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Error("expected an error")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestCloneConfigCopiesKeys(t *testing.T) {
	cfg := defaultConfig()
	cfg.JWT.PrivateKey = []byte("secret")

	clone := cloneConfig(cfg)
	clone.JWT.PrivateKey[0] = 'X'
	if cfg.JWT.PrivateKey[0] != 's' {
		t.Error("clone shares key storage with the original")
	}
}

func TestScanLimitDefaults(t *testing.T) {
	var d DetectConfig
	if got := d.scanLimit(); got != defaultDetectScanLimit {
		t.Errorf("scanLimit = %d, want %d", got, defaultDetectScanLimit)
	}
	d.ScanLimit = 100
	if got := d.scanLimit(); got != 100 {
		t.Errorf("scanLimit = %d, want 100", got)
	}
}
