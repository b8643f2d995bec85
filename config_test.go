package fleetauth

import (
	"bytes"
	"testing"
	"time"
)

func validTestConfig() Config {
	cfg := DefaultConfig()
	cfg.MFA.TokenSigningKey = bytes.Repeat([]byte("k"), 32)
	return cfg
}

func TestDefaultConfigNeedsSigningKey(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected missing signing key to fail validation")
	}

	cfg = validTestConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestDefaultConfigLockoutPolicy(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Lockout.Threshold != 5 || cfg.Lockout.Window != 15*time.Minute || cfg.Lockout.BlockDuration != 15*time.Minute {
		t.Fatalf("unexpected lockout defaults: %+v", cfg.Lockout)
	}
	if cfg.MFA.ChallengeTTL != 5*time.Minute || cfg.MFA.Skew != 1 || cfg.MFA.Period != 30 {
		t.Fatalf("unexpected mfa defaults: %+v", cfg.MFA)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "lockout threshold zero",
			mutate:    func(c *Config) { c.Lockout.Threshold = 0 },
			wantValid: false,
		},
		{
			name:      "lockout window negative",
			mutate:    func(c *Config) { c.Lockout.Window = -time.Second },
			wantValid: false,
		},
		{
			name:      "block duration zero",
			mutate:    func(c *Config) { c.Lockout.BlockDuration = 0 },
			wantValid: false,
		},
		{
			name:      "challenge ttl zero",
			mutate:    func(c *Config) { c.MFA.ChallengeTTL = 0 },
			wantValid: false,
		},
		{
			name:      "record grace zero allowed",
			mutate:    func(c *Config) { c.MFA.RecordGrace = 0 },
			wantValid: true,
		},
		{
			name:      "skew too wide",
			mutate:    func(c *Config) { c.MFA.Skew = 3 },
			wantValid: false,
		},
		{
			name:      "short signing key",
			mutate:    func(c *Config) { c.MFA.TokenSigningKey = []byte("short") },
			wantValid: false,
		},
		{
			name:      "seal key wrong size",
			mutate:    func(c *Config) { c.MFA.SecretSealKey = make([]byte, 16) },
			wantValid: false,
		},
		{
			name:      "seal key 32 bytes",
			mutate:    func(c *Config) { c.MFA.SecretSealKey = make([]byte, 32) },
			wantValid: true,
		},
		{
			name:      "issuer empty",
			mutate:    func(c *Config) { c.MFA.Issuer = "" },
			wantValid: false,
		},
		{
			name:      "session ttl zero",
			mutate:    func(c *Config) { c.Session.TTL = 0 },
			wantValid: false,
		},
		{
			name:      "argon memory too low",
			mutate:    func(c *Config) { c.Password.Memory = 1024 },
			wantValid: false,
		},
		{
			name:      "audit queue zero",
			mutate:    func(c *Config) { c.Audit.QueueSize = 0 },
			wantValid: false,
		},
		{
			name:      "audit default limit above cap",
			mutate:    func(c *Config) { c.Audit.DefaultLimit = 5000 },
			wantValid: false,
		},
		{
			name:      "retention negative",
			mutate:    func(c *Config) { c.Audit.Retention.MaxEvents = -1 },
			wantValid: false,
		},
		{
			name:      "storage timeout zero",
			mutate:    func(c *Config) { c.Storage.OperationTimeout = 0 },
			wantValid: false,
		},
		{
			name:      "clearance out of range",
			mutate:    func(c *Config) { c.Authorization.AuditMinClearance = ClearanceLevel(9) },
			wantValid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantValid && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tt.wantValid && err == nil {
				t.Fatal("expected invalid config")
			}
		})
	}
}

func TestCloneConfigDetachesSlicesAndMaps(t *testing.T) {
	cfg := validTestConfig()
	out := cloneConfig(cfg)

	out.MFA.TokenSigningKey[0] = 'x'
	out.Authorization.Roles["admin"][0] = "changed"

	if cfg.MFA.TokenSigningKey[0] != 'k' {
		t.Fatal("signing key shared between clones")
	}
	if cfg.Authorization.Roles["admin"][0] != PermMFAManage {
		t.Fatal("role permissions shared between clones")
	}
}

func TestClearanceOrderingAndText(t *testing.T) {
	if !ClearanceSecret.AtLeast(ClearanceConfidential) {
		t.Fatal("secret must satisfy confidential")
	}
	if ClearanceRestricted.AtLeast(ClearanceConfidential) {
		t.Fatal("restricted must not satisfy confidential")
	}

	var c ClearanceLevel
	if err := c.UnmarshalText([]byte("Top_Secret")); err != nil || c != ClearanceTopSecret {
		t.Fatalf("unexpected parse: %v %v", c, err)
	}
	if err := c.UnmarshalText([]byte("cosmic")); err == nil {
		t.Fatal("expected unknown clearance to fail")
	}
}
