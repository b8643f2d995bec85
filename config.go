package fleetauth

import (
	"errors"
	"time"
)

// Config is the full engine configuration. Build it from DefaultConfig and
// override fields; Builder.Build validates it.
type Config struct {
	Lockout       LockoutConfig
	MFA           MFAConfig
	Session       SessionConfig
	Password      PasswordConfig
	Audit         AuditConfig
	Storage       StorageConfig
	Authorization AuthorizationConfig
	Metrics       MetricsConfig
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig controls progressive lockout of login identifiers.
type LockoutConfig struct {
	Threshold     int
	Window        time.Duration
	BlockDuration time.Duration
	// TrackClientIP also counts failures per client IP taken from the context.
	TrackClientIP bool
	RedisPrefix   string
}

/*
====================================
MFA CONFIG
====================================
*/

// MFAConfig controls challenge issuance and TOTP verification.
type MFAConfig struct {
	ChallengeTTL time.Duration
	// RecordGrace keeps expired challenge records readable so a late
	// verification reports expiry rather than an unknown challenge.
	RecordGrace time.Duration
	Issuer      string
	Period      uint
	Skew        uint

	TokenSigningKey []byte
	TokenKeyID      string
	TokenVerifyKeys map[string][]byte

	// SecretSealKey seals TOTP secrets at rest when set (32 bytes).
	SecretSealKey []byte
	RedisPrefix   string
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls server-side sessions.
type SessionConfig struct {
	TTL         time.Duration
	RedisPrefix string
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds argon2id parameters for new verifiers.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	AcceptBcrypt   bool
	UpgradeOnLogin bool
}

/*
====================================
AUDIT CONFIG
====================================
*/

// RetentionPolicy bounds the audit log. It is applied only by explicit
// retention operations; appends never truncate.
type RetentionPolicy struct {
	MaxAge    time.Duration
	MaxEvents int
}

// AuditConfig controls the audit writer and its mirror sinks.
type AuditConfig struct {
	QueueSize        int
	MirrorBufferSize int
	MirrorDropIfFull bool
	DefaultLimit     int
	Retention        RetentionPolicy
}

// StorageConfig bounds every backend call.
type StorageConfig struct {
	OperationTimeout time.Duration
}

/*
====================================
AUTHORIZATION CONFIG
====================================
*/

const (
	// PermMFAManage allows enabling or disabling MFA on other accounts.
	PermMFAManage = "mfa.manage"
	// PermAuditRead allows reading audit events of any principal.
	PermAuditRead = "audit.read"
	// PermAuditRetention allows applying the audit retention policy.
	PermAuditRetention = "audit.retention"
)

// AuthorizationConfig maps account roles to permissions.
type AuthorizationConfig struct {
	Roles             map[string][]string
	AuditMinClearance ClearanceLevel
}

// MetricsConfig toggles in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the production defaults: 5 failures in 15 minutes
// block an identifier for 15 minutes, challenges live 5 minutes, TOTP uses
// 30 second steps with one step of skew.
func DefaultConfig() Config {
	return Config{
		Lockout: LockoutConfig{
			Threshold:     5,
			Window:        15 * time.Minute,
			BlockDuration: 15 * time.Minute,
			RedisPrefix:   "flo",
		},
		MFA: MFAConfig{
			ChallengeTTL: 5 * time.Minute,
			RecordGrace:  10 * time.Minute,
			Issuer:       "Fleet Tracker",
			Period:       30,
			Skew:         1,
			RedisPrefix:  "fmc",
		},
		Session: SessionConfig{
			TTL:         8 * time.Hour,
			RedisPrefix: "fas",
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			AcceptBcrypt:   true,
			UpgradeOnLogin: true,
		},
		Audit: AuditConfig{
			QueueSize:        256,
			MirrorBufferSize: 1024,
			MirrorDropIfFull: true,
			DefaultLimit:     100,
			Retention: RetentionPolicy{
				MaxAge: 400 * 24 * time.Hour,
			},
		},
		Storage: StorageConfig{
			OperationTimeout: 2 * time.Second,
		},
		Authorization: AuthorizationConfig{
			Roles: map[string][]string{
				"admin":            {PermMFAManage, PermAuditRead, PermAuditRetention},
				"security_officer": {PermMFAManage, PermAuditRead},
				"auditor":          {PermAuditRead},
			},
			AuditMinClearance: ClearanceConfidential,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.MFA.TokenSigningKey = cloneBytes(cfg.MFA.TokenSigningKey)
	out.MFA.SecretSealKey = cloneBytes(cfg.MFA.SecretSealKey)
	if cfg.MFA.TokenVerifyKeys != nil {
		out.MFA.TokenVerifyKeys = make(map[string][]byte, len(cfg.MFA.TokenVerifyKeys))
		for kid, key := range cfg.MFA.TokenVerifyKeys {
			out.MFA.TokenVerifyKeys[kid] = cloneBytes(key)
		}
	}
	if cfg.Authorization.Roles != nil {
		out.Authorization.Roles = make(map[string][]string, len(cfg.Authorization.Roles))
		for role, perms := range cfg.Authorization.Roles {
			out.Authorization.Roles[role] = append([]string(nil), perms...)
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	// Lockout
	if c.Lockout.Threshold <= 0 {
		return errors.New("Lockout Threshold must be > 0")
	}
	if c.Lockout.Window <= 0 {
		return errors.New("Lockout Window must be > 0")
	}
	if c.Lockout.BlockDuration <= 0 {
		return errors.New("Lockout BlockDuration must be > 0")
	}

	// MFA
	if c.MFA.ChallengeTTL <= 0 {
		return errors.New("MFA ChallengeTTL must be > 0")
	}
	if c.MFA.RecordGrace < 0 {
		return errors.New("MFA RecordGrace must be >= 0")
	}
	if c.MFA.Period == 0 {
		return errors.New("MFA Period must be > 0")
	}
	if c.MFA.Skew > 2 {
		return errors.New("MFA Skew must be <= 2")
	}
	if len(c.MFA.TokenSigningKey) < 32 {
		return errors.New("MFA TokenSigningKey must be at least 32 bytes")
	}
	if len(c.MFA.SecretSealKey) != 0 && len(c.MFA.SecretSealKey) != 32 {
		return errors.New("MFA SecretSealKey must be 32 bytes")
	}
	if c.MFA.Issuer == "" {
		return errors.New("MFA Issuer is required")
	}

	// Session
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	// Audit
	if c.Audit.QueueSize <= 0 {
		return errors.New("Audit QueueSize must be > 0")
	}
	if c.Audit.MirrorBufferSize <= 0 {
		return errors.New("Audit MirrorBufferSize must be > 0")
	}
	if c.Audit.DefaultLimit <= 0 || c.Audit.DefaultLimit > maxAuditQueryLimit {
		return errors.New("Audit DefaultLimit must be in (0, 1000]")
	}
	if c.Audit.Retention.MaxAge < 0 || c.Audit.Retention.MaxEvents < 0 {
		return errors.New("Audit Retention bounds must be >= 0")
	}

	// Storage
	if c.Storage.OperationTimeout <= 0 {
		return errors.New("Storage OperationTimeout must be > 0")
	}

	if c.Authorization.AuditMinClearance > ClearanceTopSecret {
		return errors.New("Authorization AuditMinClearance is invalid")
	}

	return nil
}
