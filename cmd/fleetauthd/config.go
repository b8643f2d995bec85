package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lrgov/fleetauth"
	"github.com/spf13/viper"
)

type daemonConfig struct {
	HTTP      httpConfig      `mapstructure:"http"`
	Log       logConfig       `mapstructure:"log"`
	Database  databaseConfig  `mapstructure:"database"`
	Redis     redisConfig     `mapstructure:"redis"`
	Auth      authConfig      `mapstructure:"auth"`
	Retention retentionConfig `mapstructure:"retention"`
	Bootstrap bootstrapConfig `mapstructure:"bootstrap"`
}

type httpConfig struct {
	Addr              string        `mapstructure:"addr"`
	TrustProxyHeaders bool          `mapstructure:"trust_proxy_headers"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

type logConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type databaseConfig struct {
	// URL empty selects the in-memory stores.
	URL             string        `mapstructure:"url"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

type redisConfig struct {
	// Addr empty starts an embedded miniredis.
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type authConfig struct {
	LockoutThreshold     int           `mapstructure:"lockout_threshold"`
	LockoutWindow        time.Duration `mapstructure:"lockout_window"`
	LockoutBlockDuration time.Duration `mapstructure:"lockout_block_duration"`
	TrackClientIP        bool          `mapstructure:"track_client_ip"`

	MFAIssuer       string        `mapstructure:"mfa_issuer"`
	MFAChallengeTTL time.Duration `mapstructure:"mfa_challenge_ttl"`
	// Keys are base64 (standard encoding).
	TokenSigningKey string `mapstructure:"token_signing_key"`
	SecretSealKey   string `mapstructure:"secret_seal_key"`

	SessionTTL time.Duration `mapstructure:"session_ttl"`

	AuditMaxAge       time.Duration `mapstructure:"audit_max_age"`
	AuditMaxEvents    int           `mapstructure:"audit_max_events"`
	AuditMinClearance string        `mapstructure:"audit_min_clearance"`
	StorageTimeout    time.Duration `mapstructure:"storage_timeout"`
	LatencyHistograms bool          `mapstructure:"latency_histograms"`
	AcceptBcrypt      bool          `mapstructure:"accept_bcrypt"`
	UpgradeVerifiers  bool          `mapstructure:"upgrade_verifiers"`
}

type retentionConfig struct {
	// Interval zero disables the background retention run.
	Interval time.Duration `mapstructure:"interval"`
}

type bootstrapConfig struct {
	AdminEmail    string `mapstructure:"admin_email"`
	AdminPassword string `mapstructure:"admin_password"`
}

// loadConfig reads fleetauthd.yaml (from path, or the working directory and
// /etc/fleetauth) and FLEETAUTH_* variables, e.g. FLEETAUTH_REDIS_ADDR.
func loadConfig(path string) (daemonConfig, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	v.SetEnvPrefix("FLEETAUTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("fleetauthd")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/fleetauth")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return daemonConfig{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg daemonConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return daemonConfig{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := fleetauth.DefaultConfig()

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.trust_proxy_headers", false)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", time.Hour)
	v.SetDefault("database.migrate", true)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("auth.lockout_threshold", def.Lockout.Threshold)
	v.SetDefault("auth.lockout_window", def.Lockout.Window)
	v.SetDefault("auth.lockout_block_duration", def.Lockout.BlockDuration)
	v.SetDefault("auth.track_client_ip", def.Lockout.TrackClientIP)
	v.SetDefault("auth.mfa_issuer", def.MFA.Issuer)
	v.SetDefault("auth.mfa_challenge_ttl", def.MFA.ChallengeTTL)
	v.SetDefault("auth.token_signing_key", "")
	v.SetDefault("auth.secret_seal_key", "")
	v.SetDefault("auth.session_ttl", def.Session.TTL)
	v.SetDefault("auth.audit_max_age", def.Audit.Retention.MaxAge)
	v.SetDefault("auth.audit_max_events", def.Audit.Retention.MaxEvents)
	v.SetDefault("auth.audit_min_clearance", def.Authorization.AuditMinClearance.String())
	v.SetDefault("auth.storage_timeout", def.Storage.OperationTimeout)
	v.SetDefault("auth.latency_histograms", false)
	v.SetDefault("auth.accept_bcrypt", def.Password.AcceptBcrypt)
	v.SetDefault("auth.upgrade_verifiers", def.Password.UpgradeOnLogin)

	v.SetDefault("retention.interval", time.Hour)

	v.SetDefault("bootstrap.admin_email", "")
	v.SetDefault("bootstrap.admin_password", "")
}

// engineConfig maps the daemon settings onto the library configuration.
func (d daemonConfig) engineConfig() (fleetauth.Config, error) {
	cfg := fleetauth.DefaultConfig()
	a := d.Auth

	cfg.Lockout.Threshold = a.LockoutThreshold
	cfg.Lockout.Window = a.LockoutWindow
	cfg.Lockout.BlockDuration = a.LockoutBlockDuration
	cfg.Lockout.TrackClientIP = a.TrackClientIP

	cfg.MFA.Issuer = a.MFAIssuer
	cfg.MFA.ChallengeTTL = a.MFAChallengeTTL

	var err error
	if cfg.MFA.TokenSigningKey, err = decodeKey("auth.token_signing_key", a.TokenSigningKey); err != nil {
		return fleetauth.Config{}, err
	}
	if cfg.MFA.SecretSealKey, err = decodeKey("auth.secret_seal_key", a.SecretSealKey); err != nil {
		return fleetauth.Config{}, err
	}

	cfg.Session.TTL = a.SessionTTL
	cfg.Audit.Retention = fleetauth.RetentionPolicy{MaxAge: a.AuditMaxAge, MaxEvents: a.AuditMaxEvents}
	cfg.Storage.OperationTimeout = a.StorageTimeout
	cfg.Password.AcceptBcrypt = a.AcceptBcrypt
	cfg.Password.UpgradeOnLogin = a.UpgradeVerifiers
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = a.LatencyHistograms

	level, ok := fleetauth.ParseClearanceLevel(a.AuditMinClearance)
	if !ok {
		return fleetauth.Config{}, fmt.Errorf("auth.audit_min_clearance: unknown level %q", a.AuditMinClearance)
	}
	cfg.Authorization.AuditMinClearance = level

	return cfg, nil
}

func decodeKey(name, value string) ([]byte, error) {
	if value == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return key, nil
}
