package fleetauth

import (
	"errors"
	"time"

	"github.com/lrgov/fleetauth/internal/audit"
	"github.com/lrgov/fleetauth/internal/limiters"
	"github.com/lrgov/fleetauth/internal/stores"
	"github.com/lrgov/fleetauth/jwt"
	"github.com/lrgov/fleetauth/password"
	"github.com/lrgov/fleetauth/permission"
	"github.com/lrgov/fleetauth/session"
	"github.com/lrgov/fleetauth/totp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an Engine. Configure it once during start-up and call
// Build; a Builder cannot be reused.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	credentials CredentialStore
	auditStore  AuditStore
	auditSink   AuditSink
	lockout     LockoutTracker

	logger *zap.Logger
	now    func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing lockout state, MFA challenges and sessions.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithCredentialStore sets the account store.
func (b *Builder) WithCredentialStore(store CredentialStore) *Builder {
	b.credentials = store
	return b
}

// WithAuditStore sets the durable audit backend.
func (b *Builder) WithAuditStore(store AuditStore) *Builder {
	b.auditStore = store
	return b
}

// WithAuditSink mirrors persisted events to sink. Mirroring is best effort:
// under backpressure events are dropped and counted, never blocked on.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLockoutTracker replaces the Redis tracker for login identifiers.
func (b *Builder) WithLockoutTracker(t LockoutTracker) *Builder {
	b.lockout = t
	return b
}

// WithLogger sets the operational logger. Credentials and codes are never logged.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides the time source. Lockout windows, challenge expiry,
// session lifetimes and audit timestamps all read it.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.credentials == nil {
		return nil, errors.New("credential store required")
	}
	if b.auditStore == nil {
		return nil, errors.New("audit store required")
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	// -------- PERMISSIONS --------
	permNames := []string{PermMFAManage, PermAuditRead, PermAuditRetention}
	for _, perms := range cfg.Authorization.Roles {
		permNames = append(permNames, perms...)
	}
	registry, err := permission.NewRegistry(permNames...)
	if err != nil {
		return nil, err
	}
	roleManager, err := permission.NewRoleManager(registry, cfg.Authorization.Roles)
	if err != nil {
		return nil, err
	}

	// -------- CREDENTIALS --------
	ph, err := password.NewHasher(password.Config{
		Memory:       cfg.Password.Memory,
		Time:         cfg.Password.Time,
		Parallelism:  cfg.Password.Parallelism,
		SaltLength:   cfg.Password.SaltLength,
		KeyLength:    cfg.Password.KeyLength,
		AcceptBcrypt: cfg.Password.AcceptBcrypt,
	})
	if err != nil {
		return nil, err
	}

	// -------- MFA --------
	tokens, err := jwt.NewManager(jwt.Config{
		SigningKey: cloneBytes(cfg.MFA.TokenSigningKey),
		KeyID:      cfg.MFA.TokenKeyID,
		VerifyKeys: cfg.MFA.TokenVerifyKeys,
		Issuer:     cfg.MFA.Issuer,
	})
	if err != nil {
		return nil, err
	}
	sealer, err := totp.NewSealer(cfg.MFA.SecretSealKey)
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:      cloneConfig(cfg),
		logger:      logger,
		now:         now,
		redis:       b.redis,
		credentials: b.credentials,
		auditStore:  b.auditStore,
		passwords:   ph,
		roles:       roleManager,
		metrics:     NewMetrics(cfg.Metrics),
	}

	// -------- LOCKOUT --------
	tracker := limiters.NewLockoutTracker(b.redis, lockoutConfigFor(cfg.Lockout), now)
	engine.lockout = b.lockout
	if engine.lockout == nil {
		engine.lockout = newRedisLockout(tracker, lockoutKindEmail)
	}
	if cfg.Lockout.TrackClientIP {
		engine.ipLockout = newRedisLockout(tracker, lockoutKindIP)
	}

	engine.mfa = &mfaManager{
		config:      cfg.MFA,
		challenges:  stores.NewMFAChallengeStore(b.redis, cfg.MFA.RedisPrefix),
		tokens:      tokens,
		verifier:    totp.NewVerifier(totp.Config{Issuer: cfg.MFA.Issuer, Period: cfg.MFA.Period, Skew: cfg.MFA.Skew}),
		sealer:      sealer,
		credentials: b.credentials,
		now:         now,
		timeout:     cfg.Storage.OperationTimeout,
		logger:      logger,
	}

	// -------- SESSIONS --------
	engine.sessions = &sessionManager{
		store:   session.NewStore(b.redis, cfg.Session.RedisPrefix),
		ttl:     cfg.Session.TTL,
		now:     now,
		timeout: cfg.Storage.OperationTimeout,
	}

	// -------- AUDIT --------
	var mirror *audit.Mirror
	if b.auditSink != nil {
		mirror = audit.NewMirror(audit.MirrorConfig{
			BufferSize: cfg.Audit.MirrorBufferSize,
			DropIfFull: cfg.Audit.MirrorDropIfFull,
		}, b.auditSink)
	}
	engine.auditWriter = audit.NewWriter(audit.WriterConfig{
		QueueSize:        cfg.Audit.QueueSize,
		OperationTimeout: cfg.Storage.OperationTimeout,
	}, b.auditStore, mirror, now)

	engine.flows = engine.buildFlowDeps()

	b.built = true

	return engine, nil
}
