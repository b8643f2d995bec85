package main

import (
	"context"
	"fmt"

	"github.com/alicebob/miniredis/v2"
	"github.com/lrgov/fleetauth"
	"github.com/lrgov/fleetauth/store/memory"
	"github.com/lrgov/fleetauth/store/postgres"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type backends struct {
	redis       redis.UniversalClient
	credentials fleetauth.CredentialStore
	audit       fleetauth.AuditStore
	closers     []func()
}

func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// openBackends connects Redis and the durable stores. Without a Redis
// address an embedded miniredis is started; without a database URL the
// in-memory stores are used. Both fallbacks lose state on exit.
func openBackends(ctx context.Context, cfg daemonConfig, logger *zap.Logger) (*backends, error) {
	b := &backends{}

	addr := cfg.Redis.Addr
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, fmt.Errorf("start miniredis: %w", err)
		}
		b.closers = append(b.closers, mr.Close)
		addr = mr.Addr()
		logger.Warn("redis.addr not set, using embedded miniredis", zap.String("addr", addr))
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{addr},
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	b.closers = append(b.closers, func() { _ = client.Close() })
	b.redis = client

	if err := client.Ping(ctx).Err(); err != nil {
		b.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	if cfg.Database.URL == "" {
		logger.Warn("database.url not set, using in-memory stores")
		b.credentials = memory.NewCredentialStore()
		b.audit = memory.NewAuditStore()
		return b, nil
	}

	if cfg.Database.Migrate {
		if err := postgres.Migrate(cfg.Database.URL, logger); err != nil {
			b.Close()
			return nil, err
		}
	}
	pool, err := postgres.Open(ctx, cfg.Database.URL, postgres.PoolConfig{
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		b.Close()
		return nil, err
	}
	b.closers = append(b.closers, pool.Close)

	b.credentials = postgres.NewCredentialStore(pool, nil)
	b.audit = postgres.NewAuditStore(pool)
	return b, nil
}
