// Command fleetauthd serves the fleet authentication engine over HTTP.
//
// Configuration comes from fleetauthd.yaml and FLEETAUTH_* environment
// variables (FLEETAUTH_REDIS_ADDR, FLEETAUTH_DATABASE_URL, ...). With
// neither Redis nor a database configured it runs in demo mode on an
// embedded miniredis and in-memory stores.
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/lrgov/fleetauth"
	"github.com/lrgov/fleetauth/httpapi"
	"github.com/lrgov/fleetauth/metrics/export/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configPath := flag.String("config", "", "path to fleetauthd.yaml")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fleetauthd: %v\n", err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fleetauthd: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("fleetauthd stopped", zap.Error(err))
	}
}

func newLogger(cfg logConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}

	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.EncoderConfig.TimeKey = "@timestamp"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zc.Build()
}

func run(cfg daemonConfig, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engineCfg, err := cfg.engineConfig()
	if err != nil {
		return err
	}
	demo := cfg.Database.URL == ""
	if err := ensureKeys(&engineCfg, demo, logger); err != nil {
		return err
	}

	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	engine, err := fleetauth.New().
		WithConfig(engineCfg).
		WithRedis(b.redis).
		WithCredentialStore(b.credentials).
		WithAuditStore(b.audit).
		WithAuditSink(fleetauth.NewZapSink(logger)).
		WithLogger(logger.Named("engine")).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	if err := bootstrapAdmin(ctx, cfg.Bootstrap, engineCfg.Password, b.credentials, logger); err != nil {
		return err
	}

	server := httpapi.New(engine, httpapi.Options{
		Logger:            logger.Named("http"),
		Metrics:           prometheus.New(engine).Handler(),
		TrustProxyHeaders: cfg.HTTP.TrustProxyHeaders,
	})

	var wg sync.WaitGroup
	if cfg.Retention.Interval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runRetention(ctx, engine, cfg.Retention.Interval, logger)
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.HTTP.Addr), zap.Bool("demo", demo))
		if err := server.Start(cfg.HTTP.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			stop()
			wg.Wait()
			return fmt.Errorf("http server: %w", err)
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	stop()
	wg.Wait()
	return nil
}

// ensureKeys fills missing signing and sealing keys with random ones in demo
// mode. With a database the keys must be configured: sealed secrets and
// outstanding challenges would not survive a restart otherwise.
func ensureKeys(cfg *fleetauth.Config, demo bool, logger *zap.Logger) error {
	for _, k := range []struct {
		name string
		key  *[]byte
	}{
		{"auth.token_signing_key", &cfg.MFA.TokenSigningKey},
		{"auth.secret_seal_key", &cfg.MFA.SecretSealKey},
	} {
		if len(*k.key) > 0 {
			continue
		}
		if !demo {
			return fmt.Errorf("%s required when database.url is set", k.name)
		}
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return err
		}
		*k.key = buf
		logger.Warn("generated ephemeral key", zap.String("setting", k.name))
	}
	return nil
}

func runRetention(ctx context.Context, engine *fleetauth.Engine, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := engine.RunAuditRetention(ctx)
			if err != nil {
				logger.Warn("audit retention failed", zap.Error(err))
				continue
			}
			logger.Debug("audit retention applied", zap.Int64("removed", removed))
		}
	}
}
