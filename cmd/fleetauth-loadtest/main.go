// Command fleetauth-loadtest drives an Engine with concurrent logins,
// session lookups and failed attempts and reports latency percentiles.
//
// It runs against REDIS_ADDR (or -redis-addr) when set and an embedded
// miniredis otherwise; accounts and audit events stay in memory.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/lrgov/fleetauth"
	fleetotel "github.com/lrgov/fleetauth/metrics/export/otel"
	"github.com/lrgov/fleetauth/password"
	"github.com/lrgov/fleetauth/store/memory"
	"github.com/redis/go-redis/v9"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

const loadPassword = "load-test-password"

func main() {
	var (
		accounts    = flag.Int("accounts", 500, "number of accounts to seed")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 5000, "operations per phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		argonMemory = flag.Uint("argon-memory", 16*1024, "argon2id memory in KB for seeded verifiers")
		verbose     = flag.Bool("v", false, "log engine warnings")
	)
	flag.Parse()

	if *accounts <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "accounts, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	client, cleanup, err := connectRedis(*redisAddr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer cleanup()

	logger := zap.NewNop()
	if *verbose {
		logger, _ = zap.NewDevelopment()
	}

	cfg := fleetauth.DefaultConfig()
	cfg.MFA.TokenSigningKey = bytes.Repeat([]byte("L"), 32)
	cfg.Password.Memory = uint32(*argonMemory)
	cfg.Password.Time = 1
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	// Failures are spread over every account; keep them below the threshold.
	cfg.Lockout.Threshold = *ops + 1

	creds := memory.NewCredentialStore()
	engine, err := fleetauth.New().
		WithConfig(cfg).
		WithRedis(client).
		WithCredentialStore(creds).
		WithAuditStore(memory.NewAuditStore()).
		WithLogger(logger).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	// Counters are read back through the OpenTelemetry exporter at the end,
	// the same path a collector would scrape.
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(ctx) }()
	exporter, err := fleetotel.New(provider.Meter("fleetauth-loadtest"), engine)
	if err != nil {
		fmt.Fprintf(os.Stderr, "otel exporter: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = exporter.Close() }()

	fmt.Printf("seeding %d accounts...\n", *accounts)
	startSeed := time.Now()
	emails, err := seedAccounts(ctx, creds, cfg.Password, *accounts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	var (
		tokensMu sync.Mutex
		tokens   []string
	)
	loginStats := runPhase(*ops, *concurrency, func(r *rand.Rand) error {
		res, err := engine.Login(ctx, emails[r.Intn(len(emails))], loadPassword)
		if err != nil {
			return err
		}
		tokensMu.Lock()
		tokens = append(tokens, res.SessionToken)
		tokensMu.Unlock()
		return nil
	})

	if len(tokens) == 0 {
		fmt.Fprintln(os.Stderr, "no sessions created; skipping lookup phase")
		os.Exit(1)
	}
	resolveStats := runPhase(*ops, *concurrency, func(r *rand.Rand) error {
		_, err := engine.CurrentUser(ctx, tokens[r.Intn(len(tokens))])
		return err
	})

	failureStats := runPhase(*ops, *concurrency, func(r *rand.Rand) error {
		_, err := engine.Login(ctx, emails[r.Intn(len(emails))], "wrong-password-0")
		if errors.Is(err, fleetauth.ErrInvalidCredentials) {
			return nil
		}
		return err
	})

	fmt.Println("---- results ----")
	printStats("login", loginStats)
	printStats("resolve", resolveStats)
	printStats("failed-login", failureStats)

	totals, err := collectTotals(ctx, reader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "collect metrics: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("sessions=%d login_failures=%d storage_failures=%d latency_samples=%d\n",
		totals["fleetauth_session_created_total"],
		totals["fleetauth_login_failure_total"],
		totals["fleetauth_storage_failure_total"],
		totals["fleetauth_login_latency_seconds_count"],
	)
}

// collectTotals runs one collection cycle and returns the last data point of
// every integer instrument by name.
func collectTotals(ctx context.Context, reader *sdkmetric.ManualReader) (map[string]int64, error) {
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		return nil, err
	}
	out := make(map[string]int64)
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					out[m.Name] = dp.Value
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					out[m.Name] = dp.Value
				}
			}
		}
	}
	return out, nil
}

func connectRedis(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

func seedAccounts(ctx context.Context, store fleetauth.CredentialStore, pw fleetauth.PasswordConfig, n int) ([]string, error) {
	hasher, err := password.NewHasher(password.Config{
		Memory:      pw.Memory,
		Time:        pw.Time,
		Parallelism: pw.Parallelism,
		SaltLength:  pw.SaltLength,
		KeyLength:   pw.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	// One verifier for all accounts keeps seeding fast; salts are irrelevant here.
	verifier, err := hasher.Hash(loadPassword)
	if err != nil {
		return nil, err
	}

	emails := make([]string, n)
	for i := range emails {
		email := fmt.Sprintf("unit-%05d@fleet.test", i)
		if _, err := store.Upsert(ctx, fmt.Sprintf("u%05d", i), fleetauth.AccountPatch{
			Email:            &email,
			PasswordVerifier: &verifier,
		}); err != nil {
			return nil, err
		}
		emails[i] = email
	}
	return emails, nil
}

// runPhase calls op ops times across concurrency workers.
func runPhase(ops, concurrency int, op func(*rand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for atomic.AddInt64(&cursor, 1) <= int64(ops) {
				t0 := time.Now()
				err := op(r)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total, failures: failures}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

// percentile expects sorted samples.
func percentile(samples []time.Duration, p int) time.Duration {
	switch {
	case len(samples) == 0:
		return 0
	case p <= 0:
		return samples[0]
	case p >= 100:
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%-13s ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
