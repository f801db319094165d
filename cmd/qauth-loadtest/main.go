package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/qualisys/qauth"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

const seedPassword = "load-test-password"

type userState struct {
	email   string
	mu      sync.Mutex
	access  string
	refresh string
}

type phase func(ctx context.Context, r *rand.Rand, i int) error

func main() {
	var (
		users       = flag.Int("users", 2000, "number of identities to seed and log in")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 50000, "operations per phase (validate, refresh)")
		qps         = flag.Float64("rate", 0, "global operations per second; 0 is unlimited")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "qa-load", "session key prefix")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		defer mr.Close()
		addr = mr.Addr()
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		fmt.Printf("using redis at %s\n", addr)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:                 []string{addr},
		ContextTimeoutEnabled: true,
	})
	defer client.Close()

	cfg := qauth.DefaultConfig()
	cfg.Session.RedisPrefix = *prefix
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Audit.Enabled = false

	provider := newMemProvider()
	engine, err := qauth.New().
		WithConfig(cfg).
		WithRedis(client).
		WithIdentityProvider(provider).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	states := make([]*userState, *users)
	fmt.Printf("seeding %d identities...\n", *users)
	if err := provider.seed(engine, states); err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		os.Exit(1)
	}

	var limiter *rate.Limiter
	if *qps > 0 {
		limiter = rate.NewLimiter(rate.Limit(*qps), *concurrency)
	}

	login := run(ctx, limiter, len(states), *concurrency, func(ctx context.Context, _ *rand.Rand, i int) error {
		s := states[i]
		res, err := engine.Login(ctx, qauth.LoginRequest{Email: s.email, Password: seedPassword})
		if err != nil {
			return err
		}
		s.access, s.refresh = res.Pair.AccessToken, res.Pair.RefreshToken
		return nil
	})
	validate := run(ctx, limiter, *ops, *concurrency, func(ctx context.Context, r *rand.Rand, _ int) error {
		s := states[r.Intn(len(states))]
		s.mu.Lock()
		token := s.access
		s.mu.Unlock()
		_, err := engine.ValidateAccess(ctx, token)
		return err
	})
	rotate := run(ctx, limiter, *ops, *concurrency, func(ctx context.Context, r *rand.Rand, _ int) error {
		s := states[r.Intn(len(states))]
		s.mu.Lock()
		defer s.mu.Unlock()
		pair, err := engine.Refresh(ctx, s.refresh)
		if err != nil {
			return err
		}
		s.access, s.refresh = pair.AccessToken, pair.RefreshToken
		return nil
	})

	fmt.Println("---- results ----")
	printStats("login", login)
	printStats("validate", validate)
	printStats("refresh", rotate)

	snap := engine.MetricsSnapshot()
	fmt.Printf("reuse detected: %d, store unavailable: %d\n",
		snap.Counters[qauth.MetricRefreshReuseDetected],
		snap.Counters[qauth.MetricRefreshStoreUnavailable],
	)
}

func run(ctx context.Context, limiter *rate.Limiter, ops, concurrency int, fn phase) phaseStats {
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
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				if limiter != nil {
					if err := limiter.Wait(ctx); err != nil {
						atomic.AddInt64(&failures, 1)
						return
					}
				}
				t0 := time.Now()
				err := fn(ctx, r, i)
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

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
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
