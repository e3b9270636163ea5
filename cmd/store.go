package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/sells-group/campaign-views/internal/earnings"
	"github.com/sells-group/campaign-views/internal/events"
	"github.com/sells-group/campaign-views/internal/ratelimit"
	"github.com/sells-group/campaign-views/internal/resilience"
	"github.com/sells-group/campaign-views/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "campaign-views.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initPublisher returns a Kafka publisher when brokers are configured and a
// log publisher otherwise.
func initPublisher() (events.Publisher, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return events.NewLogPublisher(), nil
	}
	return events.NewKafkaPublisher(cfg.Kafka.Brokers, map[string]string{
		events.TypeCampaignCompleted: cfg.Kafka.CampaignTopic,
		events.TypePayoutExecuted:    cfg.Kafka.PayoutTopic,
	})
}

// limiterHandle bundles the configured limiter with its optional circuit
// state and cleanup.
type limiterHandle struct {
	limiter ratelimit.Limiter
	circuit *ratelimit.FallbackLimiter
	close   func() error
}

func initLimiter(ctx context.Context) (*limiterHandle, error) {
	rl := cfg.RateLimit
	local := ratelimit.NewMemoryLimiter(
		ratelimit.WithSweep(rl.SweepProbability, time.Duration(rl.IdleTTLMins)*time.Minute),
	)
	if rl.Backend != "redis" {
		return &limiterHandle{limiter: local, close: func() error { return nil }}, nil
	}

	opts, err := redis.ParseURL(rl.RedisURL)
	if err != nil {
		return nil, eris.Wrap(err, "parse ratelimit.redis_url")
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		zap.L().Warn("redis unreachable at startup, limits fall back to this process",
			zap.Error(err))
	}

	fallback := ratelimit.NewFallbackLimiter(
		ratelimit.NewRedisLimiter(rdb, cfg.RateLimit.KeyPrefix),
		local,
		resilience.FromCircuitConfig(rl.CircuitFailureThreshold, rl.CircuitResetSecs),
	)
	return &limiterHandle{limiter: fallback, circuit: fallback, close: rdb.Close}, nil
}

func initTemporal() (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    earnings.NewTemporalLogger(zap.L().With(zap.String("component", "temporal"))),
	})
	if err != nil {
		return nil, eris.Wrap(err, "dial temporal")
	}
	return c, nil
}
