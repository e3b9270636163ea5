package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/campaign-views/internal/resilience"
)

// FallbackLimiter sends checks to a shared primary limiter through a circuit
// breaker and answers from a local limiter while the primary is failing.
type FallbackLimiter struct {
	primary Limiter
	local   Limiter
	breaker *resilience.CircuitBreaker
	log     *zap.Logger
}

// NewFallbackLimiter wraps primary with a breaker built from cfg.
func NewFallbackLimiter(primary, local Limiter, cfg resilience.CircuitBreakerConfig) *FallbackLimiter {
	log := zap.L().With(zap.String("component", "ratelimit.fallback"))
	cfg.OnStateChange = func(from, to resilience.CircuitState) {
		log.Warn("rate limit backend circuit changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	return &FallbackLimiter{
		primary: primary,
		local:   local,
		breaker: resilience.NewCircuitBreaker(cfg),
		log:     log,
	}
}

// Check consults the primary limiter and falls back to the local one.
func (f *FallbackLimiter) Check(ctx context.Context, key string, window time.Duration, limit int) (Decision, error) {
	d, err := resilience.ExecuteVal(ctx, f.breaker, func(ctx context.Context) (Decision, error) {
		return f.primary.Check(ctx, key, window, limit)
	})
	if err == nil {
		return d, nil
	}
	if ctx.Err() != nil {
		return Decision{}, ctx.Err()
	}
	f.log.Debug("shared rate limit backend unavailable, using local limiter",
		zap.String("key", key),
		zap.Error(err),
	)
	return f.local.Check(ctx, key, window, limit)
}

// State exposes the breaker state for health reporting.
func (f *FallbackLimiter) State() resilience.CircuitState {
	return f.breaker.State()
}
