package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/campaign-views/internal/resilience"
)

// Emit builds and publishes an event, retrying transient failures. Failures
// are logged and never returned: events follow a state change that has
// already been committed.
func Emit(ctx context.Context, pub Publisher, eventType, key string, payload any) {
	if pub == nil {
		return
	}
	log := zap.L().With(zap.String("component", "events.emit"))

	e, err := New(eventType, key, payload)
	if err != nil {
		log.Error("build event", zap.String("type", eventType), zap.Error(err))
		return
	}

	cfg := resilience.DefaultRetryConfig()
	cfg.ShouldRetry = func(error) bool { return true }
	cfg.OnRetry = resilience.LogRetries(log, "publish "+eventType)
	if err := resilience.Do(ctx, cfg, func(ctx context.Context) error {
		return pub.Publish(ctx, e)
	}); err != nil {
		log.Error("publish event",
			zap.String("type", eventType),
			zap.String("key", key),
			zap.Error(err),
		)
	}
}
