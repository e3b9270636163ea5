package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Validate checks the settings required by a command mode: "serve",
// "migrate", "reconcile", "worker", "schedule" or "admin".
func (c *Config) Validate(mode string) error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	switch mode {
	case "serve", "migrate", "reconcile", "worker", "schedule", "admin":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	// schedule only talks to Temporal.
	if mode != "schedule" {
		c.validateStore(add)
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server.port must be > 0 and <= 65535")
		}
		if c.Server.VisitorCookie == "" {
			add("server.visitor_cookie is required")
		}
		c.validateRateLimit(add)
		if c.Monitoring.FailureBacklogThreshold < 0 || c.Monitoring.PendingPayoutThreshold < 0 {
			add("monitoring thresholds must be >= 0")
		}
	case "reconcile", "worker":
		c.validateReconcile(add)
	case "schedule":
		if c.Reconcile.Cron == "" {
			add("reconcile.cron is required")
		}
	}

	if mode == "worker" || mode == "schedule" {
		if c.Temporal.HostPort == "" {
			add("temporal.host_port is required")
		}
		if c.Temporal.TaskQueue == "" {
			add("temporal.task_queue is required")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore(add func(string, ...any)) {
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			add("store.database_url is required")
		}
	case "sqlite":
		// An empty path uses campaign-views.db in the working directory.
	default:
		add("store.driver must be postgres or sqlite, got %q", c.Store.Driver)
	}
	if c.Store.MaxConns < 0 || c.Store.MinConns < 0 || (c.Store.MaxConns > 0 && c.Store.MinConns > c.Store.MaxConns) {
		add("store.min_conns must be between 0 and store.max_conns")
	}
}

func (c *Config) validateRateLimit(add func(string, ...any)) {
	rl := c.RateLimit
	switch rl.Backend {
	case "memory":
	case "redis":
		if rl.RedisURL == "" {
			add("ratelimit.redis_url is required for the redis backend")
		}
	default:
		add("ratelimit.backend must be memory or redis, got %q", rl.Backend)
	}
	if rl.SweepProbability < 0 || rl.SweepProbability > 1 {
		add("ratelimit.sweep_probability must be between 0 and 1")
	}
	if rl.IdleTTLMins < 0 {
		add("ratelimit.idle_ttl_mins must be >= 0")
	}
}

func (c *Config) validateReconcile(add func(string, ...any)) {
	if c.Reconcile.Concurrency < 1 || c.Reconcile.Concurrency > 64 {
		add("reconcile.concurrency must be between 1 and 64")
	}
	if c.Reconcile.MaxWritesPerSec <= 0 {
		add("reconcile.max_writes_per_sec must be > 0")
	}
}
