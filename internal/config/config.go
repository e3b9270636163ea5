package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	RateLimit  RateLimitConfig  `yaml:"ratelimit" mapstructure:"ratelimit"`
	Reconcile  ReconcileConfig  `yaml:"reconcile" mapstructure:"reconcile"`
	Temporal   TemporalConfig   `yaml:"temporal" mapstructure:"temporal"`
	Kafka      KafkaConfig      `yaml:"kafka" mapstructure:"kafka"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port          int      `yaml:"port" mapstructure:"port"`
	VisitorCookie string   `yaml:"visitor_cookie" mapstructure:"visitor_cookie"`
	SecureCookie  bool     `yaml:"secure_cookie" mapstructure:"secure_cookie"`
	CORSOrigins   []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	// AdminToken guards the admin routes. Empty disables them.
	AdminToken string `yaml:"admin_token" mapstructure:"admin_token"`
}

// RateLimitConfig configures the redirect rate limiter.
type RateLimitConfig struct {
	Backend                 string  `yaml:"backend" mapstructure:"backend"`
	RedisURL                string  `yaml:"redis_url" mapstructure:"redis_url"`
	KeyPrefix               string  `yaml:"key_prefix" mapstructure:"key_prefix"`
	PolicyFile              string  `yaml:"policy_file" mapstructure:"policy_file"`
	SweepProbability        float64 `yaml:"sweep_probability" mapstructure:"sweep_probability"`
	IdleTTLMins             int     `yaml:"idle_ttl_mins" mapstructure:"idle_ttl_mins"`
	CircuitFailureThreshold int     `yaml:"circuit_failure_threshold" mapstructure:"circuit_failure_threshold"`
	CircuitResetSecs        int     `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
}

// ReconcileConfig configures the earnings reconciliation job.
type ReconcileConfig struct {
	Concurrency     int     `yaml:"concurrency" mapstructure:"concurrency"`
	MaxWritesPerSec float64 `yaml:"max_writes_per_sec" mapstructure:"max_writes_per_sec"`
	IncludeEnded    bool    `yaml:"include_ended" mapstructure:"include_ended"`
	Cron            string  `yaml:"cron" mapstructure:"cron"`
}

// TemporalConfig configures the Temporal client and worker.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port" mapstructure:"host_port"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue string `yaml:"task_queue" mapstructure:"task_queue"`
}

// KafkaConfig configures domain event publishing. No brokers means events
// are only logged.
type KafkaConfig struct {
	Brokers       []string `yaml:"brokers" mapstructure:"brokers"`
	CampaignTopic string   `yaml:"campaign_topic" mapstructure:"campaign_topic"`
	PayoutTopic   string   `yaml:"payout_topic" mapstructure:"payout_topic"`
}

// MonitoringConfig configures metrics alerts.
type MonitoringConfig struct {
	WebhookURL              string `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs       int    `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours     int    `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureBacklogThreshold int    `yaml:"failure_backlog_threshold" mapstructure:"failure_backlog_threshold"`
	// PendingPayoutThreshold alerts when this many payouts await execution.
	// Zero disables the alert.
	PendingPayoutThreshold int `yaml:"pending_payout_threshold" mapstructure:"pending_payout_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from ./config.yaml, if present, and the
// environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads configuration from path and the environment. An empty path
// falls back to an optional ./config.yaml; an explicit path must exist.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("VIEWS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Keys without a useful default are registered so env overrides reach
	// Unmarshal.
	for _, key := range []string{
		"store.database_url",
		"server.admin_token",
		"ratelimit.redis_url",
		"ratelimit.policy_file",
		"monitoring.webhook_url",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("monitoring.pending_payout_threshold", 0)

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 20)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.visitor_cookie", "cv_visitor")
	v.SetDefault("server.secure_cookie", true)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("ratelimit.backend", "memory")
	v.SetDefault("ratelimit.key_prefix", "cv:rl")
	v.SetDefault("ratelimit.sweep_probability", 0.01)
	v.SetDefault("ratelimit.idle_ttl_mins", 60)
	v.SetDefault("ratelimit.circuit_failure_threshold", 5)
	v.SetDefault("ratelimit.circuit_reset_secs", 30)
	v.SetDefault("reconcile.concurrency", 4)
	v.SetDefault("reconcile.max_writes_per_sec", 200)
	v.SetDefault("reconcile.include_ended", false)
	v.SetDefault("reconcile.cron", "0 * * * *")
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "campaign-views")
	v.SetDefault("kafka.campaign_topic", "campaign-events")
	v.SetDefault("kafka.payout_topic", "payout-events")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_backlog_threshold", 10)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
