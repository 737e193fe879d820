// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Harvest    HarvestConfig    `mapstructure:"harvest"`
	Throttle   ThrottleConfig   `mapstructure:"throttle"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	DB         DBConfig         `mapstructure:"db"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls the HTTP status server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// HarvestConfig governs batching and concurrency for a run.
type HarvestConfig struct {
	Concurrency        int            `mapstructure:"concurrency"`
	BatchSize          int            `mapstructure:"batch_size"`
	InterBatchDelaySec int            `mapstructure:"inter_batch_delay_seconds"`
	DomainConcurrency  map[string]int `mapstructure:"domain_concurrency"`
	StrictDomains      []string       `mapstructure:"strict_domains"`
	RootOnly           bool           `mapstructure:"root_only"`
	StatusFilter       string         `mapstructure:"status_filter"`
	Limit              int            `mapstructure:"limit"`
}

// ThrottleConfig shapes per-domain request pacing.
type ThrottleConfig struct {
	DefaultRPS  float64            `mapstructure:"default_rps"`
	Rates       map[string]float64 `mapstructure:"rates"`
	JitterMinMs int                `mapstructure:"jitter_min_ms"`
	JitterMaxMs int                `mapstructure:"jitter_max_ms"`
}

// FetchConfig configures the HTTP fetcher and retry behavior.
type FetchConfig struct {
	Strategy         string `mapstructure:"strategy"`
	UserAgent        string `mapstructure:"user_agent"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	MaxRetries       int    `mapstructure:"max_retries"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
}

// HeadlessConfig configures the rendered-page fetcher.
type HeadlessConfig struct {
	MaxParallel   int `mapstructure:"max_parallel"`
	NavTimeoutSec int `mapstructure:"nav_timeout_seconds"`
}

// CheckpointConfig sets where run progress is persisted.
type CheckpointConfig struct {
	Path string `mapstructure:"path"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features and file rotation.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("harvest.concurrency", 3)
	v.SetDefault("harvest.batch_size", 10)
	v.SetDefault("harvest.inter_batch_delay_seconds", 0)
	v.SetDefault("harvest.root_only", false)
	v.SetDefault("harvest.limit", 0)
	v.SetDefault("throttle.default_rps", 1.0)
	v.SetDefault("throttle.jitter_min_ms", 100)
	v.SetDefault("throttle.jitter_max_ms", 500)
	v.SetDefault("fetch.strategy", "colly")
	v.SetDefault("fetch.user_agent", "siteharvest-bot/0.1")
	v.SetDefault("fetch.timeout_seconds", 15)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.backoff_initial_ms", 250)
	v.SetDefault("fetch.backoff_max_ms", 5000)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("checkpoint.path", "harvest_progress.json")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 3)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Harvest.Concurrency <= 0 {
		return fmt.Errorf("harvest.concurrency must be > 0")
	}
	if c.Harvest.BatchSize <= 0 {
		return fmt.Errorf("harvest.batch_size must be > 0")
	}
	for domain, limit := range c.Harvest.DomainConcurrency {
		if limit <= 0 {
			return fmt.Errorf("harvest.domain_concurrency[%s] must be > 0", domain)
		}
	}
	if c.Throttle.DefaultRPS <= 0 {
		return fmt.Errorf("throttle.default_rps must be > 0")
	}
	for domain, rps := range c.Throttle.Rates {
		if rps <= 0 {
			return fmt.Errorf("throttle.rates[%s] must be > 0", domain)
		}
	}
	if c.Throttle.JitterMinMs > c.Throttle.JitterMaxMs {
		return fmt.Errorf("throttle.jitter_min_ms must not exceed jitter_max_ms")
	}
	switch c.Fetch.Strategy {
	case "colly", "headless":
	default:
		return fmt.Errorf("fetch.strategy must be colly or headless, got %q", c.Fetch.Strategy)
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Fetch.MaxRetries <= 0 {
		return fmt.Errorf("fetch.max_retries must be > 0")
	}
	if c.Fetch.Strategy == "headless" && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when strategy is headless")
	}
	return nil
}

// FetchTimeout converts the fetch timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// BackoffInitial converts the initial retry backoff into a duration.
func (c Config) BackoffInitial() time.Duration {
	return time.Duration(c.Fetch.BackoffInitialMs) * time.Millisecond
}

// BackoffMax converts the retry backoff cap into a duration.
func (c Config) BackoffMax() time.Duration {
	return time.Duration(c.Fetch.BackoffMaxMs) * time.Millisecond
}

// InterBatchDelay converts the inter-batch pause into a duration.
func (c Config) InterBatchDelay() time.Duration {
	return time.Duration(c.Harvest.InterBatchDelaySec) * time.Second
}

// JitterMin converts the minimum throttle jitter into a duration.
func (c Config) JitterMin() time.Duration {
	return time.Duration(c.Throttle.JitterMinMs) * time.Millisecond
}

// JitterMax converts the maximum throttle jitter into a duration.
func (c Config) JitterMax() time.Duration {
	return time.Duration(c.Throttle.JitterMaxMs) * time.Millisecond
}
