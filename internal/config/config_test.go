package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  enabled: true
  port: 9090
harvest:
  concurrency: 5
  batch_size: 20
  inter_batch_delay_seconds: 2
  domain_concurrency:
    example.com: 2
  strict_domains: ["fragile.net"]
  root_only: true
  limit: 500
throttle:
  default_rps: 0.5
  rates:
    example.com: 2.0
  jitter_min_ms: 50
  jitter_max_ms: 200
fetch:
  strategy: headless
  user_agent: harvest-agent
  timeout_seconds: 30
  max_retries: 5
  backoff_initial_ms: 100
  backoff_max_ms: 1000
headless:
  max_parallel: 2
  nav_timeout_seconds: 60
checkpoint:
  path: /tmp/progress.json
db:
  dsn: postgres://localhost/harvest
pubsub:
  project_id: proj
  topic_name: harvest-events
logging:
  development: false
  file: /tmp/harvester.log
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if !cfg.Server.Enabled || cfg.Server.Port != 9090 {
		t.Fatalf("expected server overrides to apply: %+v", cfg.Server)
	}
	if cfg.Harvest.Concurrency != 5 || cfg.Harvest.BatchSize != 20 {
		t.Fatalf("expected harvest overrides to apply: %+v", cfg.Harvest)
	}
	if got := cfg.Harvest.DomainConcurrency["example.com"]; got != 2 {
		t.Fatalf("expected domain_concurrency override, got %d", got)
	}
	if len(cfg.Harvest.StrictDomains) != 1 || cfg.Harvest.StrictDomains[0] != "fragile.net" {
		t.Fatalf("expected strict domains: %v", cfg.Harvest.StrictDomains)
	}
	if !cfg.Harvest.RootOnly || cfg.Harvest.Limit != 500 {
		t.Fatalf("expected root_only and limit overrides: %+v", cfg.Harvest)
	}
	if cfg.Throttle.DefaultRPS != 0.5 || cfg.Throttle.Rates["example.com"] != 2.0 {
		t.Fatalf("expected throttle overrides: %+v", cfg.Throttle)
	}
	if cfg.Fetch.Strategy != "headless" || cfg.Headless.MaxParallel != 2 {
		t.Fatalf("expected headless strategy overrides: %+v", cfg.Fetch)
	}
	if cfg.Checkpoint.Path != "/tmp/progress.json" {
		t.Fatalf("expected checkpoint path, got %q", cfg.Checkpoint.Path)
	}
	if cfg.PubSub.TopicName != "harvest-events" {
		t.Fatalf("expected pubsub overrides: %+v", cfg.PubSub)
	}
	if cfg.Logging.Development {
		t.Fatalf("expected logging.development false")
	}
	if got := cfg.FetchTimeout(); got != 30*time.Second {
		t.Fatalf("expected fetch timeout 30s, got %v", got)
	}
	if got := cfg.JitterMin(); got != 50*time.Millisecond {
		t.Fatalf("expected jitter min 50ms, got %v", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Harvest.Concurrency != 3 {
		t.Fatalf("expected default concurrency 3, got %d", cfg.Harvest.Concurrency)
	}
	if cfg.Harvest.BatchSize != 10 {
		t.Fatalf("expected default batch size 10, got %d", cfg.Harvest.BatchSize)
	}
	if cfg.Fetch.Strategy != "colly" {
		t.Fatalf("expected default strategy colly, got %q", cfg.Fetch.Strategy)
	}
	if cfg.Checkpoint.Path != "harvest_progress.json" {
		t.Fatalf("expected default checkpoint path, got %q", cfg.Checkpoint.Path)
	}
	if got := cfg.BackoffInitial(); got != 250*time.Millisecond {
		t.Fatalf("expected default backoff 250ms, got %v", got)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{
			name:    "zero concurrency",
			mutate:  func(c *Config) { c.Harvest.Concurrency = 0 },
			wantSub: "harvest.concurrency",
		},
		{
			name:    "zero batch size",
			mutate:  func(c *Config) { c.Harvest.BatchSize = 0 },
			wantSub: "harvest.batch_size",
		},
		{
			name:    "unknown strategy",
			mutate:  func(c *Config) { c.Fetch.Strategy = "soap" },
			wantSub: "fetch.strategy",
		},
		{
			name:    "negative domain override",
			mutate:  func(c *Config) { c.Harvest.DomainConcurrency = map[string]int{"x.com": -1} },
			wantSub: "domain_concurrency",
		},
		{
			name:    "inverted jitter",
			mutate:  func(c *Config) { c.Throttle.JitterMinMs = 500; c.Throttle.JitterMaxMs = 100 },
			wantSub: "jitter_min_ms",
		},
		{
			name: "headless without parallel slots",
			mutate: func(c *Config) {
				c.Fetch.Strategy = "headless"
				c.Headless.MaxParallel = 0
			},
			wantSub: "headless.max_parallel",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg, err := Load("")
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			tc.mutate(&cfg)

			err = cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.wantSub) {
				t.Fatalf("expected error containing %q, got %v", tc.wantSub, err)
			}
		})
	}
}
