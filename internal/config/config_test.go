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
  port: 9090
auth:
  enabled: true
  api_key: secret
worker:
  url: http://worker.internal/jobs
  timeout_seconds: 20
  dispatch_rps: 0.5
scheduler:
  tick_seconds: 2
  stall_timeout_seconds: 120
  watchdog_interval_seconds: 10
  advance_cursor_on_manual: false
store:
  driver: postgres
db:
  dsn: postgres://scraper@localhost/scraper
  max_conns: 8
archive:
  driver: local
  base_dir: /var/lib/scraper
  prefix: transcripts
pubsub:
  project_id: proj
  topic_name: scrape-jobs
logging:
  development: false
scraper:
  category_url: https://shop.example.com/category/shoes
  cursor: 7
  history_interval_seconds: 900
  watcher_interval_seconds: 120
  delay_min: 1
  delay_max: 3
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Store.Driver != DriverPostgres || cfg.DB.MaxConns != 8 {
		t.Fatalf("expected postgres store overrides, got %+v %+v", cfg.Store, cfg.DB)
	}
	if cfg.Archive.Driver != DriverLocal || cfg.Archive.Prefix != "transcripts" {
		t.Fatalf("expected archive overrides, got %+v", cfg.Archive)
	}
	if cfg.Scheduler.AdvanceCursorOnManual {
		t.Fatalf("expected advance_cursor_on_manual=false")
	}
	if got := cfg.Tick(); got != 2*time.Second {
		t.Fatalf("expected tick 2s, got %v", got)
	}
	if got := cfg.StallTimeout(); got != 2*time.Minute {
		t.Fatalf("expected stall timeout 2m, got %v", got)
	}
	if got := cfg.WorkerTimeout(); got != 20*time.Second {
		t.Fatalf("expected worker timeout 20s, got %v", got)
	}
	if cfg.Worker.DispatchRPS != 0.5 || cfg.Worker.DispatchBurst != 1 {
		t.Fatalf("expected dispatch rate 0.5 burst 1, got %v %d", cfg.Worker.DispatchRPS, cfg.Worker.DispatchBurst)
	}
	seed := cfg.Scraper.ScraperConfig()
	if seed.Cursor != 7 || seed.CategoryURL != "https://shop.example.com/category/shoes" {
		t.Fatalf("expected scraper seed to load, got %+v", seed)
	}
	if seed.HistoryIntervalSeconds != 900 || seed.WatcherIntervalSeconds != 120 {
		t.Fatalf("expected scraper intervals to load, got %+v", seed)
	}
}

func TestLoadDefaultsWithEnv(t *testing.T) {
	t.Setenv("SCRAPER_WORKER_URL", "http://localhost:9000/jobs")
	t.Setenv("SCRAPER_SCHEDULER_STALL_TIMEOUT_SECONDS", "60")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Worker.URL != "http://localhost:9000/jobs" {
		t.Fatalf("expected worker url from env, got %q", cfg.Worker.URL)
	}
	if cfg.StallTimeout() != time.Minute {
		t.Fatalf("expected stall timeout override, got %v", cfg.StallTimeout())
	}
	if cfg.Store.Driver != DriverMemory || cfg.Archive.Driver != DriverNone {
		t.Fatalf("expected memory store and no archive by default")
	}
	if cfg.WatchdogInterval() != 30*time.Second {
		t.Fatalf("expected default watchdog interval 30s, got %v", cfg.WatchdogInterval())
	}
	if !cfg.Scheduler.AdvanceCursorOnManual {
		t.Fatalf("expected advance_cursor_on_manual default true")
	}
	if cfg.Scraper.Cursor != 1 {
		t.Fatalf("expected default cursor 1, got %d", cfg.Scraper.Cursor)
	}
}

func TestLoadDotEnvKeepsExistingVariables(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, ".env.local")
	shared := filepath.Join(dir, ".env")
	if err := os.WriteFile(local, []byte("SCRAPER_DOTENV_A=local\n"), 0o600); err != nil {
		t.Fatalf("write .env.local: %v", err)
	}
	if err := os.WriteFile(shared, []byte("SCRAPER_DOTENV_A=shared\nSCRAPER_DOTENV_B=shared\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("SCRAPER_DOTENV_A", "")
	t.Setenv("SCRAPER_DOTENV_B", "")
	if err := os.Unsetenv("SCRAPER_DOTENV_A"); err != nil {
		t.Fatalf("unset: %v", err)
	}
	if err := os.Unsetenv("SCRAPER_DOTENV_B"); err != nil {
		t.Fatalf("unset: %v", err)
	}

	if err := LoadDotEnv(local, filepath.Join(dir, "missing.env"), shared); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	if got := os.Getenv("SCRAPER_DOTENV_A"); got != "local" {
		t.Fatalf("expected .env.local to win, got %q", got)
	}
	if got := os.Getenv("SCRAPER_DOTENV_B"); got != "shared" {
		t.Fatalf("expected .env to fill gaps, got %q", got)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:    ServerConfig{Port: 8080},
		Worker:    WorkerConfig{URL: "http://worker", TimeoutSeconds: 10},
		Scheduler: SchedulerConfig{TickSeconds: 1, StallTimeoutSeconds: 60, WatchdogIntervalSeconds: 5},
		Store:     StoreConfig{Driver: DriverMemory},
		Archive:   ArchiveConfig{Driver: DriverNone},
		Scraper: ScraperSeed{
			Cursor:                 1,
			HistoryIntervalSeconds: 60,
			WatcherIntervalSeconds: 60,
			DelayMin:               1,
			DelayMax:               2,
		},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	tests := []struct {
		name string
		mut  func(*Config)
		want string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"auth missing api key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"missing worker url", func(c *Config) { c.Worker.URL = " " }, "worker.url"},
		{"negative dispatch rate", func(c *Config) { c.Worker.DispatchRPS = -1 }, "worker.dispatch_rps"},
		{"invalid tick", func(c *Config) { c.Scheduler.TickSeconds = 0 }, "scheduler.tick_seconds"},
		{"invalid stall timeout", func(c *Config) { c.Scheduler.StallTimeoutSeconds = 0 }, "stall_timeout_seconds"},
		{"unknown store", func(c *Config) { c.Store.Driver = "sqlite" }, "store.driver"},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = DriverPostgres }, "db.dsn"},
		{"unknown archive", func(c *Config) { c.Archive.Driver = "s3" }, "archive.driver"},
		{"gcs without bucket", func(c *Config) { c.Archive.Driver = DriverGCS }, "archive.gcs_bucket"},
		{"topic without project", func(c *Config) { c.PubSub.TopicName = "jobs" }, "pubsub.project_id"},
		{"seed cursor", func(c *Config) { c.Scraper.Cursor = 0 }, "scraper seed"},
		{"seed delays", func(c *Config) { c.Scraper.DelayMin = 9 }, "delayMin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mut(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
