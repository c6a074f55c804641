// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/scrape-orchestrator/internal/scrape"
)

// EnvPrefix namespaces environment overrides, e.g. SCRAPER_SERVER_PORT.
const EnvPrefix = "SCRAPER"

// Store and archive drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverNone     = "none"
	DriverLocal    = "local"
	DriverGCS      = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Store     StoreConfig     `mapstructure:"store"`
	DB        DBConfig        `mapstructure:"db"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Scraper   ScraperSeed     `mapstructure:"scraper"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                     int `mapstructure:"port"`
	ShutdownTimeoutSeconds   int `mapstructure:"shutdown_timeout_seconds"`
	ReadHeaderTimeoutSeconds int `mapstructure:"read_header_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// WorkerConfig points at the external scraping worker.
type WorkerConfig struct {
	URL            string `mapstructure:"url"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`

	// DispatchRPS caps dispatches per second against one category host.
	// Zero disables throttling.
	DispatchRPS   float64 `mapstructure:"dispatch_rps"`
	DispatchBurst int     `mapstructure:"dispatch_burst"`
}

// SchedulerConfig tunes the loop driver and the stall watchdog.
type SchedulerConfig struct {
	TickSeconds             int  `mapstructure:"tick_seconds"`
	StallTimeoutSeconds     int  `mapstructure:"stall_timeout_seconds"`
	WatchdogIntervalSeconds int  `mapstructure:"watchdog_interval_seconds"`
	AdvanceCursorOnManual   bool `mapstructure:"advance_cursor_on_manual"`
}

// StoreConfig selects the config/job store backend.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSeconds int    `mapstructure:"max_conn_lifetime_seconds"`
}

// ArchiveConfig selects where finished job transcripts are written.
type ArchiveConfig struct {
	Driver    string `mapstructure:"driver"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for lifecycle notifications. An empty topic
// disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// ScraperSeed is written to the config store the first time it is empty.
type ScraperSeed struct {
	CategoryURL            string `mapstructure:"category_url"`
	Cursor                 int    `mapstructure:"cursor"`
	HistoryIntervalSeconds int    `mapstructure:"history_interval_seconds"`
	WatcherIntervalSeconds int    `mapstructure:"watcher_interval_seconds"`
	DelayMin               int    `mapstructure:"delay_min"`
	DelayMax               int    `mapstructure:"delay_max"`
}

// ScraperConfig converts the seed into the domain record.
func (s ScraperSeed) ScraperConfig() scrape.ScraperConfig {
	return scrape.ScraperConfig{
		CategoryURL:            s.CategoryURL,
		Cursor:                 s.Cursor,
		HistoryIntervalSeconds: s.HistoryIntervalSeconds,
		WatcherIntervalSeconds: s.WatcherIntervalSeconds,
		DelayMin:               s.DelayMin,
		DelayMax:               s.DelayMax,
	}
}

// LoadDotEnv reads .env.local then .env into the process environment.
// Missing files are ignored and existing variables are never overwritten.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env.local", ".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load builds a Config from defaults, an optional file and the environment.
func Load(path string) (Config, error) {
	if err := LoadDotEnv(); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("server.read_header_timeout_seconds", 5)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("worker.url", "")
	v.SetDefault("worker.api_key", "")
	v.SetDefault("worker.timeout_seconds", 15)
	v.SetDefault("worker.dispatch_rps", 0)
	v.SetDefault("worker.dispatch_burst", 1)
	v.SetDefault("scheduler.tick_seconds", 1)
	v.SetDefault("scheduler.stall_timeout_seconds", 900)
	v.SetDefault("scheduler.watchdog_interval_seconds", 30)
	v.SetDefault("scheduler.advance_cursor_on_manual", true)
	v.SetDefault("store.driver", DriverMemory)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime_seconds", 1800)
	v.SetDefault("archive.driver", DriverNone)
	v.SetDefault("archive.base_dir", "transcripts")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("archive.prefix", "jobs")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("scraper.category_url", "")
	v.SetDefault("scraper.cursor", 1)
	v.SetDefault("scraper.history_interval_seconds", 600)
	v.SetDefault("scraper.watcher_interval_seconds", 300)
	v.SetDefault("scraper.delay_min", 2)
	v.SetDefault("scraper.delay_max", 5)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if strings.TrimSpace(c.Worker.URL) == "" {
		return fmt.Errorf("worker.url is required")
	}
	if c.Worker.TimeoutSeconds <= 0 {
		return fmt.Errorf("worker.timeout_seconds must be > 0")
	}
	if c.Worker.DispatchRPS < 0 {
		return fmt.Errorf("worker.dispatch_rps must be >= 0")
	}
	if c.Scheduler.TickSeconds <= 0 {
		return fmt.Errorf("scheduler.tick_seconds must be > 0")
	}
	if c.Scheduler.StallTimeoutSeconds <= 0 {
		return fmt.Errorf("scheduler.stall_timeout_seconds must be > 0")
	}
	if c.Scheduler.WatchdogIntervalSeconds <= 0 {
		return fmt.Errorf("scheduler.watchdog_interval_seconds must be > 0")
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for the postgres store")
		}
	default:
		return fmt.Errorf("store.driver %q is not one of memory, postgres", c.Store.Driver)
	}
	switch c.Archive.Driver {
	case DriverNone, DriverMemory:
	case DriverLocal:
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir is required for the local archive")
		}
	case DriverGCS:
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket is required for the gcs archive")
		}
	default:
		return fmt.Errorf("archive.driver %q is not one of none, memory, local, gcs", c.Archive.Driver)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id is required when pubsub.topic_name is set")
	}
	if err := c.Scraper.ScraperConfig().Validate(); err != nil {
		return fmt.Errorf("scraper seed: %w", err)
	}
	return nil
}

// Tick is the scheduler's driving period.
func (c Config) Tick() time.Duration {
	return time.Duration(c.Scheduler.TickSeconds) * time.Second
}

// StallTimeout is how long a running job may stay silent before the
// watchdog fails it.
func (c Config) StallTimeout() time.Duration {
	return time.Duration(c.Scheduler.StallTimeoutSeconds) * time.Second
}

// WatchdogInterval is how often running jobs are checked for stalls.
func (c Config) WatchdogInterval() time.Duration {
	return time.Duration(c.Scheduler.WatchdogIntervalSeconds) * time.Second
}

// WorkerTimeout bounds a single dispatch request.
func (c Config) WorkerTimeout() time.Duration {
	return time.Duration(c.Worker.TimeoutSeconds) * time.Second
}
