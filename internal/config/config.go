// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/rivalwatch/internal/targets"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Describe DescribeConfig `mapstructure:"describe"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Targets  TargetsConfig  `mapstructure:"targets"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ReadTimeoutSeconds     int `mapstructure:"read_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
	// ScrapeIntervalMinutes schedules ScrapeAll while serving. Zero disables the schedule.
	ScrapeIntervalMinutes int `mapstructure:"scrape_interval_minutes"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs the worker pool and politeness.
type CrawlerConfig struct {
	Concurrency     int     `mapstructure:"concurrency"`
	UserAgent       string  `mapstructure:"user_agent"`
	RespectRobots   bool    `mapstructure:"respect_robots"`
	RateLimitRPS    float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst  int     `mapstructure:"rate_limit_burst"`
	MaxBodyBytes    int     `mapstructure:"max_body_bytes"`
	MaxContentBytes int     `mapstructure:"max_content_bytes"`
	MaxExcerptBytes int     `mapstructure:"max_excerpt_bytes"`
}

// HTTPConfig configures HTTP client retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// HeadlessConfig configures browser rendering and the promotion heuristics.
type HeadlessConfig struct {
	Enabled             bool     `mapstructure:"enabled"`
	MaxParallel         int      `mapstructure:"max_parallel"`
	NavTimeoutSec       int      `mapstructure:"nav_timeout_seconds"`
	SettleDelayMs       int      `mapstructure:"settle_delay_ms"`
	BodyLengthThreshold int      `mapstructure:"body_length_threshold"`
	MinTextChars        int      `mapstructure:"min_text_chars"`
	Keywords            []string `mapstructure:"keywords"`
	RequiredSelectors   []string `mapstructure:"required_selectors"`
}

// DescribeConfig caps change summaries.
type DescribeConfig struct {
	MaxItems              int `mapstructure:"max_items"`
	MaxPlanFeatureChanges int `mapstructure:"max_plan_feature_changes"`
	MaxDescriptionChars   int `mapstructure:"max_description_chars"`
}

// Snapshot store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Raw archive backends.
const (
	ArchiveNone   = "none"
	ArchiveMemory = "memory"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
)

// StorageConfig selects the snapshot store and raw page archive.
type StorageConfig struct {
	Driver      string `mapstructure:"driver"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	Archive     string `mapstructure:"archive"`
	LocalDir    string `mapstructure:"local_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// DBConfig controls access to PostgreSQL.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int    `mapstructure:"max_conns"`
	MinConns               int    `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
	SnapshotsTable         string `mapstructure:"snapshots_table"`
	ChangesTable           string `mapstructure:"changes_table"`
	AutoMigrate            bool   `mapstructure:"auto_migrate"`
}

// PubSubConfig holds change-event publishing settings. An empty topic disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig controls zap output and optional file rotation.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
}

// TargetsConfig points at a competitors file or lists competitors inline.
type TargetsConfig struct {
	File        string               `mapstructure:"file"`
	Competitors []targets.Competitor `mapstructure:"competitors"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RIVALWATCH")
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
	v.SetDefault("server.read_timeout_seconds", 15)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("server.scrape_interval_minutes", 0)
	v.SetDefault("crawler.concurrency", 5)
	v.SetDefault("crawler.user_agent", "rivalwatch/0.1 (+https://github.com/JakeFAU/rivalwatch)")
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("crawler.rate_limit_rps", 1.0)
	v.SetDefault("crawler.rate_limit_burst", 1)
	v.SetDefault("crawler.max_body_bytes", 10<<20)
	v.SetDefault("crawler.max_content_bytes", 1_000_000)
	v.SetDefault("crawler.max_excerpt_bytes", 1000)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 1000)
	v.SetDefault("http.backoff_max_ms", 10000)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.settle_delay_ms", 500)
	v.SetDefault("headless.body_length_threshold", 2048)
	v.SetDefault("headless.min_text_chars", 200)
	v.SetDefault("describe.max_items", 5)
	v.SetDefault("describe.max_plan_feature_changes", 3)
	v.SetDefault("describe.max_description_chars", 500)
	v.SetDefault("storage.driver", DriverMemory)
	v.SetDefault("storage.sqlite_path", "rivalwatch.db")
	v.SetDefault("storage.archive", ArchiveNone)
	v.SetDefault("storage.prefix", "raw")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("db.snapshots_table", "snapshots")
	v.SetDefault("db.changes_table", "changes")
	v.SetDefault("db.auto_migrate", true)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	if c.Server.ScrapeIntervalMinutes < 0 {
		return errors.New("server.scrape_interval_minutes must be >= 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return errors.New("crawler.concurrency must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return errors.New("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return errors.New("http.max_retries must be >= 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return errors.New("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return errors.New("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.DB.DSN == "" {
			return errors.New("db.dsn must be set when storage.driver is postgres")
		}
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			return errors.New("storage.sqlite_path must be set when storage.driver is sqlite")
		}
	default:
		return fmt.Errorf("storage.driver %q is not one of memory, postgres, sqlite", c.Storage.Driver)
	}
	switch c.Storage.Archive {
	case "", ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		if c.Storage.LocalDir == "" {
			return errors.New("storage.local_dir must be set when storage.archive is local")
		}
	case ArchiveGCS:
		if c.Storage.GCSBucket == "" {
			return errors.New("storage.gcs_bucket must be set when storage.archive is gcs")
		}
	default:
		return fmt.Errorf("storage.archive %q is not one of none, memory, local, gcs", c.Storage.Archive)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return errors.New("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// FetchTimeout is the per-request HTTP budget.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
