package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 5, cfg.Crawler.Concurrency)
	require.Equal(t, 3, cfg.HTTP.MaxRetries)
	require.Equal(t, 1000, cfg.HTTP.BackoffInitialMs)
	require.Equal(t, 10000, cfg.HTTP.BackoffMaxMs)
	require.Equal(t, DriverMemory, cfg.Storage.Driver)
	require.Equal(t, ArchiveNone, cfg.Storage.Archive)
	require.Equal(t, 5, cfg.Describe.MaxItems)
	require.Equal(t, 3, cfg.Describe.MaxPlanFeatureChanges)
	require.Equal(t, 500, cfg.Describe.MaxDescriptionChars)
	require.Equal(t, 1_000_000, cfg.Crawler.MaxContentBytes)
	require.Equal(t, 30*time.Second, cfg.FetchTimeout())
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  scrape_interval_minutes: 60
auth:
  enabled: true
  api_key: secret
crawler:
  concurrency: 8
  user_agent: test-agent
  rate_limit_rps: 0.5
http:
  timeout_seconds: 45
  max_retries: 4
headless:
  enabled: true
  max_parallel: 2
  keywords: ["enable javascript"]
storage:
  driver: sqlite
  sqlite_path: /tmp/rw.db
  archive: local
  local_dir: /tmp/raw
pubsub:
  project_id: proj
  topic_name: changes
logging:
  development: false
  file: /tmp/rw.log
targets:
  competitors:
    - name: Acme
      pages:
        - url: https://acme.test/pricing
          type: pricing
          selector: .plans
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 60, cfg.Server.ScrapeIntervalMinutes)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, "secret", cfg.Auth.APIKey)
	require.Equal(t, 8, cfg.Crawler.Concurrency)
	require.InDelta(t, 0.5, cfg.Crawler.RateLimitRPS, 1e-9)
	require.Equal(t, []string{"enable javascript"}, cfg.Headless.Keywords)
	require.Equal(t, DriverSQLite, cfg.Storage.Driver)
	require.Equal(t, "/tmp/raw", cfg.Storage.LocalDir)
	require.Equal(t, "changes", cfg.PubSub.TopicName)
	require.False(t, cfg.Logging.Development)
	require.Equal(t, "/tmp/rw.log", cfg.Logging.File)
	require.Len(t, cfg.Targets.Competitors, 1)
	require.Equal(t, "Acme", cfg.Targets.Competitors[0].Name)
	require.Equal(t, ".plans", cfg.Targets.Competitors[0].Pages[0].Selector)
	require.Equal(t, 45*time.Second, cfg.FetchTimeout())
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorContains(t, err, "read config")
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:  ServerConfig{Port: 8080},
		Crawler: CrawlerConfig{Concurrency: 1},
		HTTP:    HTTPConfig{TimeoutSeconds: 10},
		Storage: StorageConfig{Driver: DriverMemory},
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"negative interval", func(c *Config) { c.Server.ScrapeIntervalMinutes = -1 }, "server.scrape_interval_minutes"},
		{"invalid concurrency", func(c *Config) { c.Crawler.Concurrency = 0 }, "crawler.concurrency"},
		{"invalid timeout", func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, "http.timeout_seconds"},
		{"negative retries", func(c *Config) { c.HTTP.MaxRetries = -1 }, "http.max_retries"},
		{"headless missing max parallel", func(c *Config) { c.Headless.Enabled = true }, "headless.max_parallel"},
		{"auth missing api key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mongo" }, "storage.driver"},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = DriverPostgres }, "db.dsn"},
		{"sqlite without path", func(c *Config) { c.Storage.Driver = DriverSQLite }, "storage.sqlite_path"},
		{"unknown archive", func(c *Config) { c.Storage.Archive = "s3" }, "storage.archive"},
		{"local archive without dir", func(c *Config) { c.Storage.Archive = ArchiveLocal }, "storage.local_dir"},
		{"gcs archive without bucket", func(c *Config) { c.Storage.Archive = ArchiveGCS }, "storage.gcs_bucket"},
		{"topic without project", func(c *Config) { c.PubSub.TopicName = "changes" }, "pubsub.project_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			require.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}
