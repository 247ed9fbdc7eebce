package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Tracker.CompletionThresholdPct != 80 || cfg.Tracker.SyncIntervalSeconds != 30 ||
		cfg.Tracker.MaxPlausibleDeltaSeconds != 30 {
		t.Fatalf("unexpected estimator defaults: %+v", cfg.Tracker)
	}
	if cfg.Tracker.PlayerOrigin != "https://www.youtube.com" {
		t.Fatalf("unexpected player origin %q", cfg.Tracker.PlayerOrigin)
	}
	if got := cfg.Tracker.AccessDebounce(); got != 2*time.Second {
		t.Fatalf("expected 2s debounce, got %v", got)
	}
	if got := cfg.Tracker.IdleTimeout(); got != 30*time.Minute {
		t.Fatalf("expected 30m idle timeout, got %v", got)
	}
	if cfg.DB.Driver != DriverMemory {
		t.Fatalf("expected memory driver, got %q", cfg.DB.Driver)
	}
	if cfg.Progress.BackendEnabled || !cfg.Progress.LogEnabled || !cfg.Progress.MetricsEnabled {
		t.Fatalf("unexpected sink defaults: %+v", cfg.Progress)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  jwt_secret: secret
api:
  rate_limit_rps: 2.5
  rate_limit_burst: 4
tracker:
  completion_threshold_pct: 90
  sync_interval_seconds: 60
  player_origin: https://player.example.com
  access_debounce_ms: 500
backend:
  base_url: https://api.example.com
  timeout_seconds: 3
progress:
  backend_enabled: true
  batch:
    max_events: 10
    max_wait_ms: 250
db:
  driver: sqlite
  dsn: /tmp/progress.db
pubsub:
  project_id: proj
  topic_name: lesson-progress
archive:
  backend: gcs
  gcs_bucket: bucket
  prefix: events
logging:
  development: false
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
	if !cfg.Auth.Enabled || cfg.Auth.JWTSecret != "secret" {
		t.Fatalf("expected auth enabled with secret")
	}
	if cfg.API.RateLimitRPS != 2.5 || cfg.API.RateLimitBurst != 4 {
		t.Fatalf("unexpected api limits: %+v", cfg.API)
	}
	if cfg.Tracker.CompletionThresholdPct != 90 || cfg.Tracker.SyncIntervalSeconds != 60 {
		t.Fatalf("expected tracker overrides to apply: %+v", cfg.Tracker)
	}
	if cfg.Tracker.MaxPlausibleDeltaSeconds != 30 {
		t.Fatalf("expected default delta to survive partial override, got %v", cfg.Tracker.MaxPlausibleDeltaSeconds)
	}
	if got := cfg.Backend.Timeout(); got != 3*time.Second {
		t.Fatalf("expected backend timeout 3s, got %v", got)
	}
	if cfg.Progress.Batch.MaxEvents != 10 || cfg.Progress.Batch.MaxWaitMs != 250 {
		t.Fatalf("unexpected batch config: %+v", cfg.Progress.Batch)
	}
	if cfg.DB.Driver != DriverSQLite || cfg.DB.DSN != "/tmp/progress.db" {
		t.Fatalf("unexpected db config: %+v", cfg.DB)
	}
	if cfg.Archive.Backend != ArchiveGCS || cfg.Archive.Prefix != "events" {
		t.Fatalf("unexpected archive config: %+v", cfg.Archive)
	}
	if cfg.Logging.Development {
		t.Fatal("expected production logging")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "read config") {
		t.Fatalf("expected read config error, got %v", err)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server: ServerConfig{Port: 8080},
		Tracker: TrackerConfig{
			CompletionThresholdPct:    80,
			SyncIntervalSeconds:       30,
			MaxPlausibleDeltaSeconds:  30,
			SessionIdleTimeoutSeconds: 60,
		},
		DB: DBConfig{Driver: DriverMemory},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"auth without secret", func(c *Config) { c.Auth.Enabled = true }, "auth.jwt_secret"},
		{"threshold above 100", func(c *Config) { c.Tracker.CompletionThresholdPct = 120 }, "tracker.completion_threshold_pct"},
		{"zero sync interval", func(c *Config) { c.Tracker.SyncIntervalSeconds = 0 }, "tracker.sync_interval_seconds"},
		{"zero delta", func(c *Config) { c.Tracker.MaxPlausibleDeltaSeconds = 0 }, "tracker.max_plausible_delta_seconds"},
		{"zero idle timeout", func(c *Config) { c.Tracker.SessionIdleTimeoutSeconds = 0 }, "tracker.session_idle_timeout_seconds"},
		{"backend without url", func(c *Config) { c.Progress.BackendEnabled = true }, "backend.base_url"},
		{"unknown driver", func(c *Config) { c.DB.Driver = "mysql" }, "db.driver"},
		{"postgres without dsn", func(c *Config) { c.DB.Driver = DriverPostgres }, "db.dsn"},
		{"local archive without dir", func(c *Config) { c.Archive.Backend = ArchiveLocal }, "archive.local_dir"},
		{"gcs archive without bucket", func(c *Config) { c.Archive.Backend = ArchiveGCS }, "archive.gcs_bucket"},
		{"unknown archive", func(c *Config) { c.Archive.Backend = "s3" }, "archive.backend"},
		{"half pubsub", func(c *Config) { c.PubSub.ProjectID = "proj" }, "pubsub.project_id"},
		{"sample ratio above 1", func(c *Config) { c.Tracing.SampleRatio = 1.5 }, "tracing.sample_ratio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() error = %v, want substring %q", err, tt.want)
			}
		})
	}
}
