// Package config loads and validates tracker configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	API      APIConfig      `mapstructure:"api"`
	Tracker  TrackerConfig  `mapstructure:"tracker"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Progress ProgressConfig `mapstructure:"progress"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// APIConfig limits per-learner request rates on the sample endpoints.
type APIConfig struct {
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// TrackerConfig holds the watch-estimator constants and session lifecycle timers.
type TrackerConfig struct {
	CompletionThresholdPct    float64 `mapstructure:"completion_threshold_pct"`
	SyncIntervalSeconds       float64 `mapstructure:"sync_interval_seconds"`
	MaxPlausibleDeltaSeconds  float64 `mapstructure:"max_plausible_delta_seconds"`
	PlayerOrigin              string  `mapstructure:"player_origin"`
	AccessDebounceMs          int     `mapstructure:"access_debounce_ms"`
	SessionIdleTimeoutSeconds int     `mapstructure:"session_idle_timeout_seconds"`
	ReapIntervalSeconds       int     `mapstructure:"reap_interval_seconds"`
	LookupTimeoutMs           int     `mapstructure:"lookup_timeout_ms"`
}

// BackendConfig points at the remote course API.
type BackendConfig struct {
	BaseURL           string  `mapstructure:"base_url"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// ProgressConfig configures the progress hub and which sinks it feeds.
type ProgressConfig struct {
	BufferSize     int         `mapstructure:"buffer_size"`
	Batch          BatchConfig `mapstructure:"batch"`
	SinkTimeoutMs  int         `mapstructure:"sink_timeout_ms"`
	LogEnabled     bool        `mapstructure:"log_enabled"`
	MetricsEnabled bool        `mapstructure:"metrics_enabled"`
	BackendEnabled bool        `mapstructure:"backend_enabled"`
}

// BatchConfig bounds hub batches.
type BatchConfig struct {
	MaxEvents int `mapstructure:"max_events"`
	MaxWaitMs int `mapstructure:"max_wait_ms"`
}

// Supported progress store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DBConfig selects and configures the progress repository.
type DBConfig struct {
	Driver                 string `mapstructure:"driver"`
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Supported archive backends.
const (
	ArchiveNone   = ""
	ArchiveMemory = "memory"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
)

// ArchiveConfig controls NDJSON batch archiving.
type ArchiveConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
	// CacheControl is applied to GCS objects.
	CacheControl string `mapstructure:"cache_control"`
}

// TracingConfig toggles the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TRACKER")
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
	v.SetDefault("auth.enabled", false)
	v.SetDefault("api.rate_limit_rps", 10)
	v.SetDefault("api.rate_limit_burst", 20)
	v.SetDefault("tracker.completion_threshold_pct", 80)
	v.SetDefault("tracker.sync_interval_seconds", 30)
	v.SetDefault("tracker.max_plausible_delta_seconds", 30)
	v.SetDefault("tracker.player_origin", "https://www.youtube.com")
	v.SetDefault("tracker.access_debounce_ms", 2000)
	v.SetDefault("tracker.session_idle_timeout_seconds", 1800)
	v.SetDefault("tracker.reap_interval_seconds", 60)
	v.SetDefault("tracker.lookup_timeout_ms", 5000)
	v.SetDefault("backend.timeout_seconds", 10)
	v.SetDefault("backend.requests_per_second", 20)
	v.SetDefault("backend.burst", 10)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.batch.max_events", 100)
	v.SetDefault("progress.batch.max_wait_ms", 500)
	v.SetDefault("progress.sink_timeout_ms", 5000)
	v.SetDefault("progress.log_enabled", true)
	v.SetDefault("progress.metrics_enabled", true)
	v.SetDefault("progress.backend_enabled", false)
	v.SetDefault("db.driver", DriverMemory)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("archive.prefix", "progress")
	v.SetDefault("archive.cache_control", "private, max-age=0")
	v.SetDefault("tracing.service_name", "lesson-tracker")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must be set when auth is enabled")
	}
	if c.Tracker.CompletionThresholdPct <= 0 || c.Tracker.CompletionThresholdPct > 100 {
		return fmt.Errorf("tracker.completion_threshold_pct must be within (0, 100]")
	}
	if c.Tracker.SyncIntervalSeconds <= 0 {
		return fmt.Errorf("tracker.sync_interval_seconds must be > 0")
	}
	if c.Tracker.MaxPlausibleDeltaSeconds <= 0 {
		return fmt.Errorf("tracker.max_plausible_delta_seconds must be > 0")
	}
	if c.Tracker.SessionIdleTimeoutSeconds <= 0 {
		return fmt.Errorf("tracker.session_idle_timeout_seconds must be > 0")
	}
	if c.Progress.BackendEnabled && c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url must be set when progress.backend_enabled is true")
	}
	switch c.DB.Driver {
	case DriverMemory:
	case DriverPostgres, DriverSQLite:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set for driver %q", c.DB.Driver)
		}
	default:
		return fmt.Errorf("db.driver %q is not supported", c.DB.Driver)
	}
	switch c.Archive.Backend {
	case ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		if c.Archive.LocalDir == "" {
			return fmt.Errorf("archive.local_dir must be set for the local backend")
		}
	case ArchiveGCS:
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("archive.backend %q is not supported", c.Archive.Backend)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	return nil
}

// AccessDebounce converts the millisecond knob into a duration.
func (c TrackerConfig) AccessDebounce() time.Duration {
	return time.Duration(c.AccessDebounceMs) * time.Millisecond
}

// IdleTimeout converts the idle timeout into a duration.
func (c TrackerConfig) IdleTimeout() time.Duration {
	return time.Duration(c.SessionIdleTimeoutSeconds) * time.Second
}

// ReapInterval converts the reaper cadence into a duration.
func (c TrackerConfig) ReapInterval() time.Duration {
	return time.Duration(c.ReapIntervalSeconds) * time.Second
}

// LookupTimeout bounds the persisted-completion lookup.
func (c TrackerConfig) LookupTimeout() time.Duration {
	return time.Duration(c.LookupTimeoutMs) * time.Millisecond
}

// Timeout converts the backend timeout into a duration.
func (c BackendConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// MaxConnLifetime converts the pool lifetime knob into a duration.
func (c DBConfig) MaxConnLifetime() time.Duration {
	return time.Duration(c.MaxConnLifetimeMinutes) * time.Minute
}

// ShutdownTimeout bounds graceful shutdown.
func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}
