// Package config loads and validates sitewatcher configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Worker    WorkerConfig    `mapstructure:"worker"`
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Batch     BatchConfig     `mapstructure:"batch"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// WorkerConfig points the client at the discovery worker.
type WorkerConfig struct {
	BaseURL          string `mapstructure:"base_url"`
	TimeoutMs        int    `mapstructure:"timeout_ms"`
	Profile          string `mapstructure:"profile"`
	MaxResponseBytes int64  `mapstructure:"max_response_bytes"`
	HTTP2            bool   `mapstructure:"http2"`
	MaxIdleConns     int    `mapstructure:"max_idle_conns"`
}

// ServerConfig controls the gateway HTTP server.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	RequestTimeoutSeconds  int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
	// DrainDelayMs is how long /readyz reports draining before the
	// listener stops accepting requests.
	DrainDelayMs int `mapstructure:"drain_delay_ms"`
}

// AuthConfig defines gateway authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// BatchConfig sizes the batch pipeline.
type BatchConfig struct {
	Concurrency   int     `mapstructure:"concurrency"`
	QueueDepth    int     `mapstructure:"queue_depth"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
	ReportPrefix  string  `mapstructure:"report_prefix"`
}

// PubSubConfig holds metadata for per-result notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// StorageConfig selects where batch reports are written.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig controls tracing setup.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	// Endpoint is an OTLP/HTTP collector (host:port). Empty prints spans
	// to stderr.
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

// Storage backends understood by StorageConfig.
const (
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SITEWATCHER")
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
	v.SetDefault("worker.base_url", "https://your-worker.workers.dev")
	v.SetDefault("worker.timeout_ms", 30000)
	v.SetDefault("worker.profile", "rcmp-fsj")
	v.SetDefault("worker.max_response_bytes", 10<<20)
	v.SetDefault("worker.http2", true)
	v.SetDefault("worker.max_idle_conns", 16)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("server.drain_delay_ms", 5000)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("batch.concurrency", 4)
	v.SetDefault("batch.queue_depth", 64)
	v.SetDefault("batch.rate_per_second", 2)
	v.SetDefault("batch.burst", 1)
	v.SetDefault("batch.report_prefix", "reports")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("storage.backend", StorageMemory)
	v.SetDefault("storage.local_dir", "data/reports")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "sitewatcher")
	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.insecure", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Worker.BaseURL) == "" {
		return fmt.Errorf("worker.base_url is required")
	}
	if c.Worker.TimeoutMs <= 0 {
		return fmt.Errorf("worker.timeout_ms must be > 0")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.DrainDelayMs < 0 {
		return fmt.Errorf("server.drain_delay_ms must be >= 0")
	}
	if c.Batch.Concurrency <= 0 {
		return fmt.Errorf("batch.concurrency must be > 0")
	}
	if c.Batch.QueueDepth <= 0 {
		return fmt.Errorf("batch.queue_depth must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Backend {
	case StorageMemory:
	case StorageLocal:
		if strings.TrimSpace(c.Storage.LocalDir) == "" {
			return fmt.Errorf("storage.local_dir is required for the local backend")
		}
	case StorageGCS:
		if strings.TrimSpace(c.Storage.GCSBucket) == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// WorkerTimeout converts worker.timeout_ms into a duration.
func (c Config) WorkerTimeout() time.Duration {
	return time.Duration(c.Worker.TimeoutMs) * time.Millisecond
}

// RequestTimeout returns the gateway's per-request budget.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// DrainDelay returns how long the gateway stays up after readiness drops.
func (c Config) DrainDelay() time.Duration {
	return time.Duration(c.Server.DrainDelayMs) * time.Millisecond
}

// ShutdownTimeout returns the graceful shutdown budget.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}
