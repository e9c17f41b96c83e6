package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.WorkerTimeout(); got != 30*time.Second {
		t.Fatalf("expected default worker timeout 30s, got %v", got)
	}
	if cfg.Worker.Profile != "rcmp-fsj" {
		t.Fatalf("expected default profile rcmp-fsj, got %q", cfg.Worker.Profile)
	}
	if cfg.Storage.Backend != StorageMemory {
		t.Fatalf("expected memory storage by default, got %q", cfg.Storage.Backend)
	}
	if cfg.DrainDelay() != 5*time.Second {
		t.Fatalf("expected 5s drain delay by default, got %v", cfg.DrainDelay())
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
worker:
  base_url: https://worker.example/
  timeout_ms: 1500
  profile: city-news
  http2: false
server:
  port: 9090
  request_timeout_seconds: 20
  drain_delay_ms: 250
auth:
  enabled: true
  api_key: secret
batch:
  concurrency: 6
  queue_depth: 128
  rate_per_second: 0.5
  burst: 2
pubsub:
  project_id: proj
  topic_name: discoveries
storage:
  backend: local
  local_dir: /tmp/reports
logging:
  development: false
telemetry:
  enabled: true
  endpoint: otel-collector:4318
  insecure: true
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Worker.BaseURL != "https://worker.example/" || cfg.Worker.Profile != "city-news" || cfg.Worker.HTTP2 {
		t.Fatalf("expected worker overrides to apply: %+v", cfg.Worker)
	}
	if got := cfg.WorkerTimeout(); got != 1500*time.Millisecond {
		t.Fatalf("expected worker timeout 1.5s, got %v", got)
	}
	if cfg.Server.Port != 9090 || cfg.RequestTimeout() != 20*time.Second || cfg.DrainDelay() != 250*time.Millisecond {
		t.Fatalf("expected server overrides to apply: %+v", cfg.Server)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Batch.Concurrency != 6 || cfg.Batch.RatePerSecond != 0.5 || cfg.Batch.Burst != 2 {
		t.Fatalf("expected batch overrides to apply: %+v", cfg.Batch)
	}
	if cfg.PubSub.TopicName != "discoveries" || cfg.Storage.LocalDir != "/tmp/reports" {
		t.Fatalf("expected pubsub/storage overrides to apply")
	}
	if cfg.Logging.Development {
		t.Fatalf("expected production logging")
	}
	if !cfg.Telemetry.Enabled || cfg.Telemetry.Endpoint != "otel-collector:4318" || !cfg.Telemetry.Insecure {
		t.Fatalf("expected telemetry overrides to apply: %+v", cfg.Telemetry)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Worker:  WorkerConfig{BaseURL: "https://worker.example", TimeoutMs: 1000},
		Server:  ServerConfig{Port: 8080},
		Batch:   BatchConfig{Concurrency: 1, QueueDepth: 1},
		Storage: StorageConfig{Backend: StorageMemory},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing base url", func(c *Config) { c.Worker.BaseURL = " " }, "worker.base_url"},
		{"invalid timeout", func(c *Config) { c.Worker.TimeoutMs = 0 }, "worker.timeout_ms"},
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"negative drain delay", func(c *Config) { c.Server.DrainDelayMs = -1 }, "server.drain_delay_ms"},
		{"invalid concurrency", func(c *Config) { c.Batch.Concurrency = 0 }, "batch.concurrency"},
		{"invalid queue depth", func(c *Config) { c.Batch.QueueDepth = -1 }, "batch.queue_depth"},
		{"auth missing api key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"local without dir", func(c *Config) { c.Storage.Backend = StorageLocal }, "storage.local_dir"},
		{"gcs without bucket", func(c *Config) { c.Storage.Backend = StorageGCS }, "storage.gcs_bucket"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "s3" }, "storage.backend"},
		{"topic without project", func(c *Config) { c.PubSub.TopicName = "t" }, "pubsub.project_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
