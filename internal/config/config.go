package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileConfig is the process-level configuration loaded from a YAML file
// plus environment overrides. It is distinct from model.Settings, which
// is the database-resident row the HTTP surface edits at runtime; this
// type governs how the process itself is wired (listen address, store
// driver, telemetry endpoint).
type FileConfig struct {
	HTTPAddr string `yaml:"http_addr"`

	StoreDriver string `yaml:"store_driver"` // "memory" or "sqlite"
	StoreDSN    string `yaml:"store_dsn"`

	LogLevel string `yaml:"log_level"`

	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`

	WorkerOwner string `yaml:"worker_owner"`

	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
}

// Default returns the built-in configuration used when no file is
// present and no environment overrides are set.
func Default() FileConfig {
	return FileConfig{
		HTTPAddr:           ":8080",
		StoreDriver:        "memory",
		StoreDSN:           "file:strmforge.db",
		LogLevel:           "info",
		ServiceName:        "strmforge",
		WorkerOwner:        "strmforged",
		RateLimitPerMinute: 60,
	}
}

// Load reads path (if it exists) as YAML over Default(), then applies
// environment variable overrides, mirroring the teacher's env-wins-over-
// file precedence.
func Load(path string) (FileConfig, error) {
	cfg := Default()

	if path != "" {
		blob, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(blob, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.HTTPAddr = ParseString("STRMFORGE_HTTP_ADDR", cfg.HTTPAddr)
	cfg.StoreDriver = ParseString("STRMFORGE_STORE_DRIVER", cfg.StoreDriver)
	cfg.StoreDSN = ParseString("STRMFORGE_STORE_DSN", cfg.StoreDSN)
	cfg.LogLevel = ParseString("STRMFORGE_LOG_LEVEL", cfg.LogLevel)
	cfg.OTLPEndpoint = ParseString("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint)
	cfg.ServiceName = ParseString("STRMFORGE_SERVICE_NAME", cfg.ServiceName)
	cfg.WorkerOwner = ParseString("STRMFORGE_WORKER_OWNER", cfg.WorkerOwner)
	cfg.RateLimitPerMinute = ParseInt("STRMFORGE_RATE_LIMIT_PER_MINUTE", cfg.RateLimitPerMinute)

	return cfg, nil
}
