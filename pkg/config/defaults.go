package config

import (
	"strings"
	"time"
)

// Protocol defaults mirror the reference deployment: bind localhost:50000,
// ping clients every couple of seconds.
const (
	DefaultHostname = "localhost"
	DefaultPort     = 50000

	DefaultLivenessInterval   = time.Second
	DefaultLivenessMinTicks   = 2
	DefaultLivenessMinElapsed = 2 * time.Second

	DefaultSendQueueDepth = 64
	DefaultMetricsPort    = 9090
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyListenDefaults(&cfg.Listen)
	applyLoggingDefaults(&cfg.Logging)
	applyLivenessDefaults(&cfg.Liveness)
	applyLimitsDefaults(&cfg.Limits)
	applyMetricsDefaults(&cfg.Metrics)
}

// applyListenDefaults sets listen endpoint defaults.
func applyListenDefaults(cfg *ListenConfig) {
	if cfg.Hostname == "" {
		cfg.Hostname = DefaultHostname
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyLivenessDefaults sets liveness check defaults.
func applyLivenessDefaults(cfg *LivenessConfig) {
	if cfg.Interval == 0 {
		cfg.Interval = DefaultLivenessInterval
	}
	if cfg.MinTicks == 0 {
		cfg.MinTicks = DefaultLivenessMinTicks
	}
	if cfg.MinElapsed == 0 {
		cfg.MinElapsed = DefaultLivenessMinElapsed
	}
}

// applyLimitsDefaults sets resource limit defaults.
func applyLimitsDefaults(cfg *LimitsConfig) {
	// MaxConnections defaults to 0 (unlimited)
	if cfg.SendQueueDepth == 0 {
		cfg.SendQueueDepth = DefaultSendQueueDepth
	}
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	// Enabled defaults to false (opt-in for metrics)
	// Port defaults to 9090 if metrics are enabled
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = DefaultMetricsPort
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
