package config

import (
	"strings"
	"time"

	"github.com/marmos91/chainstream/pkg/stream"
)

// ApplyDefaults fills unspecified configuration fields with defaults. Zero
// values are replaced; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyShutdownTimeoutDefaults(cfg)
	applyStreamDefaults(&cfg.Stream)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyStreamDefaults sets the per-job streaming defaults. Speed and
// threshold keep their zero values (unlimited / calibrate-from-zero).
func applyStreamDefaults(cfg *StreamConfig) {
	if cfg.Adaptive && cfg.PauseDuration == 0 {
		cfg.PauseDuration = stream.DefaultPauseDuration
	}
}

// GetDefaultConfig returns a Config with all default values applied. Used
// when no configuration file exists, for generating sample files and in
// tests.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
