package config

import (
	"strings"
	"time"

	"github.com/marmos91/filepull/internal/bytesize"
	"github.com/marmos91/filepull/pkg/protocol"
	"github.com/marmos91/filepull/pkg/tracker"
	"github.com/marmos91/filepull/pkg/transfer"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and
// environment variables to fill in any missing values.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyShutdownTimeoutDefaults(cfg)
	applyMetricsDefaults(&cfg.Metrics)
	applyAPIDefaults(cfg)
	applyHubDefaults(&cfg.Hub)
	applyDownloadDefaults(&cfg.Download)
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

// applyShutdownTimeoutDefaults sets shutdown timeout defaults.
func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	// Enabled defaults to false (opt-in for metrics)
	// Port defaults to 9090 if metrics are enabled
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// applyAPIDefaults sets control-plane API server defaults.
// The API is always enabled unless explicitly turned off.
func applyAPIDefaults(cfg *Config) {
	if cfg.API.Port == 0 {
		cfg.API.Port = 3000
	}
	if cfg.API.ReadTimeout == 0 {
		cfg.API.ReadTimeout = 10 * time.Second
	}
	if cfg.API.WriteTimeout == 0 {
		cfg.API.WriteTimeout = 10 * time.Second
	}
	if cfg.API.IdleTimeout == 0 {
		cfg.API.IdleTimeout = 60 * time.Second
	}
}

// applyHubDefaults sets websocket server defaults.
func applyHubDefaults(cfg *HubConfig) {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.StaleTimeout == 0 {
		cfg.StaleTimeout = 3 * cfg.HeartbeatInterval
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = 2 * bytesize.MiB
	}
	if cfg.OutboundBuffer == 0 {
		cfg.OutboundBuffer = 64
	}
}

// applyDownloadDefaults sets download and retry defaults.
func applyDownloadDefaults(cfg *DownloadConfig) {
	if cfg.Dir == "" {
		cfg.Dir = "./downloads"
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = bytesize.ByteSize(protocol.ChunkSize)
	}
	if cfg.MaxRetryAttempts == 0 {
		cfg.MaxRetryAttempts = tracker.DefaultMaxAttempts
	}
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = tracker.DefaultBaseDelay
	}
	if cfg.RetryMaxDelay == 0 {
		cfg.RetryMaxDelay = tracker.DefaultMaxDelay
	}
	if cfg.ArrivalTimeout == 0 {
		cfg.ArrivalTimeout = tracker.DefaultArrivalTimeout
	}
	if cfg.Retention == 0 {
		cfg.Retention = transfer.DefaultRetention
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = transfer.DefaultSweepInterval
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
