package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/filepull/pkg/protocol"
)

// Validate checks the configuration for structural and semantic errors.
//
// Struct-tag validation (`validate:"..."`) covers ranges and enumerations;
// cross-field rules that tags cannot express are checked explicitly.
func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.Download.ChunkSize.Int64() != protocol.ChunkSize {
		return fmt.Errorf("download.chunk_size must be %d bytes (1MiB), got %d: "+
			"the chunk size is part of the wire contract with endpoint agents",
			protocol.ChunkSize, cfg.Download.ChunkSize.Int64())
	}

	if cfg.Download.RetryBaseDelay > cfg.Download.RetryMaxDelay {
		return fmt.Errorf("download.retry_base_delay (%s) exceeds download.retry_max_delay (%s)",
			cfg.Download.RetryBaseDelay, cfg.Download.RetryMaxDelay)
	}

	if cfg.Hub.StaleTimeout < cfg.Hub.HeartbeatInterval {
		return fmt.Errorf("hub.stale_timeout (%s) must be at least hub.heartbeat_interval (%s)",
			cfg.Hub.StaleTimeout, cfg.Hub.HeartbeatInterval)
	}

	if cfg.API.Port == cfg.Hub.Port {
		return fmt.Errorf("api.port and hub.port must differ, both are %d", cfg.API.Port)
	}
	if cfg.Metrics.Enabled && (cfg.Metrics.Port == cfg.API.Port || cfg.Metrics.Port == cfg.Hub.Port) {
		return fmt.Errorf("metrics.port %d collides with another listener", cfg.Metrics.Port)
	}

	return nil
}
