package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// sampleConfig is the annotated configuration written by `filepull init`.
// It mirrors GetDefaultConfig(); every value shown is the default.
const sampleConfig = `# Filepull Configuration File
#
# Every value can be overridden with an environment variable using the
# FILEPULL_ prefix, e.g. FILEPULL_LOGGING_LEVEL=DEBUG.

logging:
  # Minimum log level: DEBUG, INFO, WARN, ERROR
  level: INFO
  # Output format: text or json
  format: text
  # Where logs are written: stdout, stderr, or a file path
  output: stdout

# Maximum time to wait for graceful shutdown
shutdown_timeout: 30s

metrics:
  # Prometheus metrics server (serves /metrics)
  enabled: false
  port: 9090

api:
  # HTTP control plane (base /api/v1)
  port: 3000
  read_timeout: 10s
  write_timeout: 10s
  idle_timeout: 60s

hub:
  # Websocket port endpoint agents connect to
  port: 8080
  # Ping cadence and liveness cutoff
  heartbeat_interval: 30s
  stale_timeout: 90s
  write_timeout: 10s
  # Largest accepted inbound frame (a 1MiB chunk is ~1.37MiB base64-encoded)
  max_message_size: 2Mi
  outbound_buffer: 64

download:
  # Final files land here; scratch files live in a .tmp subdirectory
  dir: ./downloads
  # Part of the wire contract with endpoint agents, do not change
  chunk_size: 1Mi
  # Retry policy for failed chunks
  max_retry_attempts: 3
  retry_base_delay: 1s
  retry_max_delay: 30s
  # How long to wait for an expected chunk before counting it as failed
  arrival_timeout: 30s
  # How long finished transfer records stay queryable
  retention: 24h
  sweep_interval: 1h
  # Scratch files of failed transfers are retained for inspection;
  # set to true to delete them instead
  remove_failed_scratch: false
`

// InitConfig creates a sample configuration file at the default location.
// Returns the path of the created file.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath creates a sample configuration file at the given path.
// Refuses to overwrite an existing file unless force is set.
func InitConfigToPath(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
