// Package config loads, validates, and persists the server configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/filepull/internal/bytesize"
	"github.com/marmos91/filepull/pkg/api"
	"github.com/marmos91/filepull/pkg/hub"
	"github.com/marmos91/filepull/pkg/tracker"
	"github.com/marmos91/filepull/pkg/transfer"
)

// Config represents the server configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (FILEPULL_*)
//  2. Configuration file (YAML)
//  3. Default values
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Metrics contains Prometheus metrics server configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// API contains the HTTP control-plane server configuration
	API api.Config `mapstructure:"api" yaml:"api"`

	// Hub contains the websocket endpoint-facing server configuration
	Hub HubConfig `mapstructure:"hub" yaml:"hub"`

	// Download controls file assembly, retries, and retention
	Download DownloadConfig `mapstructure:"download" yaml:"download"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
// When Enabled is false, no metrics are collected (zero overhead).
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP server are enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the metrics endpoint
	// Default: 9090
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// HubConfig configures the websocket server endpoints connect to.
type HubConfig struct {
	// Port is the websocket listen port.
	// Default: 8080
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// HeartbeatInterval is how often the server pings endpoints.
	// Default: 30s
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`

	// StaleTimeout is how long an endpoint may stay silent before its
	// connection is terminated.
	// Default: 90s
	StaleTimeout time.Duration `mapstructure:"stale_timeout" yaml:"stale_timeout"`

	// WriteTimeout bounds a single websocket write.
	// Default: 10s
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`

	// MaxMessageSize bounds one inbound frame.
	// Supports human-readable formats: "2Mi", "4MiB"
	MaxMessageSize bytesize.ByteSize `mapstructure:"max_message_size" yaml:"max_message_size,omitempty"`

	// OutboundBuffer is the per-connection outbound queue depth.
	// Default: 64
	OutboundBuffer int `mapstructure:"outbound_buffer" yaml:"outbound_buffer"`
}

// DownloadConfig controls file assembly, retry policy, and retention.
type DownloadConfig struct {
	// Dir is the directory final files land in. Scratch files live in a
	// .tmp subdirectory.
	// Default: ./downloads
	Dir string `mapstructure:"dir" validate:"required" yaml:"dir"`

	// ChunkSize is the protocol chunk size. It is part of the wire contract
	// with endpoint agents and is not generally tunable at runtime; a value
	// other than 1MiB is rejected at load.
	ChunkSize bytesize.ByteSize `mapstructure:"chunk_size" yaml:"chunk_size,omitempty"`

	// MaxRetryAttempts is how many times a failing chunk is requested
	// before the whole transfer fails.
	// Default: 3
	MaxRetryAttempts int `mapstructure:"max_retry_attempts" validate:"omitempty,min=1" yaml:"max_retry_attempts"`

	// RetryBaseDelay is the backoff base for chunk retries.
	// Default: 1s
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay" yaml:"retry_base_delay"`

	// RetryMaxDelay caps the exponential backoff.
	// Default: 30s
	RetryMaxDelay time.Duration `mapstructure:"retry_max_delay" yaml:"retry_max_delay"`

	// ArrivalTimeout is how long to wait for an expected chunk before
	// counting it as failed.
	// Default: 30s
	ArrivalTimeout time.Duration `mapstructure:"arrival_timeout" yaml:"arrival_timeout"`

	// Retention is how long terminal transfer records stay queryable.
	// Default: 24h
	Retention time.Duration `mapstructure:"retention" yaml:"retention"`

	// SweepInterval is how often terminal records are checked for eviction.
	// Default: 1h
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`

	// RemoveFailedScratch deletes the scratch file of a failed transfer
	// instead of retaining it for inspection. Scratch files are always
	// deleted on cancel and on successful completion.
	// Default: false (failed scratch files are retained)
	RemoveFailedScratch bool `mapstructure:"remove_failed_scratch" yaml:"remove_failed_scratch"`
}

// HubServerConfig converts the loaded settings into the hub package config.
func (c *Config) HubServerConfig() hub.Config {
	return hub.Config{
		HeartbeatInterval: c.Hub.HeartbeatInterval,
		StaleTimeout:      c.Hub.StaleTimeout,
		WriteTimeout:      c.Hub.WriteTimeout,
		MaxMessageSize:    c.Hub.MaxMessageSize.Int64(),
		OutboundBuffer:    c.Hub.OutboundBuffer,
	}
}

// ManagerConfig converts the loaded settings into the transfer package config.
func (c *Config) ManagerConfig() transfer.Config {
	return transfer.Config{
		DownloadDir:         c.Download.Dir,
		RemoveFailedScratch: c.Download.RemoveFailedScratch,
		Retention:           c.Download.Retention,
		SweepInterval:       c.Download.SweepInterval,
		Tracker: tracker.Config{
			MaxAttempts:    c.Download.MaxRetryAttempts,
			BaseDelay:      c.Download.RetryBaseDelay,
			MaxDelay:       c.Download.RetryMaxDelay,
			ArrivalTimeout: c.Download.ArrivalTimeout,
		},
	}
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	// If no config file was found, use defaults
	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	// Unmarshal into config struct with custom decode hooks
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages.
// It checks if the config file exists and provides user-friendly
// instructions if not.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  filepull init\n\n"+
				"Or specify a custom config file:\n"+
				"  filepull <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  filepull init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path.
// The configuration is saved in YAML format using proper yaml tags.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Use yaml.Marshal directly to respect yaml tags
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use FILEPULL_ prefix and underscores
	// Example: FILEPULL_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("FILEPULL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Use default location: $XDG_CONFIG_HOME/filepull/config.yaml
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found is acceptable - use defaults
			return false, nil
		}
		// Also check for os.PathError when explicit config file doesn't exist
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
// This includes ByteSize and time.Duration parsing.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook returns a mapstructure decode hook that converts strings
// and integers to bytesize.ByteSize. This enables config files to use
// human-readable sizes like "1Gi", "500Mi", "100MB", or plain numbers.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.Parse(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook returns a mapstructure decode hook that converts strings
// to time.Duration. This enables config files to use human-readable durations
// like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Assume nanoseconds for raw integers
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "filepull")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "filepull")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
