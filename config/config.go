// Package config loads and validates the opsync engine's YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// DeviceID identifies the originating device; stamped onto every
	// operation the facade logs.
	DeviceID string `yaml:"device_id"`

	// MaxRetries bounds retryable-failure requeues before an operation
	// transitions to Failed.
	MaxRetries int `yaml:"max_retries"`

	// Reduce enables the reducer's squash pass before each sync() dispatch.
	Reduce bool `yaml:"reduce"`

	// StopOnError aborts the remainder of a sync() drain on the first
	// non-recovered failure.
	StopOnError bool `yaml:"stop_on_error"`

	// Storage selects and configures the persistence backend.
	Storage StorageConfig `yaml:"storage"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// StorageConfig selects the storage.Contract implementation the facade
// constructs.
type StorageConfig struct {
	// Driver is "memory" or "sqlite". Defaults to "sqlite".
	Driver string `yaml:"driver"`

	// Path is the SQLite database file path. Ignored for the memory driver.
	// Defaults to storage.DefaultDBPath() when empty.
	Path string `yaml:"path,omitempty"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "opsync".
	ServiceName string `yaml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request. Equivalent to the OTEL_EXPORTER_OTLP_HEADERS environment
	// variable. Use this for authentication tokens, e.g.:
	//   Authorization: "Bearer <token>"
	Headers map[string]string `yaml:"headers,omitempty"`
}

// DefaultPath returns the default config file path: ~/.config/opsync/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "opsync", "config.yaml"), nil
}

// Load reads and validates the configuration file at the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	cfg := Config{
		MaxRetries: 3,
		Storage:    StorageConfig{Driver: "sqlite"},
	}
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required fields are present and well-formed.
func (c *Config) validate() error {
	if c.DeviceID == "" {
		return fmt.Errorf("device_id is required")
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative, got %d", c.MaxRetries)
	}

	switch c.Storage.Driver {
	case "":
		c.Storage.Driver = "sqlite"
	case "memory", "sqlite":
	default:
		return fmt.Errorf("storage.driver %q must be \"memory\" or \"sqlite\"", c.Storage.Driver)
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}
