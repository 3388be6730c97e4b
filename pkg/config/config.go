// Package config provides unified configuration for the shu chat service.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (SHU_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import "time"

// Config holds all configuration for the shu chat service.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Providers     []ProviderConfig    `yaml:"providers"`
	Retry         RetryConfig         `yaml:"retry"`
	Streaming     StreamingConfig     `yaml:"streaming"`
	Ensemble      EnsembleConfig      `yaml:"ensemble"`
	Storage       StorageConfig       `yaml:"storage"`
	Observability ObservabilityConfig `yaml:"observability"`

	// DefaultConfiguration names the provider configuration used when a
	// turn request does not select one. Defaults to the first configured
	// provider.
	DefaultConfiguration string `yaml:"default_configuration"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`             // default: 8080
	MaxBodySize     int64         `yaml:"max_body_size"`    // default: 10 MB
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 30s
}

// ProviderConfig describes one upstream model configuration.
type ProviderConfig struct {
	// ID is the configuration identifier referenced by turn requests,
	// events, and usage records.
	ID string `yaml:"id"`

	// Adapter selects the wire dialect. Default: "openai-compat".
	Adapter string `yaml:"adapter"`

	BaseURL    string `yaml:"base_url"` // required
	APIKey     string `yaml:"api_key"`
	APIKeyFile string `yaml:"api_key_file"` // _file variant for api_key

	// Model is the upstream model name sent on every request.
	Model string `yaml:"model"`

	// DisplayName is the human-readable name shown to clients. Defaults
	// to Model.
	DisplayName string `yaml:"display_name"`

	// Params are stored parameter overrides applied to every request
	// (request-time values win on conflict).
	Params map[string]any `yaml:"params"`

	// Capabilities overrides the adapter's capability flags when set.
	Capabilities *CapabilitiesConfig `yaml:"capabilities"`

	// ToolsEnabled permits tool calling for this configuration.
	ToolsEnabled bool `yaml:"tools_enabled"`

	// Timeout is the per-call read timeout for this configuration.
	Timeout time.Duration `yaml:"timeout"`
}

// CapabilitiesConfig holds per-configuration capability flags.
type CapabilitiesConfig struct {
	Streaming   bool `yaml:"streaming"`
	ToolCalling bool `yaml:"tool_calling"`
	Vision      bool `yaml:"vision"`
	Reasoning   bool `yaml:"reasoning"`
}

// RetryConfig holds the provider retry policy.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"` // default: 3
	BackoffBase time.Duration `yaml:"backoff_base"` // default: 500ms
	BackoffCap  time.Duration `yaml:"backoff_cap"`  // default: 4s
}

// StreamingConfig holds streaming-specific settings.
type StreamingConfig struct {
	// ReadTimeoutFloor is the minimum idle timeout for in-progress
	// streams; caller-requested shorter timeouts are raised to it.
	ReadTimeoutFloor time.Duration `yaml:"read_timeout_floor"` // default: 90s
}

// EnsembleConfig holds orchestrator settings.
type EnsembleConfig struct {
	MaxToolRounds int `yaml:"max_tool_rounds"` // default: 8
	QueueSize     int `yaml:"queue_size"`      // default: 64
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	Type     string         `yaml:"type"` // "memory" or "postgres", default: "memory"
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"` // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`
	MinConns       int32  `yaml:"min_conns"`
	MigrateOnStart bool   `yaml:"migrate_on_start"`
}

// ObservabilityConfig holds monitoring settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			MaxBodySize:     10 << 20,
			ShutdownTimeout: 30 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BackoffBase: 500 * time.Millisecond,
			BackoffCap:  4 * time.Second,
		},
		Streaming: StreamingConfig{
			ReadTimeoutFloor: 90 * time.Second,
		},
		Ensemble: EnsembleConfig{
			MaxToolRounds: 8,
			QueueSize:     64,
		},
		Storage: StorageConfig{
			Type: "memory",
			Postgres: PostgresConfig{
				MaxConns: 25,
				MinConns: 5,
			},
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}
