package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, SHU_CONFIG env, ./config.yaml, /etc/shu/config.yaml)
//  3. Environment variable overrides
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	applyProviderDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. SHU_CONFIG environment variable
// 3. ./config.yaml in the current directory
// 4. /etc/shu/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}
	if envPath := os.Getenv("SHU_CONFIG"); envPath != "" {
		return envPath
	}
	candidates := []string{
		"config.yaml",
		"/etc/shu/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides maps SHU_* environment variables to config fields.
// Provider bootstrap variables (SHU_PROVIDER_*) create or override a
// configuration named "default", so a single-provider deployment needs no
// config file at all.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SHU_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SHU_STORAGE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("SHU_POSTGRES_DSN"); v != "" {
		cfg.Storage.Postgres.DSN = v
	}
	if v := os.Getenv("SHU_DEFAULT_CONFIGURATION"); v != "" {
		cfg.DefaultConfiguration = v
	}
	if v := os.Getenv("SHU_STREAM_READ_FLOOR"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Streaming.ReadTimeoutFloor = d
		}
	}

	baseURL := os.Getenv("SHU_PROVIDER_BASE_URL")
	apiKey := os.Getenv("SHU_PROVIDER_API_KEY")
	model := os.Getenv("SHU_PROVIDER_MODEL")
	if baseURL == "" && apiKey == "" && model == "" {
		return
	}

	def := findProvider(cfg, "default")
	if def == nil {
		cfg.Providers = append(cfg.Providers, ProviderConfig{ID: "default"})
		def = &cfg.Providers[len(cfg.Providers)-1]
	}
	if baseURL != "" {
		def.BaseURL = baseURL
	}
	if apiKey != "" {
		def.APIKey = apiKey
	}
	if model != "" {
		def.Model = model
	}
}

func findProvider(cfg *Config, id string) *ProviderConfig {
	for i := range cfg.Providers {
		if cfg.Providers[i].ID == id {
			return &cfg.Providers[i]
		}
	}
	return nil
}

// applyProviderDefaults fills per-provider fallbacks that depend on other
// fields being final.
func applyProviderDefaults(cfg *Config) {
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.Adapter == "" {
			p.Adapter = "openai-compat"
		}
		if p.DisplayName == "" {
			p.DisplayName = p.Model
		}
	}
	if cfg.DefaultConfiguration == "" && len(cfg.Providers) > 0 {
		cfg.DefaultConfiguration = cfg.Providers[0].ID
	}
}

// resolveFileReferences reads _file fields and populates the corresponding
// value fields. The value field wins when both are set.
func resolveFileReferences(cfg *Config) error {
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.APIKeyFile != "" && p.APIKey == "" {
			val, err := readSecretFile(p.APIKeyFile)
			if err != nil {
				return fmt.Errorf("providers[%d].api_key_file: %w", i, err)
			}
			p.APIKey = val
		}
	}

	if cfg.Storage.Postgres.DSNFile != "" && cfg.Storage.Postgres.DSN == "" {
		val, err := readSecretFile(cfg.Storage.Postgres.DSNFile)
		if err != nil {
			return fmt.Errorf("storage.postgres.dsn_file: %w", err)
		}
		cfg.Storage.Postgres.DSN = val
	}

	return nil
}

// readSecretFile reads a file and returns its content with surrounding
// whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
