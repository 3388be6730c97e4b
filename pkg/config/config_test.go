package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestLoadDefaultsWithMinimalFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", `
providers:
  - id: local
    base_url: http://localhost:11434
    model: llama3
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.BackoffBase != 500*time.Millisecond || cfg.Retry.BackoffCap != 4*time.Second {
		t.Errorf("retry defaults wrong: %+v", cfg.Retry)
	}
	if cfg.Streaming.ReadTimeoutFloor != 90*time.Second {
		t.Errorf("streaming floor = %s", cfg.Streaming.ReadTimeoutFloor)
	}
	if cfg.Storage.Type != "memory" {
		t.Errorf("storage type = %q", cfg.Storage.Type)
	}

	p := cfg.Providers[0]
	if p.Adapter != "openai-compat" {
		t.Errorf("adapter default = %q", p.Adapter)
	}
	if p.DisplayName != "llama3" {
		t.Errorf("display name default = %q", p.DisplayName)
	}
	if cfg.DefaultConfiguration != "local" {
		t.Errorf("default configuration = %q", cfg.DefaultConfiguration)
	}
}

func TestLoadFullFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", `
server:
  port: 9090
  shutdown_timeout: 5s
default_configuration: fast
providers:
  - id: fast
    base_url: https://api.example.com
    api_key: sk-test
    model: gpt-mini
    display_name: Fast Model
    params:
      temperature: 0.2
    tools_enabled: true
  - id: smart
    base_url: https://api.example.com
    model: gpt-large
    capabilities:
      streaming: true
      tool_calling: true
retry:
  max_attempts: 5
  backoff_base: 1s
  backoff_cap: 8s
storage:
  type: memory
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9090 || cfg.Server.ShutdownTimeout != 5*time.Second {
		t.Errorf("server config wrong: %+v", cfg.Server)
	}
	if cfg.DefaultConfiguration != "fast" {
		t.Errorf("default configuration = %q", cfg.DefaultConfiguration)
	}
	if len(cfg.Providers) != 2 {
		t.Fatalf("providers = %d", len(cfg.Providers))
	}
	if cfg.Providers[0].Params["temperature"] != 0.2 {
		t.Errorf("params not parsed: %+v", cfg.Providers[0].Params)
	}
	if !cfg.Providers[0].ToolsEnabled {
		t.Error("tools_enabled not parsed")
	}
	caps := cfg.Providers[1].Capabilities
	if caps == nil || !caps.Streaming || !caps.ToolCalling || caps.Vision {
		t.Errorf("capabilities wrong: %+v", caps)
	}
	if cfg.Retry.MaxAttempts != 5 || cfg.Retry.BackoffCap != 8*time.Second {
		t.Errorf("retry config wrong: %+v", cfg.Retry)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", `
providers:
  - id: local
    base_url: http://localhost:11434
    model: llama3
`)
	t.Setenv("SHU_PORT", "9000")
	t.Setenv("SHU_STREAM_READ_FLOOR", "45s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Streaming.ReadTimeoutFloor != 45*time.Second {
		t.Errorf("floor = %s", cfg.Streaming.ReadTimeoutFloor)
	}
}

func TestLoadEnvProviderBootstrap(t *testing.T) {
	t.Setenv("SHU_CONFIG", "")
	t.Setenv("SHU_PROVIDER_BASE_URL", "http://localhost:8000")
	t.Setenv("SHU_PROVIDER_MODEL", "qwen")
	t.Setenv("SHU_PROVIDER_API_KEY", "sk-env")

	// Point discovery at a directory with no config.yaml.
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Providers) != 1 {
		t.Fatalf("providers = %d", len(cfg.Providers))
	}
	p := cfg.Providers[0]
	if p.ID != "default" || p.BaseURL != "http://localhost:8000" || p.Model != "qwen" || p.APIKey != "sk-env" {
		t.Errorf("bootstrap provider wrong: %+v", p)
	}
	if cfg.DefaultConfiguration != "default" {
		t.Errorf("default configuration = %q", cfg.DefaultConfiguration)
	}
}

func TestLoadResolvesSecretFiles(t *testing.T) {
	dir := t.TempDir()
	keyPath := writeFile(t, dir, "api_key", "sk-secret\n")
	dsnPath := writeFile(t, dir, "dsn", " postgres://u:p@db/shu \n")
	cfgPath := writeFile(t, dir, "config.yaml", `
providers:
  - id: local
    base_url: http://localhost:11434
    model: llama3
    api_key_file: `+keyPath+`
storage:
  type: postgres
  postgres:
    dsn_file: `+dsnPath+`
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers[0].APIKey != "sk-secret" {
		t.Errorf("api key = %q", cfg.Providers[0].APIKey)
	}
	if cfg.Storage.Postgres.DSN != "postgres://u:p@db/shu" {
		t.Errorf("dsn = %q", cfg.Storage.Postgres.DSN)
	}
}

func TestLoadMissingSecretFile(t *testing.T) {
	cfgPath := writeFile(t, t.TempDir(), "config.yaml", `
providers:
  - id: local
    base_url: http://localhost:11434
    model: llama3
    api_key_file: /nonexistent/key
`)

	if _, err := Load(cfgPath); err == nil {
		t.Fatal("expected error for missing secret file")
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Defaults()
		cfg.Providers = []ProviderConfig{{ID: "a", BaseURL: "http://x", Model: "m"}}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"no providers", func(c *Config) { c.Providers = nil }, "at least one provider"},
		{"missing id", func(c *Config) { c.Providers[0].ID = "" }, "id is required"},
		{"duplicate id", func(c *Config) {
			c.Providers = append(c.Providers, ProviderConfig{ID: "a", BaseURL: "http://y", Model: "m"})
		}, "duplicated"},
		{"missing base url", func(c *Config) { c.Providers[0].BaseURL = "" }, "base_url is required"},
		{"missing model", func(c *Config) { c.Providers[0].Model = "" }, "model is required"},
		{"unknown default", func(c *Config) { c.DefaultConfiguration = "nope" }, "does not name"},
		{"bad storage type", func(c *Config) { c.Storage.Type = "redis" }, "storage.type"},
		{"postgres without dsn", func(c *Config) { c.Storage.Type = "postgres" }, "dsn"},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, "max_attempts"},
		{"cap below base", func(c *Config) { c.Retry.BackoffCap = c.Retry.BackoffBase / 2 }, "backoff"},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}
