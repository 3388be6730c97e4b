package config

import (
	"errors"
	"fmt"
)

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0, got %d", c.Server.Port))
	}

	if len(c.Providers) == 0 {
		errs = append(errs, fmt.Errorf("at least one provider configuration is required"))
	}

	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.ID == "" {
			errs = append(errs, fmt.Errorf("providers[%d].id is required", i))
			continue
		}
		if seen[p.ID] {
			errs = append(errs, fmt.Errorf("providers[%d].id %q is duplicated", i, p.ID))
		}
		seen[p.ID] = true

		if p.BaseURL == "" {
			errs = append(errs, fmt.Errorf("providers[%d].base_url is required", i))
		}
		if p.Model == "" {
			errs = append(errs, fmt.Errorf("providers[%d].model is required", i))
		}
	}

	if c.DefaultConfiguration != "" && !seen[c.DefaultConfiguration] {
		errs = append(errs, fmt.Errorf("default_configuration %q does not name a configured provider", c.DefaultConfiguration))
	}

	switch c.Storage.Type {
	case "memory", "postgres":
	default:
		errs = append(errs, fmt.Errorf("storage.type must be \"memory\" or \"postgres\", got %q", c.Storage.Type))
	}
	if c.Storage.Type == "postgres" {
		if c.Storage.Postgres.DSN == "" && c.Storage.Postgres.DSNFile == "" {
			errs = append(errs, fmt.Errorf("storage.postgres.dsn or storage.postgres.dsn_file is required when storage.type is \"postgres\""))
		}
	}

	if c.Retry.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be > 0, got %d", c.Retry.MaxAttempts))
	}
	if c.Retry.BackoffBase <= 0 || c.Retry.BackoffCap < c.Retry.BackoffBase {
		errs = append(errs, fmt.Errorf("retry backoff must satisfy 0 < backoff_base <= backoff_cap"))
	}

	return errors.Join(errs...)
}
