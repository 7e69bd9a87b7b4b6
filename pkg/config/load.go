package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any
// errors. Environment variables are not consulted; use LoadWithEnvOverrides
// for that.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Variables follow the naming convention
// TOLLGATE_SECTION_FIELD (e.g. TOLLGATE_STORAGE_BACKEND) and always take
// precedence over file-based configuration.
//
// The loading sequence is:
//  1. Load YAML from file
//  2. Apply default values
//  3. Apply environment variable overrides
//  4. Validate final configuration
func LoadWithEnvOverrides(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// Default returns a fully defaulted configuration without reading any file.
// Useful for tests and for callers embedding the core with an in-memory
// backend.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.Storage.Backend = "memory"
	return cfg
}

// applyEnvOverrides applies environment variable overrides to the
// configuration using the format TOLLGATE_SECTION_FIELD.
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("TOLLGATE_QUOTA_DEFAULT_REQUEST_CEILING"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			cfg.Quota.DefaultRequestCeiling = n
		}
	}
	if val := os.Getenv("TOLLGATE_QUOTA_DEFAULT_DAILY_TOKEN_CEILING"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			cfg.Quota.DefaultDailyTokenCeiling = n
		}
	}
	if val := os.Getenv("TOLLGATE_QUOTA_DEFAULT_DAILY_REQUEST_CEILING"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			cfg.Quota.DefaultDailyRequestCeiling = n
		}
	}
	if val := os.Getenv("TOLLGATE_QUOTA_SYSTEM_HOURLY_TOKEN_CEILING"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			cfg.Quota.SystemHourlyTokenCeiling = n
		}
	}

	if val := os.Getenv("TOLLGATE_DIRECTORY_SOURCE"); val != "" {
		cfg.Directory.Source = val
	}
	if val := os.Getenv("TOLLGATE_DIRECTORY_SQLITE_PATH"); val != "" {
		cfg.Directory.SQLitePath = val
	}

	if val := os.Getenv("TOLLGATE_STORAGE_BACKEND"); val != "" {
		cfg.Storage.Backend = val
	}
	if val := os.Getenv("TOLLGATE_STORAGE_LEDGER_PATH"); val != "" {
		cfg.Storage.LedgerPath = val
	}
	if val := os.Getenv("TOLLGATE_STORAGE_JOURNAL_PATH"); val != "" {
		cfg.Storage.JournalPath = val
	}
	if val := os.Getenv("TOLLGATE_STORAGE_BUSY_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Storage.BusyTimeout = d
		}
	}

	if val := os.Getenv("TOLLGATE_RETENTION_HORIZON_DAYS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Retention.HorizonDays = n
		}
	}
	if val := os.Getenv("TOLLGATE_RETENTION_SCHEDULE"); val != "" {
		cfg.Retention.Schedule = val
	}

	if val := os.Getenv("TOLLGATE_TELEMETRY_LOGGING_LEVEL"); val != "" {
		cfg.Telemetry.Logging.Level = val
	}
	if val := os.Getenv("TOLLGATE_TELEMETRY_LOGGING_FORMAT"); val != "" {
		cfg.Telemetry.Logging.Format = val
	}
}
