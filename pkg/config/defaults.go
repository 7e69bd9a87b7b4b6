package config

import "time"

// Default values applied by ApplyDefaults.
const (
	DefaultRequestCeiling       = 4096
	DefaultDailyTokenCeiling    = 250000
	DefaultDailyRequestCeiling  = 500
	DefaultSystemHourlyCeiling  = 2000000
	DefaultRetentionHorizonDays = 90
	DefaultRetentionSchedule    = "0 3 * * *"
	DefaultCostRatePer1K        = 0.002
)

// ApplyDefaults fills in default values for any unset configuration fields.
// It is called automatically by Load.
func ApplyDefaults(cfg *Config) {
	if cfg.Quota.DefaultRequestCeiling == 0 {
		cfg.Quota.DefaultRequestCeiling = DefaultRequestCeiling
	}
	if cfg.Quota.DefaultDailyTokenCeiling == 0 {
		cfg.Quota.DefaultDailyTokenCeiling = DefaultDailyTokenCeiling
	}
	if cfg.Quota.DefaultDailyRequestCeiling == 0 {
		cfg.Quota.DefaultDailyRequestCeiling = DefaultDailyRequestCeiling
	}
	if cfg.Quota.SystemHourlyTokenCeiling == 0 {
		cfg.Quota.SystemHourlyTokenCeiling = DefaultSystemHourlyCeiling
	}

	if cfg.Directory.Source == "" {
		cfg.Directory.Source = "static"
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "sqlite"
	}
	if cfg.Storage.LedgerPath == "" {
		cfg.Storage.LedgerPath = "data/ledger.db"
	}
	if cfg.Storage.JournalPath == "" {
		cfg.Storage.JournalPath = "data/journal.db"
	}
	if cfg.Storage.BusyTimeout == 0 {
		cfg.Storage.BusyTimeout = 5 * time.Second
	}
	if cfg.Storage.CommitRetries == 0 {
		cfg.Storage.CommitRetries = 3
	}
	if cfg.Storage.CommitRetryBackoff == 0 {
		cfg.Storage.CommitRetryBackoff = 50 * time.Millisecond
	}

	if cfg.Retention.HorizonDays == 0 {
		cfg.Retention.HorizonDays = DefaultRetentionHorizonDays
	}
	if cfg.Retention.Schedule == "" {
		cfg.Retention.Schedule = DefaultRetentionSchedule
	}

	if cfg.Costs.Currency == "" {
		cfg.Costs.Currency = "USD"
	}
	if cfg.Costs.DefaultRatePer1K == 0 {
		cfg.Costs.DefaultRatePer1K = DefaultCostRatePer1K
	}

	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = "info"
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = "json"
	}
}
