package config

import "time"

// Config is the root configuration structure for Tollgate.
// It contains all configuration sections for quota ceilings, the account
// directory, ledger and journal storage, retention, cost reporting, and
// telemetry settings.
type Config struct {
	// Quota contains ceiling configuration for admission control.
	Quota QuotaConfig `yaml:"quota"`

	// Subjects contains statically configured account directory entries.
	// Only consulted when Directory.Source is "static".
	Subjects []SubjectConfig `yaml:"subjects"`

	// Directory selects where subject records are resolved from.
	Directory DirectoryConfig `yaml:"directory"`

	// Storage configures the quota ledger and usage journal backends.
	Storage StorageConfig `yaml:"storage"`

	// Retention configures the retention janitor for old ledger and
	// journal rows.
	Retention RetentionConfig `yaml:"retention"`

	// Costs configures derived cost reporting on journal entries.
	Costs CostsConfig `yaml:"costs"`

	// Telemetry contains observability configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// QuotaConfig contains the ceiling configuration for admission control.
type QuotaConfig struct {
	// RequestCeilings maps an operation kind to its fixed per-request
	// token ceiling. An estimate above the ceiling is rejected before any
	// ledger access.
	RequestCeilings map[string]int64 `yaml:"request_ceilings"`

	// DefaultRequestCeiling is the per-request token ceiling applied to
	// operation kinds with no entry in RequestCeilings.
	// Default: 4096
	DefaultRequestCeiling int64 `yaml:"default_request_ceiling"`

	// DefaultDailyTokenCeiling is the daily token ceiling applied to
	// subjects whose directory entry does not set one.
	// Default: 250000
	DefaultDailyTokenCeiling int64 `yaml:"default_daily_token_ceiling"`

	// DefaultDailyRequestCeiling is the daily request ceiling applied to
	// subjects whose directory entry does not set one.
	// Default: 500
	DefaultDailyRequestCeiling int64 `yaml:"default_daily_request_ceiling"`

	// SystemHourlyTokenCeiling is the system-wide token ceiling per clock
	// hour, shared by all subjects.
	// Default: 2000000
	SystemHourlyTokenCeiling int64 `yaml:"system_hourly_token_ceiling"`
}

// SubjectConfig is a statically configured account directory entry.
type SubjectConfig struct {
	// ID is the subject identifier callers arrive with.
	ID string `yaml:"id"`

	// DailyTokenCeiling is the subject's daily token ceiling.
	// Zero means use Quota.DefaultDailyTokenCeiling.
	DailyTokenCeiling int64 `yaml:"daily_token_ceiling"`

	// DailyRequestCeiling is the subject's daily request ceiling.
	// Zero means use Quota.DefaultDailyRequestCeiling.
	DailyRequestCeiling int64 `yaml:"daily_request_ceiling"`

	// Active controls whether the subject may be admitted at all.
	Active bool `yaml:"active"`
}

// DirectoryConfig selects the account directory source.
type DirectoryConfig struct {
	// Source is "static" (entries from Subjects) or "sqlite" (read-only
	// view of an externally owned subjects table).
	// Default: "static"
	Source string `yaml:"source"`

	// SQLitePath is the database file holding the subjects table when
	// Source is "sqlite".
	SQLitePath string `yaml:"sqlite_path"`
}

// StorageConfig configures the ledger and journal backends.
type StorageConfig struct {
	// Backend is "memory" or "sqlite".
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// LedgerPath is the SQLite database file for quota counters.
	// Default: "data/ledger.db"
	LedgerPath string `yaml:"ledger_path"`

	// JournalPath is the SQLite database file for the usage journal.
	// Default: "data/journal.db"
	JournalPath string `yaml:"journal_path"`

	// BusyTimeout is how long SQLite waits for locks before failing.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// CommitRetries is how many times a failed ledger or journal write is
	// retried before the commit is reported as an accounting-loss risk.
	// Default: 3
	CommitRetries int `yaml:"commit_retries"`

	// CommitRetryBackoff is the delay between commit write retries.
	// Default: 50ms
	CommitRetryBackoff time.Duration `yaml:"commit_retry_backoff"`
}

// RetentionConfig configures the retention janitor.
type RetentionConfig struct {
	// HorizonDays is the number of days ledger and journal rows are kept.
	// A negative value disables pruning entirely.
	// Default: 90
	HorizonDays int `yaml:"horizon_days"`

	// Schedule is a cron expression for the janitor.
	// Default: "0 3 * * *" (daily at 3 AM)
	Schedule string `yaml:"schedule"`
}

// CostsConfig configures derived cost reporting. Costs never influence
// admission decisions; they exist only on journal entries.
type CostsConfig struct {
	// Currency is the reporting currency code.
	// Default: "USD"
	Currency string `yaml:"currency"`

	// RatesPer1K maps an operation kind to its cost per 1000 tokens.
	RatesPer1K map[string]float64 `yaml:"rates_per_1k"`

	// DefaultRatePer1K applies to operation kinds with no entry in
	// RatesPer1K.
	// Default: 0.002
	DefaultRatePer1K float64 `yaml:"default_rate_per_1k"`
}

// TelemetryConfig contains observability configuration.
type TelemetryConfig struct {
	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig configures structured logging output.
type LoggingConfig struct {
	// Level is the minimum log level ("debug", "info", "warn", "error").
	// Default: "info"
	Level string `yaml:"level"`

	// Format is the output format ("json", "text").
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in logs.
	AddSource bool `yaml:"add_source"`
}
