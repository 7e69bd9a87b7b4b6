package config

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// Validate checks the configuration for invalid or inconsistent values.
// It returns an error describing the first problem found.
func Validate(cfg *Config) error {
	if err := validateQuota(&cfg.Quota); err != nil {
		return err
	}
	if err := validateSubjects(cfg.Subjects); err != nil {
		return err
	}
	if err := validateDirectory(&cfg.Directory); err != nil {
		return err
	}
	if err := validateStorage(&cfg.Storage); err != nil {
		return err
	}
	if err := validateRetention(&cfg.Retention); err != nil {
		return err
	}
	if err := validateCosts(&cfg.Costs); err != nil {
		return err
	}
	if err := validateLogging(&cfg.Telemetry.Logging); err != nil {
		return err
	}
	return nil
}

func validateQuota(q *QuotaConfig) error {
	if q.DefaultRequestCeiling <= 0 {
		return fmt.Errorf("quota.default_request_ceiling must be positive, got %d", q.DefaultRequestCeiling)
	}
	for kind, ceiling := range q.RequestCeilings {
		if kind == "" {
			return fmt.Errorf("quota.request_ceilings contains an empty operation kind")
		}
		if ceiling <= 0 {
			return fmt.Errorf("quota.request_ceilings[%q] must be positive, got %d", kind, ceiling)
		}
	}
	if q.DefaultDailyTokenCeiling <= 0 {
		return fmt.Errorf("quota.default_daily_token_ceiling must be positive, got %d", q.DefaultDailyTokenCeiling)
	}
	if q.DefaultDailyRequestCeiling <= 0 {
		return fmt.Errorf("quota.default_daily_request_ceiling must be positive, got %d", q.DefaultDailyRequestCeiling)
	}
	if q.SystemHourlyTokenCeiling <= 0 {
		return fmt.Errorf("quota.system_hourly_token_ceiling must be positive, got %d", q.SystemHourlyTokenCeiling)
	}
	return nil
}

func validateSubjects(subjects []SubjectConfig) error {
	seen := make(map[string]bool, len(subjects))
	for i, s := range subjects {
		if s.ID == "" {
			return fmt.Errorf("subjects[%d]: id cannot be empty", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("subjects[%d]: duplicate subject id %q", i, s.ID)
		}
		seen[s.ID] = true
		if s.DailyTokenCeiling < 0 {
			return fmt.Errorf("subjects[%d] (%s): daily_token_ceiling cannot be negative", i, s.ID)
		}
		if s.DailyRequestCeiling < 0 {
			return fmt.Errorf("subjects[%d] (%s): daily_request_ceiling cannot be negative", i, s.ID)
		}
	}
	return nil
}

func validateDirectory(d *DirectoryConfig) error {
	switch d.Source {
	case "static":
		return nil
	case "sqlite":
		if d.SQLitePath == "" {
			return fmt.Errorf("directory.sqlite_path is required when directory.source is \"sqlite\"")
		}
		return nil
	default:
		return fmt.Errorf("directory.source must be \"static\" or \"sqlite\", got %q", d.Source)
	}
}

func validateStorage(s *StorageConfig) error {
	switch s.Backend {
	case "memory":
	case "sqlite":
		if s.LedgerPath == "" {
			return fmt.Errorf("storage.ledger_path is required when storage.backend is \"sqlite\"")
		}
		if s.JournalPath == "" {
			return fmt.Errorf("storage.journal_path is required when storage.backend is \"sqlite\"")
		}
	default:
		return fmt.Errorf("storage.backend must be \"memory\" or \"sqlite\", got %q", s.Backend)
	}
	if s.CommitRetries < 0 {
		return fmt.Errorf("storage.commit_retries cannot be negative, got %d", s.CommitRetries)
	}
	return nil
}

func validateRetention(r *RetentionConfig) error {
	if r.HorizonDays < 0 {
		// Pruning disabled; schedule is irrelevant.
		return nil
	}
	if r.Schedule != "" {
		if _, err := cron.ParseStandard(r.Schedule); err != nil {
			return fmt.Errorf("retention.schedule is not a valid cron expression: %w", err)
		}
	}
	return nil
}

func validateCosts(c *CostsConfig) error {
	if c.DefaultRatePer1K < 0 {
		return fmt.Errorf("costs.default_rate_per_1k cannot be negative, got %g", c.DefaultRatePer1K)
	}
	for kind, rate := range c.RatesPer1K {
		if rate < 0 {
			return fmt.Errorf("costs.rates_per_1k[%q] cannot be negative, got %g", kind, rate)
		}
	}
	return nil
}

func validateLogging(l *LoggingConfig) error {
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("telemetry.logging.level must be one of debug, info, warn, error; got %q", l.Level)
	}
	switch l.Format {
	case "json", "text":
	default:
		return fmt.Errorf("telemetry.logging.format must be \"json\" or \"text\", got %q", l.Format)
	}
	return nil
}
