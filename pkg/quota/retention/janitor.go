package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tollgate-hq/tollgate/pkg/quota/journal"
	"tollgate-hq/tollgate/pkg/quota/ledger"
)

// Config contains configuration for the retention janitor.
type Config struct {
	// HorizonDays is how many days of ledger windows and journal entries
	// to keep. A negative value disables pruning.
	HorizonDays int

	// Schedule is a cron expression for scheduled pruning.
	// Example: "0 3 * * *" (daily at 3 AM)
	Schedule string
}

// DefaultConfig returns the default retention configuration.
func DefaultConfig() *Config {
	return &Config{
		HorizonDays: 90,
		Schedule:    "0 3 * * *",
	}
}

// Result reports what one janitor pass removed.
type Result struct {
	DaysDeleted    int64
	HoursDeleted   int64
	EntriesDeleted int64
}

// Janitor prunes expired quota windows and journal entries. Deletion is its
// only power: it never mutates counters on live rows, so quota arithmetic
// for the current day and hour is unaffected by a janitor pass.
type Janitor struct {
	ledger  ledger.Ledger
	journal journal.Journal
	config  *Config
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Janitor.
type Option func(*Janitor)

// WithClock overrides the janitor's time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(j *Janitor) { j.now = now }
}

// NewJanitor creates a retention janitor.
func NewJanitor(led ledger.Ledger, jnl journal.Journal, config *Config, opts ...Option) *Janitor {
	if config == nil {
		config = DefaultConfig()
	}
	j := &Janitor{
		ledger:  led,
		journal: jnl,
		config:  config,
		now:     time.Now,
		logger:  slog.Default().With("component", "quota.retention"),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Prune deletes ledger windows and journal entries older than the horizon.
// The cutoff day itself is kept; today and the current hour can never fall
// behind the horizon.
func (j *Janitor) Prune(ctx context.Context) (*Result, error) {
	if j.config.HorizonDays < 0 {
		j.logger.Debug("retention disabled, skipping prune")
		return &Result{}, nil
	}

	cutoff := j.now().AddDate(0, 0, -j.config.HorizonDays)
	result := &Result{}

	days, err := j.ledger.PurgeDays(ctx, ledger.DayOf(cutoff))
	if err != nil {
		return result, fmt.Errorf("purging daily windows: %w", err)
	}
	result.DaysDeleted = days

	hours, err := j.ledger.PurgeHours(ctx, ledger.HourOf(cutoff))
	if err != nil {
		return result, fmt.Errorf("purging hour windows: %w", err)
	}
	result.HoursDeleted = hours

	entries, err := j.journal.Purge(ctx, cutoff)
	if err != nil {
		return result, fmt.Errorf("purging journal: %w", err)
	}
	result.EntriesDeleted = entries

	j.logger.Info("retention prune completed",
		"horizon_days", j.config.HorizonDays,
		"days_deleted", result.DaysDeleted,
		"hours_deleted", result.HoursDeleted,
		"entries_deleted", result.EntriesDeleted,
	)
	return result, nil
}
