package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the janitor on a cron schedule.
type Scheduler struct {
	janitor *Janitor
	cron    *cron.Cron
	mu      sync.Mutex
	logger  *slog.Logger
	running bool
}

// NewScheduler creates a retention scheduler for the janitor.
func NewScheduler(janitor *Janitor) *Scheduler {
	return &Scheduler{
		janitor: janitor,
		cron:    cron.New(),
		logger:  slog.Default().With("component", "quota.retention.scheduler"),
	}
}

// Start begins scheduled pruning using the janitor's cron expression.
//
// Common cron expressions:
//   - "0 3 * * *"    - Daily at 3 AM
//   - "0 */6 * * *"  - Every 6 hours
//
// If the schedule is empty or retention is disabled, Start does nothing.
// The scheduler stops itself when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.janitor.config.Schedule == "" || s.janitor.config.HorizonDays < 0 {
		s.logger.Info("retention schedule not configured, skipping scheduler")
		return nil
	}

	if _, err := cron.ParseStandard(s.janitor.config.Schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.janitor.config.Schedule, err)
	}

	_, err := s.cron.AddFunc(s.janitor.config.Schedule, func() {
		s.runPrune(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule pruning: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("retention scheduler started",
		"schedule", s.janitor.config.Schedule,
		"horizon_days", s.janitor.config.HorizonDays,
	)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// runPrune executes one pruning cycle.
func (s *Scheduler) runPrune(ctx context.Context) {
	s.logger.Info("starting scheduled retention prune")

	result, err := s.janitor.Prune(ctx)
	if err != nil {
		s.logger.Error("scheduled prune failed", "error", err)
		return
	}

	s.logger.Info("scheduled prune finished",
		"days_deleted", result.DaysDeleted,
		"hours_deleted", result.HoursDeleted,
		"entries_deleted", result.EntriesDeleted,
	)
}

// Stop halts the scheduler. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false

	s.logger.Info("retention scheduler stopped")
}

// Running reports whether the scheduler is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
