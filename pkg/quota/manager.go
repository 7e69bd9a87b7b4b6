package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"tollgate-hq/tollgate/pkg/config"
	"tollgate-hq/tollgate/pkg/costs"
	"tollgate-hq/tollgate/pkg/quota/admission"
	"tollgate-hq/tollgate/pkg/quota/directory"
	"tollgate-hq/tollgate/pkg/quota/journal"
	"tollgate-hq/tollgate/pkg/quota/ledger"
	"tollgate-hq/tollgate/pkg/quota/recorder"
	"tollgate-hq/tollgate/pkg/quota/retention"
)

// Manager is the facade over the quota subsystem. It wires the account
// directory, the ledger, the journal, admission, the recorder, and retention
// into the three operations callers use: Check, Commit, and Status.
//
// # Example
//
//	mgr, err := quota.NewManager(cfg)
//	if err != nil {
//	    return err
//	}
//	defer mgr.Close()
//
//	dec, err := mgr.Check(ctx, "team-a", 1200, "agent_call", "")
//	if err != nil || !dec.Allowed {
//	    // deny the operation
//	}
//	// ... run the external call ...
//	err = mgr.Commit(ctx, "team-a", dec.CorrelationID, "agent_call", actual, journal.OutcomeCommitted)
type Manager struct {
	cfg *config.Config

	directory  directory.Directory
	ledger     ledger.Ledger
	journal    journal.Journal
	admission  *admission.Controller
	recorder   *recorder.Recorder
	janitor    *retention.Janitor
	scheduler  *retention.Scheduler
	calculator *costs.Calculator
	metrics    *Metrics

	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Manager.
type Option func(*managerOptions)

type managerOptions struct {
	now        func() time.Time
	registerer prometheus.Registerer
	directory  directory.Directory
	ledger     ledger.Ledger
	journal    journal.Journal
}

// WithClock overrides the manager's time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(o *managerOptions) { o.now = now }
}

// WithRegisterer sets the Prometheus registerer metrics are registered
// against. Defaults to prometheus.DefaultRegisterer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *managerOptions) { o.registerer = reg }
}

// WithDirectory overrides the account directory built from configuration.
func WithDirectory(d directory.Directory) Option {
	return func(o *managerOptions) { o.directory = d }
}

// WithLedger overrides the ledger built from configuration.
func WithLedger(l ledger.Ledger) Option {
	return func(o *managerOptions) { o.ledger = l }
}

// WithJournal overrides the journal built from configuration.
func WithJournal(j journal.Journal) Option {
	return func(o *managerOptions) { o.journal = j }
}

// NewManager creates a quota manager from configuration. Storage backends,
// the directory, admission ceilings, and retention all follow cfg.
func NewManager(cfg *config.Config, opts ...Option) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	o := &managerOptions{
		now:        time.Now,
		registerer: prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(o)
	}

	led := o.ledger
	jnl := o.journal
	dir := o.directory
	var err error

	if led == nil {
		led, err = buildLedger(cfg)
		if err != nil {
			return nil, err
		}
	}
	if jnl == nil {
		jnl, err = buildJournal(cfg)
		if err != nil {
			led.Close()
			return nil, err
		}
	}
	if dir == nil {
		dir, err = buildDirectory(cfg)
		if err != nil {
			led.Close()
			jnl.Close()
			return nil, err
		}
	}

	calculator := costs.NewCalculator(&cfg.Costs)

	ctrl := admission.NewController(led, dir, admissionLimits(cfg), admission.WithClock(o.now))

	rec := recorder.NewRecorder(led, jnl, ctrl, calculator, &recorder.Config{
		WriteRetries: cfg.Storage.CommitRetries,
		RetryBackoff: cfg.Storage.CommitRetryBackoff,
	}, recorder.WithClock(o.now))

	janitor := retention.NewJanitor(led, jnl, &retention.Config{
		HorizonDays: cfg.Retention.HorizonDays,
		Schedule:    cfg.Retention.Schedule,
	}, retention.WithClock(o.now))

	m := &Manager{
		cfg:        cfg,
		directory:  dir,
		ledger:     led,
		journal:    jnl,
		admission:  ctrl,
		recorder:   rec,
		janitor:    janitor,
		scheduler:  retention.NewScheduler(janitor),
		calculator: calculator,
		metrics:    NewMetrics(o.registerer),
		now:        o.now,
		logger:     slog.Default().With("component", "quota.manager"),
	}

	m.logger.Info("quota manager initialized",
		"storage_backend", cfg.Storage.Backend,
		"directory_source", cfg.Directory.Source,
		"system_hourly_ceiling", cfg.Quota.SystemHourlyTokenCeiling,
	)
	return m, nil
}

// Check decides whether an operation may proceed. Denials are journaled and
// counted; a non-nil error means the ledger or directory was unavailable and
// the caller must deny rather than admit unmetered usage.
func (m *Manager) Check(ctx context.Context, subjectID string, estimatedTokens int64, kind, correlationID string) (*admission.Decision, error) {
	start := m.now()

	dec, err := m.admission.Check(ctx, subjectID, estimatedTokens, kind, correlationID)
	if err != nil {
		m.metrics.RecordCheck(false, "unavailable", m.now().Sub(start))
		m.logger.Error("admission check failed", "subject", subjectID, "error", err)
		return nil, err
	}

	m.metrics.RecordCheck(dec.Allowed, string(dec.Reason), m.now().Sub(start))

	if !dec.Allowed && dec.Reason != admission.ReasonSubjectUnknown {
		if err := m.recorder.RecordDenial(ctx, dec); err != nil {
			m.logger.Warn("failed to journal denial",
				"subject", subjectID, "reason", string(dec.Reason), "error", err,
			)
		}
	}
	return dec, nil
}

// Commit records the actual usage of one gated operation. Must be called
// exactly once per admitted operation, including operations that failed
// downstream but still consumed tokens. A returned error means usage may be
// under-counted; callers must surface it.
func (m *Manager) Commit(ctx context.Context, subjectID, correlationID, kind string, actualTokens int64, outcome journal.Outcome) error {
	start := m.now()

	err := m.recorder.Commit(ctx, subjectID, correlationID, kind, actualTokens, outcome)
	if err != nil {
		return err
	}

	m.metrics.RecordCommit(subjectID, string(outcome), actualTokens, m.now().Sub(start))
	return nil
}

// Release returns the most recent in-flight reservation held under the
// correlation id to the daily window. For callers that admitted an operation
// and then decided not to run it; reports false when no reservation exists.
func (m *Manager) Release(ctx context.Context, correlationID string) bool {
	return m.admission.Abandon(ctx, correlationID)
}

// Status returns a subject's current daily budget. The read creates today's
// window if it does not exist yet, so a fresh day reports zero usage.
func (m *Manager) Status(ctx context.Context, subjectID string) (*QuotaStatus, error) {
	subj, err := m.directory.Resolve(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	counters, err := m.ledger.DayCounters(ctx, subjectID, ledger.DayOf(now))
	if err != nil {
		return nil, fmt.Errorf("reading daily counters for %q: %w", subjectID, err)
	}

	remaining := subj.DailyTokenCeiling - counters.Tokens
	if remaining < 0 {
		remaining = 0
	}

	m.metrics.RecordUsageRatio(subjectID, counters.Tokens, subj.DailyTokenCeiling)

	return &QuotaStatus{
		SubjectID:       subjectID,
		TokensUsed:      counters.Tokens,
		TokensLimit:     subj.DailyTokenCeiling,
		TokensRemaining: remaining,
		RequestsUsed:    counters.Requests,
		RequestsLimit:   subj.DailyRequestCeiling,
		ResetAt:         ledger.NextMidnight(now),
	}, nil
}

// Reconcile compares a subject's daily ledger counter against the journal
// for a calendar day. The two agree whenever no reservations are in flight
// and no writes were lost.
func (m *Manager) Reconcile(ctx context.Context, subjectID string, day time.Time) (*ReconcileReport, error) {
	dayKey := ledger.DayOf(day)

	counters, err := m.ledger.DayCounters(ctx, subjectID, dayKey)
	if err != nil {
		return nil, fmt.Errorf("reading daily counters for %q: %w", subjectID, err)
	}

	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	sum, err := m.journal.SumTokens(ctx, subjectID, from, from.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("summing journal for %q: %w", subjectID, err)
	}

	return &ReconcileReport{
		SubjectID:     subjectID,
		Day:           string(dayKey),
		LedgerTokens:  counters.Tokens,
		JournalTokens: sum,
		Consistent:    counters.Tokens == sum,
	}, nil
}

// Journal exposes the usage journal for audit queries.
func (m *Manager) Journal() journal.Journal {
	return m.journal
}

// Prune runs one retention pass.
func (m *Manager) Prune(ctx context.Context) (*retention.Result, error) {
	result, err := m.janitor.Prune(ctx)
	if err != nil {
		return result, err
	}
	m.metrics.RecordPrune(result.DaysDeleted, result.HoursDeleted, result.EntriesDeleted)
	return result, nil
}

// StartRetention begins scheduled retention pruning. It stops when ctx is
// cancelled.
func (m *Manager) StartRetention(ctx context.Context) error {
	return m.scheduler.Start(ctx)
}

// ApplyConfig swaps the hot-reloadable parts of the configuration: admission
// ceilings, static subject records, and cost rates. Storage, directory
// source, and retention settings require a restart.
func (m *Manager) ApplyConfig(cfg *config.Config) {
	m.admission.UpdateLimits(admissionLimits(cfg))
	m.calculator.UpdateConfig(&cfg.Costs)
	if static, ok := m.directory.(*directory.StaticDirectory); ok {
		static.Reload(cfg.Subjects, cfg.Quota)
	}
	m.cfg = cfg
	m.logger.Info("configuration reloaded")
}

// Close releases the manager's storage resources.
func (m *Manager) Close() error {
	m.scheduler.Stop()

	var firstErr error
	if err := m.ledger.Close(); err != nil {
		firstErr = err
	}
	if err := m.journal.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if closer, ok := m.directory.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// admissionLimits derives the admission ceilings from configuration.
func admissionLimits(cfg *config.Config) admission.Limits {
	return admission.Limits{
		RequestCeilings:       cfg.Quota.RequestCeilings,
		DefaultRequestCeiling: cfg.Quota.DefaultRequestCeiling,
		SystemHourlyCeiling:   cfg.Quota.SystemHourlyTokenCeiling,
	}
}

// buildLedger creates the ledger backend named in configuration.
func buildLedger(cfg *config.Config) (ledger.Ledger, error) {
	switch cfg.Storage.Backend {
	case "", "memory":
		return ledger.NewMemoryLedger(), nil
	case "sqlite":
		return ledger.NewSQLiteLedgerWithConfig(ledger.SQLiteLedgerConfig{
			DBPath:      cfg.Storage.LedgerPath,
			BusyTimeout: cfg.Storage.BusyTimeout,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// buildJournal creates the journal backend named in configuration.
func buildJournal(cfg *config.Config) (journal.Journal, error) {
	switch cfg.Storage.Backend {
	case "", "memory":
		return journal.NewMemoryJournal(), nil
	case "sqlite":
		return journal.NewSQLiteJournal(&journal.SQLiteConfig{
			Path:         cfg.Storage.JournalPath,
			MaxOpenConns: 10,
			MaxIdleConns: 5,
			WALMode:      true,
			BusyTimeout:  cfg.Storage.BusyTimeout,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// buildDirectory creates the account directory named in configuration.
func buildDirectory(cfg *config.Config) (directory.Directory, error) {
	switch cfg.Directory.Source {
	case "", "static":
		return directory.NewStaticDirectory(cfg.Subjects, cfg.Quota), nil
	case "sqlite":
		return directory.NewSQLiteDirectory(directory.SQLiteDirectoryConfig{
			Path:        cfg.Directory.SQLitePath,
			BusyTimeout: cfg.Storage.BusyTimeout,
		})
	default:
		return nil, fmt.Errorf("unknown directory source %q", cfg.Directory.Source)
	}
}
