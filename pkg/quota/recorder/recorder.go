package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tollgate-hq/tollgate/pkg/costs"
	"tollgate-hq/tollgate/pkg/quota/admission"
	"tollgate-hq/tollgate/pkg/quota/journal"
	"tollgate-hq/tollgate/pkg/quota/ledger"
)

// ReservationSource hands out the in-flight reservations placed at admission
// time. Implemented by the admission controller.
type ReservationSource interface {
	// Settle removes and returns the most recent reservation for the
	// correlation id, reporting false when none exists.
	Settle(correlationID string) (admission.Reservation, bool)
}

// Config contains configuration for the usage recorder.
type Config struct {
	// WriteRetries is how many times a failed ledger or journal write is
	// retried before the failure is reported to the caller.
	// Default: 3
	WriteRetries int

	// RetryBackoff is the pause between write retries.
	// Default: 50ms
	RetryBackoff time.Duration
}

// DefaultConfig returns the default recorder configuration.
func DefaultConfig() *Config {
	return &Config{
		WriteRetries: 3,
		RetryBackoff: 50 * time.Millisecond,
	}
}

// Recorder commits actual usage into the ledger and the journal. It is
// accounting, not gating: commit never re-checks ceilings, and a commit for
// an operation that was never admitted still lands in full.
type Recorder struct {
	ledger       ledger.Ledger
	journal      journal.Journal
	reservations ReservationSource
	calculator   *costs.Calculator
	config       *Config
	now          func() time.Time
	logger       *slog.Logger
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock overrides the recorder's time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder creates a usage recorder.
func NewRecorder(led ledger.Ledger, jnl journal.Journal, reservations ReservationSource, calculator *costs.Calculator, config *Config, opts ...Option) *Recorder {
	if config == nil {
		config = DefaultConfig()
	}
	r := &Recorder{
		ledger:       led,
		journal:      jnl,
		reservations: reservations,
		calculator:   calculator,
		config:       config,
		now:          time.Now,
		logger:       slog.Default().With("component", "quota.recorder"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Commit records the actual usage of one gated operation. Called exactly
// once per operation, after the external call completes, including calls
// that failed downstream but still consumed tokens.
//
// When a reservation exists for the correlation id, the daily window is
// adjusted by the difference between actual and estimated tokens; the
// request slot was already taken at admission. Without a reservation the
// full amount and one request are added (back-fill path). The system hour
// window always receives the full amount, and one journal entry is appended.
//
// A returned error means usage may be under-counted and must not be ignored.
func (r *Recorder) Commit(ctx context.Context, subjectID, correlationID, kind string, actualTokens int64, outcome journal.Outcome) error {
	if actualTokens < 0 {
		return fmt.Errorf("actual tokens cannot be negative, got %d", actualTokens)
	}
	if outcome == "" {
		outcome = journal.OutcomeCommitted
	}

	now := r.now()
	day := ledger.DayOf(now)
	hour := ledger.HourOf(now)

	tokenDelta := actualTokens
	requestDelta := int64(1)
	if res, ok := r.reservations.Settle(correlationID); ok {
		tokenDelta = actualTokens - res.Tokens
		requestDelta = 0
		day = res.Day
	}

	err := r.withRetries(ctx, "ledger day write", func() error {
		_, err := r.ledger.AdjustDay(ctx, subjectID, day, tokenDelta, requestDelta)
		return err
	})
	if err != nil {
		return fmt.Errorf("committing daily usage for %q: %w", subjectID, err)
	}

	err = r.withRetries(ctx, "ledger hour write", func() error {
		_, err := r.ledger.AdjustHour(ctx, hour, actualTokens, 1)
		return err
	})
	if err != nil {
		return fmt.Errorf("committing hourly usage: %w", err)
	}

	entry := &journal.Entry{
		ID:            uuid.New().String(),
		SubjectID:     subjectID,
		CorrelationID: correlationID,
		Kind:          kind,
		TokensUsed:    actualTokens,
		CostEstimate:  r.calculator.Cost(actualTokens, kind),
		Outcome:       outcome,
		RecordedAt:    now,
	}
	err = r.withRetries(ctx, "journal append", func() error {
		return r.journal.Append(ctx, entry)
	})
	if err != nil {
		return fmt.Errorf("journaling usage for %q: %w", subjectID, err)
	}

	r.logger.Debug("usage committed",
		"subject", subjectID, "kind", kind,
		"tokens", actualTokens, "outcome", string(outcome),
	)
	return nil
}

// RecordDenial appends a journal entry for a denied admission check. Denials
// never touch the ledger; they exist in the journal for audit only.
func (r *Recorder) RecordDenial(ctx context.Context, dec *admission.Decision) error {
	if dec == nil || dec.Allowed {
		return fmt.Errorf("decision is not a denial")
	}

	outcome := journal.OutcomeDeniedQuota
	if dec.Reason == admission.ReasonSystemBusy {
		outcome = journal.OutcomeDeniedSystem
	}

	detail := string(dec.Reason)
	if dec.Detail != nil {
		detail = fmt.Sprintf("%s: limit=%d used=%d requested=%d", dec.Reason, dec.Detail.Limit, dec.Detail.Used, dec.Detail.Requested)
	}

	entry := &journal.Entry{
		ID:            uuid.New().String(),
		SubjectID:     dec.SubjectID,
		CorrelationID: dec.CorrelationID,
		Kind:          dec.Kind,
		Outcome:       outcome,
		ErrorDetail:   detail,
		RecordedAt:    r.now(),
	}

	err := r.withRetries(ctx, "journal append", func() error {
		return r.journal.Append(ctx, entry)
	})
	if err != nil {
		return fmt.Errorf("journaling denial for %q: %w", dec.SubjectID, err)
	}
	return nil
}

// withRetries runs a write, retrying on failure up to the configured count.
// Failures are logged on every attempt; a lost write under-counts usage.
func (r *Recorder) withRetries(ctx context.Context, op string, write func() error) error {
	var err error
	attempts := r.config.WriteRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		err = write()
		if err == nil {
			return nil
		}
		r.logger.Warn("usage write failed",
			"op", op, "attempt", attempt, "max_attempts", attempts, "error", err,
		)
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.config.RetryBackoff):
		}
	}
	return err
}
