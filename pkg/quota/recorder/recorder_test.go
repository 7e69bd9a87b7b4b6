package recorder

import (
	"context"
	"errors"
	"testing"
	"time"

	"tollgate-hq/tollgate/pkg/config"
	"tollgate-hq/tollgate/pkg/costs"
	"tollgate-hq/tollgate/pkg/quota/admission"
	"tollgate-hq/tollgate/pkg/quota/journal"
	"tollgate-hq/tollgate/pkg/quota/ledger"
)

// stubReservations is a ReservationSource backed by a plain map.
type stubReservations struct {
	held map[string]admission.Reservation
}

func (s *stubReservations) Settle(correlationID string) (admission.Reservation, bool) {
	r, ok := s.held[correlationID]
	if ok {
		delete(s.held, correlationID)
	}
	return r, ok
}

func testCalculator() *costs.Calculator {
	return costs.NewCalculator(&config.CostsConfig{
		Currency:         "USD",
		DefaultRatePer1K: 0.002,
	})
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestRecorder_CommitSettlesReservation(t *testing.T) {
	led := ledger.NewMemoryLedger()
	jnl := journal.NewMemoryJournal()
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	day := ledger.DayOf(now)
	ctx := context.Background()

	// Simulate an admitted check: 200 tokens and one request reserved.
	if _, err := led.AdjustDay(ctx, "u1", day, 200, 1); err != nil {
		t.Fatalf("seeding failed: %v", err)
	}
	res := &stubReservations{held: map[string]admission.Reservation{
		"corr1": {SubjectID: "u1", Day: day, Tokens: 200},
	}}

	r := NewRecorder(led, jnl, res, testCalculator(), nil, WithClock(fixedClock(now)))

	if err := r.Commit(ctx, "u1", "corr1", "agent_call", 180, journal.OutcomeCommitted); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	counters, err := led.DayCounters(ctx, "u1", day)
	if err != nil {
		t.Fatalf("reading counters failed: %v", err)
	}
	if counters.Tokens != 180 {
		t.Errorf("expected 180 tokens after settling 200 reservation against 180 actual, got %d", counters.Tokens)
	}
	if counters.Requests != 1 {
		t.Errorf("expected request count unchanged at 1, got %d", counters.Requests)
	}

	hourCounters, err := led.HourCounters(ctx, ledger.HourOf(now))
	if err != nil {
		t.Fatalf("reading hour counters failed: %v", err)
	}
	if hourCounters.Tokens != 180 || hourCounters.Requests != 1 {
		t.Errorf("unexpected hour counters: %+v", hourCounters)
	}

	entries, err := jnl.Query(ctx, &journal.Query{SubjectID: "u1"})
	if err != nil {
		t.Fatalf("journal query failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 journal entry, got %d", len(entries))
	}
	e := entries[0]
	if e.TokensUsed != 180 || e.Outcome != journal.OutcomeCommitted || e.CorrelationID != "corr1" {
		t.Errorf("unexpected journal entry: %+v", e)
	}
	if e.CostEstimate == 0 {
		t.Error("expected derived cost estimate on journal entry")
	}
}

func TestRecorder_CommitOverEstimate(t *testing.T) {
	led := ledger.NewMemoryLedger()
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	day := ledger.DayOf(now)
	ctx := context.Background()

	if _, err := led.AdjustDay(ctx, "u1", day, 100, 1); err != nil {
		t.Fatalf("seeding failed: %v", err)
	}
	res := &stubReservations{held: map[string]admission.Reservation{
		"corr1": {SubjectID: "u1", Day: day, Tokens: 100},
	}}
	r := NewRecorder(led, journal.NewMemoryJournal(), res, testCalculator(), nil, WithClock(fixedClock(now)))

	// Actual usage overshot the estimate. Commit does not gate.
	if err := r.Commit(ctx, "u1", "corr1", "agent_call", 250, journal.OutcomeCommitted); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	counters, err := led.DayCounters(ctx, "u1", day)
	if err != nil {
		t.Fatalf("reading counters failed: %v", err)
	}
	if counters.Tokens != 250 {
		t.Errorf("expected 250 tokens after over-commit, got %d", counters.Tokens)
	}
}

func TestRecorder_CommitWithoutCheck(t *testing.T) {
	led := ledger.NewMemoryLedger()
	jnl := journal.NewMemoryJournal()
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	ctx := context.Background()

	res := &stubReservations{held: map[string]admission.Reservation{}}
	r := NewRecorder(led, jnl, res, testCalculator(), nil, WithClock(fixedClock(now)))

	// Back-fill path: never admitted, still lands in full.
	if err := r.Commit(ctx, "u1", "backfill-1", "import", 400, journal.OutcomeCommitted); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	counters, err := led.DayCounters(ctx, "u1", ledger.DayOf(now))
	if err != nil {
		t.Fatalf("reading counters failed: %v", err)
	}
	if counters.Tokens != 400 || counters.Requests != 1 {
		t.Errorf("expected full back-fill increment, got %+v", counters)
	}

	count, err := jnl.Count(ctx, &journal.Query{SubjectID: "u1"})
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 journal entry, got %d", count)
	}
}

func TestRecorder_RejectsNegativeTokens(t *testing.T) {
	r := NewRecorder(ledger.NewMemoryLedger(), journal.NewMemoryJournal(),
		&stubReservations{held: map[string]admission.Reservation{}}, testCalculator(), nil)

	if err := r.Commit(context.Background(), "u1", "c1", "k", -1, journal.OutcomeCommitted); err == nil {
		t.Error("expected error for negative actual tokens")
	}
}

// flakyJournal fails the first n appends, then succeeds.
type flakyJournal struct {
	journal.Journal
	failures int
}

func (f *flakyJournal) Append(ctx context.Context, e *journal.Entry) error {
	if f.failures > 0 {
		f.failures--
		return journal.NewStorageError("test", "append", errors.New("transient"))
	}
	return f.Journal.Append(ctx, e)
}

func TestRecorder_RetriesJournalWrites(t *testing.T) {
	led := ledger.NewMemoryLedger()
	jnl := &flakyJournal{Journal: journal.NewMemoryJournal(), failures: 2}
	res := &stubReservations{held: map[string]admission.Reservation{}}

	r := NewRecorder(led, jnl, res, testCalculator(), &Config{
		WriteRetries: 3,
		RetryBackoff: time.Millisecond,
	})

	ctx := context.Background()
	if err := r.Commit(ctx, "u1", "c1", "k", 50, journal.OutcomeCommitted); err != nil {
		t.Fatalf("expected commit to succeed after retries: %v", err)
	}

	count, err := jnl.Count(ctx, &journal.Query{})
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 entry after retries, got %d", count)
	}
}

func TestRecorder_ReportsExhaustedRetries(t *testing.T) {
	jnl := &flakyJournal{Journal: journal.NewMemoryJournal(), failures: 10}
	res := &stubReservations{held: map[string]admission.Reservation{}}

	r := NewRecorder(ledger.NewMemoryLedger(), jnl, res, testCalculator(), &Config{
		WriteRetries: 2,
		RetryBackoff: time.Millisecond,
	})

	err := r.Commit(context.Background(), "u1", "c1", "k", 50, journal.OutcomeCommitted)
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if !errors.Is(err, journal.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestRecorder_RecordDenial(t *testing.T) {
	jnl := journal.NewMemoryJournal()
	led := ledger.NewMemoryLedger()
	res := &stubReservations{held: map[string]admission.Reservation{}}
	r := NewRecorder(led, jnl, res, testCalculator(), nil)
	ctx := context.Background()

	dec := &admission.Decision{
		Allowed:       false,
		Reason:        admission.ReasonDailyQuotaExceeded,
		Detail:        &admission.Denial{Limit: 500, Used: 480, Requested: 100},
		SubjectID:     "u1",
		Kind:          "agent_call",
		CorrelationID: "corr-denied",
	}
	if err := r.RecordDenial(ctx, dec); err != nil {
		t.Fatalf("record denial failed: %v", err)
	}

	dec.Reason = admission.ReasonSystemBusy
	dec.Detail = &admission.Denial{Limit: 1000, Used: 1000, Requested: 100}
	if err := r.RecordDenial(ctx, dec); err != nil {
		t.Fatalf("record denial failed: %v", err)
	}

	entries, err := jnl.Query(ctx, &journal.Query{SubjectID: "u1"})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 denial entries, got %d", len(entries))
	}

	outcomes := map[journal.Outcome]bool{}
	for _, e := range entries {
		outcomes[e.Outcome] = true
		if e.TokensUsed != 0 {
			t.Errorf("denial entry must carry zero tokens, got %d", e.TokensUsed)
		}
		if e.ErrorDetail == "" {
			t.Error("denial entry must carry detail")
		}
	}
	if !outcomes[journal.OutcomeDeniedQuota] || !outcomes[journal.OutcomeDeniedSystem] {
		t.Errorf("expected both denial outcomes, got %v", outcomes)
	}

	// Denials never touch the ledger.
	days, hours := led.Size()
	if days != 0 || hours != 0 {
		t.Errorf("denial touched the ledger: %d days, %d hours", days, hours)
	}

	if err := r.RecordDenial(ctx, &admission.Decision{Allowed: true}); err == nil {
		t.Error("expected error recording an admitted decision as denial")
	}
}
