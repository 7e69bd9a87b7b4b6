package admission

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tollgate-hq/tollgate/pkg/config"
	"tollgate-hq/tollgate/pkg/quota/directory"
	"tollgate-hq/tollgate/pkg/quota/ledger"
)

func testDirectory() *directory.StaticDirectory {
	return directory.NewStaticDirectory(
		[]config.SubjectConfig{
			{ID: "alice", DailyTokenCeiling: 1000, DailyRequestCeiling: 10, Active: true},
			{ID: "bob", DailyTokenCeiling: 500, DailyRequestCeiling: 2, Active: true},
			{ID: "mallory", DailyTokenCeiling: 1000, DailyRequestCeiling: 10, Active: false},
		},
		config.QuotaConfig{
			DefaultDailyTokenCeiling:   1000,
			DefaultDailyRequestCeiling: 10,
		},
	)
}

func testLimits() Limits {
	return Limits{
		RequestCeilings: map[string]int64{
			"planning":        2000,
			"tool_invocation": 300,
		},
		DefaultRequestCeiling: 4096,
		SystemHourlyCeiling:   100000,
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestController_AdmitsWithinBudget(t *testing.T) {
	led := ledger.NewMemoryLedger()
	c := NewController(led, testDirectory(), testLimits())
	ctx := context.Background()

	dec, err := c.Check(ctx, "alice", 400, "planning", "corr-1")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("expected admission, got denial %s", dec.Reason)
	}
	if dec.CorrelationID != "corr-1" {
		t.Errorf("expected correlation id preserved, got %q", dec.CorrelationID)
	}
	if c.PendingReservations() != 1 {
		t.Errorf("expected 1 pending reservation, got %d", c.PendingReservations())
	}
}

func TestController_GeneratesCorrelationID(t *testing.T) {
	c := NewController(ledger.NewMemoryLedger(), testDirectory(), testLimits())

	dec, err := c.Check(context.Background(), "alice", 100, "planning", "")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if dec.CorrelationID == "" {
		t.Error("expected generated correlation id")
	}
	if _, ok := c.Settle(dec.CorrelationID); !ok {
		t.Error("expected reservation under generated correlation id")
	}
}

func TestController_RequestTooLargeTouchesNoState(t *testing.T) {
	led := ledger.NewMemoryLedger()
	c := NewController(led, testDirectory(), testLimits())

	dec, err := c.Check(context.Background(), "alice", 301, "tool_invocation", "corr-1")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if dec.Allowed {
		t.Fatal("expected denial")
	}
	if dec.Reason != ReasonRequestTooLarge {
		t.Errorf("expected %s, got %s", ReasonRequestTooLarge, dec.Reason)
	}
	if dec.Detail == nil || dec.Detail.Limit != 300 || dec.Detail.Requested != 301 {
		t.Errorf("unexpected denial detail: %+v", dec.Detail)
	}

	days, hours := led.Size()
	if days != 0 || hours != 0 {
		t.Errorf("static denial created ledger rows: %d days, %d hours", days, hours)
	}
	if c.PendingReservations() != 0 {
		t.Errorf("static denial left reservations: %d", c.PendingReservations())
	}
}

func TestController_DefaultRequestCeilingByKind(t *testing.T) {
	c := NewController(ledger.NewMemoryLedger(), testDirectory(), testLimits())
	ctx := context.Background()

	// Unknown kind falls back to the default ceiling.
	dec, err := c.Check(ctx, "alice", 350, "summarize", "")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !dec.Allowed {
		t.Errorf("expected admission under default ceiling, got %s", dec.Reason)
	}

	// The same estimate is over the tool_invocation ceiling.
	dec, err = c.Check(ctx, "alice", 350, "tool_invocation", "")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if dec.Allowed || dec.Reason != ReasonRequestTooLarge {
		t.Errorf("expected REQUEST_TOO_LARGE for tool_invocation, got allowed=%v reason=%s", dec.Allowed, dec.Reason)
	}
}

func TestController_SubjectChecks(t *testing.T) {
	c := NewController(ledger.NewMemoryLedger(), testDirectory(), testLimits())
	ctx := context.Background()

	dec, err := c.Check(ctx, "nobody", 100, "planning", "")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if dec.Allowed || dec.Reason != ReasonSubjectUnknown {
		t.Errorf("expected SUBJECT_UNKNOWN, got allowed=%v reason=%s", dec.Allowed, dec.Reason)
	}

	dec, err = c.Check(ctx, "mallory", 100, "planning", "")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if dec.Allowed || dec.Reason != ReasonSubjectInactive {
		t.Errorf("expected SUBJECT_INACTIVE, got allowed=%v reason=%s", dec.Allowed, dec.Reason)
	}
}

func TestController_DailyQuotaBoundary(t *testing.T) {
	led := ledger.NewMemoryLedger()
	now := time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)
	c := NewController(led, testDirectory(), testLimits(), WithClock(fixedClock(now)))
	ctx := context.Background()

	// Bring alice to 900/1000 used.
	if _, err := led.AdjustDay(ctx, "alice", ledger.DayOf(now), 900, 1); err != nil {
		t.Fatalf("seeding ledger failed: %v", err)
	}

	dec, err := c.Check(ctx, "alice", 150, "planning", "")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if dec.Allowed {
		t.Fatal("expected denial at 900+150 > 1000")
	}
	if dec.Reason != ReasonDailyQuotaExceeded {
		t.Errorf("expected DAILY_QUOTA_EXCEEDED, got %s", dec.Reason)
	}
	if dec.Detail.Used != 900 || dec.Detail.Limit != 1000 || dec.Detail.Requested != 150 {
		t.Errorf("unexpected denial detail: %+v", dec.Detail)
	}
	wantReset := time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)
	if !dec.Detail.ResetAt.Equal(wantReset) {
		t.Errorf("expected reset at %v, got %v", wantReset, dec.Detail.ResetAt)
	}
	if dec.Detail.HoursUntilReset != 15 {
		t.Errorf("expected 15 hours until reset, got %d", dec.Detail.HoursUntilReset)
	}

	// Exactly at ceiling is allowed.
	dec, err = c.Check(ctx, "alice", 100, "planning", "")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !dec.Allowed {
		t.Errorf("expected admission at 900+100 = 1000, got %s", dec.Reason)
	}
}

func TestController_RequestCountExhaustion(t *testing.T) {
	led := ledger.NewMemoryLedger()
	now := time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)
	c := NewController(led, testDirectory(), testLimits(), WithClock(fixedClock(now)))
	ctx := context.Background()

	// bob has daily_request_ceiling=2. Use both slots with tokens to spare.
	if _, err := led.AdjustDay(ctx, "bob", ledger.DayOf(now), 100, 2); err != nil {
		t.Fatalf("seeding ledger failed: %v", err)
	}

	dec, err := c.Check(ctx, "bob", 10, "planning", "")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if dec.Allowed {
		t.Fatal("expected denial on exhausted request count")
	}
	if dec.Reason != ReasonDailyQuotaExceeded {
		t.Errorf("expected DAILY_QUOTA_EXCEEDED, got %s", dec.Reason)
	}
	if dec.Detail.RequestsUsed != 2 || dec.Detail.RequestsLimit != 2 {
		t.Errorf("unexpected request detail: %+v", dec.Detail)
	}
}

func TestController_SystemBusyReleasesDailyReservation(t *testing.T) {
	led := ledger.NewMemoryLedger()
	now := time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)
	c := NewController(led, testDirectory(), testLimits(), WithClock(fixedClock(now)))
	ctx := context.Background()

	// Saturate the system hour window.
	if _, err := led.AdjustHour(ctx, ledger.HourOf(now), 100000, 50); err != nil {
		t.Fatalf("seeding hour window failed: %v", err)
	}

	dec, err := c.Check(ctx, "alice", 200, "planning", "")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if dec.Allowed {
		t.Fatal("expected SYSTEM_BUSY denial")
	}
	if dec.Reason != ReasonSystemBusy {
		t.Errorf("expected SYSTEM_BUSY, got %s", dec.Reason)
	}
	if dec.Detail.RetryAfter != 30*60 {
		t.Errorf("expected retry after 1800s, got %d", dec.Detail.RetryAfter)
	}

	// The daily reservation must have been returned.
	counters, err := led.DayCounters(ctx, "alice", ledger.DayOf(now))
	if err != nil {
		t.Fatalf("reading counters failed: %v", err)
	}
	if counters.Tokens != 0 || counters.Requests != 0 {
		t.Errorf("daily reservation not released: %+v", counters)
	}
	if c.PendingReservations() != 0 {
		t.Errorf("expected no pending reservations, got %d", c.PendingReservations())
	}
}

func TestController_SettleAndBackfill(t *testing.T) {
	led := ledger.NewMemoryLedger()
	c := NewController(led, testDirectory(), testLimits())
	ctx := context.Background()

	dec, err := c.Check(ctx, "alice", 250, "planning", "op-1")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("expected admission, got %s", dec.Reason)
	}

	r, ok := c.Settle("op-1")
	if !ok {
		t.Fatal("expected reservation for op-1")
	}
	if r.SubjectID != "alice" || r.Tokens != 250 {
		t.Errorf("unexpected reservation: %+v", r)
	}

	if _, ok := c.Settle("op-1"); ok {
		t.Error("expected reservation consumed after settle")
	}
	if _, ok := c.Settle("never-admitted"); ok {
		t.Error("expected no reservation for unseen correlation id")
	}
}

func TestController_MultiStepReservationsStack(t *testing.T) {
	c := NewController(ledger.NewMemoryLedger(), testDirectory(), testLimits())
	ctx := context.Background()

	for _, est := range []int64{100, 200} {
		dec, err := c.Check(ctx, "alice", est, "planning", "op-multi")
		if err != nil {
			t.Fatalf("check failed: %v", err)
		}
		if !dec.Allowed {
			t.Fatalf("expected admission for estimate %d, got %s", est, dec.Reason)
		}
	}

	r, ok := c.Settle("op-multi")
	if !ok || r.Tokens != 200 {
		t.Fatalf("expected most recent reservation first, got %+v ok=%v", r, ok)
	}
	r, ok = c.Settle("op-multi")
	if !ok || r.Tokens != 100 {
		t.Fatalf("expected earlier reservation second, got %+v ok=%v", r, ok)
	}
}

func TestController_AbandonReturnsHold(t *testing.T) {
	led := ledger.NewMemoryLedger()
	now := time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)
	c := NewController(led, testDirectory(), testLimits(), WithClock(fixedClock(now)))
	ctx := context.Background()

	dec, err := c.Check(ctx, "alice", 300, "planning", "op-1")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("expected admission, got %s", dec.Reason)
	}

	if !c.Abandon(ctx, "op-1") {
		t.Fatal("expected abandon to find the reservation")
	}

	counters, err := led.DayCounters(ctx, "alice", ledger.DayOf(now))
	if err != nil {
		t.Fatalf("reading counters failed: %v", err)
	}
	if counters.Tokens != 0 || counters.Requests != 0 {
		t.Errorf("abandoned hold not returned: %+v", counters)
	}
}

func TestController_ConcurrentChecksNeverOverAdmit(t *testing.T) {
	led := ledger.NewMemoryLedger()
	now := time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)
	c := NewController(led, testDirectory(), testLimits(), WithClock(fixedClock(now)))
	ctx := context.Background()

	// alice: 1000 token ceiling, 10 request slots. 20 workers each ask
	// for 100 tokens; at most 10 can be admitted.
	const workers = 20
	var wg sync.WaitGroup
	admitted := make(chan *Decision, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dec, err := c.Check(ctx, "alice", 100, "planning", "")
			if err != nil {
				t.Errorf("check failed: %v", err)
				return
			}
			if dec.Allowed {
				admitted <- dec
			}
		}()
	}
	wg.Wait()
	close(admitted)

	count := 0
	for range admitted {
		count++
	}
	if count != 10 {
		t.Errorf("expected exactly 10 admissions, got %d", count)
	}

	counters, err := led.DayCounters(ctx, "alice", ledger.DayOf(now))
	if err != nil {
		t.Fatalf("reading counters failed: %v", err)
	}
	if counters.Tokens != 1000 {
		t.Errorf("expected 1000 tokens reserved, got %d", counters.Tokens)
	}
}

func TestController_UpdateLimits(t *testing.T) {
	c := NewController(ledger.NewMemoryLedger(), testDirectory(), testLimits())
	ctx := context.Background()

	dec, err := c.Check(ctx, "alice", 500, "planning", "")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("expected admission, got %s", dec.Reason)
	}

	c.UpdateLimits(Limits{
		DefaultRequestCeiling: 4096,
		RequestCeilings:       map[string]int64{"planning": 400},
		SystemHourlyCeiling:   100000,
	})

	dec, err = c.Check(ctx, "alice", 500, "planning", "")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if dec.Allowed || dec.Reason != ReasonRequestTooLarge {
		t.Errorf("expected REQUEST_TOO_LARGE under tightened ceiling, got allowed=%v reason=%s", dec.Allowed, dec.Reason)
	}
}

type failingLedger struct {
	ledger.Ledger
}

func (f *failingLedger) ReserveDay(ctx context.Context, subject string, day ledger.DayKey, tokens, tokenCeiling, requestCeiling int64) (ledger.Counters, bool, error) {
	return ledger.Counters{}, false, ledger.NewStorageError("test", "reserve_day", errors.New("disk gone"))
}

func TestController_StorageFailureIsNotADenial(t *testing.T) {
	c := NewController(&failingLedger{ledger.NewMemoryLedger()}, testDirectory(), testLimits())

	dec, err := c.Check(context.Background(), "alice", 100, "planning", "")
	if err == nil {
		t.Fatal("expected error from unavailable ledger")
	}
	if dec != nil {
		t.Errorf("expected no decision on storage failure, got %+v", dec)
	}
	if !errors.Is(err, ledger.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}
