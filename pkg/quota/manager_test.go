package quota

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"tollgate-hq/tollgate/pkg/config"
	"tollgate-hq/tollgate/pkg/quota/admission"
	"tollgate-hq/tollgate/pkg/quota/journal"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Quota.RequestCeilings = map[string]int64{"agent_call": 1000}
	cfg.Subjects = []config.SubjectConfig{
		{ID: "u1", DailyTokenCeiling: 500, DailyRequestCeiling: 2, Active: true},
		{ID: "u2", DailyTokenCeiling: 10000, DailyRequestCeiling: 100, Active: true},
	}
	return cfg
}

func newTestManager(t *testing.T, cfg *config.Config, clock *testClock) *Manager {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	opts := []Option{WithRegisterer(prometheus.NewRegistry())}
	if clock != nil {
		opts = append(opts, WithClock(clock.Now))
	}
	m, err := NewManager(cfg, opts...)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

// Full lifecycle against a subject with a 500 token, 2 request daily budget.
func TestManager_Lifecycle(t *testing.T) {
	clock := &testClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
	m := newTestManager(t, nil, clock)
	ctx := context.Background()

	// First operation: estimate 200, actual 180.
	dec, err := m.Check(ctx, "u1", 200, "agent_call", "corr1")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("expected admission, got %s", dec.Reason)
	}
	if err := m.Commit(ctx, "u1", "corr1", "agent_call", 180, journal.OutcomeCommitted); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	status, err := m.Status(ctx, "u1")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.TokensUsed != 180 || status.RequestsUsed != 1 {
		t.Errorf("after first commit: tokens=%d requests=%d, want 180/1", status.TokensUsed, status.RequestsUsed)
	}

	// Second check: 180+400 > 500, denied.
	dec, err = m.Check(ctx, "u1", 400, "agent_call", "corr2")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if dec.Allowed {
		t.Fatal("expected denial at 180+400 > 500")
	}
	if dec.Reason != admission.ReasonDailyQuotaExceeded {
		t.Errorf("expected DAILY_QUOTA_EXCEEDED, got %s", dec.Reason)
	}

	// Third check: 180+300 = 480 fits.
	dec, err = m.Check(ctx, "u1", 300, "agent_call", "corr3")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("expected admission at 180+300 = 480, got %s", dec.Reason)
	}
	if err := m.Commit(ctx, "u1", "corr3", "agent_call", 300, journal.OutcomeCommitted); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	status, err = m.Status(ctx, "u1")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.TokensUsed != 480 || status.RequestsUsed != 2 {
		t.Errorf("after second commit: tokens=%d requests=%d, want 480/2", status.TokensUsed, status.RequestsUsed)
	}

	// Fourth check: request slots exhausted even though tokens remain.
	dec, err = m.Check(ctx, "u1", 10, "agent_call", "corr4")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if dec.Allowed {
		t.Fatal("expected denial on exhausted request count")
	}
	if dec.Reason != admission.ReasonDailyQuotaExceeded {
		t.Errorf("expected DAILY_QUOTA_EXCEEDED, got %s", dec.Reason)
	}
}

func TestManager_ResetBoundary(t *testing.T) {
	clock := &testClock{now: time.Date(2025, 1, 10, 23, 0, 0, 0, time.UTC)}
	m := newTestManager(t, nil, clock)
	ctx := context.Background()

	// Burn most of the budget on Jan 10.
	dec, err := m.Check(ctx, "u1", 450, "agent_call", "c1")
	if err != nil || !dec.Allowed {
		t.Fatalf("check failed: dec=%+v err=%v", dec, err)
	}
	if err := m.Commit(ctx, "u1", "c1", "agent_call", 450, journal.OutcomeCommitted); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	// Same estimate is over budget later that day.
	dec, err = m.Check(ctx, "u1", 100, "agent_call", "c2")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if dec.Allowed {
		t.Fatal("expected denial on Jan 10")
	}

	// Cross midnight. A fresh window appears with zero counters.
	clock.Set(time.Date(2025, 1, 11, 0, 5, 0, 0, time.UTC))

	status, err := m.Status(ctx, "u1")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.TokensUsed != 0 || status.RequestsUsed != 0 {
		t.Errorf("expected fresh window on Jan 11, got %+v", status)
	}

	dec, err = m.Check(ctx, "u1", 100, "agent_call", "c3")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !dec.Allowed {
		t.Errorf("expected admission on fresh day, got %s", dec.Reason)
	}
}

func TestManager_StatusFreshSubject(t *testing.T) {
	m := newTestManager(t, nil, nil)

	status, err := m.Status(context.Background(), "u2")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.TokensUsed != 0 {
		t.Errorf("expected zero usage, got %d", status.TokensUsed)
	}
	if status.TokensLimit != 10000 || status.TokensRemaining != 10000 {
		t.Errorf("unexpected limits: %+v", status)
	}
	if status.RequestsLimit != 100 {
		t.Errorf("expected request limit 100, got %d", status.RequestsLimit)
	}
	if !status.ResetAt.After(time.Now()) {
		t.Errorf("expected reset in the future, got %v", status.ResetAt)
	}
}

func TestManager_StatusUnknownSubject(t *testing.T) {
	m := newTestManager(t, nil, nil)

	if _, err := m.Status(context.Background(), "ghost"); err == nil {
		t.Error("expected error for unknown subject")
	}
}

func TestManager_DenialsAreJournaled(t *testing.T) {
	clock := &testClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
	jnl := journal.NewMemoryJournal()
	cfg := testConfig()
	m, err := NewManager(cfg,
		WithRegisterer(prometheus.NewRegistry()),
		WithClock(clock.Now),
		WithJournal(jnl),
	)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	defer m.Close()
	ctx := context.Background()

	dec, err := m.Check(ctx, "u1", 600, "agent_call", "c1")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if dec.Allowed {
		t.Fatal("expected denial for 600 > 500 daily ceiling")
	}

	entries, err := jnl.Query(ctx, &journal.Query{SubjectID: "u1", Outcome: journal.OutcomeDeniedQuota})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 denial journal entry, got %d", len(entries))
	}
	if entries[0].ErrorDetail == "" {
		t.Error("expected denial detail in journal entry")
	}
}

func TestManager_ReconcileMatchesAfterCommits(t *testing.T) {
	clock := &testClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
	m := newTestManager(t, nil, clock)
	ctx := context.Background()

	for i, actual := range []int64{100, 250, 40} {
		corr := string(rune('a' + i))
		dec, err := m.Check(ctx, "u2", actual, "agent_call", corr)
		if err != nil || !dec.Allowed {
			t.Fatalf("check %d failed: dec=%+v err=%v", i, dec, err)
		}
		if err := m.Commit(ctx, "u2", corr, "agent_call", actual, journal.OutcomeCommitted); err != nil {
			t.Fatalf("commit %d failed: %v", i, err)
		}
	}

	report, err := m.Reconcile(ctx, "u2", clock.Now())
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if !report.Consistent {
		t.Errorf("expected consistent ledger and journal, got %+v", report)
	}
	if report.LedgerTokens != 390 || report.JournalTokens != 390 {
		t.Errorf("expected 390 tokens on both sides, got %+v", report)
	}
}

func TestManager_CommitWithoutCheck(t *testing.T) {
	clock := &testClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
	m := newTestManager(t, nil, clock)
	ctx := context.Background()

	if err := m.Commit(ctx, "u2", "backfill", "import", 700, journal.OutcomeCommitted); err != nil {
		t.Fatalf("back-fill commit failed: %v", err)
	}

	status, err := m.Status(ctx, "u2")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.TokensUsed != 700 || status.RequestsUsed != 1 {
		t.Errorf("expected 700 tokens and 1 request after back-fill, got %+v", status)
	}
}

func TestManager_ApplyConfig(t *testing.T) {
	m := newTestManager(t, nil, nil)
	ctx := context.Background()

	dec, err := m.Check(ctx, "u2", 900, "agent_call", "")
	if err != nil || !dec.Allowed {
		t.Fatalf("expected admission under 1000 ceiling: dec=%+v err=%v", dec, err)
	}

	cfg := testConfig()
	cfg.Quota.RequestCeilings = map[string]int64{"agent_call": 500}
	m.ApplyConfig(cfg)

	dec, err = m.Check(ctx, "u2", 900, "agent_call", "")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if dec.Allowed || dec.Reason != admission.ReasonRequestTooLarge {
		t.Errorf("expected REQUEST_TOO_LARGE after reload, got allowed=%v reason=%s", dec.Allowed, dec.Reason)
	}

	// New subjects become resolvable after reload.
	cfg2 := testConfig()
	cfg2.Subjects = append(cfg2.Subjects, config.SubjectConfig{
		ID: "u3", DailyTokenCeiling: 100, DailyRequestCeiling: 5, Active: true,
	})
	m.ApplyConfig(cfg2)

	dec, err = m.Check(ctx, "u3", 50, "agent_call", "")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !dec.Allowed {
		t.Errorf("expected new subject admitted after reload, got %s", dec.Reason)
	}
}

func TestManager_SQLiteBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.Backend = "sqlite"
	cfg.Storage.LedgerPath = t.TempDir() + "/ledger.db"
	cfg.Storage.JournalPath = t.TempDir() + "/journal.db"

	clock := &testClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
	m := newTestManager(t, cfg, clock)
	ctx := context.Background()

	dec, err := m.Check(ctx, "u1", 200, "agent_call", "c1")
	if err != nil || !dec.Allowed {
		t.Fatalf("check failed: dec=%+v err=%v", dec, err)
	}
	if err := m.Commit(ctx, "u1", "c1", "agent_call", 150, journal.OutcomeCommitted); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	status, err := m.Status(ctx, "u1")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.TokensUsed != 150 || status.RequestsUsed != 1 {
		t.Errorf("unexpected status on sqlite backend: %+v", status)
	}
}
