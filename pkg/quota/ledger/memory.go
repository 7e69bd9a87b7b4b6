package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryLedger implements Ledger with in-memory maps. All data is lost when
// the process exits, so it suits tests and single-run tooling rather than
// production metering.
//
// A single mutex guards both window maps; the conditional increment and the
// insert-if-absent creation run entirely under it, which gives the atomicity
// the Ledger contract requires.
type MemoryLedger struct {
	days  map[string]*Counters // "subject\x00day"
	hours map[HourKey]*Counters

	mu sync.Mutex

	// now is the clock, replaceable in tests.
	now func() time.Time
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		days:  make(map[string]*Counters),
		hours: make(map[HourKey]*Counters),
		now:   time.Now,
	}
}

func dayMapKey(subject string, day DayKey) string {
	return subject + "\x00" + string(day)
}

// ReserveDay atomically applies the conditional increment for a daily window.
func (m *MemoryLedger) ReserveDay(ctx context.Context, subject string, day DayKey, tokens, tokenCeiling, requestCeiling int64) (Counters, bool, error) {
	if subject == "" {
		return Counters{}, false, fmt.Errorf("subject cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	row := m.dayRowLocked(subject, day)
	if row.Tokens+tokens > tokenCeiling || row.Requests+1 > requestCeiling {
		return *row, false, nil
	}

	row.Tokens += tokens
	row.Requests++
	row.LastUpdated = m.now()
	return *row, true, nil
}

// AdjustDay applies unconditional deltas to a daily window.
func (m *MemoryLedger) AdjustDay(ctx context.Context, subject string, day DayKey, tokenDelta, requestDelta int64) (Counters, error) {
	if subject == "" {
		return Counters{}, fmt.Errorf("subject cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	row := m.dayRowLocked(subject, day)
	row.Tokens = floorZero(row.Tokens + tokenDelta)
	row.Requests = floorZero(row.Requests + requestDelta)
	row.LastUpdated = m.now()
	return *row, nil
}

// DayCounters returns (and lazily creates) the daily window.
func (m *MemoryLedger) DayCounters(ctx context.Context, subject string, day DayKey) (Counters, error) {
	if subject == "" {
		return Counters{}, fmt.Errorf("subject cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return *m.dayRowLocked(subject, day), nil
}

// AdjustHour applies unconditional deltas to the system hour window.
func (m *MemoryLedger) AdjustHour(ctx context.Context, hour HourKey, tokenDelta, requestDelta int64) (Counters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row := m.hourRowLocked(hour)
	row.Tokens = floorZero(row.Tokens + tokenDelta)
	row.Requests = floorZero(row.Requests + requestDelta)
	row.LastUpdated = m.now()
	return *row, nil
}

// HourCounters returns (and lazily creates) the system hour window.
func (m *MemoryLedger) HourCounters(ctx context.Context, hour HourKey) (Counters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return *m.hourRowLocked(hour), nil
}

// PurgeDays deletes daily rows strictly older than before.
func (m *MemoryLedger) PurgeDays(ctx context.Context, before DayKey) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for key := range m.days {
		// Key layout is subject\x00day; DayKey strings sort
		// chronologically.
		day := key[len(key)-len("2006-01-02"):]
		if DayKey(day) < before {
			delete(m.days, key)
			deleted++
		}
	}
	return deleted, nil
}

// PurgeHours deletes hour rows strictly older than before.
func (m *MemoryLedger) PurgeHours(ctx context.Context, before HourKey) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for hour := range m.hours {
		if hour < before {
			delete(m.hours, hour)
			deleted++
		}
	}
	return deleted, nil
}

// Close releases resources. The memory ledger has none.
func (m *MemoryLedger) Close() error {
	return nil
}

// Size returns the number of live window rows, for tests and monitoring.
func (m *MemoryLedger) Size() (days, hours int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.days), len(m.hours)
}

// dayRowLocked returns the daily row, creating it zeroed if absent.
// Caller must hold the mutex.
func (m *MemoryLedger) dayRowLocked(subject string, day DayKey) *Counters {
	key := dayMapKey(subject, day)
	row, ok := m.days[key]
	if !ok {
		row = &Counters{LastUpdated: m.now()}
		m.days[key] = row
	}
	return row
}

// hourRowLocked returns the hour row, creating it zeroed if absent.
// Caller must hold the mutex.
func (m *MemoryLedger) hourRowLocked(hour HourKey) *Counters {
	row, ok := m.hours[hour]
	if !ok {
		row = &Counters{LastUpdated: m.now()}
		m.hours[hour] = row
	}
	return row
}

func floorZero(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
