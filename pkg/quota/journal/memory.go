package journal

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryJournal implements the Journal interface using an in-memory slice.
// This implementation is intended for testing and single-process deployments
// that do not need the journal to survive restarts.
type MemoryJournal struct {
	entries []*Entry
	mu      sync.RWMutex
}

// NewMemoryJournal creates a new in-memory journal backend.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{
		entries: []*Entry{},
	}
}

// Append adds one entry to the journal.
func (j *MemoryJournal) Append(ctx context.Context, e *Entry) error {
	if err := validate(e); err != nil {
		return NewStorageError("memory", "append", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	entryCopy := *e
	j.entries = append(j.entries, &entryCopy)

	return nil
}

// Query retrieves journal entries matching the query filters, newest first.
func (j *MemoryJournal) Query(ctx context.Context, q *Query) ([]*Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	results := []*Entry{}
	for _, e := range j.entries {
		if matchesQuery(e, q) {
			entryCopy := *e
			results = append(results, &entryCopy)
		}
	}

	sort.SliceStable(results, func(a, b int) bool {
		return results[a].RecordedAt.After(results[b].RecordedAt)
	})

	start := q.Offset
	if start > len(results) {
		return []*Entry{}, nil
	}

	limit := 100
	if q.Limit > 0 {
		limit = q.Limit
	}
	end := start + limit
	if end > len(results) {
		end = len(results)
	}

	return results[start:end], nil
}

// Count returns the number of entries matching the query filters.
func (j *MemoryJournal) Count(ctx context.Context, q *Query) (int64, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var count int64
	for _, e := range j.entries {
		if matchesQuery(e, q) {
			count++
		}
	}

	return count, nil
}

// SumTokens returns the total tokens over countable entries for a subject
// recorded in [from, to).
func (j *MemoryJournal) SumTokens(ctx context.Context, subjectID string, from, to time.Time) (int64, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var sum int64
	for _, e := range j.entries {
		if e.SubjectID != subjectID || !e.Outcome.Countable() {
			continue
		}
		if e.RecordedAt.Before(from) || !e.RecordedAt.Before(to) {
			continue
		}
		sum += e.TokensUsed
	}

	return sum, nil
}

// Purge deletes entries recorded before the cutoff.
// Returns the number of entries deleted.
func (j *MemoryJournal) Purge(ctx context.Context, before time.Time) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	kept := j.entries[:0]
	var deleted int64
	for _, e := range j.entries {
		if e.RecordedAt.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	j.entries = kept

	return deleted, nil
}

// Close releases resources held by the journal backend.
func (j *MemoryJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.entries = nil
	return nil
}

// matchesQuery checks if an entry matches the query filters.
func matchesQuery(e *Entry, q *Query) bool {
	if q.SubjectID != "" && e.SubjectID != q.SubjectID {
		return false
	}
	if q.CorrelationID != "" && e.CorrelationID != q.CorrelationID {
		return false
	}
	if q.Kind != "" && e.Kind != q.Kind {
		return false
	}
	if q.Outcome != "" && e.Outcome != q.Outcome {
		return false
	}
	if q.StartTime != nil && e.RecordedAt.Before(*q.StartTime) {
		return false
	}
	if q.EndTime != nil && e.RecordedAt.After(*q.EndTime) {
		return false
	}
	return true
}
