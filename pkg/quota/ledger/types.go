package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DayKey identifies one subject-scoped accounting day ("2006-01-02" in the
// clock's location).
type DayKey string

// HourKey identifies one system-wide accounting hour as a Unix timestamp
// truncated to the hour boundary (UTC).
type HourKey int64

// DayOf returns the DayKey for t in t's location.
func DayOf(t time.Time) DayKey {
	return DayKey(t.Format("2006-01-02"))
}

// HourOf returns the HourKey for t.
func HourOf(t time.Time) HourKey {
	return HourKey(t.UTC().Truncate(time.Hour).Unix())
}

// NextMidnight returns the next local midnight after t, in t's location.
// Daily windows reset there.
func NextMidnight(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location()).AddDate(0, 0, 1)
}

// NextHour returns the next hour boundary after t.
func NextHour(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour).Add(time.Hour)
}

// Time returns the start of the hour window.
func (h HourKey) Time() time.Time {
	return time.Unix(int64(h), 0).UTC()
}

// Counters is a snapshot of one window's accumulated usage.
type Counters struct {
	// Tokens is the number of tokens consumed (or reserved) in the window.
	Tokens int64

	// Requests is the number of requests counted in the window.
	Requests int64

	// LastUpdated is when the window row was last modified.
	LastUpdated time.Time
}

// Ledger is the durable store of time-windowed usage counters. It is the
// only mutable shared state in the core; every implementation must provide
// atomic insert-if-absent window creation and atomic conditional increments —
// a read-then-conditionally-write sequence is not acceptable.
//
// Rows are created lazily with zero counters on first reference to a window;
// that creation is the entire reset mechanism. Windows are never explicitly
// closed, they just stop being referenced once the clock advances.
type Ledger interface {
	// ReserveDay creates the (subject, day) row if absent and then
	// increments it by (tokens, 1 request) in the same atomic step, but
	// only if the result stays within both ceilings, i.e.
	// tokens_used+tokens <= tokenCeiling and requests_made+1 <= requestCeiling.
	// It returns the post-operation counters and whether the increment
	// applied. When it did not apply the returned counters reflect the
	// untouched row, for use in denial detail.
	ReserveDay(ctx context.Context, subject string, day DayKey, tokens, tokenCeiling, requestCeiling int64) (Counters, bool, error)

	// AdjustDay creates the (subject, day) row if absent and adds the
	// deltas unconditionally. Deltas may be negative (settling a
	// reservation down to actual usage); counters floor at zero.
	AdjustDay(ctx context.Context, subject string, day DayKey, tokenDelta, requestDelta int64) (Counters, error)

	// DayCounters returns the counters for (subject, day), creating the
	// row with zero counters if it does not exist yet.
	DayCounters(ctx context.Context, subject string, day DayKey) (Counters, error)

	// AdjustHour creates the system hour row if absent and adds the
	// deltas unconditionally; counters floor at zero.
	AdjustHour(ctx context.Context, hour HourKey, tokenDelta, requestDelta int64) (Counters, error)

	// HourCounters returns the counters for the system hour window,
	// creating the row with zero counters if it does not exist yet.
	HourCounters(ctx context.Context, hour HourKey) (Counters, error)

	// PurgeDays deletes all daily rows strictly older than before.
	// Returns the number of rows deleted.
	PurgeDays(ctx context.Context, before DayKey) (int64, error)

	// PurgeHours deletes all hour rows strictly older than before.
	// Returns the number of rows deleted.
	PurgeHours(ctx context.Context, before HourKey) (int64, error)

	// Close releases any resources held by the ledger.
	Close() error
}

// ErrUnavailable marks ledger I/O failures. Callers use it to distinguish
// "over budget" from "the accounting store is down"; the latter fails safe
// (deny, never admit unmetered usage).
var ErrUnavailable = errors.New("quota ledger unavailable")

// StorageError wraps a backend failure with the operation that hit it.
type StorageError struct {
	Backend string
	Op      string
	Err     error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("ledger %s: %s: %v", e.Backend, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is reports ErrUnavailable for any storage error.
func (e *StorageError) Is(target error) bool {
	return target == ErrUnavailable
}

// NewStorageError creates a StorageError for a backend operation.
func NewStorageError(backend, op string, err error) error {
	return &StorageError{Backend: backend, Op: op, Err: err}
}
