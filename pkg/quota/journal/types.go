package journal

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Outcome classifies how a gated operation ended.
type Outcome string

const (
	// OutcomeCommitted marks an operation that was admitted and whose
	// actual usage was committed.
	OutcomeCommitted Outcome = "admitted_and_committed"

	// OutcomeDeniedQuota marks an operation denied by a subject-scoped
	// check (per-request ceiling, unknown/inactive subject, daily quota).
	OutcomeDeniedQuota Outcome = "denied_quota"

	// OutcomeDeniedSystem marks an operation denied by the system-wide
	// hourly ceiling.
	OutcomeDeniedSystem Outcome = "denied_system"

	// OutcomeError marks an operation that failed downstream but still
	// consumed tokens (timeouts, provider errors, abandoned calls).
	OutcomeError Outcome = "error"
)

// Countable reports whether entries with this outcome consumed tokens and
// therefore participate in reconciliation against the ledger.
func (o Outcome) Countable() bool {
	return o == OutcomeCommitted || o == OutcomeError
}

// Entry is one immutable usage journal record. Entries are never updated or
// deleted except by retention purge.
type Entry struct {
	// ID uniquely identifies the entry.
	ID string `json:"id"`

	// SubjectID is the subject the usage is attributed to.
	SubjectID string `json:"subject_id"`

	// CorrelationID is the opaque caller-supplied id grouping the steps
	// of a multi-step operation. Audit only, never an ordering constraint.
	CorrelationID string `json:"correlation_id"`

	// Kind is the operation kind that was gated.
	Kind string `json:"kind"`

	// TokensUsed is the actual token consumption recorded at commit, or
	// zero for denial entries.
	TokensUsed int64 `json:"tokens_used"`

	// CostEstimate is the derived reporting cost. Never used in admission.
	CostEstimate float64 `json:"cost_estimate"`

	// Outcome classifies how the operation ended.
	Outcome Outcome `json:"outcome"`

	// ErrorDetail carries denial or failure detail, if any.
	ErrorDetail string `json:"error_detail,omitempty"`

	// RecordedAt is when the entry was appended.
	RecordedAt time.Time `json:"recorded_at"`
}

// Query filters journal entries. Zero-valued fields are ignored.
type Query struct {
	// SubjectID filters by subject.
	SubjectID string `json:"subject_id"`

	// CorrelationID filters by correlation id.
	CorrelationID string

	// Kind filters by operation kind.
	Kind string

	// Outcome filters by outcome.
	Outcome Outcome

	// StartTime filters entries recorded at or after this time.
	StartTime *time.Time

	// EndTime filters entries recorded at or before this time.
	EndTime *time.Time

	// Limit caps the number of returned entries. Default: 100.
	Limit int

	// Offset skips that many entries, for pagination.
	Offset int
}

// Journal is the append-only usage record used for audit and reconciliation.
// Implementations must be safe for concurrent use.
type Journal interface {
	// Append adds one entry. Entries are immutable once appended.
	Append(ctx context.Context, e *Entry) error

	// Query returns entries matching the filters, newest first.
	Query(ctx context.Context, q *Query) ([]*Entry, error)

	// Count returns the number of entries matching the filters.
	Count(ctx context.Context, q *Query) (int64, error)

	// SumTokens returns the total tokens over countable entries (outcome
	// is not a denial) for a subject recorded in [from, to).
	SumTokens(ctx context.Context, subjectID string, from, to time.Time) (int64, error)

	// Purge deletes entries recorded before the cutoff. Returns the
	// number of entries deleted. Retention is the only deletion path.
	Purge(ctx context.Context, before time.Time) (int64, error)

	// Close releases any resources held by the journal.
	Close() error
}

// ErrUnavailable marks journal I/O failures, surfaced distinctly from quota
// denials so callers can tell "over budget" from "accounting is down".
var ErrUnavailable = errors.New("usage journal unavailable")

// StorageError wraps a backend failure with the operation that hit it.
type StorageError struct {
	Backend string
	Op      string
	Err     error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("journal %s: %s: %v", e.Backend, e.Op, e.Err)
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

// validate checks an entry before it is appended.
func validate(e *Entry) error {
	if e == nil {
		return fmt.Errorf("entry cannot be nil")
	}
	if e.SubjectID == "" {
		return fmt.Errorf("entry subject id cannot be empty")
	}
	if e.Outcome == "" {
		return fmt.Errorf("entry outcome cannot be empty")
	}
	if e.TokensUsed < 0 {
		return fmt.Errorf("entry tokens cannot be negative, got %d", e.TokensUsed)
	}
	return nil
}
