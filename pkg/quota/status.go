package quota

import "time"

// QuotaStatus is a point-in-time view of a subject's daily budget. Reading
// status triggers the same lazy window creation as admission, so a fresh day
// always reports zero usage rather than a stale or missing record.
type QuotaStatus struct {
	// SubjectID is the subject the status describes.
	SubjectID string `json:"subject_id"`

	// TokensUsed is the subject's token consumption for today, including
	// in-flight reservations.
	TokensUsed int64 `json:"tokens_used"`

	// TokensLimit is the subject's daily token ceiling.
	TokensLimit int64 `json:"tokens_limit"`

	// TokensRemaining is the headroom left today. Never negative.
	TokensRemaining int64 `json:"tokens_remaining"`

	// RequestsUsed is the number of request slots taken today.
	RequestsUsed int64 `json:"requests_used"`

	// RequestsLimit is the subject's daily request ceiling.
	RequestsLimit int64 `json:"requests_limit"`

	// ResetAt is the next local midnight, when the daily window rolls
	// over.
	ResetAt time.Time `json:"reset_at"`
}

// ReconcileReport compares the ledger's daily counter against the journal's
// record of the same day.
type ReconcileReport struct {
	// SubjectID is the subject that was reconciled.
	SubjectID string `json:"subject_id"`

	// Day is the calendar date that was reconciled.
	Day string `json:"day"`

	// LedgerTokens is the daily window's token counter.
	LedgerTokens int64 `json:"ledger_tokens"`

	// JournalTokens is the sum of tokens over the day's countable
	// journal entries.
	JournalTokens int64 `json:"journal_tokens"`

	// Consistent reports whether the two figures agree. A mismatch
	// usually means in-flight reservations not yet committed, or a lost
	// write.
	Consistent bool `json:"consistent"`
}
