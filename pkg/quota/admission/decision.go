package admission

import "time"

// DenyReason is a machine-readable admission denial code.
type DenyReason string

const (
	// ReasonRequestTooLarge means the token estimate exceeds the fixed
	// per-request ceiling for the operation kind. Static check, no ledger
	// state is touched.
	ReasonRequestTooLarge DenyReason = "REQUEST_TOO_LARGE"

	// ReasonSubjectUnknown means the subject could not be resolved.
	ReasonSubjectUnknown DenyReason = "SUBJECT_UNKNOWN"

	// ReasonSubjectInactive means the subject exists but is deactivated.
	ReasonSubjectInactive DenyReason = "SUBJECT_INACTIVE"

	// ReasonDailyQuotaExceeded means the subject's daily token or request
	// budget cannot fit this operation.
	ReasonDailyQuotaExceeded DenyReason = "DAILY_QUOTA_EXCEEDED"

	// ReasonSystemBusy means the system-wide hourly token ceiling has
	// been reached.
	ReasonSystemBusy DenyReason = "SYSTEM_BUSY"
)

// Denial carries enough detail for the caller to render a message or
// implement backoff.
type Denial struct {
	// Limit is the ceiling that was hit, in tokens unless the denial is
	// about request counts.
	Limit int64 `json:"limit"`

	// Used is the current usage against that ceiling.
	Used int64 `json:"used"`

	// Requested is the token estimate that was asked for.
	Requested int64 `json:"requested"`

	// RequestsUsed and RequestsLimit describe the daily request budget.
	// Only set for daily quota denials.
	RequestsUsed  int64 `json:"requests_used,omitempty"`
	RequestsLimit int64 `json:"requests_limit,omitempty"`

	// ResetAt is when the exhausted window rolls over. Set for daily
	// quota denials.
	ResetAt time.Time `json:"reset_at,omitzero"`

	// HoursUntilReset is the time to ResetAt rounded up to whole hours.
	HoursUntilReset int `json:"hours_until_reset,omitempty"`

	// RetryAfter is seconds until the next hour boundary. Set for
	// system busy denials.
	RetryAfter int64 `json:"retry_after,omitempty"`
}

// Decision is the structured outcome of an admission check. Denials are
// expected, recoverable outcomes, never errors.
type Decision struct {
	// Allowed reports whether the operation may proceed.
	Allowed bool `json:"allowed"`

	// Reason is set when Allowed is false.
	Reason DenyReason `json:"reason,omitempty"`

	// Detail is set for quota and system denials.
	Detail *Denial `json:"detail,omitempty"`

	// SubjectID is the subject the check was made for.
	SubjectID string `json:"subject_id"`

	// Kind is the operation kind that was checked.
	Kind string `json:"kind"`

	// CorrelationID groups the steps of a multi-step operation. If the
	// caller did not supply one, the controller generates it so commit
	// can settle the matching reservation.
	CorrelationID string `json:"correlation_id"`

	// EstimatedTokens is the token estimate the check was made with. On
	// admission this amount is reserved against the daily window until
	// commit settles it.
	EstimatedTokens int64 `json:"estimated_tokens"`
}

func allow(subjectID, kind, correlationID string, estimated int64) *Decision {
	return &Decision{
		Allowed:         true,
		SubjectID:       subjectID,
		Kind:            kind,
		CorrelationID:   correlationID,
		EstimatedTokens: estimated,
	}
}

func deny(subjectID, kind, correlationID string, estimated int64, reason DenyReason, detail *Denial) *Decision {
	return &Decision{
		Allowed:         false,
		Reason:          reason,
		Detail:          detail,
		SubjectID:       subjectID,
		Kind:            kind,
		CorrelationID:   correlationID,
		EstimatedTokens: estimated,
	}
}
