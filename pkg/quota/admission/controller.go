package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"tollgate-hq/tollgate/pkg/quota/directory"
	"tollgate-hq/tollgate/pkg/quota/ledger"
)

// Limits contains the static ceilings admission checks against. Subject
// daily ceilings come from the directory, not from here.
type Limits struct {
	// RequestCeilings maps operation kinds to hard per-call token
	// ceilings.
	RequestCeilings map[string]int64

	// DefaultRequestCeiling applies to kinds absent from RequestCeilings.
	DefaultRequestCeiling int64

	// SystemHourlyCeiling is the system-wide token ceiling per hour
	// window.
	SystemHourlyCeiling int64
}

// requestCeiling returns the per-call ceiling for an operation kind.
func (l *Limits) requestCeiling(kind string) int64 {
	if c, ok := l.RequestCeilings[kind]; ok {
		return c
	}
	return l.DefaultRequestCeiling
}

// Reservation is a provisional hold placed on a subject's daily window at
// admission time. Commit settles it against actual usage.
type Reservation struct {
	SubjectID string
	Day       ledger.DayKey
	Tokens    int64
}

// Controller makes admission decisions against the quota ledger.
//
// An admitted check atomically reserves its token estimate and one request
// slot in the subject's daily window, so concurrent checks can never jointly
// admit more than the ceiling allows. The reservation is indexed by
// correlation id and settled (estimate swapped for actual usage) when the
// recorder commits. The system hour window is not reserved; it is checked
// read-only here and incremented only at commit, trading a bounded overshoot
// for a cheaper hot path.
type Controller struct {
	ledger    ledger.Ledger
	directory directory.Directory

	limits   Limits
	limitsMu sync.RWMutex

	// In-flight reservations keyed by correlation id. A multi-step
	// operation reusing one correlation id stacks reservations; settle
	// pops the most recent.
	pending   map[string][]Reservation
	pendingMu sync.Mutex

	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock overrides the controller's time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithLogger sets the controller's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger.With("component", "quota.admission") }
}

// NewController creates an admission controller.
func NewController(led ledger.Ledger, dir directory.Directory, limits Limits, opts ...Option) *Controller {
	c := &Controller{
		ledger:    led,
		directory: dir,
		limits:    limits,
		pending:   make(map[string][]Reservation),
		now:       time.Now,
		logger:    slog.Default().With("component", "quota.admission"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UpdateLimits swaps the controller's ceilings. Safe to call while checks
// are in flight; used for config hot reload.
func (c *Controller) UpdateLimits(limits Limits) {
	c.limitsMu.Lock()
	c.limits = limits
	c.limitsMu.Unlock()
	c.logger.Info("admission limits updated",
		"default_request_ceiling", limits.DefaultRequestCeiling,
		"system_hourly_ceiling", limits.SystemHourlyCeiling,
	)
}

// Check decides whether an operation estimated at estimatedTokens may
// proceed for the subject. Checks run in a fixed order and short-circuit on
// the first failure: per-request ceiling, subject existence and activity,
// subject daily window, system hour window.
//
// Denials are returned as decisions, not errors. A non-nil error means the
// ledger or directory was unavailable; callers must treat that as a denial
// rather than admit unmetered usage.
func (c *Controller) Check(ctx context.Context, subjectID string, estimatedTokens int64, kind, correlationID string) (*Decision, error) {
	if estimatedTokens < 0 {
		return nil, fmt.Errorf("estimated tokens cannot be negative, got %d", estimatedTokens)
	}
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	c.limitsMu.RLock()
	limits := c.limits
	c.limitsMu.RUnlock()

	// Static per-request ceiling. No ledger access.
	if ceiling := limits.requestCeiling(kind); ceiling > 0 && estimatedTokens > ceiling {
		c.logger.Debug("denied: request too large",
			"subject", subjectID, "kind", kind,
			"estimated", estimatedTokens, "ceiling", ceiling,
		)
		return deny(subjectID, kind, correlationID, estimatedTokens, ReasonRequestTooLarge, &Denial{
			Limit:     ceiling,
			Requested: estimatedTokens,
		}), nil
	}

	subj, err := c.directory.Resolve(ctx, subjectID)
	if err != nil {
		if errors.Is(err, directory.ErrSubjectUnknown) {
			return deny(subjectID, kind, correlationID, estimatedTokens, ReasonSubjectUnknown, nil), nil
		}
		return nil, fmt.Errorf("resolving subject %q: %w", subjectID, err)
	}
	if !subj.Active {
		return deny(subjectID, kind, correlationID, estimatedTokens, ReasonSubjectInactive, nil), nil
	}

	now := c.now()
	day := ledger.DayOf(now)

	// Reserve the estimate in the daily window. The ledger applies the
	// ceiling test and the increment as one atomic conditional update.
	counters, granted, err := c.ledger.ReserveDay(ctx, subjectID, day, estimatedTokens, subj.DailyTokenCeiling, subj.DailyRequestCeiling)
	if err != nil {
		return nil, fmt.Errorf("reserving daily quota for %q: %w", subjectID, err)
	}
	if !granted {
		resetAt := ledger.NextMidnight(now)
		return deny(subjectID, kind, correlationID, estimatedTokens, ReasonDailyQuotaExceeded, &Denial{
			Limit:           subj.DailyTokenCeiling,
			Used:            counters.Tokens,
			Requested:       estimatedTokens,
			RequestsUsed:    counters.Requests,
			RequestsLimit:   subj.DailyRequestCeiling,
			ResetAt:         resetAt,
			HoursUntilReset: hoursUntil(now, resetAt),
		}), nil
	}

	hour := ledger.HourOf(now)
	hourCounters, err := c.ledger.HourCounters(ctx, hour)
	if err != nil {
		c.release(ctx, subjectID, day, estimatedTokens)
		return nil, fmt.Errorf("reading system hour window: %w", err)
	}
	if limits.SystemHourlyCeiling > 0 && hourCounters.Tokens >= limits.SystemHourlyCeiling {
		c.release(ctx, subjectID, day, estimatedTokens)
		retryAfter := int64(ledger.NextHour(now).Sub(now).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		return deny(subjectID, kind, correlationID, estimatedTokens, ReasonSystemBusy, &Denial{
			Limit:      limits.SystemHourlyCeiling,
			Used:       hourCounters.Tokens,
			Requested:  estimatedTokens,
			RetryAfter: retryAfter,
		}), nil
	}

	c.pendingMu.Lock()
	c.pending[correlationID] = append(c.pending[correlationID], Reservation{
		SubjectID: subjectID,
		Day:       day,
		Tokens:    estimatedTokens,
	})
	c.pendingMu.Unlock()

	c.logger.Debug("admitted",
		"subject", subjectID, "kind", kind,
		"estimated", estimatedTokens,
		"day_tokens", counters.Tokens, "day_requests", counters.Requests,
	)
	return allow(subjectID, kind, correlationID, estimatedTokens), nil
}

// Settle removes and returns the most recent in-flight reservation for the
// correlation id. The second return is false when no reservation exists,
// which is the back-fill commit path.
func (c *Controller) Settle(correlationID string) (Reservation, bool) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	stack := c.pending[correlationID]
	if len(stack) == 0 {
		return Reservation{}, false
	}
	r := stack[len(stack)-1]
	if len(stack) == 1 {
		delete(c.pending, correlationID)
	} else {
		c.pending[correlationID] = stack[:len(stack)-1]
	}
	return r, true
}

// Abandon drops the most recent reservation for the correlation id and
// returns its hold to the daily window. For callers that admitted an
// operation and then decided not to run it.
func (c *Controller) Abandon(ctx context.Context, correlationID string) bool {
	r, ok := c.Settle(correlationID)
	if !ok {
		return false
	}
	c.release(ctx, r.SubjectID, r.Day, r.Tokens)
	return true
}

// PendingReservations reports the number of in-flight reservations.
func (c *Controller) PendingReservations() int {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	n := 0
	for _, stack := range c.pending {
		n += len(stack)
	}
	return n
}

// release returns a reservation's hold to the daily window.
func (c *Controller) release(ctx context.Context, subjectID string, day ledger.DayKey, tokens int64) {
	if _, err := c.ledger.AdjustDay(ctx, subjectID, day, -tokens, -1); err != nil {
		c.logger.Error("failed to release reservation",
			"subject", subjectID, "day", string(day), "tokens", tokens, "error", err,
		)
	}
}

// hoursUntil returns the whole hours from now to t, rounded up, minimum 1.
func hoursUntil(now, t time.Time) int {
	d := t.Sub(now)
	h := int(d / time.Hour)
	if d%time.Hour != 0 {
		h++
	}
	if h < 1 {
		h = 1
	}
	return h
}
