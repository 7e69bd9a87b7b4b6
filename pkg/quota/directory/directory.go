package directory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"tollgate-hq/tollgate/pkg/config"
)

// Subject is one account directory entry: the identity a caller arrives
// with, plus its configured limits. Subject records are owned by an external
// identity/billing system; this core only reads them.
type Subject struct {
	// ID is the opaque subject identifier.
	ID string

	// DailyTokenCeiling is the maximum tokens the subject may consume per
	// calendar day.
	DailyTokenCeiling int64

	// DailyRequestCeiling is the maximum requests the subject may make
	// per calendar day.
	DailyRequestCeiling int64

	// Active controls whether the subject may be admitted at all.
	Active bool
}

// ErrSubjectUnknown is returned by Resolve when no record exists for a
// subject id.
var ErrSubjectUnknown = errors.New("subject unknown")

// Directory resolves subject identities to their configured limits.
// Implementations must be safe for concurrent use.
type Directory interface {
	// Resolve returns the subject record for id, or ErrSubjectUnknown if
	// no record exists. Any other error is an infrastructure failure.
	Resolve(ctx context.Context, id string) (*Subject, error)
}

// StaticDirectory serves subjects from configuration. Entries with zero
// ceilings inherit the configured defaults, so a bare `- id: u1` entry is a
// fully usable account.
type StaticDirectory struct {
	mu       sync.RWMutex
	subjects map[string]*Subject
}

// NewStaticDirectory builds a directory from configured subject entries.
func NewStaticDirectory(entries []config.SubjectConfig, defaults config.QuotaConfig) *StaticDirectory {
	d := &StaticDirectory{subjects: make(map[string]*Subject, len(entries))}
	d.load(entries, defaults)
	return d
}

// Resolve returns the subject record for id.
func (d *StaticDirectory) Resolve(ctx context.Context, id string) (*Subject, error) {
	if id == "" {
		return nil, fmt.Errorf("subject id cannot be empty")
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	s, ok := d.subjects[id]
	if !ok {
		return nil, fmt.Errorf("resolve %q: %w", id, ErrSubjectUnknown)
	}

	// Copy so callers cannot mutate directory state.
	out := *s
	return &out, nil
}

// Reload replaces the directory contents, typically after a config reload.
func (d *StaticDirectory) Reload(entries []config.SubjectConfig, defaults config.QuotaConfig) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subjects = make(map[string]*Subject, len(entries))
	d.loadLocked(entries, defaults)
}

func (d *StaticDirectory) load(entries []config.SubjectConfig, defaults config.QuotaConfig) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loadLocked(entries, defaults)
}

// loadLocked populates the subject map. Caller must hold the write lock.
func (d *StaticDirectory) loadLocked(entries []config.SubjectConfig, defaults config.QuotaConfig) {
	for _, e := range entries {
		s := &Subject{
			ID:                  e.ID,
			DailyTokenCeiling:   e.DailyTokenCeiling,
			DailyRequestCeiling: e.DailyRequestCeiling,
			Active:              e.Active,
		}
		if s.DailyTokenCeiling == 0 {
			s.DailyTokenCeiling = defaults.DefaultDailyTokenCeiling
		}
		if s.DailyRequestCeiling == 0 {
			s.DailyRequestCeiling = defaults.DefaultDailyRequestCeiling
		}
		d.subjects[e.ID] = s
	}
}
