// Package admission decides whether gated operations may proceed against
// per-request, per-subject-daily, and system-hourly token budgets.
//
// Checks short-circuit in a fixed order: the static per-request ceiling
// first (no state touched), then subject resolution, then the subject's
// daily window, then the system hour window. An admitted check places a
// provisional reservation for its estimate in the daily window so that
// concurrent checks against a nearly-exhausted budget cannot jointly
// over-admit; the usage recorder settles the reservation at commit.
package admission
