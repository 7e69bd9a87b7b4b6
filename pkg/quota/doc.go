// Package quota implements token-budget admission control for expensive
// model API calls. Every gated operation passes an admission check against
// three budgets (a fixed per-request ceiling, the subject's daily token and
// request budget, and a system-wide hourly ceiling) and, once complete,
// commits its actual usage into a persistent ledger and an append-only
// journal.
//
// Budget windows reset lazily: a window's state is the existence of its row,
// and the first access to a new day or hour creates the row with zero
// counters. There is no scheduled reset job to fail.
//
// The Manager type in this package is the entry point; the subpackages hold
// the moving parts (directory, ledger, journal, admission, recorder,
// retention) and can be composed directly when the facade does not fit.
package quota
