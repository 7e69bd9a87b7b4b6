// Package ledger provides the durable, time-partitioned quota counters that
// back admission control.
//
// Two window shapes exist: one row per (subject, calendar day) and one row
// per clock hour shared by the whole system. Rows are created lazily with
// zero counters on first reference; that creation is the entire reset
// mechanism, so no scheduled reset job exists to fail.
//
// The Ledger contract requires two atomic primitives from every backend:
//
//   - insert-if-absent window creation (concurrent first accesses of a new
//     day or hour produce exactly one row)
//   - a conditional increment that applies only when the result stays under
//     the ceiling, making check-and-consume a single step
//
// Backends: MemoryLedger (mutex-guarded maps, no persistence) and
// SQLiteLedger (WAL-mode SQLite, single writer).
package ledger
