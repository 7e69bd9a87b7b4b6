// Package journal provides the append-only usage record backing audit and
// reconciliation. Every gated operation that reaches admission leaves exactly
// one entry here: committed usage, denials with their reason, and downstream
// failures that still consumed tokens.
//
// Entries are immutable once appended. The only deletion path is Purge, which
// the retention janitor invokes against a time horizon.
//
// Two backends are provided: MemoryJournal for tests and ephemeral
// deployments, and SQLiteJournal for anything that must survive a restart.
package journal
