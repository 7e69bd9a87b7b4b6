// Package directory provides read-only lookup of subject identities and
// their configured limits.
//
// Subject records are owned by an external identity/billing system; this
// package only reads them. Two sources exist: StaticDirectory (entries from
// the YAML configuration, with defaulted ceilings) and SQLiteDirectory (a
// read-only view of an externally maintained subjects table).
package directory
