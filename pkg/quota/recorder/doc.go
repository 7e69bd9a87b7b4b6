// Package recorder settles actual token usage into the quota ledger and the
// usage journal. It is the accounting half of the admission/commit pair:
// admission reserves estimates, the recorder replaces them with actuals and
// leaves the audit trail. Commit never re-checks ceilings; over-commit
// beyond a ceiling is possible when an estimate ran low and simply makes the
// next admission check deny sooner.
package recorder
