package journal

// SchemaVersion is the current database schema version.
const SchemaVersion = 1

// Schema contains the SQL statements to create the usage journal schema.
const Schema = `
-- Usage journal entries, append only
CREATE TABLE IF NOT EXISTS usage_journal (
    id TEXT PRIMARY KEY,
    subject_id TEXT NOT NULL,
    correlation_id TEXT,
    kind TEXT,
    tokens_used INTEGER NOT NULL DEFAULT 0,
    cost_estimate REAL NOT NULL DEFAULT 0,
    outcome TEXT NOT NULL,
    error_detail TEXT,
    recorded_at TIMESTAMP NOT NULL
);

-- Schema version table
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL
);

-- Indexes for common queries
CREATE INDEX IF NOT EXISTS idx_journal_subject_recorded ON usage_journal(subject_id, recorded_at);
CREATE INDEX IF NOT EXISTS idx_journal_correlation ON usage_journal(correlation_id);
CREATE INDEX IF NOT EXISTS idx_journal_recorded_at ON usage_journal(recorded_at);
CREATE INDEX IF NOT EXISTS idx_journal_outcome ON usage_journal(outcome);
`

// InsertSchemaVersion inserts the schema version into the schema_version table.
const InsertSchemaVersion = `
INSERT INTO schema_version (version, applied_at)
VALUES (?, datetime('now'))
ON CONFLICT(version) DO NOTHING;
`

// GetSchemaVersion retrieves the current schema version from the database.
const GetSchemaVersion = `
SELECT version FROM schema_version ORDER BY version DESC LIMIT 1;
`
