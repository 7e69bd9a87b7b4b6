package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteConfig contains configuration for the SQLite journal backend.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// MaxOpenConns is the maximum number of open connections to the database.
	// Default: 10
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int

	// WALMode enables Write-Ahead Logging mode for better concurrency.
	// Default: true
	WALMode bool

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default SQLite configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:         "data/journal.db",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
	}
}

// SQLiteJournal implements the Journal interface using SQLite.
type SQLiteJournal struct {
	db     *sql.DB
	config *SQLiteConfig
	logger *slog.Logger
}

// NewSQLiteJournal creates a new SQLite journal backend.
// It initializes the database schema and enables WAL mode if configured.
func NewSQLiteJournal(config *SQLiteConfig) (*SQLiteJournal, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}

	logger := slog.Default().With("component", "quota.journal.sqlite")

	db, err := sql.Open("sqlite", config.Path)
	if err != nil {
		return nil, NewStorageError("sqlite", "open", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)

	j := &SQLiteJournal{
		db:     db,
		config: config,
		logger: logger,
	}

	if err := j.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite journal initialized",
		"path", config.Path,
		"wal_mode", config.WALMode,
	)

	return j, nil
}

// initialize sets up the database schema and enables WAL mode.
func (j *SQLiteJournal) initialize() error {
	if j.config.WALMode {
		_, err := j.db.Exec("PRAGMA journal_mode=WAL;")
		if err != nil {
			return NewStorageError("sqlite", "enable_wal", err)
		}
	}

	busyTimeoutMs := j.config.BusyTimeout.Milliseconds()
	_, err := j.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", busyTimeoutMs))
	if err != nil {
		return NewStorageError("sqlite", "set_busy_timeout", err)
	}

	_, err = j.db.Exec(Schema)
	if err != nil {
		return NewStorageError("sqlite", "create_schema", err)
	}

	_, err = j.db.Exec(InsertSchemaVersion, SchemaVersion)
	if err != nil {
		return NewStorageError("sqlite", "insert_schema_version", err)
	}

	var version int
	err = j.db.QueryRow(GetSchemaVersion).Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return NewStorageError("sqlite", "get_schema_version", err)
	}

	if version != SchemaVersion {
		return NewStorageError("sqlite", "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}

	return nil
}

// Append adds one entry to the journal.
func (j *SQLiteJournal) Append(ctx context.Context, e *Entry) error {
	if err := validate(e); err != nil {
		return NewStorageError("sqlite", "append", err)
	}

	query := `
		INSERT INTO usage_journal (
			id, subject_id, correlation_id, kind,
			tokens_used, cost_estimate, outcome, error_detail, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var errorDetail interface{}
	if e.ErrorDetail != "" {
		errorDetail = e.ErrorDetail
	}

	_, err := j.db.ExecContext(ctx, query,
		e.ID, e.SubjectID, e.CorrelationID, e.Kind,
		e.TokensUsed, e.CostEstimate, string(e.Outcome), errorDetail, e.RecordedAt,
	)
	if err != nil {
		return NewStorageError("sqlite", "append", err)
	}

	return nil
}

// Query retrieves journal entries matching the query filters, newest first.
func (j *SQLiteJournal) Query(ctx context.Context, q *Query) ([]*Entry, error) {
	whereClause, args := buildWhereClause(q)

	sqlQuery := "SELECT id, subject_id, correlation_id, kind, tokens_used, cost_estimate, outcome, error_detail, recorded_at FROM usage_journal"
	if whereClause != "" {
		sqlQuery += " WHERE " + whereClause
	}
	sqlQuery += " ORDER BY recorded_at DESC"

	limit := 100
	if q.Limit > 0 {
		limit = q.Limit
	}
	sqlQuery += fmt.Sprintf(" LIMIT %d", limit)

	if q.Offset > 0 {
		sqlQuery += fmt.Sprintf(" OFFSET %d", q.Offset)
	}

	rows, err := j.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, NewStorageError("sqlite", "query", err)
	}
	defer rows.Close()

	entries := []*Entry{}
	for rows.Next() {
		e, err := scanRow(rows)
		if err != nil {
			return nil, NewStorageError("sqlite", "scan", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, NewStorageError("sqlite", "query", err)
	}

	return entries, nil
}

// Count returns the number of entries matching the query filters.
func (j *SQLiteJournal) Count(ctx context.Context, q *Query) (int64, error) {
	whereClause, args := buildWhereClause(q)

	sqlQuery := "SELECT COUNT(*) FROM usage_journal"
	if whereClause != "" {
		sqlQuery += " WHERE " + whereClause
	}

	var count int64
	err := j.db.QueryRowContext(ctx, sqlQuery, args...).Scan(&count)
	if err != nil {
		return 0, NewStorageError("sqlite", "count", err)
	}

	return count, nil
}

// SumTokens returns the total tokens over countable entries for a subject
// recorded in [from, to).
func (j *SQLiteJournal) SumTokens(ctx context.Context, subjectID string, from, to time.Time) (int64, error) {
	query := `
		SELECT COALESCE(SUM(tokens_used), 0) FROM usage_journal
		WHERE subject_id = ? AND outcome IN (?, ?)
		  AND recorded_at >= ? AND recorded_at < ?
	`

	var sum int64
	err := j.db.QueryRowContext(ctx, query,
		subjectID, string(OutcomeCommitted), string(OutcomeError), from, to,
	).Scan(&sum)
	if err != nil {
		return 0, NewStorageError("sqlite", "sum_tokens", err)
	}

	return sum, nil
}

// Purge deletes entries recorded before the cutoff.
// Returns the number of entries deleted.
func (j *SQLiteJournal) Purge(ctx context.Context, before time.Time) (int64, error) {
	result, err := j.db.ExecContext(ctx, "DELETE FROM usage_journal WHERE recorded_at < ?", before)
	if err != nil {
		return 0, NewStorageError("sqlite", "purge", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, NewStorageError("sqlite", "purge", err)
	}

	return count, nil
}

// Close releases resources held by the journal backend.
func (j *SQLiteJournal) Close() error {
	if err := j.db.Close(); err != nil {
		return NewStorageError("sqlite", "close", err)
	}

	j.logger.Info("SQLite journal closed")
	return nil
}

// buildWhereClause builds a SQL WHERE clause from query filters.
// Returns the WHERE clause (without "WHERE" keyword) and the query arguments.
func buildWhereClause(q *Query) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	if q.SubjectID != "" {
		conditions = append(conditions, "subject_id = ?")
		args = append(args, q.SubjectID)
	}
	if q.CorrelationID != "" {
		conditions = append(conditions, "correlation_id = ?")
		args = append(args, q.CorrelationID)
	}
	if q.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, q.Kind)
	}
	if q.Outcome != "" {
		conditions = append(conditions, "outcome = ?")
		args = append(args, string(q.Outcome))
	}
	if q.StartTime != nil {
		conditions = append(conditions, "recorded_at >= ?")
		args = append(args, *q.StartTime)
	}
	if q.EndTime != nil {
		conditions = append(conditions, "recorded_at <= ?")
		args = append(args, *q.EndTime)
	}

	whereClause := ""
	for i, condition := range conditions {
		if i > 0 {
			whereClause += " AND "
		}
		whereClause += condition
	}

	return whereClause, args
}

// scanRow scans a database row into an Entry.
func scanRow(rows *sql.Rows) (*Entry, error) {
	var e Entry
	var correlationID, kind, errorDetail sql.NullString
	var outcome string

	err := rows.Scan(
		&e.ID, &e.SubjectID, &correlationID, &kind,
		&e.TokensUsed, &e.CostEstimate, &outcome, &errorDetail, &e.RecordedAt,
	)
	if err != nil {
		return nil, err
	}

	e.CorrelationID = correlationID.String
	e.Kind = kind.String
	e.ErrorDetail = errorDetail.String
	e.Outcome = Outcome(outcome)

	return &e, nil
}
