package directory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteDirectory resolves subjects from a subjects table in a SQLite
// database owned and mutated by an external identity/billing system. The
// directory opens the database read-only and never writes to it.
//
// Expected schema:
//
//	CREATE TABLE subjects (
//	    subject_id            TEXT PRIMARY KEY,
//	    daily_token_ceiling   INTEGER NOT NULL,
//	    daily_request_ceiling INTEGER NOT NULL,
//	    active                INTEGER NOT NULL DEFAULT 1
//	);
type SQLiteDirectory struct {
	db *sql.DB
}

// SQLiteDirectoryConfig configures the SQLite directory.
type SQLiteDirectoryConfig struct {
	// Path is the database file holding the subjects table.
	Path string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// NewSQLiteDirectory opens a read-only directory over an external subjects
// table.
func NewSQLiteDirectory(cfg SQLiteDirectoryConfig) (*SQLiteDirectory, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("directory db path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("%s?mode=ro&_busy_timeout=%d", cfg.Path, int(cfg.BusyTimeout.Milliseconds()))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open directory database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	return &SQLiteDirectory{db: db}, nil
}

// Resolve returns the subject record for id.
func (d *SQLiteDirectory) Resolve(ctx context.Context, id string) (*Subject, error) {
	if id == "" {
		return nil, fmt.Errorf("subject id cannot be empty")
	}

	var s Subject
	var active int
	err := d.db.QueryRowContext(ctx,
		`SELECT subject_id, daily_token_ceiling, daily_request_ceiling, active
		 FROM subjects WHERE subject_id = ?`,
		id,
	).Scan(&s.ID, &s.DailyTokenCeiling, &s.DailyRequestCeiling, &active)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("resolve %q: %w", id, ErrSubjectUnknown)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve subject %q: %w", id, err)
	}

	s.Active = active != 0
	return &s, nil
}

// Close releases the database handle.
func (d *SQLiteDirectory) Close() error {
	return d.db.Close()
}
