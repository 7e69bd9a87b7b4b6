package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteLedger implements Ledger using SQLite for persistence. It is suitable
// for single-instance deployments where counters must survive restarts.
//
// The database runs in write-ahead log (WAL) mode with a single-writer
// connection pool. Window creation uses INSERT OR IGNORE and the conditional
// increment is a single UPDATE with the ceiling guard in its WHERE clause, so
// both are atomic at the storage engine without read-modify-write races.
type SQLiteLedger struct {
	db               *sql.DB
	dbPath           string
	snapshotInterval time.Duration
	done             chan struct{}
	closeOnce        sync.Once

	now func() time.Time
}

// SQLiteLedgerConfig configures the SQLite ledger.
type SQLiteLedgerConfig struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// SnapshotInterval is how often to checkpoint the WAL.
	// Default: 5 minutes
	SnapshotInterval time.Duration

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// NewSQLiteLedger creates a SQLite ledger with default settings.
func NewSQLiteLedger(dbPath string) (*SQLiteLedger, error) {
	return NewSQLiteLedgerWithConfig(SQLiteLedgerConfig{DBPath: dbPath})
}

// NewSQLiteLedgerWithConfig creates a SQLite ledger with custom configuration.
func NewSQLiteLedgerWithConfig(cfg SQLiteLedgerConfig) (*SQLiteLedger, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.SnapshotInterval == 0 {
		cfg.SnapshotInterval = 5 * time.Minute
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
		cfg.DBPath, int(cfg.BusyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, NewStorageError("sqlite", "open", err)
	}

	// SQLite only supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	l := &SQLiteLedger{
		db:               db,
		dbPath:           cfg.DBPath,
		snapshotInterval: cfg.SnapshotInterval,
		done:             make(chan struct{}),
		now:              time.Now,
	}

	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	go l.checkpointLoop()

	return l, nil
}

// initSchema creates the ledger tables if they do not exist.
func (l *SQLiteLedger) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS daily_quota (
		subject_id    TEXT NOT NULL,
		day           TEXT NOT NULL,
		tokens_used   INTEGER NOT NULL DEFAULT 0 CHECK (tokens_used >= 0),
		requests_made INTEGER NOT NULL DEFAULT 0 CHECK (requests_made >= 0),
		last_updated  INTEGER NOT NULL,
		PRIMARY KEY (subject_id, day)
	);

	CREATE TABLE IF NOT EXISTS system_hour_window (
		hour          INTEGER NOT NULL PRIMARY KEY,
		tokens_used   INTEGER NOT NULL DEFAULT 0 CHECK (tokens_used >= 0),
		requests_made INTEGER NOT NULL DEFAULT 0 CHECK (requests_made >= 0),
		last_updated  INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_daily_quota_day ON daily_quota(day);
	`

	if _, err := l.db.Exec(schema); err != nil {
		return NewStorageError("sqlite", "init_schema", err)
	}
	return nil
}

// ReserveDay atomically applies the conditional increment for a daily window.
func (l *SQLiteLedger) ReserveDay(ctx context.Context, subject string, day DayKey, tokens, tokenCeiling, requestCeiling int64) (Counters, bool, error) {
	if subject == "" {
		return Counters{}, false, fmt.Errorf("subject cannot be empty")
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return Counters{}, false, NewStorageError("sqlite", "reserve_day", err)
	}
	defer tx.Rollback()

	now := l.now().Unix()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO daily_quota (subject_id, day, tokens_used, requests_made, last_updated)
		 VALUES (?, ?, 0, 0, ?)`,
		subject, string(day), now,
	); err != nil {
		return Counters{}, false, NewStorageError("sqlite", "reserve_day", err)
	}

	// The ceiling guard lives in the WHERE clause: the increment applies
	// only when the result stays within both ceilings.
	res, err := tx.ExecContext(ctx,
		`UPDATE daily_quota
		 SET tokens_used = tokens_used + ?, requests_made = requests_made + 1, last_updated = ?
		 WHERE subject_id = ? AND day = ?
		   AND tokens_used + ? <= ? AND requests_made + 1 <= ?`,
		tokens, now, subject, string(day), tokens, tokenCeiling, requestCeiling,
	)
	if err != nil {
		return Counters{}, false, NewStorageError("sqlite", "reserve_day", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Counters{}, false, NewStorageError("sqlite", "reserve_day", err)
	}

	counters, err := l.scanDayTx(ctx, tx, subject, day)
	if err != nil {
		return Counters{}, false, err
	}

	if err := tx.Commit(); err != nil {
		return Counters{}, false, NewStorageError("sqlite", "reserve_day", err)
	}

	return counters, affected > 0, nil
}

// AdjustDay applies unconditional deltas to a daily window.
func (l *SQLiteLedger) AdjustDay(ctx context.Context, subject string, day DayKey, tokenDelta, requestDelta int64) (Counters, error) {
	if subject == "" {
		return Counters{}, fmt.Errorf("subject cannot be empty")
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return Counters{}, NewStorageError("sqlite", "adjust_day", err)
	}
	defer tx.Rollback()

	now := l.now().Unix()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO daily_quota (subject_id, day, tokens_used, requests_made, last_updated)
		 VALUES (?, ?, 0, 0, ?)`,
		subject, string(day), now,
	); err != nil {
		return Counters{}, NewStorageError("sqlite", "adjust_day", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE daily_quota
		 SET tokens_used = MAX(0, tokens_used + ?), requests_made = MAX(0, requests_made + ?), last_updated = ?
		 WHERE subject_id = ? AND day = ?`,
		tokenDelta, requestDelta, now, subject, string(day),
	); err != nil {
		return Counters{}, NewStorageError("sqlite", "adjust_day", err)
	}

	counters, err := l.scanDayTx(ctx, tx, subject, day)
	if err != nil {
		return Counters{}, err
	}

	if err := tx.Commit(); err != nil {
		return Counters{}, NewStorageError("sqlite", "adjust_day", err)
	}

	return counters, nil
}

// DayCounters returns (and lazily creates) the daily window.
func (l *SQLiteLedger) DayCounters(ctx context.Context, subject string, day DayKey) (Counters, error) {
	return l.AdjustDay(ctx, subject, day, 0, 0)
}

// AdjustHour applies unconditional deltas to the system hour window.
func (l *SQLiteLedger) AdjustHour(ctx context.Context, hour HourKey, tokenDelta, requestDelta int64) (Counters, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return Counters{}, NewStorageError("sqlite", "adjust_hour", err)
	}
	defer tx.Rollback()

	now := l.now().Unix()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO system_hour_window (hour, tokens_used, requests_made, last_updated)
		 VALUES (?, 0, 0, ?)`,
		int64(hour), now,
	); err != nil {
		return Counters{}, NewStorageError("sqlite", "adjust_hour", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE system_hour_window
		 SET tokens_used = MAX(0, tokens_used + ?), requests_made = MAX(0, requests_made + ?), last_updated = ?
		 WHERE hour = ?`,
		tokenDelta, requestDelta, now, int64(hour),
	); err != nil {
		return Counters{}, NewStorageError("sqlite", "adjust_hour", err)
	}

	var c Counters
	var lastUpdated int64
	err = tx.QueryRowContext(ctx,
		`SELECT tokens_used, requests_made, last_updated FROM system_hour_window WHERE hour = ?`,
		int64(hour),
	).Scan(&c.Tokens, &c.Requests, &lastUpdated)
	if err != nil {
		return Counters{}, NewStorageError("sqlite", "adjust_hour", err)
	}
	c.LastUpdated = time.Unix(lastUpdated, 0)

	if err := tx.Commit(); err != nil {
		return Counters{}, NewStorageError("sqlite", "adjust_hour", err)
	}

	return c, nil
}

// HourCounters returns (and lazily creates) the system hour window.
func (l *SQLiteLedger) HourCounters(ctx context.Context, hour HourKey) (Counters, error) {
	return l.AdjustHour(ctx, hour, 0, 0)
}

// PurgeDays deletes daily rows strictly older than before.
func (l *SQLiteLedger) PurgeDays(ctx context.Context, before DayKey) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM daily_quota WHERE day < ?`, string(before))
	if err != nil {
		return 0, NewStorageError("sqlite", "purge_days", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, NewStorageError("sqlite", "purge_days", err)
	}
	return deleted, nil
}

// PurgeHours deletes hour rows strictly older than before.
func (l *SQLiteLedger) PurgeHours(ctx context.Context, before HourKey) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM system_hour_window WHERE hour < ?`, int64(before))
	if err != nil {
		return 0, NewStorageError("sqlite", "purge_hours", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, NewStorageError("sqlite", "purge_hours", err)
	}
	return deleted, nil
}

// Close releases database resources. Close is idempotent.
func (l *SQLiteLedger) Close() error {
	var closeErr error

	l.closeOnce.Do(func() {
		close(l.done)
		if l.db != nil {
			_, _ = l.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
			closeErr = l.db.Close()
		}
	})

	return closeErr
}

// scanDayTx reads a daily row inside a transaction.
func (l *SQLiteLedger) scanDayTx(ctx context.Context, tx *sql.Tx, subject string, day DayKey) (Counters, error) {
	var c Counters
	var lastUpdated int64
	err := tx.QueryRowContext(ctx,
		`SELECT tokens_used, requests_made, last_updated FROM daily_quota WHERE subject_id = ? AND day = ?`,
		subject, string(day),
	).Scan(&c.Tokens, &c.Requests, &lastUpdated)
	if err != nil {
		return Counters{}, NewStorageError("sqlite", "scan_day", err)
	}
	c.LastUpdated = time.Unix(lastUpdated, 0)
	return c, nil
}

// checkpointLoop runs periodic WAL checkpoints.
func (l *SQLiteLedger) checkpointLoop() {
	ticker := time.NewTicker(l.snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = l.db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
		case <-l.done:
			return
		}
	}
}
