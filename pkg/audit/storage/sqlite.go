package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"mercator-hq/sentinel/pkg/audit"
)

// SQLiteConfig contains configuration for the SQLite storage backend.
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
		Path:         "data/audit.db",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
	}
}

// sqliteSchema creates the ledger table. The triggers reject UPDATE and
// DELETE at the database level.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audit_log (
    id TEXT PRIMARY KEY,
    ts_micros INTEGER NOT NULL,
    actor_uid TEXT NOT NULL,
    subject_uid TEXT NOT NULL,
    team_id TEXT NOT NULL,
    action TEXT NOT NULL,
    risk TEXT NOT NULL,
    sha256 TEXT NOT NULL,
    body TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_log(ts_micros);
CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_log(actor_uid, ts_micros);
CREATE INDEX IF NOT EXISTS idx_audit_subject ON audit_log(subject_uid, ts_micros);
CREATE INDEX IF NOT EXISTS idx_audit_team ON audit_log(team_id, ts_micros);
CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_log(action, ts_micros);

CREATE TRIGGER IF NOT EXISTS audit_log_no_update
BEFORE UPDATE ON audit_log
BEGIN
    SELECT RAISE(ABORT, 'audit_log is append-only');
END;

CREATE TRIGGER IF NOT EXISTS audit_log_no_delete
BEFORE DELETE ON audit_log
BEGIN
    SELECT RAISE(ABORT, 'audit_log is append-only');
END;
`

// SQLiteStorage implements audit.Storage using SQLite.
type SQLiteStorage struct {
	ledger sqlLedger
	config *SQLiteConfig
	logger *slog.Logger
}

var _ audit.Storage = (*SQLiteStorage)(nil)

// NewSQLiteStorage opens the ledger database and creates its schema.
func NewSQLiteStorage(config *SQLiteConfig) (*SQLiteStorage, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}
	if config.MaxOpenConns <= 0 {
		config.MaxOpenConns = 10
	}
	if config.MaxIdleConns <= 0 {
		config.MaxIdleConns = 5
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = 5 * time.Second
	}

	logger := slog.Default().With("component", "audit.storage.sqlite")

	if dir := filepath.Dir(config.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, audit.NewStorageError("sqlite", "open", err)
		}
	}

	db, err := sql.Open("sqlite3", sqliteDSN(config))
	if err != nil {
		return nil, audit.NewStorageError("sqlite", "open", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)

	s := &SQLiteStorage{
		ledger: sqlLedger{
			db:          db,
			backend:     "sqlite",
			placeholder: func(int) string { return "?" },
			insertSeq:   "rowid",
		},
		config: config,
		logger: logger,
	}

	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite audit storage initialized",
		"path", config.Path,
		"wal_mode", config.WALMode,
		"max_open_conns", config.MaxOpenConns,
	)
	return s, nil
}

// sqliteDSN carries pragmas in the DSN so every pooled connection gets
// them, not only the one that happens to run a PRAGMA statement.
func sqliteDSN(config *SQLiteConfig) string {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d", config.Path, config.BusyTimeout.Milliseconds())
	if config.WALMode {
		dsn += "&_journal_mode=WAL"
	}
	return dsn
}

func (s *SQLiteStorage) initialize() error {
	if _, err := s.ledger.db.Exec(sqliteSchema); err != nil {
		return audit.NewStorageError("sqlite", "create_schema", err)
	}
	return nil
}

// Append inserts e.
func (s *SQLiteStorage) Append(ctx context.Context, e *audit.Entry) error {
	return s.ledger.append(ctx, e)
}

// Get returns the entry with id.
func (s *SQLiteStorage) Get(ctx context.Context, id string) (*audit.Entry, error) {
	return s.ledger.get(ctx, id)
}

// Query returns matching entries newest first.
func (s *SQLiteStorage) Query(ctx context.Context, q *audit.Query) ([]*audit.Entry, error) {
	return s.ledger.query(ctx, q)
}

// Count returns the number of matching entries.
func (s *SQLiteStorage) Count(ctx context.Context, q *audit.Query) (int64, error) {
	return s.ledger.count(ctx, q)
}

// Ping checks the database connection.
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	return s.ledger.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	s.logger.Info("closing SQLite audit storage")
	return s.ledger.db.Close()
}
