package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"

	_ "github.com/lib/pq"

	"mercator-hq/sentinel/pkg/audit"
)

// PostgresConfig contains connection settings for the PostgreSQL backend.
type PostgresConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string

	// SSLMode is passed through to lib/pq. Default: "disable"
	SSLMode string

	// MaxOpenConns bounds the pool. Default: 10
	MaxOpenConns int
}

// DSN renders a lib/pq key/value connection string.
func (c *PostgresConfig) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Database, c.User, c.Password, sslMode)
}

// PostgresSchema creates the ledger table and the append-only trigger.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS audit_log (
    seq BIGSERIAL,
    id TEXT PRIMARY KEY,
    ts_micros BIGINT NOT NULL,
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

CREATE OR REPLACE FUNCTION audit_log_immutable() RETURNS trigger AS $$
BEGIN
    RAISE EXCEPTION 'audit_log is append-only';
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS audit_log_no_mutation ON audit_log;
CREATE TRIGGER audit_log_no_mutation
BEFORE UPDATE OR DELETE ON audit_log
FOR EACH ROW EXECUTE FUNCTION audit_log_immutable();
`

// PostgresStorage implements audit.Storage using PostgreSQL.
type PostgresStorage struct {
	ledger sqlLedger
	logger *slog.Logger
}

var _ audit.Storage = (*PostgresStorage)(nil)

// NewPostgresStorage wraps an open database handle. The schema is not
// created; call InitSchema or use OpenPostgres.
func NewPostgresStorage(db *sql.DB) *PostgresStorage {
	return &PostgresStorage{
		ledger: sqlLedger{
			db:          db,
			backend:     "postgres",
			placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
			insertSeq:   "seq",
		},
		logger: slog.Default().With("component", "audit.storage.postgres"),
	}
}

// OpenPostgres connects with cfg, verifies connectivity and creates the
// schema.
func OpenPostgres(ctx context.Context, cfg *PostgresConfig) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, audit.NewStorageError("postgres", "open", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, audit.NewStorageError("postgres", "ping", err)
	}

	s := NewPostgresStorage(db)
	if err := s.InitSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	s.logger.Info("PostgreSQL audit storage initialized",
		"host", cfg.Host,
		"database", cfg.Database,
	)
	return s, nil
}

// InitSchema creates the ledger table if it does not exist.
func (s *PostgresStorage) InitSchema(ctx context.Context) error {
	if _, err := s.ledger.db.ExecContext(ctx, PostgresSchema); err != nil {
		return audit.NewStorageError("postgres", "create_schema", err)
	}
	return nil
}

// Append inserts e.
func (s *PostgresStorage) Append(ctx context.Context, e *audit.Entry) error {
	return s.ledger.append(ctx, e)
}

// Get returns the entry with id.
func (s *PostgresStorage) Get(ctx context.Context, id string) (*audit.Entry, error) {
	return s.ledger.get(ctx, id)
}

// Query returns matching entries newest first.
func (s *PostgresStorage) Query(ctx context.Context, q *audit.Query) ([]*audit.Entry, error) {
	return s.ledger.query(ctx, q)
}

// Count returns the number of matching entries.
func (s *PostgresStorage) Count(ctx context.Context, q *audit.Query) (int64, error) {
	return s.ledger.count(ctx, q)
}

// Ping checks the database connection.
func (s *PostgresStorage) Ping(ctx context.Context) error {
	return s.ledger.db.PingContext(ctx)
}

// Close closes the database.
func (s *PostgresStorage) Close() error {
	return s.ledger.db.Close()
}
