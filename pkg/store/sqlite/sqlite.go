// Package sqlite provides a durable store backend on modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"mercator-hq/sentinel/pkg/policy"
	"mercator-hq/sentinel/pkg/snapshot"
	"mercator-hq/sentinel/pkg/store"
)

const (
	backendName = "sqlite"

	// singletonScope keys the override and rollout rows.
	singletonScope = "global"
)

// Config configures the SQLite backend.
type Config struct {
	// Path is the database file.
	Path string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// Store implements store.Store on a single SQLite file in WAL mode.
type Store struct {
	db        *sql.DB
	path      string
	logger    *slog.Logger
	closeOnce sync.Once

	putPolicyStmt    *sql.Stmt
	getPolicyStmt    *sql.Stmt
	getOverrideStmt  *sql.Stmt
	putOverrideStmt  *sql.Stmt
	getRolloutStmt   *sql.Stmt
	insertAlertStmt  *sql.Stmt
	putSnapshotStmt  *sql.Stmt
	latestSnapshotSt *sql.Stmt
}

var _ store.Store = (*Store)(nil)

// New opens (or creates) the database at cfg.Path.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
		cfg.Path, int(cfg.BusyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{
		db:     db,
		path:   cfg.Path,
		logger: slog.Default().With("component", "store.sqlite"),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	s.logger.Info("SQLite store opened", "path", cfg.Path)
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS policies (
		id TEXT PRIMARY KEY,
		document TEXT NOT NULL,
		compiled_at INTEGER NOT NULL,
		compiled_by TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS runtime_overrides (
		scope TEXT PRIMARY KEY,
		disabled TEXT NOT NULL,
		reason TEXT NOT NULL,
		updated_by TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		revision INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rollout_state (
		scope TEXT PRIMARY KEY,
		stage_index INTEGER NOT NULL,
		percent INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		approved_by TEXT NOT NULL,
		revision INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		type TEXT NOT NULL,
		resolved INTEGER NOT NULL DEFAULT 0,
		body TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at);
	CREATE INDEX IF NOT EXISTS idx_alerts_type ON alerts(type);

	CREATE TABLE IF NOT EXISTS snapshots (
		date TEXT NOT NULL,
		team_id TEXT NOT NULL,
		received_at INTEGER NOT NULL,
		body TEXT NOT NULL,
		PRIMARY KEY (date, team_id)
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_received_at ON snapshots(received_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) prepareStatements() error {
	var err error

	s.putPolicyStmt, err = s.db.Prepare(`
		INSERT INTO policies (id, document, compiled_at, compiled_by)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			document = excluded.document,
			compiled_at = excluded.compiled_at,
			compiled_by = excluded.compiled_by
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare put policy statement: %w", err)
	}

	s.getPolicyStmt, err = s.db.Prepare(`SELECT document FROM policies WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare get policy statement: %w", err)
	}

	s.getOverrideStmt, err = s.db.Prepare(`
		SELECT disabled, reason, updated_by, updated_at, revision
		FROM runtime_overrides WHERE scope = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare get override statement: %w", err)
	}

	// The revision bump happens inside the single upsert statement.
	s.putOverrideStmt, err = s.db.Prepare(`
		INSERT INTO runtime_overrides (scope, disabled, reason, updated_by, updated_at, revision)
		VALUES (?, ?, ?, ?, ?, 1)
		ON CONFLICT (scope) DO UPDATE SET
			disabled = excluded.disabled,
			reason = excluded.reason,
			updated_by = excluded.updated_by,
			updated_at = excluded.updated_at,
			revision = runtime_overrides.revision + 1
		RETURNING revision
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare put override statement: %w", err)
	}

	s.getRolloutStmt, err = s.db.Prepare(`
		SELECT stage_index, percent, updated_at, approved_by, revision
		FROM rollout_state WHERE scope = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare get rollout statement: %w", err)
	}

	s.insertAlertStmt, err = s.db.Prepare(`
		INSERT INTO alerts (id, created_at, type, resolved, body) VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert alert statement: %w", err)
	}

	s.putSnapshotStmt, err = s.db.Prepare(`
		INSERT INTO snapshots (date, team_id, received_at, body)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (date, team_id) DO UPDATE SET
			received_at = excluded.received_at,
			body = excluded.body
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare put snapshot statement: %w", err)
	}

	s.latestSnapshotSt, err = s.db.Prepare(`
		SELECT body FROM snapshots ORDER BY received_at DESC LIMIT 1
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare latest snapshot statement: %w", err)
	}

	return nil
}

// PutPolicy upserts doc.
func (s *Store) PutPolicy(ctx context.Context, doc *policy.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return store.NewStoreError(backendName, "put_policy", fmt.Errorf("failed to marshal policy: %w", err))
	}
	_, err = s.putPolicyStmt.ExecContext(ctx, doc.ID, string(data), doc.CompiledAt.UnixNano(), doc.CompiledBy)
	if err != nil {
		return store.NewStoreError(backendName, "put_policy", err)
	}
	return nil
}

// GetPolicy loads the document stored under id.
func (s *Store) GetPolicy(ctx context.Context, id string) (*policy.Document, error) {
	var data string
	err := s.getPolicyStmt.QueryRowContext(ctx, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, store.NewStoreError(backendName, "get_policy", err)
	}
	var doc policy.Document
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, store.NewStoreError(backendName, "get_policy", fmt.Errorf("failed to unmarshal policy: %w", err))
	}
	return &doc, nil
}

// ListPolicies returns every document ordered by id.
func (s *Store) ListPolicies(ctx context.Context) ([]*policy.Document, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT document FROM policies ORDER BY id`)
	if err != nil {
		return nil, store.NewStoreError(backendName, "list_policies", err)
	}
	defer rows.Close()

	var out []*policy.Document
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, store.NewStoreError(backendName, "list_policies", err)
		}
		var doc policy.Document
		if err := json.Unmarshal([]byte(data), &doc); err != nil {
			return nil, store.NewStoreError(backendName, "list_policies", err)
		}
		out = append(out, &doc)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError(backendName, "list_policies", err)
	}
	return out, nil
}

// GetOverride loads the runtime override singleton.
func (s *Store) GetOverride(ctx context.Context) (*store.RuntimeOverride, error) {
	var (
		disabled  string
		o         store.RuntimeOverride
		updatedAt int64
	)
	err := s.getOverrideStmt.QueryRowContext(ctx, singletonScope).
		Scan(&disabled, &o.Reason, &o.UpdatedBy, &updatedAt, &o.Revision)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, store.NewStoreError(backendName, "get_override", err)
	}
	if err := json.Unmarshal([]byte(disabled), &o.Disabled); err != nil {
		return nil, store.NewStoreError(backendName, "get_override", err)
	}
	o.UpdatedAt = fromNanos(updatedAt)
	return &o, nil
}

// ReplaceOverride overwrites the runtime override singleton.
func (s *Store) ReplaceOverride(ctx context.Context, o store.RuntimeOverride) (*store.RuntimeOverride, error) {
	if o.Disabled == nil {
		o.Disabled = []string{}
	}
	disabled, err := json.Marshal(o.Disabled)
	if err != nil {
		return nil, store.NewStoreError(backendName, "replace_override", err)
	}
	err = s.putOverrideStmt.QueryRowContext(ctx,
		singletonScope, string(disabled), o.Reason, o.UpdatedBy, o.UpdatedAt.UnixNano(),
	).Scan(&o.Revision)
	if err != nil {
		return nil, store.NewStoreError(backendName, "replace_override", err)
	}
	o.UpdatedAt = fromNanos(o.UpdatedAt.UnixNano())
	return &o, nil
}

// GetRollout loads the rollout singleton.
func (s *Store) GetRollout(ctx context.Context) (store.RolloutState, error) {
	var (
		st        store.RolloutState
		updatedAt int64
	)
	err := s.getRolloutStmt.QueryRowContext(ctx, singletonScope).
		Scan(&st.StageIndex, &st.Percent, &updatedAt, &st.ApprovedBy, &st.Revision)
	if errors.Is(err, sql.ErrNoRows) {
		return store.InitialRollout(), nil
	}
	if err != nil {
		return store.RolloutState{}, store.NewStoreError(backendName, "get_rollout", err)
	}
	st.UpdatedAt = fromNanos(updatedAt)
	return st, nil
}

// CompareAndSwapRollout writes next only while the stored stage index
// equals expectedIdx. The condition is evaluated by SQLite in the same
// statement as the write.
func (s *Store) CompareAndSwapRollout(ctx context.Context, expectedIdx int, next store.RolloutState) (store.RolloutState, error) {
	var row *sql.Row
	if expectedIdx == store.InitialRollout().StageIndex {
		row = s.db.QueryRowContext(ctx, `
			INSERT INTO rollout_state (scope, stage_index, percent, updated_at, approved_by, revision)
			VALUES (?, ?, ?, ?, ?, 1)
			ON CONFLICT (scope) DO NOTHING
			RETURNING revision
		`, singletonScope, next.StageIndex, next.Percent, next.UpdatedAt.UnixNano(), next.ApprovedBy)
	} else {
		row = s.db.QueryRowContext(ctx, `
			UPDATE rollout_state SET
				stage_index = ?, percent = ?, updated_at = ?, approved_by = ?, revision = revision + 1
			WHERE scope = ? AND stage_index = ?
			RETURNING revision
		`, next.StageIndex, next.Percent, next.UpdatedAt.UnixNano(), next.ApprovedBy, singletonScope, expectedIdx)
	}

	err := row.Scan(&next.Revision)
	if errors.Is(err, sql.ErrNoRows) {
		cur, getErr := s.GetRollout(ctx)
		if getErr != nil {
			return store.RolloutState{}, getErr
		}
		return cur, store.ErrConflict
	}
	if err != nil {
		return store.RolloutState{}, store.NewStoreError(backendName, "cas_rollout", err)
	}
	next.UpdatedAt = fromNanos(next.UpdatedAt.UnixNano())
	return next, nil
}

// AppendAlert inserts a new alert row.
func (s *Store) AppendAlert(ctx context.Context, a *store.AlertRecord) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	body, err := json.Marshal(a)
	if err != nil {
		return store.NewStoreError(backendName, "append_alert", err)
	}
	_, err = s.insertAlertStmt.ExecContext(ctx, a.ID, a.CreatedAt.UnixNano(), a.Type, boolToInt(a.Resolved), string(body))
	if err != nil {
		return store.NewStoreError(backendName, "append_alert", err)
	}
	return nil
}

// ListAlerts returns matching alerts newest first.
func (s *Store) ListAlerts(ctx context.Context, f store.AlertFilter) ([]*store.AlertRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}
	if f.Resolved != nil {
		where = append(where, "resolved = ?")
		args = append(args, boolToInt(*f.Resolved))
	}
	if !f.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, f.Since.UnixNano())
	}

	query := "SELECT body FROM alerts"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.NewStoreError(backendName, "list_alerts", err)
	}
	defer rows.Close()

	var out []*store.AlertRecord
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, store.NewStoreError(backendName, "list_alerts", err)
		}
		var a store.AlertRecord
		if err := json.Unmarshal([]byte(body), &a); err != nil {
			return nil, store.NewStoreError(backendName, "list_alerts", err)
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError(backendName, "list_alerts", err)
	}
	return out, nil
}

// ResolveAlert marks an alert resolved inside a transaction.
func (s *Store) ResolveAlert(ctx context.Context, id, by string, at time.Time) (*store.AlertRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, store.NewStoreError(backendName, "resolve_alert", err)
	}
	defer tx.Rollback()

	var body string
	err = tx.QueryRowContext(ctx, `SELECT body FROM alerts WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, store.NewStoreError(backendName, "resolve_alert", err)
	}

	var a store.AlertRecord
	if err := json.Unmarshal([]byte(body), &a); err != nil {
		return nil, store.NewStoreError(backendName, "resolve_alert", err)
	}
	if a.Resolved {
		return &a, nil
	}

	at = at.UTC()
	a.Resolved = true
	a.ResolvedAt = &at
	a.ResolvedBy = by
	updated, err := json.Marshal(&a)
	if err != nil {
		return nil, store.NewStoreError(backendName, "resolve_alert", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE alerts SET resolved = 1, body = ? WHERE id = ?`, string(updated), id); err != nil {
		return nil, store.NewStoreError(backendName, "resolve_alert", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, store.NewStoreError(backendName, "resolve_alert", err)
	}
	return &a, nil
}

// PutSnapshot upserts snap keyed by date and team.
func (s *Store) PutSnapshot(ctx context.Context, snap snapshot.Snapshot) error {
	if snap.ReceivedAt.IsZero() {
		snap.ReceivedAt = time.Now().UTC()
	}
	body, err := json.Marshal(snap)
	if err != nil {
		return store.NewStoreError(backendName, "put_snapshot", err)
	}
	_, err = s.putSnapshotStmt.ExecContext(ctx, snap.Date, snap.TeamID, snap.ReceivedAt.UnixNano(), string(body))
	if err != nil {
		return store.NewStoreError(backendName, "put_snapshot", err)
	}
	return nil
}

// LatestSnapshot returns the most recently received snapshot.
func (s *Store) LatestSnapshot(ctx context.Context) (*snapshot.Snapshot, error) {
	var body string
	err := s.latestSnapshotSt.QueryRowContext(ctx).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, store.NewStoreError(backendName, "latest_snapshot", err)
	}
	var snap snapshot.Snapshot
	if err := json.Unmarshal([]byte(body), &snap); err != nil {
		return nil, store.NewStoreError(backendName, "latest_snapshot", err)
	}
	return &snap, nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return store.NewStoreError(backendName, "ping", err)
	}
	return nil
}

// Close checkpoints the WAL, closes prepared statements and the database.
// It is safe to call more than once.
func (s *Store) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			s.logger.Warn("WAL checkpoint on close failed", "error", err)
		}
		for _, stmt := range []*sql.Stmt{
			s.putPolicyStmt, s.getPolicyStmt, s.getOverrideStmt, s.putOverrideStmt,
			s.getRolloutStmt, s.insertAlertStmt, s.putSnapshotStmt, s.latestSnapshotSt,
		} {
			if stmt != nil {
				stmt.Close()
			}
		}
		closeErr = s.db.Close()
	})
	return closeErr
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
