package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"mercator-hq/sentinel/pkg/audit"
)

// sqlLedger holds the query logic shared by the SQLite and PostgreSQL
// backends. Both store the canonical entry JSON in body plus indexed
// filter columns; entries are always decoded from body so the hash
// recomputes exactly.
type sqlLedger struct {
	db          *sql.DB
	backend     string
	placeholder func(n int) string

	// insertSeq orders rows written in the same microsecond.
	insertSeq string
}

const insertColumns = "id, ts_micros, actor_uid, subject_uid, team_id, action, risk, sha256, body"

func (l *sqlLedger) append(ctx context.Context, e *audit.Entry) error {
	body, err := json.Marshal(e)
	if err != nil {
		return audit.NewStorageError(l.backend, "append", err)
	}
	ph := make([]string, 9)
	for i := range ph {
		ph[i] = l.placeholder(i + 1)
	}
	query := fmt.Sprintf("INSERT INTO audit_log (%s) VALUES (%s)", insertColumns, strings.Join(ph, ", "))
	_, err = l.db.ExecContext(ctx, query,
		e.ID, e.Timestamp.UnixMicro(), e.Actor.UID, e.Subject.UID, e.Subject.TeamID,
		e.Action, string(e.Policy.Risk), e.Integrity.SHA256, string(body),
	)
	if err != nil {
		return audit.NewStorageError(l.backend, "append", err)
	}
	return nil
}

func (l *sqlLedger) get(ctx context.Context, id string) (*audit.Entry, error) {
	var body string
	err := l.db.QueryRowContext(ctx,
		"SELECT body FROM audit_log WHERE id = "+l.placeholder(1), id,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, audit.ErrNotFound
	}
	if err != nil {
		return nil, audit.NewStorageError(l.backend, "get", err)
	}
	return l.decode(body, "get")
}

func (l *sqlLedger) query(ctx context.Context, q *audit.Query) ([]*audit.Entry, error) {
	where, args := l.where(q)
	query := "SELECT body FROM audit_log" + where + " ORDER BY ts_micros DESC, " + l.insertSeq + " DESC"
	if q != nil && q.Limit > 0 {
		args = append(args, q.Limit)
		query += " LIMIT " + l.placeholder(len(args))
	}
	if q != nil && q.Offset > 0 {
		if q.Limit <= 0 {
			// OFFSET requires LIMIT in SQLite; -1 and ALL both mean unbounded.
			query += l.unboundedLimit()
		}
		args = append(args, q.Offset)
		query += " OFFSET " + l.placeholder(len(args))
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, audit.NewStorageError(l.backend, "query", err)
	}
	defer rows.Close()

	out := []*audit.Entry{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, audit.NewStorageError(l.backend, "query", err)
		}
		e, err := l.decode(body, "query")
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, audit.NewStorageError(l.backend, "query", err)
	}
	return out, nil
}

func (l *sqlLedger) count(ctx context.Context, q *audit.Query) (int64, error) {
	where, args := l.where(q)
	var n int64
	if err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_log"+where, args...).Scan(&n); err != nil {
		return 0, audit.NewStorageError(l.backend, "count", err)
	}
	return n, nil
}

func (l *sqlLedger) where(q *audit.Query) (string, []any) {
	if q == nil {
		return "", nil
	}
	var (
		clauses []string
		args    []any
	)
	add := func(column string, value any) {
		args = append(args, value)
		clauses = append(clauses, column+l.placeholder(len(args)))
	}
	if !q.Start.IsZero() {
		add("ts_micros >= ", q.Start.UnixMicro())
	}
	if !q.End.IsZero() {
		add("ts_micros <= ", q.End.UnixMicro())
	}
	if q.ActorUID != "" {
		add("actor_uid = ", q.ActorUID)
	}
	if q.SubjectUID != "" {
		add("subject_uid = ", q.SubjectUID)
	}
	if q.TeamID != "" {
		add("team_id = ", q.TeamID)
	}
	if q.Action != "" {
		add("action = ", q.Action)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (l *sqlLedger) unboundedLimit() string {
	if l.backend == "postgres" {
		return " LIMIT ALL"
	}
	return " LIMIT -1"
}

func (l *sqlLedger) decode(body, op string) (*audit.Entry, error) {
	var e audit.Entry
	if err := json.Unmarshal([]byte(body), &e); err != nil {
		return nil, audit.NewStorageError(l.backend, op, fmt.Errorf("decode entry: %w", err))
	}
	return &e, nil
}
