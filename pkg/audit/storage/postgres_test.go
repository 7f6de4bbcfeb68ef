package storage

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"mercator-hq/sentinel/pkg/audit"
	"mercator-hq/sentinel/pkg/policy"
)

func newMockPostgres(t *testing.T) (*PostgresStorage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresStorage(db), mock
}

func sampleEntry(t *testing.T) *audit.Entry {
	t.Helper()
	e := &audit.Entry{
		ID:        "entry-1",
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Actor:     audit.Actor{UID: "system", Role: "enforcer"},
		Action:    audit.ActionPolicyBlock,
		Subject:   audit.Subject{TeamID: "team-a", Service: "svc"},
		Policy:    audit.PolicyInfo{MatchedRules: []string{"runtimeOps.disabled"}, Risk: policy.SeverityHigh},
		PII:       audit.PIIInfo{Fields: []string{}},
	}
	sum, err := audit.ComputeHash(e)
	if err != nil {
		t.Fatalf("ComputeHash() error = %v", err)
	}
	e.Integrity.SHA256 = sum
	return e
}

func TestPostgresStorage_InitSchema(t *testing.T) {
	s, mock := newMockPostgres(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS audit_log")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresStorage_Append(t *testing.T) {
	s, mock := newMockPostgres(t)
	e := sampleEntry(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_log ("+insertColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)")).
		WithArgs("entry-1", e.Timestamp.UnixMicro(), "system", "", "team-a",
			audit.ActionPolicyBlock, "high", e.Integrity.SHA256, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := s.Append(context.Background(), e); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresStorage_AppendError(t *testing.T) {
	s, mock := newMockPostgres(t)
	mock.ExpectExec("INSERT INTO audit_log").WillReturnError(errors.New("connection reset"))

	err := s.Append(context.Background(), sampleEntry(t))
	var se *audit.StorageError
	if !errors.As(err, &se) {
		t.Fatalf("Append() error = %v, want *StorageError", err)
	}
	if se.Backend != "postgres" || se.Operation != "append" {
		t.Errorf("StorageError = %+v", se)
	}
}

func TestPostgresStorage_Get(t *testing.T) {
	s, mock := newMockPostgres(t)
	e := sampleEntry(t)
	body, _ := json.Marshal(e)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT body FROM audit_log WHERE id = $1")).
		WithArgs("entry-1").
		WillReturnRows(sqlmock.NewRows([]string{"body"}).AddRow(string(body)))

	got, err := s.Get(context.Background(), "entry-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok, _ := audit.Verify(got); !ok {
		t.Error("entry decoded from body should verify")
	}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT body FROM audit_log WHERE id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"body"}))

	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, audit.ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestPostgresStorage_Query(t *testing.T) {
	s, mock := newMockPostgres(t)
	e := sampleEntry(t)
	body, _ := json.Marshal(e)
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT body FROM audit_log WHERE ts_micros >= $1 AND actor_uid = $2 AND action = $3 "+
			"ORDER BY ts_micros DESC, seq DESC LIMIT $4 OFFSET $5")).
		WithArgs(start.UnixMicro(), "system", audit.ActionPolicyBlock, 10, 5).
		WillReturnRows(sqlmock.NewRows([]string{"body"}).AddRow(string(body)))

	got, err := s.Query(context.Background(), &audit.Query{
		Start:    start,
		ActorUID: "system",
		Action:   audit.ActionPolicyBlock,
		Limit:    10,
		Offset:   5,
	})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "entry-1" {
		t.Errorf("Query() = %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresStorage_QueryOffsetWithoutLimit(t *testing.T) {
	s, mock := newMockPostgres(t)
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY ts_micros DESC, seq DESC LIMIT ALL OFFSET $1")).
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"body"}))

	got, err := s.Query(context.Background(), &audit.Query{Offset: 3})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Query() = %d entries, want 0", len(got))
	}
}

func TestPostgresStorage_Count(t *testing.T) {
	s, mock := newMockPostgres(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM audit_log WHERE team_id = $1")).
		WithArgs("team-a").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	n, err := s.Count(context.Background(), &audit.Query{TeamID: "team-a"})
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 7 {
		t.Errorf("Count() = %d, want 7", n)
	}
}

func TestPostgresConfig_DSN(t *testing.T) {
	cfg := &PostgresConfig{Host: "db", Port: 5432, Database: "audit", User: "u", Password: "p"}
	want := "host=db port=5432 dbname=audit user=u password=p sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}
