package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"mercator-hq/sentinel/pkg/audit"
	"mercator-hq/sentinel/pkg/policy"
)

// recordEntries writes n entries through a real recorder, one second apart,
// alternating actors and actions.
func recordEntries(t *testing.T, s audit.Storage, n int) []*audit.Entry {
	t.Helper()
	rec := audit.NewRecorder(s, audit.DefaultConfig())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var out []*audit.Entry
	for i := 0; i < n; i++ {
		e := &audit.Entry{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Actor:     audit.Actor{UID: fmt.Sprintf("user-%d", i%2), Role: "admin"},
			Action:    []string{audit.ActionPolicyBlock, audit.ActionRolloutAdvance}[i%2],
			Subject:   audit.Subject{TeamID: "team-a", Service: "svc", UID: fmt.Sprintf("subject-%d", i%3)},
			Input:     map[string]any{"service": "svc", "step": i},
			Policy:    audit.PolicyInfo{MatchedRules: []string{"runtimeOps.disabled"}, Risk: policy.SeverityHigh},
		}
		if _, err := rec.Record(context.Background(), e); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
		out = append(out, e)
	}
	return out
}

func runStorageTests(t *testing.T, newStorage func(t *testing.T) audit.Storage) {
	t.Run("GetVerifies", func(t *testing.T) {
		s := newStorage(t)
		entries := recordEntries(t, s, 1)

		got, err := s.Get(context.Background(), entries[0].ID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		ok, err := audit.Verify(got)
		if err != nil || !ok {
			t.Fatalf("Verify() after round trip = %v, %v", ok, err)
		}

		got.Action = "tampered"
		if ok, _ := audit.Verify(got); ok {
			t.Error("Verify() should fail after mutation")
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := newStorage(t)
		if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, audit.ErrNotFound) {
			t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("DuplicateID", func(t *testing.T) {
		s := newStorage(t)
		entries := recordEntries(t, s, 1)
		if err := s.Append(context.Background(), entries[0]); err == nil {
			t.Error("Append() with an existing ID should fail")
		}
	})

	t.Run("Query", func(t *testing.T) {
		s := newStorage(t)
		entries := recordEntries(t, s, 6)
		ctx := context.Background()

		tests := []struct {
			name    string
			query   *audit.Query
			wantIDs []string
		}{
			{"all newest first", &audit.Query{}, ids(entries, 5, 4, 3, 2, 1, 0)},
			{"nil query", nil, ids(entries, 5, 4, 3, 2, 1, 0)},
			{"by actor", &audit.Query{ActorUID: "user-1"}, ids(entries, 5, 3, 1)},
			{"by action", &audit.Query{Action: audit.ActionPolicyBlock}, ids(entries, 4, 2, 0)},
			{"by subject", &audit.Query{SubjectUID: "subject-0"}, ids(entries, 3, 0)},
			{"by team", &audit.Query{TeamID: "team-b"}, nil},
			{
				"time range inclusive",
				&audit.Query{Start: entries[1].Timestamp, End: entries[3].Timestamp},
				ids(entries, 3, 2, 1),
			},
			{"limit", &audit.Query{Limit: 2}, ids(entries, 5, 4)},
			{"offset", &audit.Query{Limit: 2, Offset: 2}, ids(entries, 3, 2)},
			{"offset without limit", &audit.Query{Offset: 4}, ids(entries, 1, 0)},
			{"offset past end", &audit.Query{Offset: 10}, nil},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := s.Query(ctx, tt.query)
				if err != nil {
					t.Fatalf("Query() error = %v", err)
				}
				if len(got) != len(tt.wantIDs) {
					t.Fatalf("Query() returned %d entries, want %d", len(got), len(tt.wantIDs))
				}
				for i, id := range tt.wantIDs {
					if got[i].ID != id {
						t.Errorf("entry[%d] = %s, want %s", i, got[i].ID, id)
					}
				}
			})
		}
	})

	t.Run("Count", func(t *testing.T) {
		s := newStorage(t)
		recordEntries(t, s, 5)
		n, err := s.Count(context.Background(), &audit.Query{ActorUID: "user-0", Limit: 1})
		if err != nil {
			t.Fatalf("Count() error = %v", err)
		}
		if n != 3 {
			t.Errorf("Count() = %d, want 3 (pagination ignored)", n)
		}
	})
}

func ids(entries []*audit.Entry, idx ...int) []string {
	out := make([]string, len(idx))
	for i, n := range idx {
		out[i] = entries[n].ID
	}
	return out
}

func TestMemoryStorage(t *testing.T) {
	runStorageTests(t, func(t *testing.T) audit.Storage {
		return NewMemoryStorage()
	})
}

func TestMemoryStorage_CopiesOnAppend(t *testing.T) {
	s := NewMemoryStorage()
	entries := recordEntries(t, s, 1)

	entries[0].Action = "changed after write"
	got, err := s.Get(context.Background(), entries[0].ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Action == "changed after write" {
		t.Error("caller mutation reached stored entry")
	}
}

func newSQLiteStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	cfg := DefaultSQLiteConfig()
	cfg.Path = filepath.Join(t.TempDir(), "audit.db")
	s, err := NewSQLiteStorage(cfg)
	if err != nil {
		t.Fatalf("NewSQLiteStorage() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStorage(t *testing.T) {
	runStorageTests(t, func(t *testing.T) audit.Storage {
		return newSQLiteStorage(t)
	})
}

func TestSQLiteStorage_AppendOnly(t *testing.T) {
	s := newSQLiteStorage(t)
	entries := recordEntries(t, s, 1)

	if _, err := s.ledger.db.Exec(`UPDATE audit_log SET action = 'x' WHERE id = ?`, entries[0].ID); err == nil {
		t.Error("UPDATE on audit_log should be rejected")
	}
	if _, err := s.ledger.db.Exec(`DELETE FROM audit_log WHERE id = ?`, entries[0].ID); err == nil {
		t.Error("DELETE on audit_log should be rejected")
	}

	n, err := s.Count(context.Background(), nil)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
}

func TestSQLiteStorage_CreatesParentDirectory(t *testing.T) {
	cfg := DefaultSQLiteConfig()
	cfg.Path = filepath.Join(t.TempDir(), "nested", "dir", "audit.db")
	s, err := NewSQLiteStorage(cfg)
	if err != nil {
		t.Fatalf("NewSQLiteStorage() error = %v", err)
	}
	s.Close()
}
