package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"mercator-hq/sentinel/pkg/audit"
)

// MemoryStorage implements audit.Storage using an in-memory map.
// Intended for tests and single-process development only.
type MemoryStorage struct {
	entries map[string][]byte
	order   []string
	mu      sync.RWMutex
}

var _ audit.Storage = (*MemoryStorage)(nil)

// NewMemoryStorage creates a new in-memory storage backend.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		entries: make(map[string][]byte),
	}
}

// Append stores a serialized copy of e, so later caller mutation does not
// reach the stored entry.
func (s *MemoryStorage) Append(ctx context.Context, e *audit.Entry) error {
	if err := ctx.Err(); err != nil {
		return audit.NewStorageError("memory", "append", err)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return audit.NewStorageError("memory", "append", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[e.ID]; exists {
		return audit.NewStorageError("memory", "append", fmt.Errorf("duplicate entry id %s", e.ID))
	}
	s.entries[e.ID] = data
	s.order = append(s.order, e.ID)
	return nil
}

// Get returns the entry with id.
func (s *MemoryStorage) Get(ctx context.Context, id string) (*audit.Entry, error) {
	s.mu.RLock()
	data, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return nil, audit.ErrNotFound
	}
	return decode(data, "get")
}

// Query returns matching entries newest first.
func (s *MemoryStorage) Query(ctx context.Context, q *audit.Query) ([]*audit.Entry, error) {
	matched, err := s.matching(q)
	if err != nil {
		return nil, err
	}
	return paginate(matched, q), nil
}

// Count returns the number of matching entries.
func (s *MemoryStorage) Count(ctx context.Context, q *audit.Query) (int64, error) {
	matched, err := s.matching(q)
	if err != nil {
		return 0, err
	}
	return int64(len(matched)), nil
}

// Close is a no-op.
func (s *MemoryStorage) Close() error {
	return nil
}

func (s *MemoryStorage) matching(q *audit.Query) ([]*audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*audit.Entry
	// Walk in insertion order so equal timestamps sort newest-inserted first.
	for i := len(s.order) - 1; i >= 0; i-- {
		e, err := decode(s.entries[s.order[i]], "query")
		if err != nil {
			return nil, err
		}
		if q.Match(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

func paginate(entries []*audit.Entry, q *audit.Query) []*audit.Entry {
	if q == nil {
		return entries
	}
	if q.Offset >= len(entries) {
		return []*audit.Entry{}
	}
	entries = entries[q.Offset:]
	if q.Limit > 0 && len(entries) > q.Limit {
		entries = entries[:q.Limit]
	}
	return entries
}

func decode(data []byte, op string) (*audit.Entry, error) {
	var e audit.Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, audit.NewStorageError("memory", op, err)
	}
	return &e, nil
}
