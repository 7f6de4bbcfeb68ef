// Package memory provides an in-process store backend.
package memory

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mercator-hq/sentinel/pkg/policy"
	"mercator-hq/sentinel/pkg/snapshot"
	"mercator-hq/sentinel/pkg/store"
)

// Store keeps all state in maps guarded by a single RWMutex.
// State is lost when the process exits.
type Store struct {
	mu        sync.RWMutex
	policies  map[string]*policy.Document
	override  *store.RuntimeOverride
	rollout   *store.RolloutState
	alerts    map[string]*store.AlertRecord
	snapshots map[string]snapshot.Snapshot
	closed    bool
}

// New creates an empty memory store.
func New() *Store {
	return &Store{
		policies:  make(map[string]*policy.Document),
		alerts:    make(map[string]*store.AlertRecord),
		snapshots: make(map[string]snapshot.Snapshot),
	}
}

var _ store.Store = (*Store)(nil)

// PutPolicy stores doc under its id.
func (s *Store) PutPolicy(_ context.Context, doc *policy.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("put_policy"); err != nil {
		return err
	}
	cp := *doc
	s.policies[doc.ID] = &cp
	return nil
}

// GetPolicy returns the document stored under id.
func (s *Store) GetPolicy(_ context.Context, id string) (*policy.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen("get_policy"); err != nil {
		return nil, err
	}
	doc, ok := s.policies[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

// ListPolicies returns every document ordered by id.
func (s *Store) ListPolicies(_ context.Context) ([]*policy.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen("list_policies"); err != nil {
		return nil, err
	}
	out := make([]*policy.Document, 0, len(s.policies))
	for _, doc := range s.policies {
		cp := *doc
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetOverride returns the runtime override.
func (s *Store) GetOverride(_ context.Context) (*store.RuntimeOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen("get_override"); err != nil {
		return nil, err
	}
	if s.override == nil {
		return nil, store.ErrNotFound
	}
	return cloneOverride(s.override), nil
}

// ReplaceOverride overwrites the runtime override.
func (s *Store) ReplaceOverride(_ context.Context, o store.RuntimeOverride) (*store.RuntimeOverride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("replace_override"); err != nil {
		return nil, err
	}
	var rev int64
	if s.override != nil {
		rev = s.override.Revision
	}
	o.Revision = rev + 1
	s.override = cloneOverride(&o)
	return cloneOverride(s.override), nil
}

// GetRollout returns the rollout state.
func (s *Store) GetRollout(_ context.Context) (store.RolloutState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen("get_rollout"); err != nil {
		return store.RolloutState{}, err
	}
	if s.rollout == nil {
		return store.InitialRollout(), nil
	}
	return *s.rollout, nil
}

// CompareAndSwapRollout writes next when the stored index equals expectedIdx.
func (s *Store) CompareAndSwapRollout(_ context.Context, expectedIdx int, next store.RolloutState) (store.RolloutState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("cas_rollout"); err != nil {
		return store.RolloutState{}, err
	}
	cur := store.InitialRollout()
	if s.rollout != nil {
		cur = *s.rollout
	}
	if cur.StageIndex != expectedIdx {
		return cur, store.ErrConflict
	}
	next.Revision = cur.Revision + 1
	s.rollout = &next
	return next, nil
}

// AppendAlert stores a new alert.
func (s *Store) AppendAlert(_ context.Context, a *store.AlertRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("append_alert"); err != nil {
		return err
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	cp := *a
	s.alerts[a.ID] = &cp
	return nil
}

// ListAlerts returns matching alerts newest first.
func (s *Store) ListAlerts(_ context.Context, f store.AlertFilter) ([]*store.AlertRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen("list_alerts"); err != nil {
		return nil, err
	}
	var out []*store.AlertRecord
	for _, a := range s.alerts {
		if f.Match(a) {
			cp := *a
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *store.AlertRecord) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// ResolveAlert marks an alert resolved.
func (s *Store) ResolveAlert(_ context.Context, id, by string, at time.Time) (*store.AlertRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("resolve_alert"); err != nil {
		return nil, err
	}
	a, ok := s.alerts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !a.Resolved {
		a.Resolved = true
		a.ResolvedAt = &at
		a.ResolvedBy = by
	}
	cp := *a
	return &cp, nil
}

// PutSnapshot stores snap keyed by date and team.
func (s *Store) PutSnapshot(_ context.Context, snap snapshot.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("put_snapshot"); err != nil {
		return err
	}
	if snap.ReceivedAt.IsZero() {
		snap.ReceivedAt = time.Now().UTC()
	}
	s.snapshots[snapshotKey(snap)] = snap
	return nil
}

// LatestSnapshot returns the snapshot with the greatest ReceivedAt.
func (s *Store) LatestSnapshot(_ context.Context) (*snapshot.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen("latest_snapshot"); err != nil {
		return nil, err
	}
	var latest *snapshot.Snapshot
	for _, snap := range s.snapshots {
		if latest == nil || snap.ReceivedAt.After(latest.ReceivedAt) {
			cp := snap
			latest = &cp
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	return latest, nil
}

// Ping fails once the store is closed.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkOpen("ping")
}

// Close marks the store closed. Subsequent calls fail with a StoreError.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) checkOpen(op string) error {
	if s.closed {
		return store.NewStoreError("memory", op, errClosed)
	}
	return nil
}

var errClosed = errors.New("store is closed")

func snapshotKey(s snapshot.Snapshot) string {
	return s.Date + "|" + s.TeamID
}

func cloneOverride(o *store.RuntimeOverride) *store.RuntimeOverride {
	cp := *o
	cp.Disabled = slices.Clone(o.Disabled)
	return &cp
}
