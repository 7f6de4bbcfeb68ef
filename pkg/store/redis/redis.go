// Package redis provides a store backend on Redis. Singleton writes use
// WATCH/MULTI optimistic transactions.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"mercator-hq/sentinel/pkg/policy"
	"mercator-hq/sentinel/pkg/snapshot"
	"mercator-hq/sentinel/pkg/store"
)

const (
	backendName       = "redis"
	defaultURL        = "redis://127.0.0.1:6379/0"
	defaultKeyPrefix  = "sentinel:"
	defaultMaxRetries = 3
)

// Options configures the Redis backend.
type Options struct {
	// URL is a redis:// connection URL.
	URL string

	// KeyPrefix namespaces every key. Default: "sentinel:"
	KeyPrefix string

	// MaxRetries bounds optimistic retries for override replacement.
	// Default: 3
	MaxRetries int
}

// Store implements store.Store on Redis.
//
// Key layout (under KeyPrefix):
//
//	policy:<id>            JSON document
//	policies               ZSET of policy ids
//	override               JSON runtime override
//	rollout                JSON rollout state
//	alert:<id>             JSON alert record
//	alerts                 ZSET alert ids scored by created_at
//	snapshot:<date>|<team> JSON snapshot
//	snapshots              ZSET snapshot keys scored by received_at
type Store struct {
	client     *redis.Client
	prefix     string
	maxRetries int
	logger     *slog.Logger
}

var _ store.Store = (*Store)(nil)

// New connects to Redis and verifies the connection with PING.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.URL == "" {
		opts.URL = defaultURL
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = defaultKeyPrefix
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}

	parsed, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(parsed)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	return &Store{
		client:     client,
		prefix:     opts.KeyPrefix,
		maxRetries: opts.MaxRetries,
		logger:     slog.Default().With("component", "store.redis"),
	}, nil
}

func (s *Store) key(parts ...string) string {
	k := s.prefix
	for i, p := range parts {
		if i > 0 {
			k += ":"
		}
		k += p
	}
	return k
}

// PutPolicy stores doc and indexes its id.
func (s *Store) PutPolicy(ctx context.Context, doc *policy.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return store.NewStoreError(backendName, "put_policy", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key("policy", doc.ID), data, 0)
	pipe.ZAdd(ctx, s.key("policies"), redis.Z{Score: 0, Member: doc.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return store.NewStoreError(backendName, "put_policy", err)
	}
	return nil
}

// GetPolicy loads the document stored under id.
func (s *Store) GetPolicy(ctx context.Context, id string) (*policy.Document, error) {
	var doc policy.Document
	if err := s.getJSON(ctx, "get_policy", s.key("policy", id), &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListPolicies returns every document ordered by id. Equal ZSET scores
// sort members lexicographically.
func (s *Store) ListPolicies(ctx context.Context) ([]*policy.Document, error) {
	ids, err := s.client.ZRange(ctx, s.key("policies"), 0, -1).Result()
	if err != nil {
		return nil, store.NewStoreError(backendName, "list_policies", err)
	}
	out := make([]*policy.Document, 0, len(ids))
	for _, id := range ids {
		doc, err := s.GetPolicy(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

// GetOverride loads the runtime override.
func (s *Store) GetOverride(ctx context.Context) (*store.RuntimeOverride, error) {
	var o store.RuntimeOverride
	if err := s.getJSON(ctx, "get_override", s.key("override"), &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// ReplaceOverride overwrites the override, bumping its revision inside a
// WATCH transaction. Lost races are retried up to MaxRetries times.
func (s *Store) ReplaceOverride(ctx context.Context, o store.RuntimeOverride) (*store.RuntimeOverride, error) {
	key := s.key("override")
	if o.Disabled == nil {
		o.Disabled = []string{}
	}

	txf := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		if err != nil && err != redis.Nil {
			return err
		}
		var rev int64
		if err == nil {
			var prev store.RuntimeOverride
			if err := json.Unmarshal(cur, &prev); err != nil {
				return err
			}
			rev = prev.Revision
		}
		o.Revision = rev + 1
		data, err := json.Marshal(o)
		if err != nil {
			return err
		}
		pipe := tx.TxPipeline()
		pipe.Set(ctx, key, data, 0)
		_, err = pipe.Exec(ctx)
		return err
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return &o, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return nil, store.NewStoreError(backendName, "replace_override", err)
		}
		s.logger.Debug("Override write raced, retrying", "attempt", attempt+1)
	}
	return nil, store.NewStoreError(backendName, "replace_override", store.ErrConflict)
}

// GetRollout loads the rollout state.
func (s *Store) GetRollout(ctx context.Context) (store.RolloutState, error) {
	var st store.RolloutState
	err := s.getJSON(ctx, "get_rollout", s.key("rollout"), &st)
	if errors.Is(err, store.ErrNotFound) {
		return store.InitialRollout(), nil
	}
	if err != nil {
		return store.RolloutState{}, err
	}
	return st, nil
}

// CompareAndSwapRollout writes next only while the stored stage index
// equals expectedIdx. A concurrent write between WATCH and EXEC aborts the
// transaction and is reported as ErrConflict.
func (s *Store) CompareAndSwapRollout(ctx context.Context, expectedIdx int, next store.RolloutState) (store.RolloutState, error) {
	key := s.key("rollout")
	cur := store.InitialRollout()

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil && err != redis.Nil {
			return err
		}
		if err == nil {
			if err := json.Unmarshal(data, &cur); err != nil {
				return err
			}
		}
		if cur.StageIndex != expectedIdx {
			return store.ErrConflict
		}
		next.Revision = cur.Revision + 1
		payload, err := json.Marshal(next)
		if err != nil {
			return err
		}
		pipe := tx.TxPipeline()
		pipe.Set(ctx, key, payload, 0)
		_, err = pipe.Exec(ctx)
		return err
	}, key)

	switch {
	case err == nil:
		return next, nil
	case errors.Is(err, store.ErrConflict):
		return cur, store.ErrConflict
	case errors.Is(err, redis.TxFailedErr):
		latest, getErr := s.GetRollout(ctx)
		if getErr != nil {
			return store.RolloutState{}, getErr
		}
		return latest, store.ErrConflict
	default:
		return store.RolloutState{}, store.NewStoreError(backendName, "cas_rollout", err)
	}
}

// AppendAlert stores a new alert and indexes it by creation time.
func (s *Store) AppendAlert(ctx context.Context, a *store.AlertRecord) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(a)
	if err != nil {
		return store.NewStoreError(backendName, "append_alert", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key("alert", a.ID), data, 0)
	pipe.ZAdd(ctx, s.key("alerts"), redis.Z{Score: float64(a.CreatedAt.UnixMilli()), Member: a.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return store.NewStoreError(backendName, "append_alert", err)
	}
	return nil
}

// ListAlerts walks the alert index newest first and filters in process.
func (s *Store) ListAlerts(ctx context.Context, f store.AlertFilter) ([]*store.AlertRecord, error) {
	minScore := "-inf"
	if !f.Since.IsZero() {
		minScore = fmt.Sprintf("%d", f.Since.UnixMilli())
	}
	ids, err := s.client.ZRevRangeByScore(ctx, s.key("alerts"), &redis.ZRangeBy{Min: minScore, Max: "+inf"}).Result()
	if err != nil {
		return nil, store.NewStoreError(backendName, "list_alerts", err)
	}

	var out []*store.AlertRecord
	for _, id := range ids {
		var a store.AlertRecord
		err := s.getJSON(ctx, "list_alerts", s.key("alert", id), &a)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !f.Match(&a) {
			continue
		}
		out = append(out, &a)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

// ResolveAlert marks an alert resolved inside a WATCH transaction.
func (s *Store) ResolveAlert(ctx context.Context, id, by string, at time.Time) (*store.AlertRecord, error) {
	key := s.key("alert", id)
	var a store.AlertRecord

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, &a); err != nil {
			return err
		}
		if a.Resolved {
			return nil
		}
		resolvedAt := at.UTC()
		a.Resolved = true
		a.ResolvedAt = &resolvedAt
		a.ResolvedBy = by
		payload, err := json.Marshal(&a)
		if err != nil {
			return err
		}
		pipe := tx.TxPipeline()
		pipe.Set(ctx, key, payload, 0)
		_, err = pipe.Exec(ctx)
		return err
	}, key)

	if errors.Is(err, store.ErrNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, store.NewStoreError(backendName, "resolve_alert", err)
	}
	return &a, nil
}

// PutSnapshot stores snap and indexes it by receipt time.
func (s *Store) PutSnapshot(ctx context.Context, snap snapshot.Snapshot) error {
	if snap.ReceivedAt.IsZero() {
		snap.ReceivedAt = time.Now().UTC()
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return store.NewStoreError(backendName, "put_snapshot", err)
	}
	member := snap.Date + "|" + snap.TeamID
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key("snapshot", member), data, 0)
	pipe.ZAdd(ctx, s.key("snapshots"), redis.Z{Score: float64(snap.ReceivedAt.UnixMilli()), Member: member})
	if _, err := pipe.Exec(ctx); err != nil {
		return store.NewStoreError(backendName, "put_snapshot", err)
	}
	return nil
}

// LatestSnapshot returns the snapshot with the highest receipt score.
func (s *Store) LatestSnapshot(ctx context.Context) (*snapshot.Snapshot, error) {
	members, err := s.client.ZRevRange(ctx, s.key("snapshots"), 0, 0).Result()
	if err != nil {
		return nil, store.NewStoreError(backendName, "latest_snapshot", err)
	}
	if len(members) == 0 {
		return nil, store.ErrNotFound
	}
	var snap snapshot.Snapshot
	if err := s.getJSON(ctx, "latest_snapshot", s.key("snapshot", members[0]), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return store.NewStoreError(backendName, "ping", err)
	}
	return nil
}

// Close releases the client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) getJSON(ctx context.Context, op, key string, v any) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return store.ErrNotFound
	}
	if err != nil {
		return store.NewStoreError(backendName, op, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return store.NewStoreError(backendName, op, fmt.Errorf("decode %s: %w", key, err))
	}
	return nil
}
