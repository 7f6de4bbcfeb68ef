// Package store defines the durable state behind the governance engine:
// compiled policies, the runtime override singleton, the rollout
// singleton, alert records and received snapshots.
//
// Backends live in sub-packages:
//
//   - store/memory: mutex-guarded maps for tests and single-process use
//   - store/sqlite: modernc.org/sqlite, WAL mode, conditional UPDATEs
//   - store/redis: go-redis with WATCH/MULTI optimistic transactions
//
// Singletons are written with the backend's conditional primitive. A
// rollout advance that loses a race sees ErrConflict and never overwrites
// the winner. Infrastructure failures are wrapped in *StoreError.
package store
