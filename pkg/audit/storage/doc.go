// Package storage provides audit ledger backends.
//
//   - MemoryStorage: serialized copies in a map, for tests
//   - SQLiteStorage: mattn/go-sqlite3 with WAL and append-only triggers
//   - PostgresStorage: lib/pq with an append-only trigger
//
// The SQL backends keep the full entry JSON in a body column next to
// indexed filter columns. Reads always decode the body, so the integrity
// hash recomputes byte-for-byte.
package storage
