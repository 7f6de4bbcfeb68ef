// Package audit implements the tamper-evident governance audit log.
//
// Every governance decision that changes state or denies an operation is
// written as an Entry. Entries are append-only: storage backends expose no
// update or delete. At write time the Recorder
//
//  1. assigns an ID and a UTC timestamp truncated to microseconds,
//  2. detects PII by key path in Input/Output and masks string values,
//  3. computes Integrity.SHA256 over the RFC 8785 canonical JSON of the
//     entry with the integrity field cleared,
//  4. writes synchronously with a bounded timeout.
//
// Verify recomputes the hash, so any later mutation of a stored entry is
// detectable. RecordBatch writes entries independently; a failure in one
// does not undo the others.
//
// # Storage
//
// Backends live in audit/storage: memory (tests), SQLite via
// mattn/go-sqlite3 and PostgreSQL via lib/pq. Export to JSON and CSV,
// including per-subject export, lives in audit/export.
//
// # Explanation
//
// Explainer.Explain loads an entry, verifies its hash, resolves the
// referenced policy and renders a short "why" chain.
package audit
