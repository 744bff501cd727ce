// Package storage persists irrigation schedules and the session journal.
//
// Drivers:
//   - "file": JSON schedule document (atomic replace) + JSONL session journal
//   - "sqlite": single SQLite database (modernc.org/sqlite, no cgo)
//   - "memory": process-local, for tests and dry runs
//
// Writes can be wrapped with WithBreaker so a failing disk stops being hammered
// once per schedule mutation.
package storage
