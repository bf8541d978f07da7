// Package storage persists investment plans and the append-only transaction
// audit trail.
//
// Drivers:
//   - "sqlite": SQLite database file (modernc.org/sqlite, embedded schema)
//   - "memory": process-local maps, used by tests and dry runs
package storage
