// Package store provides SQLite-backed durable storage for change history.
//
// The store holds:
//   - REVINFO: one row per revision (REV autoincrement, REVTSTMP in epoch milliseconds)
//   - REVCHANGES: entity names changed per revision, when tracking is enabled
//   - Audit tables: one per audited entity and per audited middle table,
//     laid out by the active audit strategy
//
// REVINFO and REVCHANGES are versioned with golang-migrate from embedded
// migration files. Audit tables depend on the loaded schema and are
// created by EnsureTables.
//
// # Critical Patterns
//
// Deterministic Query Results
//   - Every read orders explicitly; text keys use COLLATE BINARY
//
// Parameterized SQL
//   - Values are always bound. Identifiers are interpolated only after
//     ValidateIdentifier accepts them
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Audit rows must reference an existing REVINFO row
//
// Either github.com/mattn/go-sqlite3 (DriverCGO, the default) or
// modernc.org/sqlite (DriverPure) can back the store.
package store
