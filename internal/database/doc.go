// Package database provides the PostgreSQL connection pool and schema.
//
// Tables:
//   - instruments: tracked symbols, ordered by id for rotation
//   - snapshots: one row per instrument per sampling event (append-only)
//   - strike_snapshots: nearest-expiry strike rows per snapshot (append-only)
//   - meta: key/value store for scheduler state and runtime tunables
package database
