// Package store is the SQLite run history behind "nbcheck run --db" and
// "nbcheck history".
//
// The history is an append-only log with:
//   - Runs: one row per invocation of the run command
//   - Files: the notebooks a run visited, including skipped ones
//   - Cells: one row per cell test, with its outcome and message trace
//
// # Ordering
//
// Runs are ordered by seq, an integer assigned by the store on insert, and
// never by wall-clock time. Files are ordered by path and cells by path then
// code cell index, both with COLLATE BINARY, so reads are stable.
//
// # Unfinished runs
//
// A run is inserted with outcome "running" and updated once when it ends. A
// run still marked running was interrupted before it could finish.
//
// # Schema versions
//
// PRAGMA user_version records how far a history file is migrated. Open
// upgrades older files in place and refuses files from a newer build with
// ErrSchemaTooNew. Every connection runs in WAL mode with foreign keys on,
// so a history command can read while a run is recording.
package store
