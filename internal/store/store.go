package store

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// ErrSchemaTooNew is returned by Open for a history file written by a newer
// nbcheck, whose tables this build may misread.
var ErrSchemaTooNew = errors.New("history database schema is newer than supported")

// pragma is a connection setting applied on open. Want is the value the
// pragma reads back as once applied.
type pragma struct {
	Name, Value, Want string
}

var pragmas = []pragma{
	{"journal_mode", "WAL", "wal"},
	{"synchronous", "NORMAL", "1"},
	{"busy_timeout", "5000", "5000"},
	{"foreign_keys", "ON", "1"},
}

// migrations upgrade history files created by older builds. Entry i moves
// PRAGMA user_version from i to i+1. Append only.
var migrations = []func(tx *sql.Tx) error{
	// v1: ReadTestHistory looks cells up by test ID across runs.
	func(tx *sql.Tx) error {
		_, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_cells_test_id ON cells(test_id)`)
		return err
	},
}

// currentSchemaVersion is the user_version of a fully migrated history file.
var currentSchemaVersion = len(migrations)

// Store is the run history database. WAL mode lets "nbcheck history" read a
// file that a concurrent "nbcheck run --db" is still writing.
type Store struct {
	db *sql.DB
}

// Open opens the history file at path, creating it if needed, and brings its
// schema up to date. Opening the same file again is harmless.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}

	// Pragmas are per connection, and SQLite has a single writer anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := prepare(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// prepare configures the connection, then creates and migrates the schema in
// one transaction so a failed upgrade leaves the file as it was.
func prepare(db *sql.DB) error {
	if err := db.Ping(); err != nil {
		return err
	}
	for _, p := range pragmas {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA %s = %s", p.Name, p.Value)); err != nil {
			return fmt.Errorf("pragma %s: %w", p.Name, err)
		}
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("%w: file has version %d, this build knows %d", ErrSchemaTooNew, version, currentSchemaVersion)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if _, err := tx.Exec(schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	for v := version; v < currentSchemaVersion; v++ {
		if err := migrations[v](tx); err != nil {
			return fmt.Errorf("migrate to v%d: %w", v+1, err)
		}
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return tx.Commit()
}

// Close closes the database. A nil or already closed store is fine.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying connection for ad hoc queries and maintenance.
func (s *Store) DB() *sql.DB {
	return s.db
}
