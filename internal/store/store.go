// Package store is the transactional durable catalog: repositories,
// archives, file-hash manifests, and settings. It is the only component
// that touches the database file directly; every other component goes
// through its typed operations.
package store

import (
	"database/sql"
	"embed"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/archiveforge/gitarchiver/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps *sql.DB behind a single process-wide write mutex, the same
// single-writer-plus-WAL discipline the catalog's ownership model calls
// for: WAL permits concurrent readers, the mutex preserves serializable
// writes without depending on sqlite's own locking semantics.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *log.Logger
}

// Open creates dbPath's parent directory if needed, opens the database
// with foreign keys and WAL enabled, and runs pending goose migrations.
// goose's own goose_db_version table serves the role of a schema_version
// sentinel: a migration applies iff its version exceeds the max version
// already recorded, and the new version is recorded in the same
// transaction as the migration's DDL.
func Open(dbPath string, logger *log.Logger) (*Store, error) {
	if dbPath == "" {
		return nil, model.BadInput("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, model.IO(err, "failed to create database directory")
	}

	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, model.Database(err, "failed to open database")
	}
	db.SetMaxOpenConns(1)

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		_ = db.Close()
		return nil, model.Database(err, "failed to set migration dialect")
	}
	if err := goose.Up(db, "migrations"); err != nil {
		_ = db.Close()
		return nil, model.Database(err, "failed to run migrations")
	}

	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the raw handle for components (none currently) that need it
// directly; catalog callers should prefer the typed operations below.
func (s *Store) DB() *sql.DB {
	return s.db
}
