// Package store provides durable SQL storage for the item ledger.
//
// One store implementation serves two dialects: sqlite (the default, with
// WAL mode and a single writer) and postgres via lib/pq. Statements are
// written with ? placeholders and rebound to $n for postgres; locked reads
// append FOR UPDATE on postgres while sqlite relies on its database-level
// write serialization.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking (sqlite only):
// 0 - Initial schema (pre-migration)
// 1 - Added task_name to entry_events
const currentSchemaVersion = 1

// Dialect selects driver-specific SQL behavior.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

// ValidDrivers defines the supported database drivers.
var ValidDrivers = []string{"sqlite3", "postgres"}

// ValidDriver checks if driver is one of the supported drivers.
func ValidDriver(driver string) bool {
	for _, d := range ValidDrivers {
		if d == driver {
			return true
		}
	}
	return false
}

// Store provides durable storage for the item ledger.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open creates or opens a ledger database.
//
// driver is "sqlite3" or "postgres"; dsn is a file path for sqlite or a
// connection string for postgres. The schema is applied idempotently on
// open, and sqlite additionally gets:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - a single-connection pool (one writer at a time)
func Open(driver, dsn string) (*Store, error) {
	var dialect Dialect
	switch driver {
	case "sqlite3":
		dialect = DialectSQLite
	case "postgres":
		dialect = DialectPostgres
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if dialect == DialectSQLite {
		// SQLite only supports one writer at a time, so limit connections
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if err := applyPragmas(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragmas: %w", err)
		}
	}

	s := &Store{db: db, dialect: dialect}
	if err := s.applySchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return s, nil
}

// OpenDB wraps an existing *sql.DB without applying schema or pragmas.
// Used by tests that stub the database (sqlmock).
func OpenDB(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the store's SQL dialect.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func (s *Store) applySchema() error {
	if s.dialect == DialectPostgres {
		// lib/pq rejects multi-statement Exec, so apply one at a time.
		for _, stmt := range splitStatements(schemaSQL) {
			if _, err := s.db.Exec(stmt); err != nil {
				return fmt.Errorf("failed to execute schema statement: %w", err)
			}
		}
		return nil
	}
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return s.runMigrations()
}

// runMigrations applies incremental sqlite migrations based on user_version.
func (s *Store) runMigrations() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := s.migrateToV1(); err != nil {
			return err
		}
		version = 1
	}

	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// migrateToV1 adds entry_events.task_name for databases created before the
// column existed in schema.sql. ALTER TABLE fails when the column is
// already present, so probe first.
func (s *Store) migrateToV1() error {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info('entry_events') WHERE name = 'task_name'`,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	if count > 0 {
		return nil
	}
	if _, err := s.db.Exec(`ALTER TABLE entry_events ADD COLUMN task_name TEXT`); err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders to $n for the postgres dialect.
// Statements contain no literal question marks, so a plain scan suffices.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// lockSuffix returns the row-lock clause for locked reads. SQLite has no
// row locks; its single-writer transaction already serializes runs.
func (s *Store) lockSuffix(lock bool) string {
	if lock && s.dialect == DialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

// placeholders returns "?, ?, ..." with n entries.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// splitStatements breaks the embedded schema into single statements on
// semicolons. Sufficient for DDL with no embedded string literals.
func splitStatements(schema string) []string {
	var out []string
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		out = append(out, stmt)
	}
	return out
}

// Begin opens a run transaction. All locked reads and the batched flush
// for one run segment happen inside it; locks acquired by reads are held
// until Commit or Rollback.
func (s *Store) Begin(ctx context.Context) (*RunTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin run tx: %w", err)
	}
	return &RunTx{s: s, tx: tx}, nil
}
