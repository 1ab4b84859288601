package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rmagee/quartet-epcis/internal/ledger"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open("sqlite3", path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
	if s.Dialect() != DialectSQLite {
		t.Errorf("dialect = %v, want sqlite", s.Dialect())
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open("sqlite3", path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open("sqlite3", path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	tables := []string{
		"messages", "entries", "events", "entry_events",
		"biz_transactions", "sources", "destinations",
		"quantity_elements", "ilmd", "error_declarations",
		"transformation_ids",
	}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_SetsSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open("sqlite3", path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("get user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open("mysql", "dsn")
	if err == nil {
		t.Error("expected error for unsupported driver, got nil")
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("sqlite3", "/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestRunTx_RoundTrip(t *testing.T) {
	s, err := Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	now := time.Date(2023, 6, 1, 10, 0, 0, 0, time.UTC)
	msg := ledger.NewMessage(now)
	entry := ledger.NewEntry("urn:epc:id:sgtin:0777.9.01", now)

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	if err := tx.InsertMessage(ctx, msg); err != nil {
		t.Fatalf("InsertMessage() failed: %v", err)
	}
	if err := tx.SaveEntries(ctx, []*ledger.Entry{entry}); err != nil {
		t.Fatalf("SaveEntries() failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}

	got, err := s.EntryByIdentifier(ctx, entry.Identifier)
	if err != nil {
		t.Fatalf("EntryByIdentifier() failed: %v", err)
	}
	if got == nil {
		t.Fatal("entry not found after commit")
	}
	if got.ID != entry.ID {
		t.Errorf("id = %s, want %s", got.ID, entry.ID)
	}
	if got.Decommissioned {
		t.Error("entry unexpectedly decommissioned")
	}
}

func TestRunTx_UpsertUpdatesMutableColumns(t *testing.T) {
	s, err := Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	now := time.Date(2023, 6, 1, 10, 0, 0, 0, time.UTC)
	entry := ledger.NewEntry("urn:epc:id:sgtin:0777.9.02", now)

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	if err := tx.SaveEntries(ctx, []*ledger.Entry{entry}); err != nil {
		t.Fatalf("first SaveEntries() failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}

	entry.Decommissioned = true
	entry.LastDisposition = "destroyed"
	entry.Modified = now.Add(time.Hour)

	tx, err = s.Begin(ctx)
	if err != nil {
		t.Fatalf("second Begin() failed: %v", err)
	}
	if err := tx.SaveEntries(ctx, []*ledger.Entry{entry}); err != nil {
		t.Fatalf("second SaveEntries() failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("second Commit() failed: %v", err)
	}

	got, err := s.EntryByIdentifier(ctx, entry.Identifier)
	if err != nil {
		t.Fatalf("EntryByIdentifier() failed: %v", err)
	}
	if got == nil || !got.Decommissioned {
		t.Error("upsert did not persist decommissioned flag")
	}
	if got.LastDisposition != "destroyed" {
		t.Errorf("last_disposition = %q, want destroyed", got.LastDisposition)
	}
}

func TestRunTx_RollbackDiscardsWrites(t *testing.T) {
	s, err := Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	entry := ledger.NewEntry("urn:epc:id:sgtin:0777.9.03", time.Now())

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	if err := tx.SaveEntries(ctx, []*ledger.Entry{entry}); err != nil {
		t.Fatalf("SaveEntries() failed: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback() failed: %v", err)
	}

	got, err := s.EntryByIdentifier(ctx, entry.Identifier)
	if err != nil {
		t.Fatalf("EntryByIdentifier() failed: %v", err)
	}
	if got != nil {
		t.Error("entry survived a rolled-back transaction")
	}
}

func TestRunTx_RollbackAfterCommitIsNoOp(t *testing.T) {
	s, err := Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	tx, err := s.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Errorf("Rollback() after Commit() = %v, want nil", err)
	}
}

func TestRebind(t *testing.T) {
	sqlite := &Store{dialect: DialectSQLite}
	postgres := &Store{dialect: DialectPostgres}

	query := "SELECT * FROM entries WHERE identifier IN (?, ?) AND decommissioned = ?"
	if got := sqlite.rebind(query); got != query {
		t.Errorf("sqlite rebind changed query: %s", got)
	}
	want := "SELECT * FROM entries WHERE identifier IN ($1, $2) AND decommissioned = $3"
	if got := postgres.rebind(query); got != want {
		t.Errorf("postgres rebind = %s, want %s", got, want)
	}
}

func TestLockSuffix(t *testing.T) {
	sqlite := &Store{dialect: DialectSQLite}
	postgres := &Store{dialect: DialectPostgres}

	if got := sqlite.lockSuffix(true); got != "" {
		t.Errorf("sqlite lockSuffix(true) = %q, want empty", got)
	}
	if got := postgres.lockSuffix(true); got != " FOR UPDATE" {
		t.Errorf("postgres lockSuffix(true) = %q", got)
	}
	if got := postgres.lockSuffix(false); got != "" {
		t.Errorf("postgres lockSuffix(false) = %q, want empty", got)
	}
}

func TestPlaceholders(t *testing.T) {
	cases := map[int]string{
		0: "",
		1: "?",
		3: "?, ?, ?",
	}
	for n, want := range cases {
		if got := placeholders(n); got != want {
			t.Errorf("placeholders(%d) = %q, want %q", n, got, want)
		}
	}
}
