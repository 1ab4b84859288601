package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/rmagee/quartet-epcis/internal/ledger"
)

// The postgres dialect cannot run against a real server in unit tests, so
// sqlmock verifies the two behaviors that differ from sqlite: $n
// placeholder rebinding and the FOR UPDATE clause on locked reads.

var entryRowColumns = []string{
	"id", "created", "modified", "identifier", "parent_id", "top_id",
	"is_parent", "decommissioned", "last_event", "last_event_time",
	"last_disposition", "last_aggregation_event",
	"last_aggregation_event_time", "last_aggregation_event_action",
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() failed: %v", err)
	}
	s := OpenDB(db, DialectPostgres)
	t.Cleanup(func() { s.Close() })
	return s, mock
}

func TestPostgresLockedReadUsesForUpdate(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2023, 6, 1, 10, 0, 0, 0, time.UTC)
	entry := ledger.NewEntry("urn:epc:id:sgtin:0777.9.10", now)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM entries WHERE identifier = \$1 FOR UPDATE`).
		WithArgs(entry.Identifier).
		WillReturnRows(sqlmock.NewRows(entryRowColumns).AddRow(
			entry.ID.String(), entry.Created, entry.Modified, entry.Identifier,
			nil, nil, false, false, nil, nil, nil, nil, nil, nil,
		))
	mock.ExpectRollback()

	ctx := context.Background()
	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	got, err := tx.EntryRowByIdentifier(ctx, entry.Identifier, true)
	if err != nil {
		t.Fatalf("EntryRowByIdentifier() failed: %v", err)
	}
	if got == nil || got.Identifier != entry.Identifier {
		t.Errorf("got %+v, want identifier %s", got, entry.Identifier)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback() failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresUnlockedReadOmitsForUpdate(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM entries WHERE identifier = \$1$`).
		WithArgs("urn:epc:id:sgtin:0777.9.11").
		WillReturnRows(sqlmock.NewRows(entryRowColumns))
	mock.ExpectRollback()

	ctx := context.Background()
	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	got, err := tx.EntryRowByIdentifier(ctx, "urn:epc:id:sgtin:0777.9.11", false)
	if err != nil {
		t.Fatalf("EntryRowByIdentifier() failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for absent row, got %+v", got)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback() failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresBatchReadRebindsPlaceholders(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`WHERE identifier IN \(\$1, \$2\) AND decommissioned = FALSE FOR UPDATE`).
		WithArgs("epc.1", "epc.2").
		WillReturnRows(sqlmock.NewRows(entryRowColumns))
	mock.ExpectRollback()

	ctx := context.Background()
	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	if _, err := tx.ActiveEntriesByIdentifiers(ctx, []string{"epc.1", "epc.2"}, true); err != nil {
		t.Fatalf("ActiveEntriesByIdentifiers() failed: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback() failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresInsertMessageRebindsPlaceholders(t *testing.T) {
	s, mock := newMockStore(t)
	msg := ledger.NewMessage(time.Date(2023, 6, 1, 10, 0, 0, 0, time.UTC))

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO messages \(id, created\) VALUES \(\$1, \$2\)`).
		WithArgs(msg.ID.String(), msg.Created).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ctx := context.Background()
	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	if err := tx.InsertMessage(ctx, msg); err != nil {
		t.Fatalf("InsertMessage() failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
