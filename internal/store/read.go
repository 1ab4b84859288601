package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/rmagee/quartet-epcis/internal/epcis"
	"github.com/rmagee/quartet-epcis/internal/ledger"
)

// Read accessors used by the query layer. These run outside any run
// transaction and take no locks; callers needing lock-composed reads go
// through a RunTx instead.

// EntryByIdentifier returns the entry with the given identifier,
// decommissioned or not, or nil when none exists.
func (s *Store) EntryByIdentifier(ctx context.Context, identifier string) (*ledger.Entry, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+entryColumns+` FROM entries WHERE identifier = ?`,
	), identifier)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query entry %s: %w", identifier, err)
	}
	return e, nil
}

// EntriesByIdentifiers returns all entries whose identifiers are in ids,
// decommissioned or not.
func (s *Store) EntriesByIdentifiers(ctx context.Context, ids []string) ([]*ledger.Entry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT `+entryColumns+` FROM entries WHERE identifier IN (`+placeholders(len(ids))+`)`,
	), stringArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("query entries by identifiers: %w", err)
	}
	return collectEntries(rows)
}

// EntriesByParent returns the direct children of the given parent entry,
// ordered by identifier for stable output.
func (s *Store) EntriesByParent(ctx context.Context, parentID uuid.UUID) ([]*ledger.Entry, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT `+entryColumns+` FROM entries WHERE parent_id = ? ORDER BY identifier`,
	), parentID.String())
	if err != nil {
		return nil, fmt.Errorf("query entries by parent: %w", err)
	}
	return collectEntries(rows)
}

// EntriesByTop returns every entry whose containment root is topID,
// ordered by identifier for stable output.
func (s *Store) EntriesByTop(ctx context.Context, topID uuid.UUID) ([]*ledger.Entry, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT `+entryColumns+` FROM entries WHERE top_id = ? ORDER BY identifier`,
	), topID.String())
	if err != nil {
		return nil, fmt.Errorf("query entries by top: %w", err)
	}
	return collectEntries(rows)
}

// EventHistory returns every event that has touched the identifier,
// oldest first.
func (s *Store) EventHistory(ctx context.Context, identifier string) ([]*ledger.Event, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+eventColumns+` FROM events
		WHERE id IN (SELECT event_id FROM entry_events WHERE identifier = ?)
		ORDER BY event_time ASC, id ASC
	`), identifier)
	if err != nil {
		return nil, fmt.Errorf("query event history for %s: %w", identifier, err)
	}
	return collectEvents(rows)
}

// EventsByMessage returns every event recorded for one run, oldest first.
func (s *Store) EventsByMessage(ctx context.Context, messageID uuid.UUID) ([]*ledger.Event, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+eventColumns+` FROM events WHERE message_id = ?
		ORDER BY event_time ASC, id ASC
	`), messageID.String())
	if err != nil {
		return nil, fmt.Errorf("query events by message: %w", err)
	}
	return collectEvents(rows)
}

// EntryEventsByEvent returns the association rows for one event.
func (s *Store) EntryEventsByEvent(ctx context.Context, eventID uuid.UUID) ([]*ledger.EntryEvent, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT event_id, entry_id, event_time, event_type, identifier, is_parent, output, task_name
		FROM entry_events WHERE event_id = ? ORDER BY identifier
	`), eventID.String())
	if err != nil {
		return nil, fmt.Errorf("query entry events: %w", err)
	}
	defer rows.Close()

	var out []*ledger.EntryEvent
	for rows.Next() {
		var (
			ee            ledger.EntryEvent
			evID, entryID string
			eventType     string
			taskName      sql.NullString
		)
		if err := rows.Scan(&evID, &entryID, &ee.EventTime, &eventType, &ee.Identifier, &ee.IsParent, &ee.Output, &taskName); err != nil {
			return nil, fmt.Errorf("scan entry event: %w", err)
		}
		if ee.EventID, err = uuid.Parse(evID); err != nil {
			return nil, fmt.Errorf("parse entry event event_id: %w", err)
		}
		if ee.EntryID, err = uuid.Parse(entryID); err != nil {
			return nil, fmt.Errorf("parse entry event entry_id: %w", err)
		}
		ee.EventType = epcis.EventType(eventType)
		ee.TaskName = taskName.String
		out = append(out, &ee)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entry events: %w", err)
	}
	return out, nil
}
