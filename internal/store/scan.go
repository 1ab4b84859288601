package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rmagee/quartet-epcis/internal/epcis"
	"github.com/rmagee/quartet-epcis/internal/ledger"
)

// entryColumns is the canonical column list for entry reads; keep in sync
// with scanEntry.
const entryColumns = `id, created, modified, identifier, parent_id, top_id,
	is_parent, decommissioned, last_event, last_event_time, last_disposition,
	last_aggregation_event, last_aggregation_event_time, last_aggregation_event_action`

// eventColumns is the canonical column list for event reads; keep in sync
// with scanEvent.
const eventColumns = `id, type, action, event_time, event_timezone_offset,
	record_time, event_id, biz_step, disposition, read_point, biz_location, message_id`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*ledger.Entry, error) {
	var (
		e                  ledger.Entry
		id                 string
		parentID, topID    sql.NullString
		lastEvent, lastAgg sql.NullString
		lastEventTime      sql.NullTime
		lastAggTime        sql.NullTime
		disposition        sql.NullString
		aggAction          sql.NullString
	)
	err := row.Scan(
		&id, &e.Created, &e.Modified, &e.Identifier, &parentID, &topID,
		&e.IsParent, &e.Decommissioned, &lastEvent, &lastEventTime, &disposition,
		&lastAgg, &lastAggTime, &aggAction,
	)
	if err != nil {
		return nil, err
	}
	if e.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse entry id: %w", err)
	}
	if e.ParentID, err = nullUUID(parentID); err != nil {
		return nil, fmt.Errorf("parse entry parent_id: %w", err)
	}
	if e.TopID, err = nullUUID(topID); err != nil {
		return nil, fmt.Errorf("parse entry top_id: %w", err)
	}
	if e.LastEvent, err = nullUUID(lastEvent); err != nil {
		return nil, fmt.Errorf("parse entry last_event: %w", err)
	}
	if e.LastAggregationEvent, err = nullUUID(lastAgg); err != nil {
		return nil, fmt.Errorf("parse entry last_aggregation_event: %w", err)
	}
	if lastEventTime.Valid {
		t := lastEventTime.Time
		e.LastEventTime = &t
	}
	if lastAggTime.Valid {
		t := lastAggTime.Time
		e.LastAggregationEventTime = &t
	}
	e.LastDisposition = disposition.String
	e.LastAggregationEventAction = epcis.Action(aggAction.String)
	return &e, nil
}

func scanEvent(row scanner) (*ledger.Event, error) {
	var (
		ev         ledger.Event
		id, msgID  string
		action     sql.NullString
		tzOffset   sql.NullString
		recordTime sql.NullTime
		eventID    sql.NullString
		bizStep    sql.NullString
		dispo      sql.NullString
		readPoint  sql.NullString
		bizLoc     sql.NullString
	)
	err := row.Scan(
		&id, &ev.Type, &action, &ev.EventTime, &tzOffset,
		&recordTime, &eventID, &bizStep, &dispo, &readPoint, &bizLoc, &msgID,
	)
	if err != nil {
		return nil, err
	}
	if ev.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse event id: %w", err)
	}
	if ev.MessageID, err = uuid.Parse(msgID); err != nil {
		return nil, fmt.Errorf("parse event message_id: %w", err)
	}
	ev.Action = epcis.Action(action.String)
	ev.EventTimezoneOffset = tzOffset.String
	if recordTime.Valid {
		ev.RecordTime = recordTime.Time
	}
	ev.EventID = eventID.String
	ev.BizStep = bizStep.String
	ev.Disposition = dispo.String
	ev.ReadPoint = readPoint.String
	ev.BizLocation = bizLoc.String
	return &ev, nil
}

func collectEntries(rows *sql.Rows) ([]*ledger.Entry, error) {
	defer rows.Close()
	var out []*ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return out, nil
}

func collectEvents(rows *sql.Rows) ([]*ledger.Event, error) {
	defer rows.Close()
	var out []*ledger.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// nullUUID parses an optional uuid column.
func nullUUID(s sql.NullString) (*uuid.UUID, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	id, err := uuid.Parse(s.String)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// uuidArg renders an optional uuid for binding.
func uuidArg(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

// stringArg renders an optional string for binding; empty becomes NULL.
func stringArg(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// timeArg renders an optional timestamp for binding.
func timeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// idStrings converts identifier slices for IN-clause binding.
func idStrings(ids []uuid.UUID) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func stringArgs(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
