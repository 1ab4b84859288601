package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/rmagee/quartet-epcis/internal/ledger"
)

// RunTx is the transactional surface for one run segment.
//
// The first durable read of any entry inside a run goes through a RunTx
// with lock=true, serializing competing hierarchy edits across concurrent
// runs. On postgres this is SELECT ... FOR UPDATE; on sqlite the single
// writer transaction provides the same serialization at database
// granularity. Locks are released by Commit or Rollback.
type RunTx struct {
	s  *Store
	tx *sql.Tx
}

// Commit makes the run segment durable and releases all row locks.
func (t *RunTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit run tx: %w", err)
	}
	return nil
}

// Rollback abandons the run segment. Safe to call after Commit (no-op).
func (t *RunTx) Rollback() error {
	err := t.tx.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback run tx: %w", err)
	}
	return nil
}

// InsertMessage records the run's message header.
func (t *RunTx) InsertMessage(ctx context.Context, m *ledger.Message) error {
	_, err := t.tx.ExecContext(ctx, t.s.rebind(`
		INSERT INTO messages (id, created) VALUES (?, ?)
	`), m.ID.String(), m.Created)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// EntryRowByIdentifier returns the entry with the given identifier,
// decommissioned or not, or nil when the identifier has never been
// commissioned.
func (t *RunTx) EntryRowByIdentifier(ctx context.Context, identifier string, lock bool) (*ledger.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries WHERE identifier = ?` + t.s.lockSuffix(lock)
	row := t.tx.QueryRowContext(ctx, t.s.rebind(query), identifier)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query entry %s: %w", identifier, err)
	}
	return e, nil
}

// ActiveEntriesByIdentifiers returns the non-decommissioned entries whose
// identifiers are in ids. Callers detect missing identifiers by comparing
// counts; absent rows are not an error here.
func (t *RunTx) ActiveEntriesByIdentifiers(ctx context.Context, ids []string, lock bool) ([]*ledger.Entry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + entryColumns + ` FROM entries
		WHERE identifier IN (` + placeholders(len(ids)) + `) AND decommissioned = FALSE` +
		t.s.lockSuffix(lock)
	rows, err := t.tx.QueryContext(ctx, t.s.rebind(query), stringArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("query entries by identifiers: %w", err)
	}
	return collectEntries(rows)
}

// UnpackedEntriesByIdentifiers returns the active entries in ids that
// currently have no parent - the pool eligible for aggregation.
func (t *RunTx) UnpackedEntriesByIdentifiers(ctx context.Context, ids []string, lock bool) ([]*ledger.Entry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + entryColumns + ` FROM entries
		WHERE identifier IN (` + placeholders(len(ids)) + `)
		AND decommissioned = FALSE AND parent_id IS NULL` +
		t.s.lockSuffix(lock)
	rows, err := t.tx.QueryContext(ctx, t.s.rebind(query), stringArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("query unpacked entries: %w", err)
	}
	return collectEntries(rows)
}

// ChildrenOf returns the active direct children of any of the given
// parents.
func (t *RunTx) ChildrenOf(ctx context.Context, parentIDs []uuid.UUID, lock bool) ([]*ledger.Entry, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	query := `SELECT ` + entryColumns + ` FROM entries
		WHERE parent_id IN (` + placeholders(len(parentIDs)) + `) AND decommissioned = FALSE` +
		t.s.lockSuffix(lock)
	rows, err := t.tx.QueryContext(ctx, t.s.rebind(query), idStrings(parentIDs)...)
	if err != nil {
		return nil, fmt.Errorf("query children: %w", err)
	}
	return collectEntries(rows)
}

// EntriesByTop returns the active entries whose containment root is topID.
func (t *RunTx) EntriesByTop(ctx context.Context, topID uuid.UUID, lock bool) ([]*ledger.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries
		WHERE top_id = ? AND decommissioned = FALSE` + t.s.lockSuffix(lock)
	rows, err := t.tx.QueryContext(ctx, t.s.rebind(query), topID.String())
	if err != nil {
		return nil, fmt.Errorf("query entries by top: %w", err)
	}
	return collectEntries(rows)
}

// InsertEvents bulk-inserts new event records.
func (t *RunTx) InsertEvents(ctx context.Context, events []*ledger.Event) error {
	if len(events) == 0 {
		return nil
	}
	stmt, err := t.tx.PrepareContext(ctx, t.s.rebind(`
		INSERT INTO events
		(id, type, action, event_time, event_timezone_offset, record_time,
		 event_id, biz_step, disposition, read_point, biz_location, message_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`))
	if err != nil {
		return fmt.Errorf("prepare insert events: %w", err)
	}
	defer stmt.Close()
	for _, ev := range events {
		_, err := stmt.ExecContext(ctx,
			ev.ID.String(),
			string(ev.Type),
			stringArg(string(ev.Action)),
			ev.EventTime,
			stringArg(ev.EventTimezoneOffset),
			ev.RecordTime,
			stringArg(ev.EventID),
			stringArg(ev.BizStep),
			stringArg(ev.Disposition),
			stringArg(ev.ReadPoint),
			stringArg(ev.BizLocation),
			ev.MessageID.String(),
		)
		if err != nil {
			return fmt.Errorf("insert event %s: %w", ev.ID, err)
		}
	}
	return nil
}

// InsertEntryEvents bulk-inserts entry/event association records.
func (t *RunTx) InsertEntryEvents(ctx context.Context, rows []*ledger.EntryEvent) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := t.tx.PrepareContext(ctx, t.s.rebind(`
		INSERT INTO entry_events
		(event_id, entry_id, event_time, event_type, identifier, is_parent, output, task_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`))
	if err != nil {
		return fmt.Errorf("prepare insert entry events: %w", err)
	}
	defer stmt.Close()
	for _, ee := range rows {
		_, err := stmt.ExecContext(ctx,
			ee.EventID.String(),
			ee.EntryID.String(),
			ee.EventTime,
			string(ee.EventType),
			ee.Identifier,
			ee.IsParent,
			ee.Output,
			stringArg(ee.TaskName),
		)
		if err != nil {
			return fmt.Errorf("insert entry event %s: %w", ee.Identifier, err)
		}
	}
	return nil
}

// SaveEntries upserts created and mutated entries. New entries insert;
// existing entries update every mutable column.
func (t *RunTx) SaveEntries(ctx context.Context, entries []*ledger.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	stmt, err := t.tx.PrepareContext(ctx, t.s.rebind(`
		INSERT INTO entries
		(id, created, modified, identifier, parent_id, top_id, is_parent,
		 decommissioned, last_event, last_event_time, last_disposition,
		 last_aggregation_event, last_aggregation_event_time, last_aggregation_event_action)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			modified = excluded.modified,
			parent_id = excluded.parent_id,
			top_id = excluded.top_id,
			is_parent = excluded.is_parent,
			decommissioned = excluded.decommissioned,
			last_event = excluded.last_event,
			last_event_time = excluded.last_event_time,
			last_disposition = excluded.last_disposition,
			last_aggregation_event = excluded.last_aggregation_event,
			last_aggregation_event_time = excluded.last_aggregation_event_time,
			last_aggregation_event_action = excluded.last_aggregation_event_action
	`))
	if err != nil {
		return fmt.Errorf("prepare save entries: %w", err)
	}
	defer stmt.Close()
	for _, e := range entries {
		_, err := stmt.ExecContext(ctx,
			e.ID.String(),
			e.Created,
			e.Modified,
			e.Identifier,
			uuidArg(e.ParentID),
			uuidArg(e.TopID),
			e.IsParent,
			e.Decommissioned,
			uuidArg(e.LastEvent),
			timeArg(e.LastEventTime),
			stringArg(e.LastDisposition),
			uuidArg(e.LastAggregationEvent),
			timeArg(e.LastAggregationEventTime),
			stringArg(string(e.LastAggregationEventAction)),
		)
		if err != nil {
			return fmt.Errorf("save entry %s: %w", e.Identifier, err)
		}
	}
	return nil
}

// InsertBizTransactions bulk-inserts business transaction side records.
func (t *RunTx) InsertBizTransactions(ctx context.Context, rows []*ledger.BusinessTransaction) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := t.tx.PrepareContext(ctx, t.s.rebind(`
		INSERT INTO biz_transactions (event_id, biz_transaction, type) VALUES (?, ?, ?)
	`))
	if err != nil {
		return fmt.Errorf("prepare insert biz transactions: %w", err)
	}
	defer stmt.Close()
	for _, bt := range rows {
		if _, err := stmt.ExecContext(ctx, bt.EventID.String(), bt.BizTransaction, stringArg(bt.Type)); err != nil {
			return fmt.Errorf("insert biz transaction: %w", err)
		}
	}
	return nil
}

// InsertSources bulk-inserts source side records.
func (t *RunTx) InsertSources(ctx context.Context, rows []*ledger.Source) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := t.tx.PrepareContext(ctx, t.s.rebind(`
		INSERT INTO sources (event_id, type, source) VALUES (?, ?, ?)
	`))
	if err != nil {
		return fmt.Errorf("prepare insert sources: %w", err)
	}
	defer stmt.Close()
	for _, src := range rows {
		if _, err := stmt.ExecContext(ctx, src.EventID.String(), src.Type, src.Source); err != nil {
			return fmt.Errorf("insert source: %w", err)
		}
	}
	return nil
}

// InsertDestinations bulk-inserts destination side records.
func (t *RunTx) InsertDestinations(ctx context.Context, rows []*ledger.Destination) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := t.tx.PrepareContext(ctx, t.s.rebind(`
		INSERT INTO destinations (event_id, type, destination) VALUES (?, ?, ?)
	`))
	if err != nil {
		return fmt.Errorf("prepare insert destinations: %w", err)
	}
	defer stmt.Close()
	for _, dst := range rows {
		if _, err := stmt.ExecContext(ctx, dst.EventID.String(), dst.Type, dst.Destination); err != nil {
			return fmt.Errorf("insert destination: %w", err)
		}
	}
	return nil
}

// InsertQuantityElements bulk-inserts quantity side records.
func (t *RunTx) InsertQuantityElements(ctx context.Context, rows []*ledger.QuantityElement) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := t.tx.PrepareContext(ctx, t.s.rebind(`
		INSERT INTO quantity_elements (event_id, epc_class, quantity, uom, is_output)
		VALUES (?, ?, ?, ?, ?)
	`))
	if err != nil {
		return fmt.Errorf("prepare insert quantity elements: %w", err)
	}
	defer stmt.Close()
	for _, qe := range rows {
		if _, err := stmt.ExecContext(ctx, qe.EventID.String(), qe.EPCClass, qe.Quantity, stringArg(qe.UOM), qe.IsOutput); err != nil {
			return fmt.Errorf("insert quantity element: %w", err)
		}
	}
	return nil
}

// InsertILMD bulk-inserts instance/lot master data side records.
func (t *RunTx) InsertILMD(ctx context.Context, rows []*ledger.InstanceLotMasterData) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := t.tx.PrepareContext(ctx, t.s.rebind(`
		INSERT INTO ilmd (event_id, name, value) VALUES (?, ?, ?)
	`))
	if err != nil {
		return fmt.Errorf("prepare insert ilmd: %w", err)
	}
	defer stmt.Close()
	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row.EventID.String(), row.Name, row.Value); err != nil {
			return fmt.Errorf("insert ilmd: %w", err)
		}
	}
	return nil
}

// InsertErrorDeclarations bulk-inserts error declaration side records.
func (t *RunTx) InsertErrorDeclarations(ctx context.Context, rows []*ledger.ErrorDeclaration) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := t.tx.PrepareContext(ctx, t.s.rebind(`
		INSERT INTO error_declarations (event_id, declaration_time, reason, corrective_event_ids)
		VALUES (?, ?, ?, ?)
	`))
	if err != nil {
		return fmt.Errorf("prepare insert error declarations: %w", err)
	}
	defer stmt.Close()
	for _, ed := range rows {
		if _, err := stmt.ExecContext(ctx, ed.EventID.String(), ed.DeclarationTime, stringArg(ed.Reason), stringArg(ed.CorrectiveEventIDs)); err != nil {
			return fmt.Errorf("insert error declaration: %w", err)
		}
	}
	return nil
}

// InsertTransformationIDs bulk-inserts transformation id side records.
func (t *RunTx) InsertTransformationIDs(ctx context.Context, rows []*ledger.TransformationID) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := t.tx.PrepareContext(ctx, t.s.rebind(`
		INSERT INTO transformation_ids (event_id, identifier) VALUES (?, ?)
	`))
	if err != nil {
		return fmt.Errorf("prepare insert transformation ids: %w", err)
	}
	defer stmt.Close()
	for _, ti := range rows {
		if _, err := stmt.ExecContext(ctx, ti.EventID.String(), ti.Identifier); err != nil {
			return fmt.Errorf("insert transformation id: %w", err)
		}
	}
	return nil
}
