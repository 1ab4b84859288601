package parsing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/rmagee/quartet-epcis/internal/epcis"
	"github.com/rmagee/quartet-epcis/internal/ledger"
	"github.com/rmagee/quartet-epcis/internal/metrics"
	"github.com/rmagee/quartet-epcis/internal/store"
)

// BusinessParser is the rule-enforcing engine.
//
// On top of loose capture it validates every event against the current
// ledger state: commissioning uniqueness, decommission terminality,
// aggregation eligibility, and the temporal order guard on
// non-observational events. Any violation aborts the whole run.
type BusinessParser struct {
	*Parser
}

// NewBusinessParser creates a rule-enforcing engine over the given store.
func NewBusinessParser(s *store.Store, opts ...Option) *BusinessParser {
	return &BusinessParser{Parser: NewParser(s, opts...)}
}

// Parse processes one inbound message under full business validation.
// Events are processed strictly in arrival order; the first violation
// rolls back the current transaction segment and aborts the run.
func (b *BusinessParser) Parse(ctx context.Context, events []epcis.Event) (uuid.UUID, error) {
	return b.run(ctx, events, b.handleEvent)
}

// handleEvent routes one decoded event to its type- and action-specific
// handler. Routing performs no validation of its own.
func (b *BusinessParser) handleEvent(ctx context.Context, ev *epcis.Event) error {
	slog.Debug("processing event",
		"type", ev.Type,
		"action", ev.Action,
		"event_time", ev.EventTime)
	switch ev.Type {
	case epcis.ObjectEvent:
		return b.handleObject(ctx, ev)
	case epcis.AggregationEvent:
		return b.handleAggregation(ctx, ev)
	case epcis.TransactionEvent:
		return b.handleTransaction(ctx, ev)
	case epcis.TransformationEvent:
		return b.handleTransformation(ctx, ev)
	default:
		return fmt.Errorf("unhandled event type %q", ev.Type)
	}
}

func (b *BusinessParser) handleObject(ctx context.Context, ev *epcis.Event) error {
	switch ev.Action {
	case epcis.ActionAdd:
		return b.commission(ctx, ev)
	case epcis.ActionObserve:
		return b.observeObjects(ctx, ev)
	case epcis.ActionDelete:
		return b.decommission(ctx, ev, ev.EPCs)
	default:
		return fmt.Errorf("unhandled action %q", ev.Action)
	}
}

func (b *BusinessParser) handleAggregation(ctx context.Context, ev *epcis.Event) error {
	switch ev.Action {
	case epcis.ActionAdd:
		return b.pack(ctx, ev)
	case epcis.ActionObserve:
		return b.observeAggregation(ctx, ev)
	case epcis.ActionDelete:
		return b.unpack(ctx, ev)
	default:
		return fmt.Errorf("unhandled action %q", ev.Action)
	}
}

// commission creates one root entry per identifier. The whole event is
// rejected if any identifier already has a ledger row, active or not:
// identifiers are assigned exactly once, ever.
func (b *BusinessParser) commission(ctx context.Context, ev *epcis.Event) error {
	seen := make(map[string]bool, len(ev.EPCs))
	for _, id := range ev.EPCs {
		if seen[id] {
			return NewDuplicateCommissionError(ev.EventID, id)
		}
		seen[id] = true
		existing, err := b.existingEntry(ctx, id)
		if err != nil {
			return err
		}
		if existing != nil {
			return NewDuplicateCommissionError(ev.EventID, id)
		}
	}
	record := b.appendEvent(ev)
	for _, id := range ev.EPCs {
		entry := ledger.NewEntry(id, b.now())
		b.stampEntry(entry, record)
		b.entryCache[id] = entry
		b.recordEntryEvent(entry, record, false, false)
		metrics.EntriesCommissioned.Inc()
	}
	slog.Debug("entries commissioned", "event", record.ID, "count", len(ev.EPCs))
	return nil
}

// observeObjects records a non-structural touch: every identifier must
// resolve, last_event fields are updated, and the temporal order guard
// does not apply.
func (b *BusinessParser) observeObjects(ctx context.Context, ev *epcis.Event) error {
	entries, err := b.resolveEntries(ctx, ev.EventID, ev.EPCs)
	if err != nil {
		return err
	}
	record := b.appendEvent(ev)
	for _, e := range entries {
		b.stampEntry(e, record)
		b.recordEntryEvent(e, record, false, false)
	}
	return nil
}

// handleTransaction treats participating epcs like an object event of
// the same action. An optional parent is linked informationally through
// an is_parent entry event without any structural or stamp mutation.
func (b *BusinessParser) handleTransaction(ctx context.Context, ev *epcis.Event) error {
	entries, err := b.resolveEntries(ctx, ev.EventID, ev.EPCs)
	if err != nil {
		return err
	}
	record := b.appendEvent(ev)
	if ev.Action != epcis.ActionObserve {
		for _, e := range entries {
			if err := checkEventOrder(e, record); err != nil {
				return err
			}
		}
	}
	for _, e := range entries {
		b.stampEntry(e, record)
		b.recordEntryEvent(e, record, false, false)
	}
	if ev.ParentID != "" {
		parent, err := b.resolveEntry(ctx, ev.EventID, ev.ParentID)
		if err != nil {
			return err
		}
		b.recordEntryEvent(parent, record, true, false)
	}
	return nil
}

// handleTransformation stamps inputs as consumed material and
// commissions outputs as new entries flagged as event output. Inputs are
// non-observational and subject to the temporal order guard.
func (b *BusinessParser) handleTransformation(ctx context.Context, ev *epcis.Event) error {
	inputs, err := b.resolveEntries(ctx, ev.EventID, ev.InputEPCs)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(ev.OutputEPCs))
	for _, id := range ev.OutputEPCs {
		if seen[id] {
			return NewDuplicateCommissionError(ev.EventID, id)
		}
		seen[id] = true
		existing, err := b.existingEntry(ctx, id)
		if err != nil {
			return err
		}
		if existing != nil {
			return NewDuplicateCommissionError(ev.EventID, id)
		}
	}
	record := b.appendEvent(ev)
	for _, e := range inputs {
		if err := checkEventOrder(e, record); err != nil {
			return err
		}
	}
	for _, e := range inputs {
		b.stampEntry(e, record)
		b.recordEntryEvent(e, record, false, false)
	}
	for _, id := range ev.OutputEPCs {
		entry := ledger.NewEntry(id, b.now())
		b.stampEntry(entry, record)
		b.entryCache[id] = entry
		b.recordEntryEvent(entry, record, false, true)
		metrics.EntriesCommissioned.Inc()
	}
	return nil
}

// resolveEntry resolves one identifier to its active entry: working set
// first, then a locked read. Unknown identifiers fail with
// ENTRY_NOT_FOUND, retired ones with ENTRY_DECOMMISSIONED.
func (b *BusinessParser) resolveEntry(ctx context.Context, eventID, identifier string) (*ledger.Entry, error) {
	if _, ok := b.decommissionedCache[identifier]; ok {
		return nil, NewEntryDecommissionedError(eventID, identifier)
	}
	if e, ok := b.entryCache[identifier]; ok {
		return e, nil
	}
	e, err := b.tx.EntryRowByIdentifier(ctx, identifier, true)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, NewEntryNotFoundError(eventID, identifier)
	}
	if e.Decommissioned {
		return nil, NewEntryDecommissionedError(eventID, identifier)
	}
	b.entryCache[identifier] = e
	return e, nil
}

// resolveEntries resolves a batch of identifiers to active entries,
// preserving input order. It returns exactly one entry per requested
// identifier or fails with ENTRY_COUNT_MISMATCH naming every identifier
// that could not be resolved.
func (b *BusinessParser) resolveEntries(ctx context.Context, eventID string, identifiers []string) ([]*ledger.Entry, error) {
	resolved := make(map[string]*ledger.Entry, len(identifiers))
	var need []string
	for _, id := range identifiers {
		if _, ok := resolved[id]; ok {
			continue
		}
		if _, ok := b.decommissionedCache[id]; ok {
			continue
		}
		if e, ok := b.entryCache[id]; ok {
			resolved[id] = e
			continue
		}
		need = append(need, id)
	}
	if len(need) > 0 {
		rows, err := b.tx.ActiveEntriesByIdentifiers(ctx, need, true)
		if err != nil {
			return nil, err
		}
		for _, e := range rows {
			resolved[e.Identifier] = e
			b.entryCache[e.Identifier] = e
		}
	}

	out := make([]*ledger.Entry, 0, len(identifiers))
	var missing []string
	seen := make(map[string]bool, len(identifiers))
	for _, id := range identifiers {
		if seen[id] {
			continue
		}
		seen[id] = true
		if e, ok := resolved[id]; ok {
			out = append(out, e)
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) > 0 {
		return nil, NewEntryCountMismatchError(eventID, missing)
	}
	return out, nil
}

// existingEntry returns any ledger row for the identifier, active,
// retired, or still unflushed in the working set. Used by commissioning
// to detect re-assignment.
func (b *BusinessParser) existingEntry(ctx context.Context, identifier string) (*ledger.Entry, error) {
	if e, ok := b.entryCache[identifier]; ok {
		return e, nil
	}
	if e, ok := b.decommissionedCache[identifier]; ok {
		return e, nil
	}
	return b.tx.EntryRowByIdentifier(ctx, identifier, true)
}

// checkEventOrder rejects a non-observational event whose event time
// predates the entry's most recent recorded event.
func checkEventOrder(entry *ledger.Entry, record *ledger.Event) error {
	if entry.LastEventTime != nil && record.EventTime.Before(*entry.LastEventTime) {
		return NewOutOfOrderEventError(record.EventID, entry.Identifier)
	}
	return nil
}
