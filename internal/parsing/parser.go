// Package parsing implements the event engine: classification of decoded
// events, resolution of the entries they reference, hierarchy mutation,
// and batched transactional commit.
//
// Two engines share the run machinery. Parser captures events loosely,
// creating entries on first sight without business validation.
// BusinessParser enforces the full rule set: commissioning uniqueness,
// decommission terminality, aggregation eligibility and the temporal
// order guard.
package parsing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rmagee/quartet-epcis/internal/epcis"
	"github.com/rmagee/quartet-epcis/internal/ledger"
	"github.com/rmagee/quartet-epcis/internal/metrics"
	"github.com/rmagee/quartet-epcis/internal/store"
)

// DefaultEventCacheSize is the number of buffered events that triggers a
// mid-run flush. A flushed batch is durable even if a later batch in the
// same run fails; the threshold bounds lock hold time on large messages.
const DefaultEventCacheSize = 1024

// Parser is the loose capture engine. It stores events, entry events and
// side records without business validation; entries are created the first
// time an identifier is seen.
//
// A Parser processes one run at a time. All caches are run-local and
// cleared at every flush, so after a mid-run flush entries are re-read
// (and re-locked) under the next transaction segment.
type Parser struct {
	store *store.Store

	eventCacheSize        int
	taskName              string
	recursiveDecommission bool
	now                   func() time.Time

	// per-run state
	tx              *store.RunTx
	message         *ledger.Message
	messageInserted bool

	eventCache          []*ledger.Event
	entryCache          map[string]*ledger.Entry
	decommissionedCache map[string]*ledger.Entry
	entryEventCache     []*ledger.EntryEvent

	bizTransactionCache []*ledger.BusinessTransaction
	sourceCache         []*ledger.Source
	destinationCache    []*ledger.Destination
	quantityCache       []*ledger.QuantityElement
	ilmdCache           []*ledger.InstanceLotMasterData
	errorDeclCache      []*ledger.ErrorDeclaration
	transformationCache []*ledger.TransformationID
}

// Option allows configuration of engine parameters.
type Option func(*Parser)

// WithEventCacheSize sets the buffered-event count that triggers a
// mid-run flush.
//
// Default: 1024 events (DefaultEventCacheSize)
// Use WithEventCacheSize(2) for testing flush behavior.
func WithEventCacheSize(n int) Option {
	return func(p *Parser) {
		p.eventCacheSize = n
	}
}

// WithTaskName stamps every entry event produced by the engine with the
// host runtime task that drove the run.
func WithTaskName(name string) Option {
	return func(p *Parser) {
		p.taskName = name
	}
}

// WithClock overrides the time source. Used by tests for deterministic
// created/modified stamps.
func WithClock(now func() time.Time) Option {
	return func(p *Parser) {
		p.now = now
	}
}

// WithRecursiveDecommission controls whether decommissioning an entry
// also decommissions its transitive descendants.
//
// Default: true. With false, only the named entries are retired and
// orphaned children keep pointers at a now-decommissioned ancestor.
func WithRecursiveDecommission(enabled bool) Option {
	return func(p *Parser) {
		p.recursiveDecommission = enabled
	}
}

// NewParser creates a loose capture engine over the given store.
func NewParser(s *store.Store, opts ...Option) *Parser {
	p := &Parser{
		store:                 s,
		eventCacheSize:        DefaultEventCacheSize,
		recursiveDecommission: true,
		now:                   time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.reset()
	return p
}

// Parse processes one inbound message: every event is captured loosely,
// in arrival order, and all produced records are committed under the
// returned message id.
func (p *Parser) Parse(ctx context.Context, events []epcis.Event) (uuid.UUID, error) {
	return p.run(ctx, events, p.handleLoose)
}

// run is the shared lifecycle: create the message header, process events
// in order through handle, flush at the cache threshold and at run end.
// Any error rolls back the current transaction segment and aborts.
func (p *Parser) run(ctx context.Context, events []epcis.Event, handle func(context.Context, *epcis.Event) error) (uuid.UUID, error) {
	p.reset()
	p.message = ledger.NewMessage(p.now())
	slog.Info("run starting", "message", p.message.ID, "events", len(events))

	for i := range events {
		ev := &events[i]
		if err := ev.Validate(); err != nil {
			p.abort()
			return uuid.Nil, fmt.Errorf("event %d: %w", i, err)
		}
		if err := p.ensureTx(ctx); err != nil {
			return uuid.Nil, err
		}
		if err := handle(ctx, ev); err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				metrics.ValidationFailures.WithLabelValues(string(ve.Code)).Inc()
			}
			p.abort()
			return uuid.Nil, fmt.Errorf("event %d: %w", i, err)
		}
		metrics.EventsProcessed.WithLabelValues(string(ev.Type)).Inc()

		if len(p.eventCache) >= p.eventCacheSize {
			slog.Debug("event cache threshold reached",
				"message", p.message.ID,
				"events", len(p.eventCache))
			if err := p.flush(ctx); err != nil {
				p.abort()
				return uuid.Nil, err
			}
		}
	}

	if err := p.flush(ctx); err != nil {
		p.abort()
		return uuid.Nil, err
	}
	slog.Info("run committed", "message", p.message.ID)
	return p.message.ID, nil
}

// reset clears all per-run state.
func (p *Parser) reset() {
	p.tx = nil
	p.message = nil
	p.messageInserted = false
	p.clearCaches()
}

func (p *Parser) clearCaches() {
	p.eventCache = nil
	p.entryCache = make(map[string]*ledger.Entry)
	p.decommissionedCache = make(map[string]*ledger.Entry)
	p.entryEventCache = nil
	p.bizTransactionCache = nil
	p.sourceCache = nil
	p.destinationCache = nil
	p.quantityCache = nil
	p.ilmdCache = nil
	p.errorDeclCache = nil
	p.transformationCache = nil
}

// ensureTx lazily begins the current transaction segment. The message
// header is inserted under the first segment only.
func (p *Parser) ensureTx(ctx context.Context) error {
	if p.tx != nil {
		return nil
	}
	tx, err := p.store.Begin(ctx)
	if err != nil {
		return err
	}
	p.tx = tx
	if !p.messageInserted {
		if err := tx.InsertMessage(ctx, p.message); err != nil {
			p.abort()
			return err
		}
		p.messageInserted = true
	}
	return nil
}

// flush persists every cache in one durable transaction, in dependency
// order, then clears them. On success the segment's locks are released;
// the next entry resolution begins a new segment.
func (p *Parser) flush(ctx context.Context) error {
	if err := p.ensureTx(ctx); err != nil {
		return err
	}
	if err := p.tx.InsertEvents(ctx, p.eventCache); err != nil {
		return err
	}
	if err := p.tx.InsertEntryEvents(ctx, p.entryEventCache); err != nil {
		return err
	}
	if err := p.tx.SaveEntries(ctx, sortedEntries(p.entryCache)); err != nil {
		return err
	}
	if err := p.tx.SaveEntries(ctx, sortedEntries(p.decommissionedCache)); err != nil {
		return err
	}
	if err := p.tx.InsertBizTransactions(ctx, p.bizTransactionCache); err != nil {
		return err
	}
	if err := p.tx.InsertSources(ctx, p.sourceCache); err != nil {
		return err
	}
	if err := p.tx.InsertDestinations(ctx, p.destinationCache); err != nil {
		return err
	}
	if err := p.tx.InsertQuantityElements(ctx, p.quantityCache); err != nil {
		return err
	}
	if err := p.tx.InsertILMD(ctx, p.ilmdCache); err != nil {
		return err
	}
	if err := p.tx.InsertErrorDeclarations(ctx, p.errorDeclCache); err != nil {
		return err
	}
	if err := p.tx.InsertTransformationIDs(ctx, p.transformationCache); err != nil {
		return err
	}
	if err := p.tx.Commit(); err != nil {
		return err
	}
	metrics.Flushes.Inc()
	slog.Debug("flush committed",
		"message", p.message.ID,
		"events", len(p.eventCache),
		"entry_events", len(p.entryEventCache),
		"entries", len(p.entryCache)+len(p.decommissionedCache))
	p.tx = nil
	p.clearCaches()
	return nil
}

// abort rolls back the current transaction segment, if any.
func (p *Parser) abort() {
	if p.tx == nil {
		return
	}
	if err := p.tx.Rollback(); err != nil {
		slog.Error("run rollback failed", "message", p.message.ID, "error", err)
	}
	p.tx = nil
}

// appendEvent converts a decoded event into its stored record, buffers
// it along with its side records, and returns it for entry association.
func (p *Parser) appendEvent(ev *epcis.Event) *ledger.Event {
	record := ledger.NewEvent(ev, p.message.ID, p.now())
	p.eventCache = append(p.eventCache, record)

	for _, bt := range ev.BizTransactions {
		p.bizTransactionCache = append(p.bizTransactionCache, &ledger.BusinessTransaction{
			EventID:        record.ID,
			BizTransaction: bt.BizTransaction,
			Type:           bt.Type,
		})
	}
	for _, src := range ev.Sources {
		p.sourceCache = append(p.sourceCache, &ledger.Source{
			EventID: record.ID,
			Type:    src.Type,
			Source:  src.Source,
		})
	}
	for _, dst := range ev.Destinations {
		p.destinationCache = append(p.destinationCache, &ledger.Destination{
			EventID:     record.ID,
			Type:        dst.Type,
			Destination: dst.Destination,
		})
	}
	for _, qe := range ev.Quantities {
		p.quantityCache = append(p.quantityCache, &ledger.QuantityElement{
			EventID:  record.ID,
			EPCClass: qe.EPCClass,
			Quantity: qe.Quantity,
			UOM:      qe.UOM,
			IsOutput: qe.IsOutput,
		})
	}
	for _, attr := range ev.ILMD {
		p.ilmdCache = append(p.ilmdCache, &ledger.InstanceLotMasterData{
			EventID: record.ID,
			Name:    attr.Name,
			Value:   attr.Value,
		})
	}
	if ed := ev.ErrorDeclaration; ed != nil {
		p.errorDeclCache = append(p.errorDeclCache, &ledger.ErrorDeclaration{
			EventID:            record.ID,
			DeclarationTime:    ed.DeclarationTime,
			Reason:             ed.Reason,
			CorrectiveEventIDs: strings.Join(ed.CorrectiveEventIDs, ","),
		})
	}
	if ev.TransformationID != "" {
		p.transformationCache = append(p.transformationCache, &ledger.TransformationID{
			EventID:    record.ID,
			Identifier: ev.TransformationID,
		})
	}
	return record
}

// recordEntryEvent buffers the association between one entry and one
// stored event.
func (p *Parser) recordEntryEvent(entry *ledger.Entry, record *ledger.Event, isParent, output bool) {
	p.entryEventCache = append(p.entryEventCache, &ledger.EntryEvent{
		EntryID:    entry.ID,
		EventID:    record.ID,
		EventTime:  record.EventTime,
		EventType:  record.Type,
		Identifier: entry.Identifier,
		IsParent:   isParent,
		Output:     output,
		TaskName:   p.taskName,
	})
}

// stampEntry records the event as the entry's most recent event of any
// kind.
func (p *Parser) stampEntry(entry *ledger.Entry, record *ledger.Event) {
	entry.LastEvent = &record.ID
	entry.LastEventTime = &record.EventTime
	entry.LastDisposition = record.Disposition
	entry.Modified = p.now()
}

// stampAggregation records the event as the entry's most recent
// structural event.
func (p *Parser) stampAggregation(entry *ledger.Entry, record *ledger.Event) {
	entry.LastAggregationEvent = &record.ID
	entry.LastAggregationEventTime = &record.EventTime
	entry.LastAggregationEventAction = record.Action
}

// getOrCreate resolves an identifier permissively: working set first,
// then a locked read, then a fresh entry when the identifier has never
// been seen.
func (p *Parser) getOrCreate(ctx context.Context, identifier string) (*ledger.Entry, error) {
	if e, ok := p.entryCache[identifier]; ok {
		return e, nil
	}
	if e, ok := p.decommissionedCache[identifier]; ok {
		return e, nil
	}
	e, err := p.tx.EntryRowByIdentifier(ctx, identifier, true)
	if err != nil {
		return nil, err
	}
	if e == nil {
		e = ledger.NewEntry(identifier, p.now())
		metrics.EntriesCommissioned.Inc()
	}
	p.entryCache[identifier] = e
	return e, nil
}

// handleLoose captures one event without business validation: every
// referenced identifier is resolved or created, stamped, and associated
// with the stored event. Hierarchy pointers are not mutated.
func (p *Parser) handleLoose(ctx context.Context, ev *epcis.Event) error {
	record := p.appendEvent(ev)

	plain := make([]string, 0, len(ev.EPCs)+len(ev.ChildEPCs)+len(ev.InputEPCs))
	plain = append(plain, ev.EPCs...)
	plain = append(plain, ev.ChildEPCs...)
	plain = append(plain, ev.InputEPCs...)
	for _, id := range plain {
		entry, err := p.getOrCreate(ctx, id)
		if err != nil {
			return err
		}
		p.stampEntry(entry, record)
		p.recordEntryEvent(entry, record, false, false)
	}
	for _, id := range ev.OutputEPCs {
		entry, err := p.getOrCreate(ctx, id)
		if err != nil {
			return err
		}
		p.stampEntry(entry, record)
		p.recordEntryEvent(entry, record, false, true)
	}
	if ev.ParentID != "" {
		entry, err := p.getOrCreate(ctx, ev.ParentID)
		if err != nil {
			return err
		}
		p.stampEntry(entry, record)
		p.recordEntryEvent(entry, record, true, false)
	}
	return nil
}

// sortedEntries returns the cached entries in identifier order so flush
// writes are deterministic across runs.
func sortedEntries(cache map[string]*ledger.Entry) []*ledger.Entry {
	out := make([]*ledger.Entry, 0, len(cache))
	for _, e := range cache {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out
}
