// Package query exposes read-only ledger accessors to the API and host
// runtime collaborators. Hierarchy queries accept EPC identifiers and
// resolve them to ledger rows; none of them mutate state.
package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/rmagee/quartet-epcis/internal/ledger"
	"github.com/rmagee/quartet-epcis/internal/store"
)

// ErrNotFound is returned when a named identifier has no ledger row.
var ErrNotFound = errors.New("entry not found")

// Proxy answers read queries over the committed ledger without locking.
type Proxy struct {
	s *store.Store
}

// NewProxy creates a read proxy over the given store.
func NewProxy(s *store.Store) *Proxy {
	return &Proxy{s: s}
}

// Entry returns the ledger row for one identifier.
func (q *Proxy) Entry(ctx context.Context, identifier string) (*ledger.Entry, error) {
	e, err := q.s.EntryByIdentifier(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("%q: %w", identifier, ErrNotFound)
	}
	return e, nil
}

// EntriesByIdentifiers returns the ledger rows for an identifier set.
// Absent identifiers are simply not in the result.
func (q *Proxy) EntriesByIdentifiers(ctx context.Context, identifiers []string) ([]*ledger.Entry, error) {
	return q.s.EntriesByIdentifiers(ctx, identifiers)
}

// EntriesByParent returns the active direct children of the entry named
// by identifier.
func (q *Proxy) EntriesByParent(ctx context.Context, identifier string) ([]*ledger.Entry, error) {
	parent, err := q.Entry(ctx, identifier)
	if err != nil {
		return nil, err
	}
	return q.s.EntriesByParent(ctx, parent.ID)
}

// EntriesByTop returns every active entry in the containment tree rooted
// at the entry named by identifier, the root itself excluded.
func (q *Proxy) EntriesByTop(ctx context.Context, identifier string) ([]*ledger.Entry, error) {
	top, err := q.Entry(ctx, identifier)
	if err != nil {
		return nil, err
	}
	return q.s.EntriesByTop(ctx, top.ID)
}

// EventHistory returns every event the identifier participated in,
// oldest first.
func (q *Proxy) EventHistory(ctx context.Context, identifier string) ([]*ledger.Event, error) {
	return q.s.EventHistory(ctx, identifier)
}

// EventsByMessage returns every event committed under one run.
func (q *Proxy) EventsByMessage(ctx context.Context, messageID uuid.UUID) ([]*ledger.Event, error) {
	return q.s.EventsByMessage(ctx, messageID)
}

// EntryEventsByEvent returns the entry associations of one event.
func (q *Proxy) EntryEventsByEvent(ctx context.Context, eventID uuid.UUID) ([]*ledger.EntryEvent, error) {
	return q.s.EntryEventsByEvent(ctx, eventID)
}

// Locked returns a view of the same queries that reads under the given
// run transaction with the engine's exclusive row locks, so
// administrative re-validation serializes against in-flight runs.
func (q *Proxy) Locked(tx *store.RunTx) *LockedProxy {
	return &LockedProxy{q: q, tx: tx}
}

// LockedProxy reads entries under a run transaction with exclusive row
// locks. Locks are held until the transaction commits or rolls back.
type LockedProxy struct {
	q  *Proxy
	tx *store.RunTx
}

// Entry returns the active ledger row for one identifier under lock.
func (l *LockedProxy) Entry(ctx context.Context, identifier string) (*ledger.Entry, error) {
	e, err := l.tx.EntryRowByIdentifier(ctx, identifier, true)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("%q: %w", identifier, ErrNotFound)
	}
	return e, nil
}

// EntriesByIdentifiers returns the active rows for an identifier set
// under lock.
func (l *LockedProxy) EntriesByIdentifiers(ctx context.Context, identifiers []string) ([]*ledger.Entry, error) {
	return l.tx.ActiveEntriesByIdentifiers(ctx, identifiers, true)
}

// EntriesByParent returns the active direct children of the entry named
// by identifier, all under lock.
func (l *LockedProxy) EntriesByParent(ctx context.Context, identifier string) ([]*ledger.Entry, error) {
	parent, err := l.Entry(ctx, identifier)
	if err != nil {
		return nil, err
	}
	return l.tx.ChildrenOf(ctx, []uuid.UUID{parent.ID}, true)
}

// EntriesByTop returns every active entry rooted at the entry named by
// identifier, all under lock.
func (l *LockedProxy) EntriesByTop(ctx context.Context, identifier string) ([]*ledger.Entry, error) {
	top, err := l.Entry(ctx, identifier)
	if err != nil {
		return nil, err
	}
	return l.tx.EntriesByTop(ctx, top.ID, true)
}
