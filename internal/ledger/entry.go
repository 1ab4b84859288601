// Package ledger defines the durable records of the item ledger: entries
// (serialized items), events, entry/event associations and the per-run
// message header, plus the side records captured alongside each event.
//
// Records are plain structs; persistence lives in internal/store and
// every mutation is buffered by the parsing engine until commit.
package ledger

import (
	"time"

	"github.com/google/uuid"

	"github.com/rmagee/quartet-epcis/internal/epcis"
)

// Entry is one serialized item in the ledger.
//
// An Entry is created by its commissioning event and only ever mutated
// afterward, never deleted. ParentID and TopID form a forest: ParentID is
// the immediate container, TopID the root of the containment tree. TopID
// is nil exactly when the item is itself a root.
type Entry struct {
	ID       uuid.UUID
	Created  time.Time
	Modified time.Time

	// Identifier is the EPC URN, globally unique, assigned exactly once.
	Identifier string

	ParentID *uuid.UUID
	TopID    *uuid.UUID

	// IsParent is set once the entry has ever contained children.
	IsParent bool

	// Decommissioned is terminal: a decommissioned entry can no longer
	// participate in any event.
	Decommissioned bool

	LastEvent       *uuid.UUID
	LastEventTime   *time.Time
	LastDisposition string

	LastAggregationEvent       *uuid.UUID
	LastAggregationEventTime   *time.Time
	LastAggregationEventAction epcis.Action
}

// NewEntry returns a freshly commissioned root entry for identifier.
func NewEntry(identifier string, now time.Time) *Entry {
	return &Entry{
		ID:         uuid.New(),
		Created:    now,
		Modified:   now,
		Identifier: identifier,
	}
}

// EntryEvent is the intersection record linking one Entry to one Event.
// An Entry accumulates one EntryEvent per event it participates in; its
// EntryEvent rows are its full history.
type EntryEvent struct {
	EntryID   uuid.UUID
	EventID   uuid.UUID
	EventTime time.Time
	EventType epcis.EventType

	// Identifier redundantly carries the entry's EPC for fast event
	// composition without a join.
	Identifier string

	// IsParent records that the entry was the parent/root in this event.
	IsParent bool

	// Output records that the entry was the output of a transformation.
	Output bool

	// TaskName is the host runtime task that produced this record.
	TaskName string
}

// Message correlates every record produced while processing one inbound
// message. Its ID is the run identifier returned by Parse.
type Message struct {
	ID      uuid.UUID
	Created time.Time
}

// NewMessage returns a message header for a new run.
func NewMessage(now time.Time) *Message {
	return &Message{ID: uuid.New(), Created: now}
}
