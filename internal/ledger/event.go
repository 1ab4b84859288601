package ledger

import (
	"time"

	"github.com/google/uuid"

	"github.com/rmagee/quartet-epcis/internal/epcis"
)

// Event is the stored form of one business event. It is immutable once
// persisted; an omnibus row shape covers all four event types.
type Event struct {
	ID uuid.UUID

	Type epcis.EventType

	// Action is empty for transformation events.
	Action epcis.Action

	EventTime           time.Time
	EventTimezoneOffset string
	RecordTime          time.Time

	// EventID is the capturing application's own identifier, distinct
	// from the ledger primary key.
	EventID string

	BizStep     string
	Disposition string
	ReadPoint   string
	BizLocation string

	// MessageID ties the event to the run that produced it.
	MessageID uuid.UUID
}

// NewEvent builds a stored event from a decoded one. The record time
// defaults to now when the wire document carried none.
func NewEvent(ev *epcis.Event, messageID uuid.UUID, now time.Time) *Event {
	recordTime := ev.RecordTime
	if recordTime.IsZero() {
		recordTime = now
	}
	return &Event{
		ID:                  uuid.New(),
		Type:                ev.Type,
		Action:              ev.Action,
		EventTime:           ev.EventTime,
		EventTimezoneOffset: ev.EventTimezoneOffset,
		RecordTime:          recordTime,
		EventID:             ev.EventID,
		BizStep:             ev.BizStep,
		Disposition:         ev.Disposition,
		ReadPoint:           ev.ReadPoint,
		BizLocation:         ev.BizLocation,
		MessageID:           messageID,
	}
}

// BusinessTransaction records the event's participation in a business
// transaction such as a purchase order.
type BusinessTransaction struct {
	EventID        uuid.UUID
	BizTransaction string
	Type           string
}

// Source records a source party or location for an event.
type Source struct {
	EventID uuid.UUID
	Type    string
	Source  string
}

// Destination records a destination party or location for an event.
type Destination struct {
	EventID     uuid.UUID
	Type        string
	Destination string
}

// QuantityElement records a class-level quantity named by an event.
type QuantityElement struct {
	EventID  uuid.UUID
	EPCClass string
	Quantity float64
	UOM      string
	IsOutput bool
}

// InstanceLotMasterData is one ILMD attribute attached to an event.
type InstanceLotMasterData struct {
	EventID uuid.UUID
	Name    string
	Value   string
}

// ErrorDeclaration marks an event as a correction of earlier events.
// Corrective event ids are stored as a comma-delimited list.
type ErrorDeclaration struct {
	EventID            uuid.UUID
	DeclarationTime    time.Time
	Reason             string
	CorrectiveEventIDs string
}

// TransformationID links paired transformation events that share a
// long-running transformation.
type TransformationID struct {
	EventID    uuid.UUID
	Identifier string
}
