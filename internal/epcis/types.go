// Package epcis defines the decoded EPCIS event model consumed by the
// parsing engine.
//
// Events arrive from a decoding collaborator (an XML or JSON document
// parser) already broken into structured records. The engine never sees
// wire formats; it sees Event values, a tagged union over
// {Object, Aggregation, Transaction, Transformation} x {Add, Observe, Delete}.
package epcis

import (
	"fmt"
	"time"
)

// EventType identifies the EPCIS event class.
// The two-letter codes match the stored representation.
type EventType string

const (
	ObjectEvent         EventType = "ob"
	AggregationEvent    EventType = "ag"
	TransactionEvent    EventType = "tx"
	TransformationEvent EventType = "tf"
)

// ValidEventTypes defines the allowed event type codes.
var ValidEventTypes = map[EventType]bool{
	ObjectEvent:         true,
	AggregationEvent:    true,
	TransactionEvent:    true,
	TransformationEvent: true,
}

// Action describes how an event relates to the lifecycle of the EPCs it
// names. Transformation events carry no action.
type Action string

const (
	ActionAdd     Action = "ADD"
	ActionObserve Action = "OBSERVE"
	ActionDelete  Action = "DELETE"
)

// ValidActions defines the allowed action values.
var ValidActions = map[Action]bool{
	ActionAdd:     true,
	ActionObserve: true,
	ActionDelete:  true,
}

// Event is one decoded EPCIS event.
//
// Which identifier lists are populated depends on Type:
//   - Object/Transaction: EPCs (Transaction optionally ParentID)
//   - Aggregation: ParentID + ChildEPCs
//   - Transformation: InputEPCs + OutputEPCs
type Event struct {
	Type   EventType `json:"type"`
	Action Action    `json:"action,omitempty"`

	// EventID is the capturing application's identifier for the event,
	// distinct from the ledger's primary key.
	EventID             string    `json:"event_id,omitempty"`
	EventTime           time.Time `json:"event_time"`
	EventTimezoneOffset string    `json:"event_timezone_offset,omitempty"`
	RecordTime          time.Time `json:"record_time,omitempty"`

	BizStep     string `json:"biz_step,omitempty"`
	Disposition string `json:"disposition,omitempty"`
	ReadPoint   string `json:"read_point,omitempty"`
	BizLocation string `json:"biz_location,omitempty"`

	EPCs       []string `json:"epc_list,omitempty"`
	ParentID   string   `json:"parent_id,omitempty"`
	ChildEPCs  []string `json:"child_epcs,omitempty"`
	InputEPCs  []string `json:"input_epcs,omitempty"`
	OutputEPCs []string `json:"output_epcs,omitempty"`

	// TransformationID links paired transformation events.
	TransformationID string `json:"transformation_id,omitempty"`

	BizTransactions  []BizTransaction  `json:"biz_transactions,omitempty"`
	Sources          []Source          `json:"sources,omitempty"`
	Destinations     []Destination     `json:"destinations,omitempty"`
	Quantities       []QuantityElement `json:"quantities,omitempty"`
	ILMD             []ILMDEntry       `json:"ilmd,omitempty"`
	ErrorDeclaration *ErrorDeclaration `json:"error_declaration,omitempty"`
}

// BizTransaction identifies a business transaction (e.g. a purchase order)
// the event participated in.
type BizTransaction struct {
	BizTransaction string `json:"biz_transaction"`
	Type           string `json:"type,omitempty"`
}

// Source identifies a source party or location for the transfer described
// by the event.
type Source struct {
	Type   string `json:"type"`
	Source string `json:"source"`
}

// Destination identifies a destination party or location for the transfer
// described by the event.
type Destination struct {
	Type        string `json:"type"`
	Destination string `json:"destination"`
}

// QuantityElement describes a class-level quantity named by the event.
type QuantityElement struct {
	EPCClass string  `json:"epc_class"`
	Quantity float64 `json:"quantity"`
	UOM      string  `json:"uom,omitempty"`
	IsOutput bool    `json:"is_output,omitempty"`
}

// ILMDEntry is one instance/lot master data attribute.
type ILMDEntry struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ErrorDeclaration marks the event as a correction of earlier events.
type ErrorDeclaration struct {
	DeclarationTime    time.Time `json:"declaration_time,omitempty"`
	Reason             string    `json:"reason,omitempty"`
	CorrectiveEventIDs []string  `json:"corrective_event_ids,omitempty"`
}

// Validate checks the structural shape of the event: a known type, a known
// action (absent for transformations), and a non-zero event time. Business
// validation against the ledger happens in the parsing engine.
func (e *Event) Validate() error {
	if !ValidEventTypes[e.Type] {
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.Type == TransformationEvent {
		if e.Action != "" {
			return fmt.Errorf("transformation events carry no action, got %q", e.Action)
		}
	} else if !ValidActions[e.Action] {
		return fmt.Errorf("unknown action %q", e.Action)
	}
	if e.EventTime.IsZero() {
		return fmt.Errorf("event has no event_time")
	}
	return nil
}
