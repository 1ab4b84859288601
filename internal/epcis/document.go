package epcis

import (
	"encoding/json"
	"fmt"
	"io"
)

// Document is a decoded EPCIS event document: an ordered sequence of
// events from one inbound message. Event order is preserved from the wire;
// the engine processes events strictly in this order.
type Document struct {
	Events []Event `json:"events"`
}

// DecodeDocument reads a JSON event document from r.
//
// Every event is shape-validated before the document is returned, so the
// engine can assume well-formed input. This is the minimal collaborator
// surface for hosts that do not bring their own decoder; XML decoding
// lives outside this module entirely.
func DecodeDocument(r io.Reader) (*Document, error) {
	var doc Document
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode event document: %w", err)
	}
	for i := range doc.Events {
		if err := doc.Events[i].Validate(); err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
	}
	return &doc, nil
}
