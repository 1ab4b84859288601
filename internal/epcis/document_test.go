package epcis

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDocument(t *testing.T) {
	doc, err := DecodeDocument(strings.NewReader(`{
		"events": [
			{
				"type": "ob",
				"action": "ADD",
				"event_time": "2023-05-01T10:00:00Z",
				"biz_step": "urn:epcglobal:cbv:bizstep:commissioning",
				"disposition": "urn:epcglobal:cbv:disp:active",
				"epc_list": ["urn:epc:id:sgtin:0555.1.01", "urn:epc:id:sgtin:0555.1.02"],
				"ilmd": [{"name": "lot", "value": "L42"}]
			},
			{
				"type": "ag",
				"action": "ADD",
				"event_time": "2023-05-01T11:00:00Z",
				"parent_id": "urn:epc:id:sscc:0555.2.01",
				"child_epcs": ["urn:epc:id:sgtin:0555.1.01", "urn:epc:id:sgtin:0555.1.02"]
			},
			{
				"type": "tf",
				"event_time": "2023-05-01T12:00:00Z",
				"transformation_id": "urn:epc:id:gdti:0555.9.01",
				"input_epcs": ["urn:epc:id:sgtin:0555.1.01"],
				"output_epcs": ["urn:epc:id:sgtin:0555.5.01"],
				"quantities": [{"epc_class": "urn:epc:idpat:sgtin:0555.5.*", "quantity": 10, "uom": "EA", "is_output": true}]
			}
		]
	}`))
	require.NoError(t, err)
	require.Len(t, doc.Events, 3)

	ob := doc.Events[0]
	assert.Equal(t, ObjectEvent, ob.Type)
	assert.Equal(t, ActionAdd, ob.Action)
	assert.Equal(t, time.Date(2023, 5, 1, 10, 0, 0, 0, time.UTC), ob.EventTime)
	assert.Len(t, ob.EPCs, 2)
	require.Len(t, ob.ILMD, 1)
	assert.Equal(t, "lot", ob.ILMD[0].Name)

	ag := doc.Events[1]
	assert.Equal(t, AggregationEvent, ag.Type)
	assert.Equal(t, "urn:epc:id:sscc:0555.2.01", ag.ParentID)

	tf := doc.Events[2]
	assert.Equal(t, TransformationEvent, tf.Type)
	assert.Empty(t, tf.Action)
	require.Len(t, tf.Quantities, 1)
	assert.True(t, tf.Quantities[0].IsOutput)
	assert.InDelta(t, 10.0, tf.Quantities[0].Quantity, 0.0001)
}

func TestDecodeDocumentRejectsUnknownFields(t *testing.T) {
	_, err := DecodeDocument(strings.NewReader(`{
		"events": [
			{
				"type": "ob",
				"action": "ADD",
				"event_time": "2023-05-01T10:00:00Z",
				"epcList": ["urn:epc:id:sgtin:0555.1.01"]
			}
		]
	}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "epcList")
}

func TestDecodeDocumentValidatesEvents(t *testing.T) {
	_, err := DecodeDocument(strings.NewReader(`{
		"events": [
			{"type": "ob", "action": "ADD", "event_time": "2023-05-01T10:00:00Z", "epc_list": ["urn:epc:id:sgtin:0555.1.01"]},
			{"type": "ob", "action": "ADD"}
		]
	}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "event 1")
	assert.Contains(t, err.Error(), "event_time")
}

func TestEventValidate(t *testing.T) {
	now := time.Date(2023, 5, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		event   Event
		wantErr string
	}{
		{
			name:  "object add",
			event: Event{Type: ObjectEvent, Action: ActionAdd, EventTime: now},
		},
		{
			name:  "transformation without action",
			event: Event{Type: TransformationEvent, EventTime: now},
		},
		{
			name:    "transformation with action",
			event:   Event{Type: TransformationEvent, Action: ActionAdd, EventTime: now},
			wantErr: "transformation events carry no action",
		},
		{
			name:    "unknown type",
			event:   Event{Type: "xx", Action: ActionAdd, EventTime: now},
			wantErr: `unknown event type "xx"`,
		},
		{
			name:    "unknown action",
			event:   Event{Type: ObjectEvent, Action: "UPSERT", EventTime: now},
			wantErr: `unknown action "UPSERT"`,
		},
		{
			name:    "missing event time",
			event:   Event{Type: ObjectEvent, Action: ActionAdd},
			wantErr: "event has no event_time",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
