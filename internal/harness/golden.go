package harness

import (
	"encoding/json"
	"fmt"
	"sort"
	"testing"

	"github.com/google/uuid"

	"github.com/sebdah/goldie/v2"
)

// EntrySnapshot is the golden-file shape of one ledger entry. Parent and
// top are rendered as identifiers so snapshots stay stable across runs.
type EntrySnapshot struct {
	Identifier      string `json:"identifier"`
	Parent          string `json:"parent,omitempty"`
	Top             string `json:"top,omitempty"`
	IsParent        bool   `json:"is_parent,omitempty"`
	Decommissioned  bool   `json:"decommissioned,omitempty"`
	LastDisposition string `json:"last_disposition,omitempty"`
	Events          int    `json:"events"`
}

// Snapshot is the golden-file shape of a scenario outcome.
type Snapshot struct {
	Scenario string          `json:"scenario"`
	Error    string          `json:"error,omitempty"`
	Entries  []EntrySnapshot `json:"entries"`
}

// BuildSnapshot renders the result as a deterministic snapshot: entries
// in identifier order, uuids replaced by identifiers, timestamps elided.
func BuildSnapshot(scenario *Scenario, result *Result) *Snapshot {
	byID := make(map[uuid.UUID]string, len(result.Entries))
	for _, e := range result.Entries {
		byID[e.ID] = e.Identifier
	}
	snap := &Snapshot{
		Scenario: scenario.Name,
		Error:    result.ErrorCode(),
		Entries:  make([]EntrySnapshot, 0, len(result.Entries)),
	}
	for _, e := range result.Entries {
		es := EntrySnapshot{
			Identifier:      e.Identifier,
			IsParent:        e.IsParent,
			Decommissioned:  e.Decommissioned,
			LastDisposition: e.LastDisposition,
			Events:          result.History[e.Identifier],
		}
		if e.ParentID != nil {
			es.Parent = byID[*e.ParentID]
		}
		if e.TopID != nil {
			es.Top = byID[*e.TopID]
		}
		snap.Entries = append(snap.Entries, es)
	}
	sort.Slice(snap.Entries, func(i, j int) bool {
		return snap.Entries[i].Identifier < snap.Entries[j].Identifier
	})
	return snap
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	if got := result.ErrorCode(); got != scenario.ExpectError {
		return fmt.Errorf("scenario %s: expected error code %q, got %q (%v)",
			scenario.Name, scenario.ExpectError, got, result.RunErr)
	}
	snap := BuildSnapshot(scenario, result)
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
	return nil
}
