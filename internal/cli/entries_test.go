package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedLedger ingests the commission+pack document into a fresh database
// and returns the database path.
func seedLedger(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "ledger.db")
	docPath := writeDocument(t, commissionAndPackDoc)
	_, err := execute(t, "ingest", "--db", dbPath, docPath)
	require.NoError(t, err)
	return dbPath
}

func TestEntriesByTopFlag(t *testing.T) {
	dbPath := seedLedger(t)

	out, err := execute(t, "entries", "--db", dbPath, "--top", "urn:epc:id:sscc:0555.2.01")
	require.NoError(t, err)
	assert.Contains(t, out, "2 entr(ies) under urn:epc:id:sscc:0555.2.01")
}

func TestEntriesJSONOutput(t *testing.T) {
	dbPath := seedLedger(t)

	out, err := execute(t, "--format", "json", "entries", "--db", dbPath, "--parent", "urn:epc:id:sscc:0555.2.01")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "urn:epc:id:sscc:0555.2.01", data["anchor"])
	entries, ok := data["entries"].([]interface{})
	require.True(t, ok)
	assert.Len(t, entries, 2)
}

func TestEntriesRequiresAnchorFlag(t *testing.T) {
	dbPath := seedLedger(t)

	_, err := execute(t, "entries", "--db", dbPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one of the flags")
}

func TestEntriesAnchorFlagsAreExclusive(t *testing.T) {
	dbPath := seedLedger(t)

	_, err := execute(t, "entries", "--db", dbPath, "--parent", "a", "--top", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "none of the others can be")
}

func TestEntriesUnknownIdentifier(t *testing.T) {
	dbPath := seedLedger(t)

	out, err := execute(t, "entries", "--db", dbPath, "--parent", "urn:epc:id:sscc:0555.404.01")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "ENTRY_NOT_FOUND")
}
