package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootInvalidFormat(t *testing.T) {
	_, err := execute(t, "--format", "yaml", "history", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "yaml"`)
}

func TestRootInvalidDriver(t *testing.T) {
	_, err := execute(t, "--driver", "mysql", "--db", "dsn", "history", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid driver "mysql"`)
}

func TestConfigProvidesDatabase(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "ledger.db")
	cfgPath := filepath.Join(tmpDir, "quartet.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("database: "+dbPath+"\n"), 0644))
	docPath := writeDocument(t, commissionAndPackDoc)

	out, err := execute(t, "--config", cfgPath, "ingest", docPath)
	require.NoError(t, err)
	assert.Contains(t, out, "ingested 2 event(s)")

	// The database named in the config file was created and used.
	_, err = os.Stat(dbPath)
	require.NoError(t, err)
}

func TestDatabaseFlagOverridesConfig(t *testing.T) {
	tmpDir := t.TempDir()
	cfgDB := filepath.Join(tmpDir, "from-config.db")
	flagDB := filepath.Join(tmpDir, "from-flag.db")
	cfgPath := filepath.Join(tmpDir, "quartet.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("database: "+cfgDB+"\n"), 0644))
	docPath := writeDocument(t, commissionAndPackDoc)

	_, err := execute(t, "--config", cfgPath, "ingest", "--db", flagDB, docPath)
	require.NoError(t, err)

	_, err = os.Stat(flagDB)
	require.NoError(t, err)
	_, err = os.Stat(cfgDB)
	assert.True(t, os.IsNotExist(err))
}

func TestRootMissingConfigFile(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"), "history", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open config")
}
