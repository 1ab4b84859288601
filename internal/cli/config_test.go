package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "quartet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
database: /var/lib/quartet/ledger.db
driver: sqlite3
task_name: nightly-capture
event_cache_size: 256
recursive_decommission: false
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/quartet/ledger.db", cfg.Database)
	assert.Equal(t, "sqlite3", cfg.Driver)
	assert.Equal(t, "nightly-capture", cfg.TaskName)
	assert.Equal(t, 256, cfg.EventCacheSize)
	require.NotNil(t, cfg.RecursiveDecommission)
	assert.False(t, *cfg.RecursiveDecommission)
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, "database: ledger.db\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Driver)
	assert.Zero(t, cfg.EventCacheSize)
	assert.Nil(t, cfg.RecursiveDecommission)
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "databse: ledger.db\n")

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "databse")
}

func TestLoadConfigRejectsNegativeCacheSize(t *testing.T) {
	path := writeConfig(t, "event_cache_size: -1\n")

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "event_cache_size")
}
