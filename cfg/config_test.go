package cfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withTestConfig(t *testing.T) {
	t.Helper()
	original := *Config
	t.Cleanup(func() { *Config = original })
}

func TestValidateRequiresNodeName(t *testing.T) {
	withTestConfig(t)

	Config.NodeName = ""
	Config.LocalConninfo = "host=/tmp dbname=postgres"
	assert.Error(t, Validate(), "missing node_name must refuse startup")

	Config.NodeName = "node1"
	assert.NoError(t, Validate())
}

func TestValidateRequiresLocalConninfo(t *testing.T) {
	withTestConfig(t)

	Config.NodeName = "node1"
	Config.LocalConninfo = ""
	assert.Error(t, Validate())
}

func TestValidateKeepalivesBounds(t *testing.T) {
	withTestConfig(t)

	Config.NodeName = "node1"
	Config.LocalConninfo = "host=/tmp"
	Config.KeepalivesTime = 0
	assert.Error(t, Validate())

	Config.KeepalivesTime = 5
	Config.KeepalivesCount = 0
	assert.Error(t, Validate())

	Config.KeepalivesCount = 1
	assert.NoError(t, Validate())
}

func TestLoadAppliesFileAndDefaults(t *testing.T) {
	withTestConfig(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "pgkeeper.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
node_name = "node1"
local_conninfo = "host=/var/run/postgresql dbname=postgres"
keepalives_count = 4
`), 0o644))

	require.NoError(t, Load(path))
	assert.Equal(t, "node1", Config.NodeName)
	assert.Equal(t, 4, Config.KeepalivesCount)
	assert.Equal(t, 5, Config.KeepalivesTime, "default preserved")
	assert.Equal(t, 8432, Config.Admin.Port, "default preserved")
}

func TestReloadOnlyTouchesReloadableOptions(t *testing.T) {
	withTestConfig(t)

	Config.NodeName = "node1"
	Config.LocalConninfo = "host=/tmp"
	Config.PrimaryConninfo = "host=primary"
	Config.KeepalivesTime = 5
	Config.KeepalivesCount = 1

	dir := t.TempDir()
	path := filepath.Join(dir, "pgkeeper.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
node_name = "renamed"
primary_conninfo = "host=other"
keepalives_time = 9
keepalives_count = 2
after_command = "echo promoted"
`), 0o644))

	require.NoError(t, Reload(path))

	assert.Equal(t, 9, Config.KeepalivesTime)
	assert.Equal(t, 2, Config.KeepalivesCount)
	assert.Equal(t, "echo promoted", Config.AfterCommand)

	// Identity and connection targets are startup-only.
	assert.Equal(t, "node1", Config.NodeName)
	assert.Equal(t, "host=primary", Config.PrimaryConninfo)
}

func TestReloadAppliesVerbosityToLogger(t *testing.T) {
	withTestConfig(t)

	original := log.Logger
	t.Cleanup(func() { log.Logger = original })
	log.Logger = log.Logger.Level(zerolog.InfoLevel)

	Config.KeepalivesTime = 5
	Config.KeepalivesCount = 1

	dir := t.TempDir()
	path := filepath.Join(dir, "pgkeeper.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[logging]
verbose = true
`), 0o644))

	require.NoError(t, Reload(path))
	assert.Equal(t, zerolog.DebugLevel, log.Logger.GetLevel(),
		"verbosity change takes effect without a restart")

	require.NoError(t, os.WriteFile(path, []byte(`
[logging]
verbose = false
`), 0o644))

	require.NoError(t, Reload(path))
	assert.Equal(t, zerolog.InfoLevel, log.Logger.GetLevel())
}

func TestReloadRejectsInvalidSettings(t *testing.T) {
	withTestConfig(t)

	Config.KeepalivesTime = 5
	Config.KeepalivesCount = 2

	dir := t.TempDir()
	path := filepath.Join(dir, "pgkeeper.toml")
	require.NoError(t, os.WriteFile(path, []byte("keepalives_time = 0\n"), 0o644))

	assert.Error(t, Reload(path))
	assert.Equal(t, 5, Config.KeepalivesTime, "previous settings kept on bad reload")
}
