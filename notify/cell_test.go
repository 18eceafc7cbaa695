package notify

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestCellPublishReadClear(t *testing.T) {
	cell := NewCell(t.TempDir())

	pid, err := cell.Read()
	require.NoError(t, err)
	assert.Equal(t, 0, pid, "empty cell reads as zero")

	require.NoError(t, cell.Publish(12345))
	pid, err = cell.Read()
	require.NoError(t, err)
	assert.Equal(t, 12345, pid)

	require.NoError(t, cell.Clear())
	pid, err = cell.Read()
	require.NoError(t, err)
	assert.Equal(t, 0, pid)

	// Clearing an already-clear cell stays a no-op.
	require.NoError(t, cell.Clear())
}

func TestCellReadCorrupt(t *testing.T) {
	dir := t.TempDir()
	cell := NewCell(dir)
	require.NoError(t, os.WriteFile(cell.Path(), []byte("not-a-pid"), 0o644))

	_, err := cell.Read()
	assert.Error(t, err)
}

func TestInvalidateWithoutSupervisorIsNoop(t *testing.T) {
	cell := NewCell(t.TempDir())

	// No cell file at all.
	assert.NoError(t, cell.Invalidate())

	// Stale pid that cannot exist.
	require.NoError(t, cell.Publish(1 << 30))
	assert.NoError(t, cell.Invalidate())
}

func TestLookupSignal(t *testing.T) {
	cases := map[string]unix.Signal{
		"USR1":    unix.SIGUSR1,
		"usr1":    unix.SIGUSR1,
		"SIGUSR1": unix.SIGUSR1,
		"sighup":  unix.SIGHUP,
		"TERM":    unix.SIGTERM,
	}
	for name, want := range cases {
		sig, err := LookupSignal(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, sig, name)
	}

	_, err := LookupSignal("KILLALL")
	assert.Error(t, err)
	_, err = LookupSignal("")
	assert.Error(t, err)
}

func TestSendNamedRejectsMissingSupervisor(t *testing.T) {
	assert.Error(t, SendNamed(0, "USR1"))
	assert.Error(t, SendNamed(-1, "TERM"))
}
