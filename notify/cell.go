// Package notify implements the shared coordination cell between registry
// mutators and the live supervisor: a single integer slot on local disk
// holding the supervisor's pid, plus asynchronous wakeup delivery to it.
package notify

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

const cellFileName = "pgkeeperd.pid"

// Cell is the pid slot. The owning supervisor writes it exactly once at
// startup; every other process only reads it.
type Cell struct {
	path string
}

// NewCell addresses the cell inside the shared data directory.
func NewCell(dataDir string) *Cell {
	return &Cell{path: filepath.Join(dataDir, cellFileName)}
}

// Path returns the cell file location.
func (c *Cell) Path() string {
	return c.path
}

// Publish records pid as the live supervisor. One write at startup; the
// slot is never reassigned until the next supervisor start.
func (c *Cell) Publish(pid int) error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("failed to create cell directory: %w", err)
	}
	if err := os.WriteFile(c.path, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to publish supervisor pid: %w", err)
	}
	log.Debug().Int("pid", pid).Str("path", c.path).Msg("Supervisor pid published")
	return nil
}

// Read returns the recorded pid, or 0 when no supervisor has published one.
func (c *Cell) Read() (int, error) {
	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read cell: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("corrupt cell contents %q: %w", strings.TrimSpace(string(data)), err)
	}
	return pid, nil
}

// Clear removes the slot. Called on clean supervisor shutdown.
func (c *Cell) Clear() error {
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear cell: %w", err)
	}
	return nil
}

// Invalidate wakes the recorded supervisor so it reloads registry state.
// A stale or empty cell is a logged no-op: mutations are valid whether or
// not a supervisor is currently running.
func (c *Cell) Invalidate() error {
	pid, err := c.Read()
	if err != nil {
		return err
	}
	if pid <= 0 {
		log.Debug().Str("path", c.path).Msg("No live supervisor registered, skipping notification")
		return nil
	}
	if err := unix.Kill(pid, unix.SIGUSR1); err != nil {
		log.Debug().Err(err).Int("pid", pid).Msg("Supervisor pid is stale, skipping notification")
		return nil
	}
	log.Debug().Int("pid", pid).Msg("Supervisor notified of registry change")
	return nil
}
