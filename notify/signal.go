package notify

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

var signalsByName = map[string]unix.Signal{
	"HUP":  unix.SIGHUP,
	"USR1": unix.SIGUSR1,
	"USR2": unix.SIGUSR2,
	"TERM": unix.SIGTERM,
	"INT":  unix.SIGINT,
}

// LookupSignal resolves a signal name ("USR1", "sighup", ...) to the
// deliverable signal. Unknown names are a reported error, not a crash.
func LookupSignal(name string) (unix.Signal, error) {
	key := strings.ToUpper(strings.TrimSpace(name))
	key = strings.TrimPrefix(key, "SIG")
	sig, ok := signalsByName[key]
	if !ok {
		return 0, fmt.Errorf("unrecognized signal name %q", name)
	}
	return sig, nil
}

// SendNamed delivers the named signal to pid.
func SendNamed(pid int, name string) error {
	sig, err := LookupSignal(name)
	if err != nil {
		return err
	}
	if pid <= 0 {
		return fmt.Errorf("no live supervisor to signal")
	}
	if err := unix.Kill(pid, sig); err != nil {
		return fmt.Errorf("failed to deliver %s to pid %d: %w", name, pid, err)
	}
	return nil
}
