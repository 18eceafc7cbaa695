// Package supervisor runs the per-node failover state machine: a single
// cooperative loop that heartbeats the peer it tracks, promotes the local
// standby after the configured number of consecutive failures, and refreshes
// its registry view when mutator processes signal it.
//
// The policy is deliberately asymmetric: a standby promotes itself when the
// primary stays unreachable, but a master never demotes itself when its
// standby disappears; it only degrades to an async substate. No fencing or
// quorum is layered on top, so two nodes that independently lose sight of
// each other can both end up master. Operators are expected to deploy with
// that limitation in mind.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"

	"github.com/pgkeeper/pgkeeper/cfg"
	"github.com/pgkeeper/pgkeeper/engine"
	"github.com/pgkeeper/pgkeeper/heartbeat"
	"github.com/pgkeeper/pgkeeper/notify"
	"github.com/pgkeeper/pgkeeper/registry"
	"github.com/pgkeeper/pgkeeper/telemetry"
)

// Options carries the startup-only settings the supervisor needs.
type Options struct {
	// NodeName is this node's identity in the registry, used to claim the
	// master row after promotion.
	NodeName string

	// PrimaryConninfo is the poll target while the registry has no master
	// row. Startup-only.
	PrimaryConninfo string

	// ConfigPath is re-read on SIGHUP.
	ConfigPath string
}

// Supervisor owns the run state. All mutation happens on the loop
// goroutine; Snapshot readers (admin API) go through the mutex.
type Supervisor struct {
	store      *registry.Store
	prober     heartbeat.Prober
	eng        engine.Engine
	cell       *notify.Cell
	reconciler *registry.Reconciler
	opts       Options

	sigCh chan os.Signal

	mu         sync.Mutex
	role       Role
	status     Status
	retryCount int
}

func New(store *registry.Store, prober heartbeat.Prober, eng engine.Engine, cell *notify.Cell, opts Options) *Supervisor {
	return &Supervisor{
		store:      store,
		prober:     prober,
		eng:        eng,
		cell:       cell,
		reconciler: registry.NewReconciler(store, eng),
		opts:       opts,
		sigCh:      make(chan os.Signal, 4),
	}
}

// Run drives the state machine until SIGTERM or context cancellation. A nil
// return means clean shutdown; any error is fatal to the process.
func (s *Supervisor) Run(ctx context.Context) error {
	recovery, err := s.eng.RecoveryInProgress(ctx)
	if err != nil {
		return fmt.Errorf("failed to determine initial role: %w", err)
	}
	if recovery {
		s.setRole(RoleStandby, StatusStandbyReady)
	} else {
		s.setRole(RoleMaster, StatusMasterReady)
	}

	// The handler must be in place before the pid becomes visible: a mutator
	// that reads the cell may deliver SIGUSR1 immediately, and the default
	// disposition for an unhandled SIGUSR1 is process termination.
	signal.Notify(s.sigCh, unix.SIGHUP, unix.SIGUSR1, unix.SIGTERM)
	defer signal.Stop(s.sigCh)

	if err := s.cell.Publish(os.Getpid()); err != nil {
		return err
	}
	defer func() {
		if err := s.cell.Clear(); err != nil {
			log.Warn().Err(err).Msg("Failed to clear supervisor pid cell")
		}
	}()

	// Initial sync-membership load; transient engine trouble here is not
	// fatal, the next USR1 or operator reconcile repairs it.
	if _, err := s.reconciler.Reconcile(ctx, false); err != nil {
		log.Warn().Err(err).Msg("Initial sync membership load failed")
	}

	log.Info().
		Stringer("role", s.Role()).
		Int("pid", os.Getpid()).
		Msg("Supervisor started")

	for {
		if err := s.dispatch(ctx); err != nil {
			return err
		}
		quit, err := s.wait(ctx)
		if err != nil {
			return err
		}
		if quit {
			log.Info().Msg("Supervisor shutting down")
			return nil
		}
	}
}

// dispatch runs one poll cycle for the current role. An unrecognized role
// is a corrupted in-memory state that cannot be reasoned about safely, so
// it is fatal rather than ignored.
func (s *Supervisor) dispatch(ctx context.Context) error {
	switch role := s.Role(); role {
	case RoleMaster:
		s.tickMaster(ctx)
	case RoleStandby:
		s.tickStandby(ctx)
	default:
		return fmt.Errorf("unrecognized supervisor role %d", role)
	}
	return nil
}

// tickMaster checks on the synchronous standby. Its unreachability never
// demotes the master; only a standby autonomously changes role.
func (s *Supervisor) tickMaster(ctx context.Context) {
	standbys, err := s.store.ListNodes(ctx, false)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read standby list")
		return
	}

	var target *registry.Node
	for i := range standbys {
		if standbys[i].IsSync {
			target = &standbys[i]
			break
		}
	}
	if target == nil {
		s.setStatus(StatusMasterAsync)
		log.Debug().Int("standbys", len(standbys)).Msg("No synchronous standby configured")
		return
	}

	if s.prober.Probe(ctx, target.Conninfo) {
		s.setStatus(StatusMasterConnected)
		return
	}

	log.Warn().
		Str("standby", target.Name).
		Str("conninfo", target.Conninfo).
		Msg("Synchronous standby unreachable, continuing as master")
	s.setStatus(StatusMasterAsync)
}

// tickStandby heartbeats the current primary and promotes once the
// consecutive-failure threshold is reached: promotion fires on the Nth
// failure, and any success resets the counter.
func (s *Supervisor) tickStandby(ctx context.Context) {
	conninfo := s.opts.PrimaryConninfo
	master, err := s.store.MasterNode(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read master row")
	} else if master != nil {
		conninfo = master.Conninfo
	}
	if conninfo == "" {
		log.Warn().Msg("No primary registered and no primary_conninfo configured, skipping poll")
		return
	}

	if s.prober.Probe(ctx, conninfo) {
		s.setRetries(0)
		s.setStatus(StatusStandbyConnected)
		return
	}

	retries := s.incRetries()
	threshold := cfg.Snapshot().KeepalivesCount
	if retries < threshold {
		s.setStatus(StatusStandbyConnected)
		log.Warn().
			Int("retries", retries).
			Int("threshold", threshold).
			Str("conninfo", conninfo).
			Msg("Primary unreachable, retrying")
		return
	}

	s.setStatus(StatusStandbyAlone)
	log.Warn().
		Int("retries", retries).
		Str("conninfo", conninfo).
		Msg("Primary unreachable, retries exhausted")
	s.promote(ctx)
}

// promote converts the local standby into the new master and falls through
// into the master loop without a process restart. Promotion counts as
// successful once the local engine accepts it; the after command is
// advisory only.
func (s *Supervisor) promote(ctx context.Context) {
	if err := s.eng.Promote(ctx); err != nil {
		log.Error().Err(err).Msg("Promotion failed, will retry on next poll")
		return
	}
	telemetry.PromotionsTotal.Inc()

	s.runAfterCommand()

	if err := s.store.SetMaster(ctx, s.opts.NodeName); err != nil {
		log.Warn().Err(err).Msg("Failed to record master handoff in registry")
	}

	s.setRetries(0)
	s.setRole(RoleMaster, StatusMasterReady)
	log.Info().Str("node", s.opts.NodeName).Msg("Promoted to master")
}

func (s *Supervisor) runAfterCommand() {
	command := cfg.Snapshot().AfterCommand
	if command == "" {
		return
	}
	out, err := exec.Command("/bin/sh", "-c", command).CombinedOutput()
	if err != nil {
		log.Error().Err(err).Str("output", string(out)).Str("command", command).
			Msg("Post-promotion command failed")
		return
	}
	log.Info().Str("command", command).Msg("Post-promotion command completed")
}

// wait blocks until the poll interval elapses, a signal arrives, or the
// context ends. Signal handling runs here on the loop goroutine; the OS
// handler only feeds the channel.
func (s *Supervisor) wait(ctx context.Context) (quit bool, err error) {
	interval := time.Duration(cfg.Snapshot().KeepalivesTime) * time.Second
	timer := time.NewTimer(interval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return true, nil
	case <-timer.C:
		return false, nil
	case sig := <-s.sigCh:
		return s.handleSignal(ctx, sig)
	}
}

func (s *Supervisor) handleSignal(ctx context.Context, sig os.Signal) (bool, error) {
	switch sig {
	case unix.SIGTERM:
		return true, nil
	case unix.SIGHUP:
		if err := cfg.Reload(s.opts.ConfigPath); err != nil {
			log.Error().Err(err).Msg("Configuration reload failed, keeping previous settings")
		}
		return false, nil
	case unix.SIGUSR1:
		// Registry changed under us: reconcile and poll again with the
		// fresh view. Safe no-op when nothing actually changed.
		if _, err := s.reconciler.Reconcile(ctx, false); err != nil {
			log.Warn().Err(err).Msg("Registry refresh failed")
		}
		return false, nil
	default:
		log.Debug().Stringer("signal", sig).Msg("Ignoring unexpected signal")
		return false, nil
	}
}

// StateSnapshot is the externally reported run state.
type StateSnapshot struct {
	NodeName   string `json:"node_name"`
	Role       string `json:"role"`
	Status     string `json:"status"`
	RetryCount int    `json:"retry_count"`
	Pid        int    `json:"pid"`
}

// Snapshot returns the current run state for the admin API.
func (s *Supervisor) Snapshot() StateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StateSnapshot{
		NodeName:   s.opts.NodeName,
		Role:       s.role.String(),
		Status:     s.status.String(),
		RetryCount: s.retryCount,
		Pid:        os.Getpid(),
	}
}

// Role returns the current role.
func (s *Supervisor) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// CurrentStatus returns the current substate.
func (s *Supervisor) CurrentStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Supervisor) setRole(role Role, status Status) {
	s.mu.Lock()
	s.role = role
	s.status = status
	s.mu.Unlock()
	if role == RoleMaster {
		telemetry.CurrentRole.Set(1)
	} else {
		telemetry.CurrentRole.Set(0)
	}
}

func (s *Supervisor) setStatus(status Status) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

func (s *Supervisor) setRetries(n int) {
	s.mu.Lock()
	s.retryCount = n
	s.mu.Unlock()
	telemetry.HeartbeatRetries.Set(float64(n))
}

func (s *Supervisor) incRetries() int {
	s.mu.Lock()
	s.retryCount++
	n := s.retryCount
	s.mu.Unlock()
	telemetry.HeartbeatRetries.Set(float64(n))
	return n
}
