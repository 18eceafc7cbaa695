package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/pgkeeper/pgkeeper/engine"
	"github.com/pgkeeper/pgkeeper/heartbeat"
	"github.com/pgkeeper/pgkeeper/telemetry"
)

// Notifier wakes the live supervisor after a committed registry mutation so
// it invalidates its cached view. Delivery is best-effort: a missing
// supervisor is a logged no-op, never a mutation failure.
type Notifier interface {
	Invalidate() error
}

// Manager is the mutation entry point for the registry. Every mutating
// operation verifies, writes, reconciles sync membership and then signals
// the supervisor. The three steps are not atomic across processes; the
// supervisor converges on its next poll tick.
type Manager struct {
	store    *Store
	prober   heartbeat.Prober
	members  engine.MembershipSource
	notifier Notifier
}

func NewManager(store *Store, prober heartbeat.Prober, members engine.MembershipSource, notifier Notifier) *Manager {
	return &Manager{store: store, prober: prober, members: members, notifier: notifier}
}

// Store exposes the underlying read surface.
func (m *Manager) Store() *Store {
	return m.store
}

// AddNode registers a member. The address must answer a heartbeat first.
// Role flags are derived, never caller-supplied: the node is master only
// when the registry is empty, and sync only when its name appears in the
// live synchronous-standby membership.
func (m *Manager) AddNode(ctx context.Context, name, conninfo string) (*Node, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("node name must not be empty")
	}
	if strings.TrimSpace(conninfo) == "" {
		return nil, fmt.Errorf("conninfo must not be empty")
	}

	if !m.prober.Probe(ctx, conninfo) {
		telemetry.RegistryMutationsTotal.With("add", "rejected").Inc()
		return nil, fmt.Errorf("node %q is not reachable at %q", name, conninfo)
	}

	names, err := m.members.SyncStandbyNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read sync membership: %w", err)
	}

	// Role derivation happens inside the insert transaction so that two
	// mutator processes racing on an empty registry cannot both observe
	// zero rows and both self-assign master.
	node, err := m.store.insertFirstWins(ctx, name, conninfo, names)
	if err != nil {
		telemetry.RegistryMutationsTotal.With("add", "error").Inc()
		return nil, err
	}

	if _, err := m.store.ApplySyncMembership(ctx, names, false); err != nil {
		log.Warn().Err(err).Msg("Post-insert reconcile failed")
	}
	m.notifySupervisor()

	telemetry.RegistryMutationsTotal.With("add", "ok").Inc()
	log.Info().
		Str("name", node.Name).
		Int64("seqno", node.Seqno).
		Bool("is_master", node.IsMaster).
		Bool("is_sync", node.IsSync).
		Msg("Node registered")
	return node, nil
}

// RemoveNode deletes a member by name. False means no such node; the
// registry is left unchanged.
func (m *Manager) RemoveNode(ctx context.Context, name string) (bool, error) {
	ok, err := m.store.DeleteByName(ctx, name)
	if err != nil {
		telemetry.RegistryMutationsTotal.With("delete_name", "error").Inc()
		return false, err
	}
	m.afterDelete(ctx, ok, "delete_name")
	return ok, nil
}

// RemoveNodeBySeqno deletes a member by its stable sequence number, the
// identity to use once a name may have been renamed or is ambiguous.
func (m *Manager) RemoveNodeBySeqno(ctx context.Context, seqno int64) (bool, error) {
	ok, err := m.store.DeleteBySeqno(ctx, seqno)
	if err != nil {
		telemetry.RegistryMutationsTotal.With("delete_seqno", "error").Inc()
		return false, err
	}
	m.afterDelete(ctx, ok, "delete_seqno")
	return ok, nil
}

// CheckReachable probes an address without touching the registry.
func (m *Manager) CheckReachable(ctx context.Context, conninfo string) bool {
	return m.prober.Probe(ctx, conninfo)
}

// Reconcile re-runs sync-membership reconciliation on demand.
func (m *Manager) Reconcile(ctx context.Context, dryRun bool) (int, error) {
	return NewReconciler(m.store, m.members).Reconcile(ctx, dryRun)
}

func (m *Manager) afterDelete(ctx context.Context, deleted bool, op string) {
	if !deleted {
		telemetry.RegistryMutationsTotal.With(op, "miss").Inc()
		return
	}
	if _, err := m.Reconcile(ctx, false); err != nil {
		log.Warn().Err(err).Msg("Post-delete reconcile failed")
	}
	m.notifySupervisor()
	telemetry.RegistryMutationsTotal.With(op, "ok").Inc()
}

func (m *Manager) notifySupervisor() {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Invalidate(); err != nil {
		log.Warn().Err(err).Msg("Failed to notify supervisor of registry change")
		return
	}
	telemetry.CacheInvalidationsTotal.Inc()
}
