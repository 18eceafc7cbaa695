package registry

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/pgkeeper/pgkeeper/engine"
	"github.com/pgkeeper/pgkeeper/telemetry"
)

// Reconciler keeps the registry's is_sync flags consistent with the
// database engine's live synchronous-standby membership. It never changes
// is_master.
type Reconciler struct {
	store   *Store
	members engine.MembershipSource
}

func NewReconciler(store *Store, members engine.MembershipSource) *Reconciler {
	return &Reconciler{store: store, members: members}
}

// Reconcile reads the live membership list and batches any flag changes in
// one transaction. Idempotent: a second run with no intervening change
// reports zero writes. With dryRun changes are counted but not written.
func (r *Reconciler) Reconcile(ctx context.Context, dryRun bool) (int, error) {
	names, err := r.members.SyncStandbyNames(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read sync membership: %w", err)
	}

	changed, err := r.store.ApplySyncMembership(ctx, names, dryRun)
	if err != nil {
		return 0, err
	}

	if changed > 0 && !dryRun {
		telemetry.ReconcileUpdatesTotal.Add(float64(changed))
		log.Info().Int("changed", changed).Strs("members", names).Msg("Reconciled sync membership")
	} else {
		log.Debug().Int("changed", changed).Bool("dry_run", dryRun).Msg("Sync membership reconciled, no drift")
	}
	return changed, nil
}
