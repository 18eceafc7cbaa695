package telemetry

// Supervisor health metrics
var (
	// HeartbeatsTotal counts liveness probes by result (reachable, unreachable)
	HeartbeatsTotal CounterVec = noopCounterVec{}

	// HeartbeatRetries tracks consecutive failed probes against the tracked primary
	HeartbeatRetries Gauge = NoopStat{}

	// PromotionsTotal counts standby-to-master promotions performed by this process
	PromotionsTotal Counter = NoopStat{}

	// CurrentRole reports the supervisor role (0=standby, 1=master)
	CurrentRole Gauge = NoopStat{}
)

// Registry metrics
var (
	// RegistryMutationsTotal counts mutations by op (add, delete_name, delete_seqno) and result
	RegistryMutationsTotal CounterVec = noopCounterVec{}

	// ReconcileUpdatesTotal counts sync-flag rows rewritten by the reconciler
	ReconcileUpdatesTotal Counter = NoopStat{}

	// CacheInvalidationsTotal counts registry-change signals delivered to the supervisor
	CacheInvalidationsTotal Counter = NoopStat{}
)

func initializeMetrics(constLabels map[string]string) {
	HeartbeatsTotal = NewCounterVec("heartbeats_total",
		"Liveness probes by result", constLabels, []string{"result"})
	HeartbeatRetries = NewGauge("heartbeat_retries",
		"Consecutive failed probes against the tracked primary", constLabels)
	PromotionsTotal = NewCounter("promotions_total",
		"Standby promotions performed by this process", constLabels)
	CurrentRole = NewGauge("current_role",
		"Supervisor role (0=standby, 1=master)", constLabels)

	RegistryMutationsTotal = NewCounterVec("registry_mutations_total",
		"Registry mutations by op and result", constLabels, []string{"op", "result"})
	ReconcileUpdatesTotal = NewCounter("reconcile_updates_total",
		"Sync-flag rows rewritten by the reconciler", constLabels)
	CacheInvalidationsTotal = NewCounter("cache_invalidations_total",
		"Registry-change signals delivered to the supervisor", constLabels)
}
