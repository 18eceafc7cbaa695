package supervisor

// Role is the supervisor's current role for the node it watches.
type Role int32

const (
	RoleStandby Role = iota
	RoleMaster
)

func (r Role) String() string {
	switch r {
	case RoleStandby:
		return "standby"
	case RoleMaster:
		return "master"
	default:
		return "unknown"
	}
}

// Status is the connectivity substate, used both for decisions and for
// external reporting through the admin API.
type Status int32

const (
	// StatusMasterReady: just started or promoted, not yet polled.
	StatusMasterReady Status = iota
	// StatusMasterConnected: the synchronous standby answers heartbeats.
	StatusMasterConnected
	// StatusMasterAsync: no synchronous standby available or reachable.
	StatusMasterAsync
	// StatusStandbyReady: just started, primary not yet polled.
	StatusStandbyReady
	// StatusStandbyConnected: the primary answers heartbeats (possibly
	// degraded while retries accumulate below the threshold).
	StatusStandbyConnected
	// StatusStandbyAlone: retries exhausted, promotion imminent.
	StatusStandbyAlone
)

func (s Status) String() string {
	switch s {
	case StatusMasterReady:
		return "MASTER_READY"
	case StatusMasterConnected:
		return "MASTER_CONNECTED"
	case StatusMasterAsync:
		return "MASTER_ASYNC"
	case StatusStandbyReady:
		return "STANDBY_READY"
	case StatusStandbyConnected:
		return "STANDBY_CONNECTED"
	case StatusStandbyAlone:
		return "STANDBY_ALONE"
	default:
		return "UNKNOWN"
	}
}
