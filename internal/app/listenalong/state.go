package listenalong

// State represents the listener session lifecycle.
type State int

const (
	StateStarting   State = iota // Session constructed, not yet syncing
	StateAwaitingAd              // Waiting for a local ad to finish
	StateSyncing                 // Steady-state correction loop
	StateEnded                   // Terminal
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateAwaitingAd:
		return "awaiting_ad"
	case StateSyncing:
		return "syncing"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}
