package sessions

// State is a session lifecycle state.
type State int

const (
	StateIdle State = iota
	StateCreated
	StateConnected
	StateHandling
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCreated:
		return "created"
	case StateConnected:
		return "connected"
	case StateHandling:
		return "handling"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// next lists the forward transitions. Closed is handled separately since
// every non-closed state may enter it.
var next = map[State]State{
	StateIdle:      StateCreated,
	StateCreated:   StateConnected,
	StateConnected: StateHandling,
}

func canTransition(from, to State) bool {
	if from == StateClosed {
		return false
	}
	if to == StateClosed {
		return true
	}
	n, ok := next[from]
	return ok && n == to
}
