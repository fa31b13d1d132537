package function

// State is a function's lifecycle state.
type State uint8

const (
	StateBuilt State = iota
	StateConnected
	StateStarted
	StateStopped
	StateDisconnected
	StateFreed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateBuilt:
		return "built"
	case StateConnected:
		return "connected"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	case StateDisconnected:
		return "disconnected"
	case StateFreed:
		return "freed"
	default:
		return "unknown"
	}
}

// connected reports whether the routing fabric is programmed.
func (s State) connected() bool {
	return s == StateConnected || s == StateStarted || s == StateStopped
}
