package websocket

type State uint8

const (
	StateIdle State = iota
	StateTunnelConnecting
	StateHandshaking
	StateOpen
	StateClosing
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTunnelConnecting:
		return "tunnel_connecting"
	case StateHandshaking:
		return "handshaking"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether a fresh Connect is allowed from s.
func (s State) IsTerminal() bool {
	return s == StateIdle || s == StateClosed || s == StateFailed
}

// canTransition lists the allowed moves of the connection state machine.
// Every non-terminal state may also move to StateFailed.
func canTransition(from, to State) bool {
	if to == StateFailed {
		return !from.IsTerminal()
	}

	switch from {
	case StateIdle, StateClosed, StateFailed:
		return to == StateTunnelConnecting
	case StateTunnelConnecting:
		return to == StateHandshaking || to == StateClosed
	case StateHandshaking:
		return to == StateOpen || to == StateClosed
	case StateOpen:
		return to == StateClosing || to == StateClosed
	case StateClosing:
		return to == StateClosed
	}

	return false
}
