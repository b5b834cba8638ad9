package domain

// SessionState is the lifecycle state of the local call session.
// Exactly one instance exists per client; the admission coordinator owns it.
type SessionState int

const (
	StateIdle SessionState = iota
	StateProbing
	StateAdmitted
	StateConnected
	StateDisconnecting
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProbing:
		return "probing"
	case StateAdmitted:
		return "admitted"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// StatusText is the human-readable line shown by the control surface.
func (s SessionState) StatusText() string {
	switch s {
	case StateIdle:
		return "Not connected"
	case StateProbing:
		return "Checking room..."
	case StateAdmitted:
		return "Joined room, waiting for peer"
	case StateConnected:
		return "In call"
	case StateDisconnecting:
		return "Disconnecting..."
	default:
		return "Unknown"
	}
}
