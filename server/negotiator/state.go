package negotiator

// State is the connection lifecycle of one session peer.
type State int

const (
	StateIdle State = iota
	StateNegotiating
	StateConnected
	StateDisconnected
	StateReconnecting
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateReconnecting:
		return "reconnecting"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Event is an input to the state machine.
type Event int

const (
	// EventNegotiate starts or restarts an offer/answer round.
	EventNegotiate Event = iota
	// EventConnected is the transport reaching connected.
	EventConnected
	// EventDisconnected is the transport failing or disconnecting.
	EventDisconnected
	// EventReconnect is the single-flight reconnect being scheduled.
	EventReconnect
	// EventEnd tears the machine down for good.
	EventEnd
)

// transition returns the state after applying event, and whether the event
// is valid in the current state. StateEnded is terminal: nothing leaves it.
// The function is pure; all side effects live in the Negotiator.
func transition(from State, event Event) (State, bool) {
	if from == StateEnded {
		return StateEnded, false
	}

	if event == EventEnd {
		return StateEnded, true
	}

	switch event {
	case EventNegotiate:
		// A restart is legal from any live state: initial start, a joiner
		// discarding its connection on a fresh remote offer, or the backoff
		// expiring.
		return StateNegotiating, true
	case EventConnected:
		if from == StateNegotiating {
			return StateConnected, true
		}
	case EventDisconnected:
		// Reconnecting falls back to disconnected when the restart attempt
		// itself fails, so a later connectivity edge can try again.
		if from == StateNegotiating || from == StateConnected || from == StateReconnecting {
			return StateDisconnected, true
		}
	case EventReconnect:
		if from == StateDisconnected {
			return StateReconnecting, true
		}
	}

	return from, false
}
