package instance

// State is the lifecycle phase of one instance's connection session. It is
// also what gets persisted in Config.Status.
type State string

const (
	StateNotInitialized   State = "NOT_INITIALIZED"
	StateCreated          State = "CREATED"
	StateInitializing     State = "INITIALIZING"
	StateWaitingForQRScan State = "WAITING_FOR_QR_SCAN"
	StateAuthenticated    State = "AUTHENTICATED"
	StateConnected        State = "CONNECTED"
	StateDisconnected     State = "DISCONNECTED"
	StateAuthFailure      State = "AUTH_FAILURE"
	StateDestroyed        State = "DESTROYED"
)

// Event is a session lifecycle event from the network connection.
type Event interface{ isEvent() }

type EventQR struct{ Code string }
type EventAuthenticated struct{}
type EventAuthFailure struct{ Reason string }
type EventReady struct{}
type EventDisconnected struct{ Reason string }

func (EventQR) isEvent()            {}
func (EventAuthenticated) isEvent() {}
func (EventAuthFailure) isEvent()   {}
func (EventReady) isEvent()         {}
func (EventDisconnected) isEvent()  {}

// Effect is an I/O action the lifecycle driver performs after a transition.
// The transition function itself stays pure so it can be tested without a
// live connection.
type Effect int

const (
	EffectPersistPairingCode Effect = iota
	EffectDeletePairingCode
	EffectPersistStatus
	EffectScheduleReconnect
)

// Transition computes the next lifecycle state and its side effects.
// AUTH_FAILURE and DESTROYED are terminal until an explicit restart; events
// arriving in those states are ignored.
func Transition(state State, ev Event) (State, []Effect) {
	if state == StateAuthFailure || state == StateDestroyed {
		return state, nil
	}
	switch ev.(type) {
	case EventQR:
		return StateWaitingForQRScan, []Effect{EffectPersistPairingCode}
	case EventAuthenticated:
		return StateAuthenticated, nil
	case EventAuthFailure:
		return StateAuthFailure, []Effect{EffectPersistStatus}
	case EventReady:
		return StateConnected, []Effect{EffectDeletePairingCode, EffectPersistStatus}
	case EventDisconnected:
		return StateDisconnected, []Effect{EffectPersistStatus, EffectScheduleReconnect}
	default:
		return state, nil
	}
}
