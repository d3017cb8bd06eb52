package connection

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_link.go -package=mocks . Link

import "errors"

// State is the lifecycle state of the server connection.
type State int

const (
	StateOffline    State = 0
	StateOnline     State = 1
	StateConnecting State = 2
	StateError      State = 9
)

var (
	ErrNotInitialized  = errors.New("connection not yet made")
	ErrAttemptInFlight = errors.New("connection attempt already in progress")
)

func (s State) String() string {
	switch s {
	case StateOffline:
		return "OFFLINE"
	case StateOnline:
		return "ONLINE"
	case StateConnecting:
		return "CONNECTING"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// CanTransitionTo checks if the connection may move from s to target.
func (s State) CanTransitionTo(target State) bool {
	transitions := map[State][]State{
		StateOffline:    {StateConnecting},
		StateConnecting: {StateOnline, StateError},
		StateOnline:     {StateOffline, StateError},
		StateError:      {StateOffline},
	}
	for _, allowed := range transitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// Link is the outbound side of the server connection as seen by the session.
type Link interface {
	// Refresh checks the connection and reconnects when needed.
	Refresh()
	// Send writes one envelope. Silently dropped when not connected.
	Send(v any) error
	// Terminate force-closes the current connection.
	Terminate() error
}
