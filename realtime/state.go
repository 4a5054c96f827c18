// Package realtime keeps a single push channel bound to the session: connected exactly while
// the session is authenticated, re-bound whenever the access token changes, and torn down
// with a forced logout when the server rejects the token.
package realtime

// State is the connection's lifecycle state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Rejected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Rejected:
		return "Rejected"
	}
	return "Unknown"
}

// States lists every State, in declaration order.
var States = []State{Disconnected, Connecting, Connected, Rejected}

// StateChange is delivered to OnStateChange listeners.
type StateChange struct {
	From State
	To   State

	// Attempt counts consecutive reconnects after a drop; zero for a first connection.
	Attempt int

	// Err is the failure that caused a drop or rejection.
	Err error
}
