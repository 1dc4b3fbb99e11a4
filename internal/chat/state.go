package chat

// State is the lifecycle position of a session's connection.
type State int

const (
	// StateDisconnected means no transport and no pending retry.
	StateDisconnected State = iota
	// StateConnecting means the transport is being dialed.
	StateConnecting
	// StateAuthenticating means the transport is open and the hello frame is awaiting ready.
	StateAuthenticating
	// StateConnected means the session is authenticated and intents flow.
	StateConnected
	// StateReconnecting means the transport dropped and a retry is scheduled.
	StateReconnecting
	// StateFailed is terminal: credentials were rejected and must be refreshed.
	StateFailed
)

var stateNames = [...]string{
	StateDisconnected:   "disconnected",
	StateConnecting:     "connecting",
	StateAuthenticating: "authenticating",
	StateConnected:      "connected",
	StateReconnecting:   "reconnecting",
	StateFailed:         "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Credentials are issued by the auth provider and treated as opaque.
type Credentials struct {
	Token  string
	UserID string
}
