package chat

// IntentKind describes what the local client wants the server to do.
type IntentKind int

const (
	// IntentSendMessage posts a message to a room.
	IntentSendMessage IntentKind = iota
	// IntentJoinRoom subscribes the connection to a room.
	IntentJoinRoom
	// IntentLeaveRoom unsubscribes the connection from a room.
	IntentLeaveRoom
	// IntentStartTyping announces local typing in a room.
	IntentStartTyping
	// IntentStopTyping withdraws local typing in a room.
	IntentStopTyping
	// IntentMarkRead marks every message in a room as read.
	IntentMarkRead
)

var intentKindNames = [...]string{
	IntentSendMessage: "send-message",
	IntentJoinRoom:    "join-chat",
	IntentLeaveRoom:   "leave-chat",
	IntentStartTyping: "typing-start",
	IntentStopTyping:  "typing-stop",
	IntentMarkRead:    "mark-messages-read",
}

func (k IntentKind) String() string {
	if k < 0 || int(k) >= len(intentKindNames) {
		return "unknown"
	}
	return intentKindNames[k]
}

// Intent represents an action requested by the local client.
type Intent struct {
	Kind         IntentKind
	RoomID       string
	ClientTempID string
	Content      string
	MessageType  string
}

// IsTyping reports whether the intent is a typing signal. Typing signals are
// stale by the time a reconnect completes, so they are never queued.
func (i Intent) IsTyping() bool {
	return i.Kind == IntentStartTyping || i.Kind == IntentStopTyping
}

// IsMembership reports whether the intent changes room membership.
func (i Intent) IsMembership() bool {
	return i.Kind == IntentJoinRoom || i.Kind == IntentLeaveRoom
}
