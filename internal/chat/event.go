package chat

import "time"

// EventKind identifies the variant carried by an Event.
type EventKind int

const (
	// EventNewMessage delivers a chat message posted to a room.
	EventNewMessage EventKind = iota
	// EventMessageRead reports that a user read a room up to a message.
	EventMessageRead
	// EventTyping carries a remote typing start/stop signal.
	EventTyping
	// EventPresence reports a user going online or offline.
	EventPresence
	// EventRoomUpdated carries fresh room metadata.
	EventRoomUpdated
	// EventError is a server-reported error that did not end the session.
	EventError
)

var eventKindNames = [...]string{
	EventNewMessage:  "new-message",
	EventMessageRead: "message-read",
	EventTyping:      "user-typing",
	EventPresence:    "presence",
	EventRoomUpdated: "chat-updated",
	EventError:       "error",
}

func (k EventKind) String() string {
	if k < 0 || int(k) >= len(eventKindNames) {
		return "unknown"
	}
	return eventKindNames[k]
}

// Event is an inbound notification from the messaging server.
// Exactly one payload pointer is set, matching Kind.
type Event struct {
	Kind     EventKind
	Message  *Message
	Receipt  *Receipt
	Typing   *TypingSignal
	Presence *Presence
	Room     *Room
	Error    *Error
}

// RoomID returns the room the event belongs to, or "" for presence and errors.
func (e Event) RoomID() string {
	switch {
	case e.Message != nil:
		return e.Message.RoomID
	case e.Receipt != nil:
		return e.Receipt.RoomID
	case e.Typing != nil:
		return e.Typing.RoomID
	case e.Room != nil:
		return e.Room.ID
	default:
		return ""
	}
}

// Receipt reports that ReaderID has read RoomID up to MessageID.
type Receipt struct {
	RoomID    string
	MessageID string
	ReaderID  string
}

// TypingSignal is a remote user's typing state change.
type TypingSignal struct {
	RoomID   string
	UserID   string
	UserName string
	IsTyping bool
}

// Presence reports a user's online state.
type Presence struct {
	UserID string
	Online bool
}

// Room is server-side room metadata.
type Room struct {
	ID           string
	Title        string
	Participants []string
	LastMessage  *Message
	UnreadCount  *int
	UpdatedAt    time.Time
}
