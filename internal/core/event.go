package core

import "time"

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventNewMessage notifies chat members about a message, sender included.
	EventNewMessage EventKind = iota
	// EventMessageRead notifies chat members that a user read the chat.
	EventMessageRead
	// EventUserTyping notifies other chat members about typing.
	EventUserTyping
	// EventUserOnline notifies clients that a user connected.
	EventUserOnline
	// EventUserOffline notifies clients that a user's last connection closed.
	EventUserOffline
	// EventChatUpdated carries refreshed chat metadata.
	EventChatUpdated
	// EventError notifies a client about a domain error.
	EventError
)

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind      EventKind
	Chat      string
	User      string
	UserName  string
	IsTyping  bool
	MessageID string
	Message   Message
	Info      *ChatInfo
	Error     *CoreError
}

// ChatInfo is the payload of EventChatUpdated.
type ChatInfo struct {
	Title        string
	Participants []string
	LastMessage  *Message
	UpdatedAt    time.Time
}
