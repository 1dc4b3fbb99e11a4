package proto

import (
	"encoding/json"
	"time"
)

// ClientFrame is the envelope for frames sent by the client.
type ClientFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

const (
	ProtocolVersion = 1

	ClientTypeHello        = "hello"
	ClientTypeSendMessage  = "send-message"
	ClientTypeJoinChat     = "join-chat"
	ClientTypeLeaveChat    = "leave-chat"
	ClientTypeTypingStart  = "typing-start"
	ClientTypeTypingStop   = "typing-stop"
	ClientTypeMarkMessages = "mark-messages-read"

	ServerTypeReady = "ready"
	ServerTypeEvent = "event"
	ServerTypeError = "error"

	EventNewMessage  = "new-message"
	EventMessageRead = "message-read"
	EventUserTyping  = "user-typing"
	EventUserOnline  = "user-online"
	EventUserOffline = "user-offline"
	EventChatUpdated = "chat-updated"
	EventError       = "error"
)

// HelloData is sent by the client right after the socket opens.
type HelloData struct {
	Token    string `json:"token"`
	Protocol int    `json:"protocol,omitempty"`
}

// ChatRef addresses a single chat.
type ChatRef struct {
	ChatID string `json:"chatId"`
}

// SendMessageData is a chat message from the client.
type SendMessageData struct {
	ChatID       string `json:"chatId"`
	Content      string `json:"content"`
	MessageType  string `json:"messageType,omitempty"`
	ClientTempID string `json:"clientTempId,omitempty"`
}

// ServerFrame is the envelope for frames sent by the server.
type ServerFrame struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *Error          `json:"error,omitempty"`
}

// ReadyData confirms a successful handshake.
type ReadyData struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
}

// NewMessageData is broadcast to every member of a chat, sender included.
type NewMessageData struct {
	ChatID       string    `json:"chatId"`
	MessageID    string    `json:"messageId"`
	SenderID     string    `json:"senderId"`
	SenderName   string    `json:"senderName,omitempty"`
	Content      string    `json:"content"`
	MessageType  string    `json:"messageType,omitempty"`
	SentAt       time.Time `json:"sentAt"`
	ClientTempID string    `json:"clientTempId,omitempty"`
}

// MessageReadData reports a read receipt.
type MessageReadData struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId,omitempty"`
	ReaderID  string `json:"readerId"`
}

// UserTypingData notifies about a typing state change.
type UserTypingData struct {
	ChatID   string `json:"chatId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
	IsTyping bool   `json:"isTyping"`
}

// PresenceData is the payload of user-online and user-offline.
type PresenceData struct {
	UserID string `json:"userId"`
}

// ChatUpdatedData carries refreshed chat metadata.
type ChatUpdatedData struct {
	ChatID       string          `json:"chatId"`
	Title        string          `json:"title,omitempty"`
	Participants []string        `json:"participants,omitempty"`
	LastMessage  *NewMessageData `json:"lastMessage,omitempty"`
	UnreadCount  *int            `json:"unreadCount,omitempty"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// Error describes a protocol-level error response. ChatID and ClientTempID
// name the request that caused it, when known.
type Error struct {
	Code         string `json:"code"`
	Msg          string `json:"msg"`
	ChatID       string `json:"chatId,omitempty"`
	ClientTempID string `json:"clientTempId,omitempty"`
}

// NewClientFrame marshals data into a client envelope.
func NewClientFrame(frameType string, data any) (ClientFrame, error) {
	if data == nil {
		return ClientFrame{Type: frameType}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return ClientFrame{}, err
	}
	return ClientFrame{Type: frameType, Data: raw}, nil
}

// NewEventFrame marshals data into a server event envelope.
func NewEventFrame(event string, data any) (ServerFrame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return ServerFrame{}, err
	}
	return ServerFrame{Type: ServerTypeEvent, Event: event, Data: raw}, nil
}

// NewErrorFrame builds a server error envelope.
func NewErrorFrame(code, msg string) ServerFrame {
	return ServerFrame{Type: ServerTypeError, Error: &Error{Code: code, Msg: msg}}
}
