package chat

import "time"

// Message is the domain model for a chat message.
type Message struct {
	ID           string
	RoomID       string
	SenderID     string
	SenderName   string
	Content      string
	Type         string
	SentAt       time.Time
	ClientTempID string
}

// MessageTypeText is the default message kind.
const MessageTypeText = "text"
