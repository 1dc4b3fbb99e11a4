package core

import "time"

// Message is the domain model for a chat message.
type Message struct {
	ID           string
	Chat         string
	SenderID     string
	SenderName   string
	Text         string
	Type         string
	ClientTempID string
	CreatedAt    time.Time
}
