// Package store defines persistence for the dev server's chats and messages.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Chat is a persisted chat room.
type Chat struct {
	ID        string
	Title     string
	CreatedAt time.Time
}

// Message represents a persisted chat message.
type Message struct {
	ID           string
	ChatID       string
	SenderID     string
	SenderName   string
	Body         string
	Type         string
	ClientTempID string
	CreatedAt    time.Time
}

// ChatStore handles chat and membership persistence.
type ChatStore interface {
	// EnsureChat returns the chat, creating it with title when missing.
	EnsureChat(ctx context.Context, chatID, title string) (*Chat, error)

	// GetChat retrieves a chat by id.
	GetChat(ctx context.Context, chatID string) (*Chat, error)

	// AddMember records userID as a participant. Adding twice is a no-op.
	AddMember(ctx context.Context, chatID, userID string) error

	// ListMembers lists participants ordered by user id.
	ListMembers(ctx context.Context, chatID string) ([]string, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	// SaveMessage persists a message to storage.
	SaveMessage(ctx context.Context, msg *Message) error

	// ListMessages retrieves messages from a chat with pagination, oldest first.
	// If beforeID is provided, returns messages older than that message.
	ListMessages(ctx context.Context, chatID string, limit int, beforeID string) ([]*Message, error)

	// LatestMessage returns the newest message of a chat.
	LatestMessage(ctx context.Context, chatID string) (*Message, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	ChatStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
