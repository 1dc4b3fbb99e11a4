package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/wirechat-session/internal/store"
)

// Schema creates every table the store needs. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS chats (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS chat_members (
	chat_id   TEXT NOT NULL,
	user_id   TEXT NOT NULL,
	joined_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (chat_id, user_id),
	FOREIGN KEY (chat_id) REFERENCES chats(id)
);

CREATE TABLE IF NOT EXISTS messages (
	seq            INTEGER PRIMARY KEY AUTOINCREMENT,
	id             TEXT NOT NULL UNIQUE,
	chat_id        TEXT NOT NULL,
	sender_id      TEXT NOT NULL,
	sender_name    TEXT NOT NULL DEFAULT '',
	body           TEXT NOT NULL,
	type           TEXT NOT NULL DEFAULT 'text',
	client_temp_id TEXT NOT NULL DEFAULT '',
	created_at     DATETIME NOT NULL,
	FOREIGN KEY (chat_id) REFERENCES chats(id)
);

CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, seq DESC);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New opens the database at dbPath and applies Schema.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, ApplySchema)
}

// ApplySchema creates the store's tables.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply schema without migrations.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; ":memory:" requires it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== ChatStore implementation ====

// EnsureChat returns the chat, creating it when missing.
func (s *SQLiteStore) EnsureChat(ctx context.Context, chatID, title string) (*store.Chat, error) {
	query := `
		INSERT INTO chats (id, title)
		VALUES (?, ?)
		ON CONFLICT(id) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, chatID, title); err != nil {
		return nil, fmt.Errorf("insert chat: %w", err)
	}
	return s.GetChat(ctx, chatID)
}

// GetChat retrieves a chat by id.
func (s *SQLiteStore) GetChat(ctx context.Context, chatID string) (*store.Chat, error) {
	query := `
		SELECT id, title, created_at
		FROM chats
		WHERE id = ?
	`
	var chat store.Chat
	err := s.db.QueryRowContext(ctx, query, chatID).Scan(&chat.ID, &chat.Title, &chat.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("chat %s: %w", chatID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query chat: %w", err)
	}
	return &chat, nil
}

// AddMember records a participant.
func (s *SQLiteStore) AddMember(ctx context.Context, chatID, userID string) error {
	query := `
		INSERT INTO chat_members (chat_id, user_id)
		VALUES (?, ?)
		ON CONFLICT(chat_id, user_id) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, chatID, userID); err != nil {
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}

// ListMembers lists participants of a chat.
func (s *SQLiteStore) ListMembers(ctx context.Context, chatID string) ([]string, error) {
	query := `
		SELECT user_id
		FROM chat_members
		WHERE chat_id = ?
		ORDER BY user_id
	`
	rows, err := s.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, userID)
	}
	return members, rows.Err()
}

// ==== MessageStore implementation ====

// SaveMessage persists a message.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *store.Message) error {
	query := `
		INSERT INTO messages (id, chat_id, sender_id, sender_name, body, type, client_temp_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.ChatID, msg.SenderID, msg.SenderName, msg.Body, msg.Type, msg.ClientTempID, msg.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

const messageColumns = `id, chat_id, sender_id, sender_name, body, type, client_temp_id, created_at`

// ListMessages retrieves messages from a chat with pagination.
func (s *SQLiteStore) ListMessages(ctx context.Context, chatID string, limit int, beforeID string) ([]*store.Message, error) {
	var query string
	var args []interface{}

	if beforeID != "" {
		query = `
			SELECT ` + messageColumns + `
			FROM messages
			WHERE chat_id = ? AND seq < (SELECT seq FROM messages WHERE id = ?)
			ORDER BY seq DESC
			LIMIT ?
		`
		args = []interface{}{chatID, beforeID, limit}
	} else {
		query = `
			SELECT ` + messageColumns + `
			FROM messages
			WHERE chat_id = ?
			ORDER BY seq DESC
			LIMIT ?
		`
		args = []interface{}{chatID, limit}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	// Reverse to get chronological order
	for i := range len(messages) / 2 {
		messages[i], messages[len(messages)-1-i] = messages[len(messages)-1-i], messages[i]
	}

	return messages, rows.Err()
}

// LatestMessage returns the newest message of a chat.
func (s *SQLiteStore) LatestMessage(ctx context.Context, chatID string) (*store.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE chat_id = ?
		ORDER BY seq DESC
		LIMIT 1
	`
	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, chatID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("latest message of %s: %w", chatID, store.ErrNotFound)
		}
		return nil, err
	}
	return msg, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*store.Message, error) {
	var msg store.Message
	err := row.Scan(
		&msg.ID,
		&msg.ChatID,
		&msg.SenderID,
		&msg.SenderName,
		&msg.Body,
		&msg.Type,
		&msg.ClientTempID,
		&msg.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan message: %w", err)
	}
	return &msg, nil
}
