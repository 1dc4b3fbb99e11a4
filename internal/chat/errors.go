package chat

import "errors"

// Error codes reported by the messaging server.
const (
	ErrCodeUnauthorized       = "unauthorized"
	ErrCodeTokenExpired       = "token_expired"
	ErrCodeUnsupportedVersion = "unsupported_version"
	ErrCodeNotInRoom          = "not_in_room"
	ErrCodeBadRequest         = "bad_request"
	ErrCodeRateLimited        = "rate_limited"
	ErrCodeInvalidMessage     = "invalid_message"
)

var (
	// ErrNotConnected is returned by sends attempted outside the Connected state.
	ErrNotConnected = errors.New("not connected")
	// ErrSendBufferFull is returned when the connection writer cannot keep up.
	ErrSendBufferFull = errors.New("send buffer full")
	// ErrAuthRejected means the server refused the credentials.
	ErrAuthRejected = errors.New("authentication rejected")
	// ErrSessionClosed is returned once the session's event loop has exited.
	ErrSessionClosed = errors.New("session closed")
	// ErrUnknownMessage is returned when a client temp id is not tracked.
	ErrUnknownMessage = errors.New("unknown message")
	// ErrEmptyRoom is returned when an operation needs a room id.
	ErrEmptyRoom = errors.New("room id is required")
	// ErrEmptyMessage is returned when sending a message without content.
	ErrEmptyMessage = errors.New("message content is required")
	// ErrNoCredentials is returned when starting a session without a token.
	ErrNoCredentials = errors.New("credentials are required")
)

// Error wraps a server error code and human-readable message. RoomID and
// ClientTempID identify the rejected request when the server names it.
type Error struct {
	Code         string
	Message      string
	RoomID       string
	ClientTempID string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// IsAuth reports whether the server error invalidates the credentials.
func (e *Error) IsAuth() bool {
	return e != nil && (e.Code == ErrCodeUnauthorized || e.Code == ErrCodeTokenExpired)
}
