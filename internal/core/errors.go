package core

// Error codes for domain errors.
const (
	ErrCodeNotInRoom          = "not_in_room"
	ErrCodeBadRequest         = "bad_request"
	ErrCodeUnauthorized       = "unauthorized"
	ErrCodeTokenExpired       = "token_expired"
	ErrCodeUnsupportedVersion = "unsupported_version"
	ErrCodeRateLimited        = "rate_limited"
	ErrCodeInvalidMessage     = "invalid_message"
	ErrCodeInternal           = "internal_error"
)

// CoreError wraps a code and human-readable message. ClientTempID refers to
// the rejected send, if any.
type CoreError struct {
	Code         string
	Message      string
	ClientTempID string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}
