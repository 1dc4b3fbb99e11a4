package utils

import "github.com/google/uuid"

// NewID returns a random unique identifier.
func NewID() string {
	return uuid.NewString()
}

// NewTempID returns a client-side temporary message id. The prefix keeps temp
// ids visually distinct from server-assigned message ids in logs.
func NewTempID() string {
	return "tmp-" + uuid.NewString()
}
