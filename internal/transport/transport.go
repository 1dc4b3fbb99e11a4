// Package transport abstracts the duplex connection a session runs over.
package transport

import (
	"context"
	"errors"
)

// ErrUnauthorized is returned when the server rejects the connection's
// credentials at the transport level.
var ErrUnauthorized = errors.New("transport: unauthorized")

// Conn is one open duplex connection. Read and Write may be called from
// different goroutines, but each from at most one at a time.
type Conn interface {
	// Read blocks until the next text frame arrives.
	Read(ctx context.Context) ([]byte, error)
	// Write encodes v as JSON and sends it as one text frame.
	Write(ctx context.Context, v any) error
	// Close performs a normal closure.
	Close(reason string) error
}

// Dialer opens connections to the messaging server.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}
