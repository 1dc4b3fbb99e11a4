// Package ws implements transport.Dialer on top of coder/websocket.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-session/internal/transport"
)

// DefaultReadLimit caps the size of a single inbound frame.
const DefaultReadLimit = 1 << 20

// Dialer connects to a fixed WebSocket URL. Credentials are never placed in
// the URL; they travel in the hello frame once the socket is open.
type Dialer struct {
	url       string
	client    *http.Client
	readLimit int64
	log       *zerolog.Logger
}

// Option customizes a Dialer.
type Option func(*Dialer)

// WithHTTPClient sets the client used for the upgrade request.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dialer) { d.client = c }
}

// WithReadLimit sets the maximum inbound frame size in bytes.
func WithReadLimit(n int64) Option {
	return func(d *Dialer) { d.readLimit = n }
}

// NewDialer builds a dialer for url.
func NewDialer(url string, logger *zerolog.Logger, opts ...Option) *Dialer {
	d := &Dialer{url: url, readLimit: DefaultReadLimit, log: logger}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dial opens a WebSocket connection. An HTTP 401 or 403 on upgrade is reported
// as transport.ErrUnauthorized.
func (d *Dialer) Dial(ctx context.Context) (transport.Conn, error) {
	c, resp, err := websocket.Dial(ctx, d.url, &websocket.DialOptions{HTTPClient: d.client})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: upgrade returned %d", transport.ErrUnauthorized, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", d.url, err)
	}
	c.SetReadLimit(d.readLimit)
	d.log.Debug().Str("url", d.url).Msg("ws connected")
	return &conn{c: c}, nil
}

type conn struct {
	c *websocket.Conn
}

func (c *conn) Read(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := c.c.Read(ctx)
		if err != nil {
			var closeErr websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.StatusPolicyViolation {
				return nil, fmt.Errorf("%w: %s", transport.ErrUnauthorized, closeErr.Reason)
			}
			return nil, err
		}
		if typ == websocket.MessageText {
			return data, nil
		}
	}
}

func (c *conn) Write(ctx context.Context, v any) error {
	return wsjson.Write(ctx, c.c, v)
}

func (c *conn) Close(reason string) error {
	return c.c.Close(websocket.StatusNormalClosure, reason)
}
