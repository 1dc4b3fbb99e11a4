package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	stdhttp "net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-session/internal/auth"
	"github.com/vovakirdan/wirechat-session/internal/core"
	"github.com/vovakirdan/wirechat-session/internal/proto"
	"github.com/vovakirdan/wirechat-session/internal/utils"
)

const defaultHelloTimeout = 10 * time.Second

// WSConfig tunes the WebSocket endpoint.
type WSConfig struct {
	JWT               *auth.JWTConfig
	MaxMessageBytes   int64
	MessagesPerMinute int
	HelloTimeout      time.Duration
	Clock             clock.Clock
}

// WSHandler upgrades HTTP connections, authenticates the hello frame and
// bridges the socket to a core.Client.
type WSHandler struct {
	hub core.Hub
	cfg WSConfig
	log zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub core.Hub, cfg WSConfig, logger *zerolog.Logger) stdhttp.Handler {
	if cfg.HelloTimeout <= 0 {
		cfg.HelloTimeout = defaultHelloTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &WSHandler{hub: hub, cfg: cfg, log: logger.With().Str("component", "ws").Logger()}
}

type handshakeError struct {
	status websocket.StatusCode
	frame  proto.ServerFrame
}

func (e *handshakeError) Error() string {
	return e.frame.Error.Msg
}

func rejectHandshake(status websocket.StatusCode, code, msg string) *handshakeError {
	return &handshakeError{status: status, frame: proto.NewErrorFrame(code, msg)}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.CloseNow()
	if h.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.cfg.MaxMessageBytes)
	}

	claims, err := h.handshake(ctx, conn)
	if err != nil {
		var rejected *handshakeError
		if errors.As(err, &rejected) {
			h.log.Debug().Str("code", rejected.frame.Error.Code).Msg("handshake rejected")
			_ = wsjson.Write(ctx, conn, rejected.frame)
			conn.Close(rejected.status, rejected.frame.Error.Code)
			return
		}
		h.log.Debug().Err(err).Msg("handshake aborted")
		return
	}

	client := core.NewClient(utils.NewID(), claims.UserID(), claims.DisplayName(), 0)
	if err := wsjson.Write(ctx, conn, readyFrame(client)); err != nil {
		h.log.Warn().Err(err).Msg("write ready")
		return
	}
	h.hub.RegisterClient(client)
	defer h.hub.UnregisterClient(client)
	h.log.Info().Str("client_id", client.ID).Str("user_id", client.UserID).Msg("client connected")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = "connection error"
			h.log.Warn().Err(err).Str("client_id", client.ID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

// handshake waits for the hello frame and validates its token.
func (h *WSHandler) handshake(ctx context.Context, conn *websocket.Conn) (*auth.Claims, error) {
	ctx, cancel := h.cfg.Clock.WithTimeout(ctx, h.cfg.HelloTimeout)
	defer cancel()

	frame, err := readClientFrame(ctx, conn)
	if err != nil {
		if isDecodeError(err) {
			return nil, rejectHandshake(websocket.StatusPolicyViolation, core.ErrCodeBadRequest, "hello expected")
		}
		return nil, err
	}
	if frame.Type != proto.ClientTypeHello {
		return nil, rejectHandshake(websocket.StatusPolicyViolation, core.ErrCodeUnauthorized, "hello expected")
	}

	var hello proto.HelloData
	if err := decodeData(frame, &hello); err != nil {
		return nil, rejectHandshake(websocket.StatusPolicyViolation, core.ErrCodeBadRequest, err.Error())
	}
	if hello.Protocol != 0 && hello.Protocol != proto.ProtocolVersion {
		return nil, rejectHandshake(websocket.StatusProtocolError, core.ErrCodeUnsupportedVersion, "unsupported protocol version")
	}
	if hello.Token == "" {
		return nil, rejectHandshake(websocket.StatusPolicyViolation, core.ErrCodeUnauthorized, "token is required")
	}

	claims, err := auth.ValidateToken(h.cfg.JWT, hello.Token)
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		return nil, rejectHandshake(websocket.StatusPolicyViolation, core.ErrCodeTokenExpired, "token expired")
	case err != nil:
		return nil, rejectHandshake(websocket.StatusPolicyViolation, core.ErrCodeUnauthorized, "invalid token")
	}
	return claims, nil
}

// errBinaryFrame marks a binary message where a JSON text frame was expected.
var errBinaryFrame = errors.New("binary frames are not supported")

// readClientFrame reads one message and decodes it. Unlike wsjson.Read it
// leaves the connection open when the payload is not a valid frame.
func readClientFrame(ctx context.Context, conn *websocket.Conn) (proto.ClientFrame, error) {
	var frame proto.ClientFrame
	typ, data, err := conn.Read(ctx)
	if err != nil {
		return frame, err
	}
	if typ != websocket.MessageText {
		return frame, errBinaryFrame
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return frame, fmt.Errorf("decode frame: %w", err)
	}
	return frame, nil
}

// isDecodeError reports whether a read failed on the JSON payload rather than
// on the connection.
func isDecodeError(err error) bool {
	var syntax *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.Is(err, errBinaryFrame) || errors.As(err, &syntax) || errors.As(err, &typeErr)
}

func readyFrame(client *core.Client) proto.ServerFrame {
	raw, _ := json.Marshal(proto.ReadyData{UserID: client.UserID, SessionID: client.ID})
	return proto.ServerFrame{Type: proto.ServerTypeReady, Data: raw}
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	limiter := newRateLimiter(h.cfg.Clock, h.cfg.MessagesPerMinute)
	for {
		frame, err := readClientFrame(ctx, conn)
		if err != nil {
			if isDecodeError(err) {
				if writeErr := wsjson.Write(ctx, conn, proto.NewErrorFrame(core.ErrCodeBadRequest, "malformed frame")); writeErr != nil {
					return writeErr
				}
				continue
			}
			return err
		}

		if !limiter.allow() {
			limited := rejectFrame(frame, &proto.Error{Code: core.ErrCodeRateLimited, Msg: "too many messages"})
			if err := wsjson.Write(ctx, conn, limited); err != nil {
				return err
			}
			continue
		}

		cmd, protoErr := frameToCommand(frame, int(h.cfg.MaxMessageBytes))
		if protoErr != nil {
			h.log.Debug().Str("client_id", client.ID).Str("code", protoErr.Code).Msg("rejected inbound frame")
			if err := wsjson.Write(ctx, conn, rejectFrame(frame, protoErr)); err != nil {
				return err
			}
			continue
		}

		select {
		case client.Commands <- cmd:
		case <-client.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		select {
		case event := <-client.Events:
			frame, err := eventToFrame(event)
			if err != nil {
				h.log.Error().Err(err).Str("client_id", client.ID).Msg("map event")
				continue
			}
			if err := wsjson.Write(ctx, conn, frame); err != nil {
				h.log.Error().Err(err).Str("client_id", client.ID).Msg("write ws event")
				return err
			}
		case <-client.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
