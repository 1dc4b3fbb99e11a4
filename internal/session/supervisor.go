package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/vovakirdan/wirechat-session/internal/chat"
	"github.com/vovakirdan/wirechat-session/internal/proto"
	"github.com/vovakirdan/wirechat-session/internal/transport"
)

// StateChange describes one lifecycle transition.
type StateChange struct {
	From chat.State
	To   chat.State
	// Err is the cause of a transition to Reconnecting or Failed.
	Err error
	// Attempt and Delay describe the scheduled retry when To is Reconnecting.
	Attempt int
	Delay   time.Duration
}

// liveConn is the authenticated connection of one generation. Its reader and
// writer goroutines only talk to the session through the event loop.
type liveConn struct {
	gen    uint64
	conn   transport.Conn
	out    chan proto.ClientFrame
	ctx    context.Context
	cancel context.CancelFunc
	// backlog is set when a send found out full; the writer then asks the
	// loop to drain the router queue after its next write.
	backlog atomic.Bool
}

func (c *liveConn) close(reason string) {
	c.cancel()
	go c.conn.Close(reason)
}

func isAuthFailure(err error) bool {
	return errors.Is(err, chat.ErrAuthRejected) || errors.Is(err, transport.ErrUnauthorized)
}

// connect starts a new attempt, superseding any previous one.
func (s *Session) connect() {
	s.cancelAttempt()
	s.closeConn("superseded")
	s.gen++
	gen := s.gen

	ctx, cancel := context.WithCancel(s.ctx)
	s.attemptCancel = cancel
	s.setState(StateChange{To: chat.StateConnecting, Attempt: s.backoff.Attempt()})

	go s.handshake(ctx, gen, s.creds)
}

// handshake dials, presents the token and waits for ready. It runs on its own
// goroutine and reports back through the loop.
func (s *Session) handshake(ctx context.Context, gen uint64, creds chat.Credentials) {
	hctx, cancel := s.clock.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	defer cancel()

	conn, err := s.dialer.Dial(hctx)
	if err != nil {
		s.loop.Post(func() { s.attemptFailed(gen, fmt.Errorf("dial: %w", err)) })
		return
	}
	if !s.loop.Post(func() { s.opened(gen) }) {
		conn.Close("session closed")
		return
	}

	ready, err := s.authenticate(hctx, conn, creds)
	if err != nil {
		conn.Close("handshake failed")
		s.loop.Post(func() { s.attemptFailed(gen, err) })
		return
	}

	lctx, lcancel := context.WithCancel(ctx)
	lc := &liveConn{
		gen:    gen,
		conn:   conn,
		out:    make(chan proto.ClientFrame, s.cfg.SendBuffer),
		ctx:    lctx,
		cancel: lcancel,
	}
	if !s.loop.Post(func() { s.ready(lc, ready) }) {
		lc.close("session closed")
	}
}

func (s *Session) authenticate(ctx context.Context, conn transport.Conn, creds chat.Credentials) (proto.ReadyData, error) {
	hello, err := proto.NewClientFrame(proto.ClientTypeHello, proto.HelloData{
		Token:    creds.Token,
		Protocol: proto.ProtocolVersion,
	})
	if err != nil {
		return proto.ReadyData{}, err
	}
	if err := conn.Write(ctx, hello); err != nil {
		return proto.ReadyData{}, fmt.Errorf("write hello: %w", err)
	}

	for {
		data, err := conn.Read(ctx)
		if err != nil {
			return proto.ReadyData{}, fmt.Errorf("await ready: %w", err)
		}
		var frame proto.ServerFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.log.Warn().Err(err).Msg("dropping malformed handshake frame")
			continue
		}

		switch frame.Type {
		case proto.ServerTypeReady:
			var ready proto.ReadyData
			if err := json.Unmarshal(frame.Data, &ready); err != nil || ready.UserID == "" {
				return proto.ReadyData{}, errors.New("malformed ready frame")
			}
			return ready, nil
		case proto.ServerTypeError:
			serverErr := &chat.Error{Code: "unknown"}
			if frame.Error != nil {
				serverErr = &chat.Error{Code: frame.Error.Code, Message: frame.Error.Msg}
			}
			if serverErr.IsAuth() {
				return proto.ReadyData{}, fmt.Errorf("%w: %w", chat.ErrAuthRejected, serverErr)
			}
			return proto.ReadyData{}, fmt.Errorf("handshake: %w", serverErr)
		default:
			s.log.Debug().Str("type", frame.Type).Str("event", frame.Event).Msg("ignoring frame before ready")
		}
	}
}

func (s *Session) opened(gen uint64) {
	if gen != s.gen || s.state != chat.StateConnecting {
		return
	}
	s.setState(StateChange{To: chat.StateAuthenticating, Attempt: s.backoff.Attempt()})
}

func (s *Session) ready(lc *liveConn, ready proto.ReadyData) {
	if lc.gen != s.gen || s.state != chat.StateAuthenticating {
		lc.close("superseded")
		return
	}
	s.conn = lc
	go s.readLoop(lc)
	go s.writeLoop(lc)

	if s.creds.UserID != "" && s.creds.UserID != ready.UserID {
		s.log.Warn().Str("expected", s.creds.UserID).Str("got", ready.UserID).Msg("server assigned a different user id")
	}
	s.setLocalUser(ready.UserID)
	s.backoff.Reset()
	s.setState(StateChange{To: chat.StateConnected})

	joined := s.members.Replay()
	flushed := s.router.Flush()
	s.track(flushed)
	s.log.Info().
		Str("session_id", s.id).
		Str("server_session", ready.SessionID).
		Str("user_id", ready.UserID).
		Int("rooms", joined).
		Int("flushed", len(flushed)).
		Msg("session connected")
}

func (s *Session) attemptFailed(gen uint64, err error) {
	if gen != s.gen {
		return
	}
	if isAuthFailure(err) {
		s.fail(err)
		return
	}
	s.scheduleReconnect(err)
}

func (s *Session) connLost(gen uint64, err error) {
	if s.conn == nil || s.conn.gen != gen {
		return
	}
	if isAuthFailure(err) {
		s.fail(err)
		return
	}
	s.scheduleReconnect(err)
}

func (s *Session) scheduleReconnect(cause error) {
	s.cancelAttempt()
	s.closeConn("reconnecting")

	delay := s.backoff.Next()
	attempt := s.backoff.Attempt()
	s.retry = s.loop.AfterFunc(delay, func() {
		s.retry = nil
		s.connect()
	})
	s.log.Warn().Err(cause).Int("attempt", attempt).Dur("delay", delay).Msg("connection lost, retrying")
	s.setState(StateChange{To: chat.StateReconnecting, Err: cause, Attempt: attempt, Delay: delay})
}

// fail enters the terminal Failed state. Nothing is retried until Start is
// called again with fresh credentials.
func (s *Session) fail(cause error) {
	s.gen++
	s.cancelAttempt()
	s.closeConn("authentication failed")
	s.stopRetry()

	s.log.Error().Err(cause).Msg("session failed")
	s.setState(StateChange{To: chat.StateFailed, Err: cause})

	for _, intent := range s.router.Queued() {
		if intent.Kind == chat.IntentSendMessage {
			s.park(intent)
		}
	}
	s.router.Reset()
	s.chats.FailPending()
}

func (s *Session) cancelAttempt() {
	if s.attemptCancel != nil {
		s.attemptCancel()
		s.attemptCancel = nil
	}
}

func (s *Session) closeConn(reason string) {
	if s.conn != nil {
		s.conn.close(reason)
		s.conn = nil
	}
}

func (s *Session) stopRetry() {
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
}

// send hands a frame to the writer goroutine of the live connection.
func (s *Session) send(frame proto.ClientFrame) error {
	if s.state != chat.StateConnected || s.conn == nil {
		return chat.ErrNotConnected
	}
	select {
	case s.conn.out <- frame:
		return nil
	default:
	}
	// Marked before the second attempt so the writer cannot miss it.
	s.conn.backlog.Store(true)
	select {
	case s.conn.out <- frame:
		return nil
	default:
		return chat.ErrSendBufferFull
	}
}

// drain retries the outbound queue once the writer has made room.
func (s *Session) drain(gen uint64) {
	if s.conn == nil || s.conn.gen != gen || s.state != chat.StateConnected {
		return
	}
	s.track(s.router.Drain())
}

// track records sends that reached the writer as in flight.
func (s *Session) track(sent []chat.Intent) {
	for _, intent := range sent {
		if intent.Kind == chat.IntentSendMessage {
			s.inflight[intent.ClientTempID] = intent
		}
	}
}

func (s *Session) readLoop(lc *liveConn) {
	for {
		data, err := lc.conn.Read(lc.ctx)
		if err != nil {
			s.loop.Post(func() { s.connLost(lc.gen, err) })
			return
		}
		if !s.loop.Post(func() { s.inbound(lc.gen, data) }) {
			return
		}
	}
}

func (s *Session) writeLoop(lc *liveConn) {
	for {
		select {
		case frame := <-lc.out:
			if err := lc.conn.Write(lc.ctx, frame); err != nil {
				s.loop.Post(func() { s.connLost(lc.gen, fmt.Errorf("write %s: %w", frame.Type, err)) })
				return
			}
			if lc.backlog.CompareAndSwap(true, false) {
				s.loop.Post(func() { s.drain(lc.gen) })
			}
		case <-lc.ctx.Done():
			return
		}
	}
}

func (s *Session) inbound(gen uint64, data []byte) {
	if s.conn == nil || s.conn.gen != gen {
		return
	}
	s.router.HandleFrame(data)
}
