package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-session/internal/chat"
	"github.com/vovakirdan/wirechat-session/internal/chatlist"
	"github.com/vovakirdan/wirechat-session/internal/proto"
	"github.com/vovakirdan/wirechat-session/internal/transport"
)

const waitFor = 2 * time.Second

type fakeConn struct {
	in     chan []byte
	out    chan proto.ClientFrame
	closed chan struct{}
	once   sync.Once
	mu     sync.Mutex
	err    error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 128),
		out:    make(chan proto.ClientFrame, 128),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.closed:
		c.mu.Lock()
		defer c.mu.Unlock()
		return nil, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(_ context.Context, v any) error {
	frame, ok := v.(proto.ClientFrame)
	if !ok {
		return fmt.Errorf("unexpected frame type %T", v)
	}
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}
	c.out <- frame
	return nil
}

func (c *fakeConn) Close(string) error {
	c.drop(io.EOF)
	return nil
}

func (c *fakeConn) drop(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.closed)
	})
}

func (c *fakeConn) push(t *testing.T, frame proto.ServerFrame) {
	t.Helper()
	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	c.in <- data
}

func (c *fakeConn) event(t *testing.T, event string, data any) {
	t.Helper()
	frame, err := proto.NewEventFrame(event, data)
	if err != nil {
		t.Fatalf("event frame: %v", err)
	}
	c.push(t, frame)
}

func (c *fakeConn) ready(t *testing.T, userID string) {
	t.Helper()
	raw, _ := json.Marshal(proto.ReadyData{UserID: userID, SessionID: "srv-1"})
	c.push(t, proto.ServerFrame{Type: proto.ServerTypeReady, Data: raw})
}

func (c *fakeConn) expect(t *testing.T, frameType string) proto.ClientFrame {
	t.Helper()
	select {
	case frame := <-c.out:
		if frame.Type != frameType {
			t.Fatalf("expected %s frame, got %s (%s)", frameType, frame.Type, frame.Data)
		}
		return frame
	case <-time.After(waitFor):
		t.Fatalf("expected %s frame not written", frameType)
	}
	return proto.ClientFrame{}
}

func (c *fakeConn) noFrame(t *testing.T) {
	t.Helper()
	select {
	case frame := <-c.out:
		t.Fatalf("unexpected %s frame (%s)", frame.Type, frame.Data)
	case <-time.After(50 * time.Millisecond):
	}
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

type fakeDialer struct {
	mu    sync.Mutex
	errs  []error
	conns chan *fakeConn
}

func (d *fakeDialer) failNext(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs = append(d.errs, errs...)
}

func (d *fakeDialer) Dial(ctx context.Context) (transport.Conn, error) {
	d.mu.Lock()
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		d.mu.Unlock()
		return nil, err
	}
	d.mu.Unlock()

	c := newFakeConn()
	d.conns <- c
	return c, nil
}

type harness struct {
	t       *testing.T
	s       *Session
	mock    *clock.Mock
	dialer  *fakeDialer
	states  chan StateChange
	retries chan chat.Intent
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessConfig(t, Config{})
}

func newHarnessConfig(t *testing.T, cfg Config) *harness {
	t.Helper()
	mock := clock.NewMock()
	dialer := &fakeDialer{conns: make(chan *fakeConn, 8)}
	logger := zerolog.Nop()
	s := New(cfg, dialer,
		WithClock(mock),
		WithRand(rand.New(rand.NewPCG(7, 11))),
		WithLogger(&logger),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	h := &harness{
		t:       t,
		s:       s,
		mock:    mock,
		dialer:  dialer,
		states:  make(chan StateChange, 64),
		retries: make(chan chat.Intent, 64),
	}
	s.OnStateChange(func(c StateChange) { h.states <- c })
	s.OnPendingRetry(func(i chat.Intent) { h.retries <- i })
	return h
}

func (h *harness) start() {
	h.t.Helper()
	if err := h.s.Start(chat.Credentials{Token: "tok-1", UserID: "u1"}); err != nil {
		h.t.Fatalf("start: %v", err)
	}
}

func (h *harness) waitState(to chat.State) StateChange {
	h.t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case c := <-h.states:
			if c.To == to {
				return c
			}
		case <-deadline:
			h.t.Fatalf("state %s not reached", to)
		}
	}
}

func (h *harness) nextConn() *fakeConn {
	h.t.Helper()
	select {
	case c := <-h.dialer.conns:
		return c
	case <-time.After(waitFor):
		h.t.Fatal("expected a dial")
	}
	return nil
}

func (h *harness) noDial() {
	h.t.Helper()
	select {
	case <-h.dialer.conns:
		h.t.Fatal("unexpected dial")
	case <-time.After(100 * time.Millisecond):
	}
}

// accept completes the handshake on the next dialed connection.
func (h *harness) accept() *fakeConn {
	h.t.Helper()
	c := h.nextConn()
	hello := c.expect(h.t, proto.ClientTypeHello)
	var data proto.HelloData
	if err := json.Unmarshal(hello.Data, &data); err != nil {
		h.t.Fatalf("hello payload: %v", err)
	}
	if data.Token != "tok-1" || data.Protocol != proto.ProtocolVersion {
		h.t.Fatalf("unexpected hello: %+v", data)
	}
	c.ready(h.t, "u1")
	h.waitState(chat.StateConnected)
	return c
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitFor)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", what)
}

func chatID(t *testing.T, frame proto.ClientFrame) string {
	t.Helper()
	var ref proto.ChatRef
	if err := json.Unmarshal(frame.Data, &ref); err != nil {
		t.Fatalf("chat ref: %v", err)
	}
	return ref.ChatID
}

func TestStartConnectsAndReplaysRooms(t *testing.T) {
	h := newHarness(t)
	if err := h.s.Join("room-b"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := h.s.Join("room-a"); err != nil {
		t.Fatalf("join: %v", err)
	}

	h.start()
	h.waitState(chat.StateConnecting)
	c := h.nextConn()
	h.waitState(chat.StateAuthenticating)
	c.expect(t, proto.ClientTypeHello)
	c.ready(t, "u1")
	h.waitState(chat.StateConnected)

	for _, want := range []string{"room-a", "room-b"} {
		if got := chatID(t, c.expect(t, proto.ClientTypeJoinChat)); got != want {
			t.Fatalf("expected join for %s, got %s", want, got)
		}
	}
	c.noFrame(t)

	if h.s.State() != chat.StateConnected {
		t.Fatalf("unexpected state %s", h.s.State())
	}
	if h.s.ID() == "" || h.s.UserID() != "u1" {
		t.Fatalf("unexpected identity: id=%q user=%q", h.s.ID(), h.s.UserID())
	}
}

func TestStartIsNoopWhileConnected(t *testing.T) {
	h := newHarness(t)
	h.start()
	h.accept()

	h.start()
	h.noDial()
	if h.s.State() != chat.StateConnected {
		t.Fatalf("unexpected state %s", h.s.State())
	}
}

func TestStartRequiresToken(t *testing.T) {
	h := newHarness(t)
	if err := h.s.Start(chat.Credentials{UserID: "u1"}); !errors.Is(err, chat.ErrNoCredentials) {
		t.Fatalf("expected ErrNoCredentials, got %v", err)
	}
}

func TestReconnectReplaysMembershipOnce(t *testing.T) {
	h := newHarness(t)
	h.s.Join("A")
	h.s.Join("B")
	h.start()
	c := h.accept()
	c.expect(t, proto.ClientTypeJoinChat)
	c.expect(t, proto.ClientTypeJoinChat)

	c.event(t, proto.EventUserOnline, proto.PresenceData{UserID: "u2"})
	eventually(t, "u2 online", func() bool { return h.s.IsOnline("u2") })

	c.drop(errors.New("connection reset"))
	change := h.waitState(chat.StateReconnecting)
	if change.From != chat.StateConnected || change.Attempt != 1 {
		t.Fatalf("unexpected change: %+v", change)
	}
	if change.Delay < 800*time.Millisecond || change.Delay > 1200*time.Millisecond {
		t.Fatalf("first retry delay %v outside [0.8s, 1.2s]", change.Delay)
	}
	if h.s.IsOnline("u2") {
		t.Fatal("presence must be cleared when the connection drops")
	}

	h.mock.Add(change.Delay)
	c2 := h.accept()
	got := map[string]int{}
	got[chatID(t, c2.expect(t, proto.ClientTypeJoinChat))]++
	got[chatID(t, c2.expect(t, proto.ClientTypeJoinChat))]++
	c2.noFrame(t)
	if got["A"] != 1 || got["B"] != 1 {
		t.Fatalf("expected exactly one join per room, got %v", got)
	}
	if !c.isClosed() {
		t.Fatal("old connection must be closed")
	}
}

func TestAuthRejectedDuringHandshakeFails(t *testing.T) {
	h := newHarness(t)
	h.start()
	c := h.nextConn()
	c.expect(t, proto.ClientTypeHello)
	c.push(t, proto.NewErrorFrame(chat.ErrCodeUnauthorized, "bad token"))

	var seen []chat.State
	var change StateChange
	for change.To != chat.StateFailed {
		select {
		case change = <-h.states:
			seen = append(seen, change.To)
		case <-time.After(waitFor):
			t.Fatalf("state failed not reached, saw %v", seen)
		}
	}
	want := []chat.State{chat.StateConnecting, chat.StateAuthenticating, chat.StateFailed}
	if !slices.Equal(seen, want) {
		t.Fatalf("state sequence = %v, want %v", seen, want)
	}
	if !errors.Is(change.Err, chat.ErrAuthRejected) {
		t.Fatalf("expected ErrAuthRejected, got %v", change.Err)
	}
	var serverErr *chat.Error
	if !errors.As(change.Err, &serverErr) || serverErr.Code != chat.ErrCodeUnauthorized {
		t.Fatalf("expected server error in chain, got %v", change.Err)
	}

	h.mock.Add(time.Minute)
	h.noDial()
	if h.s.State() != chat.StateFailed {
		t.Fatalf("unexpected state %s", h.s.State())
	}
	select {
	case extra := <-h.states:
		t.Fatalf("no transition may follow failed, got %s", extra.To)
	default:
	}
}

func TestUnauthorizedUpgradeFails(t *testing.T) {
	h := newHarness(t)
	h.dialer.failNext(fmt.Errorf("%w: upgrade returned 401", transport.ErrUnauthorized))
	h.start()

	change := h.waitState(chat.StateFailed)
	if !errors.Is(change.Err, transport.ErrUnauthorized) {
		t.Fatalf("unexpected cause: %v", change.Err)
	}
	h.mock.Add(time.Minute)
	h.noDial()
}

func TestStartAfterFailureReconnects(t *testing.T) {
	h := newHarness(t)
	h.s.Join("general")
	h.start()
	c := h.nextConn()
	c.expect(t, proto.ClientTypeHello)
	c.push(t, proto.NewErrorFrame(chat.ErrCodeTokenExpired, "expired"))
	h.waitState(chat.StateFailed)
	id := h.s.ID()

	h.start()
	c2 := h.accept()
	if got := chatID(t, c2.expect(t, proto.ClientTypeJoinChat)); got != "general" {
		t.Fatalf("expected general to be replayed, got %s", got)
	}
	if h.s.ID() != id {
		t.Fatal("start after failure must keep the session id")
	}
}

func TestHandshakeTimeoutRetries(t *testing.T) {
	h := newHarness(t)
	h.start()
	c := h.nextConn()
	c.expect(t, proto.ClientTypeHello)
	h.waitState(chat.StateAuthenticating)

	h.mock.Add(DefaultHandshakeTimeout)
	change := h.waitState(chat.StateReconnecting)
	if change.Err == nil {
		t.Fatal("expected timeout cause")
	}
	if !c.isClosed() {
		eventually(t, "timed out connection closed", c.isClosed)
	}
}

func TestBackoffAcrossFailedDials(t *testing.T) {
	h := newHarness(t)
	h.dialer.failNext(
		errors.New("refused"),
		errors.New("refused"),
		errors.New("refused"),
		errors.New("refused"),
		errors.New("refused"),
	)
	h.start()

	var prev time.Duration
	for attempt := 1; attempt <= 5; attempt++ {
		change := h.waitState(chat.StateReconnecting)
		if change.Attempt != attempt {
			t.Fatalf("expected attempt %d, got %d", attempt, change.Attempt)
		}
		if prev > 0 {
			low := time.Duration(float64(prev) * 0.8)
			high := time.Duration(float64(min(30*time.Second, 2*prev)) * 1.2)
			if change.Delay < low || change.Delay > high {
				t.Fatalf("delay %v after %v outside [%v, %v]", change.Delay, prev, low, high)
			}
		}
		prev = change.Delay
		h.mock.Add(change.Delay)
		h.waitState(chat.StateConnecting)
	}

	c := h.accept()
	c.drop(errors.New("reset"))
	change := h.waitState(chat.StateReconnecting)
	if change.Attempt != 1 || change.Delay > 1200*time.Millisecond {
		t.Fatalf("backoff must reset after connecting, got %+v", change)
	}
}

func TestInboundOrderPreserved(t *testing.T) {
	h := newHarness(t)
	got := make(chan string, 100)
	h.s.Subscribe(chat.EventNewMessage, func(ev chat.Event) { got <- ev.Message.ID })
	h.start()
	c := h.accept()

	const n = 50
	for i := range n {
		c.event(t, proto.EventNewMessage, proto.NewMessageData{
			ChatID:    "general",
			MessageID: fmt.Sprintf("m%02d", i),
			SenderID:  "u2",
			Content:   "x",
			SentAt:    time.Unix(int64(i), 0),
		})
	}
	for i := range n {
		select {
		case id := <-got:
			if want := fmt.Sprintf("m%02d", i); id != want {
				t.Fatalf("position %d: got %s, want %s", i, id, want)
			}
		case <-time.After(waitFor):
			t.Fatalf("only %d of %d events delivered", i, n)
		}
	}
}

func TestMalformedFrameKeepsConnection(t *testing.T) {
	h := newHarness(t)
	got := make(chan chat.Event, 4)
	h.s.SubscribeAll(func(ev chat.Event) { got <- ev })
	h.start()
	c := h.accept()

	c.in <- []byte("{garbage")
	c.in <- []byte(`{"type":"event","event":"user-danced","data":{}}`)
	c.event(t, proto.EventUserOnline, proto.PresenceData{UserID: "u9"})

	select {
	case ev := <-got:
		if ev.Kind != chat.EventPresence {
			t.Fatalf("unexpected event %v", ev.Kind)
		}
	case <-time.After(waitFor):
		t.Fatal("valid frame after garbage was not delivered")
	}
	if h.s.State() != chat.StateConnected {
		t.Fatalf("unexpected state %s", h.s.State())
	}
}

func TestSendBeforeStartIsFlushedAfterReplay(t *testing.T) {
	h := newHarness(t)
	h.s.Join("general")
	tempID, err := h.s.SendMessage("general", "queued hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	h.start()
	c := h.accept()
	c.expect(t, proto.ClientTypeJoinChat)
	frame := c.expect(t, proto.ClientTypeSendMessage)
	var data proto.SendMessageData
	json.Unmarshal(frame.Data, &data)
	if data.ClientTempID != tempID || data.Content != "queued hello" {
		t.Fatalf("unexpected send payload: %+v", data)
	}
	c.noFrame(t)
}

func TestBacklogDrainsWhileConnected(t *testing.T) {
	const total = 140
	h := newHarnessConfig(t, Config{SendBuffer: 1, QueueSize: 2 * total})
	h.start()
	c := h.accept()

	wire := make(chan string, total)
	go func() {
		for {
			select {
			case frame := <-c.out:
				var data proto.SendMessageData
				json.Unmarshal(frame.Data, &data)
				wire <- data.ClientTempID
			case <-c.closed:
				return
			}
		}
	}()

	want := make([]string, 0, total)
	for i := 0; i < total; i++ {
		tempID, err := h.s.SendMessage("general", fmt.Sprintf("burst %d", i))
		if err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		want = append(want, tempID)
	}

	for i, id := range want {
		select {
		case got := <-wire:
			if got != id {
				t.Fatalf("frame %d: got %s, want %s", i, got, id)
			}
		case <-time.After(waitFor):
			t.Fatalf("only %d of %d sends reached the wire", i, total)
		}
	}
	if h.s.State() != chat.StateConnected {
		t.Fatalf("unexpected state %s", h.s.State())
	}
	if pending := h.s.PendingRetry(); len(pending) != 0 {
		t.Fatalf("no send may be parked, got %d", len(pending))
	}
	select {
	case intent := <-h.retries:
		t.Fatalf("unexpected pending retry %+v", intent)
	default:
	}
}

func TestOptimisticSendIsConfirmedByEcho(t *testing.T) {
	h := newHarness(t)
	h.start()
	c := h.accept()

	tempID, err := h.s.SendMessage("general", "hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	msgs := h.s.Messages("general")
	if len(msgs) != 1 || msgs[0].Status != chatlist.StatusPending {
		t.Fatalf("expected one pending entry, got %+v", msgs)
	}

	c.expect(t, proto.ClientTypeSendMessage)
	c.event(t, proto.EventNewMessage, proto.NewMessageData{
		ChatID:       "general",
		MessageID:    "m-100",
		SenderID:     "u1",
		Content:      "hello",
		SentAt:       time.Unix(100, 0),
		ClientTempID: tempID,
	})

	eventually(t, "message confirmed", func() bool {
		msgs := h.s.Messages("general")
		return len(msgs) == 1 && msgs[0].Status == chatlist.StatusConfirmed && msgs[0].ID == "m-100"
	})
	convs := h.s.Conversations()
	if len(convs) != 1 || convs[0].UnreadCount != 0 {
		t.Fatalf("own message must not count as unread: %+v", convs)
	}
}

func TestInflightSendMovesToPendingRetry(t *testing.T) {
	h := newHarness(t)
	h.start()
	c := h.accept()

	tempID, _ := h.s.SendMessage("general", "lost")
	c.expect(t, proto.ClientTypeSendMessage)
	c.drop(errors.New("reset"))
	change := h.waitState(chat.StateReconnecting)

	select {
	case intent := <-h.retries:
		if intent.ClientTempID != tempID {
			t.Fatalf("unexpected pending retry %+v", intent)
		}
	case <-time.After(waitFor):
		t.Fatal("pending retry not reported")
	}
	if pending := h.s.PendingRetry(); len(pending) != 1 {
		t.Fatalf("expected one pending retry, got %+v", pending)
	}

	if err := h.s.Retry(tempID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if err := h.s.Retry(tempID); !errors.Is(err, chat.ErrUnknownMessage) {
		t.Fatalf("second retry: expected ErrUnknownMessage, got %v", err)
	}

	h.mock.Add(change.Delay)
	c2 := h.accept()
	frame := c2.expect(t, proto.ClientTypeSendMessage)
	var data proto.SendMessageData
	json.Unmarshal(frame.Data, &data)
	if data.ClientTempID != tempID {
		t.Fatalf("retried send must keep its temp id, got %+v", data)
	}
}

func TestAuthErrorWhileConnectedFailsPendingSends(t *testing.T) {
	h := newHarness(t)
	h.start()
	c := h.accept()

	tempID, _ := h.s.SendMessage("general", "doomed")
	c.expect(t, proto.ClientTypeSendMessage)
	c.push(t, proto.NewErrorFrame(chat.ErrCodeTokenExpired, "token expired"))

	change := h.waitState(chat.StateFailed)
	if !errors.Is(change.Err, chat.ErrAuthRejected) {
		t.Fatalf("unexpected cause %v", change.Err)
	}
	msgs := h.s.Messages("general")
	if len(msgs) != 1 || msgs[0].Status != chatlist.StatusFailed {
		t.Fatalf("pending entry must be failed: %+v", msgs)
	}
	pending := h.s.PendingRetry()
	if len(pending) != 1 || pending[0].ClientTempID != tempID {
		t.Fatalf("failed send must be retryable: %+v", pending)
	}
	eventually(t, "connection closed", c.isClosed)
}

func TestRejectedSendMovesToPendingRetry(t *testing.T) {
	h := newHarness(t)
	h.start()
	c := h.accept()

	limited, _ := h.s.SendMessage("general", "too fast")
	c.expect(t, proto.ClientTypeSendMessage)
	kept, _ := h.s.SendMessage("general", "fine")
	c.expect(t, proto.ClientTypeSendMessage)
	strayA, _ := h.s.SendMessage("random", "not a member")
	c.expect(t, proto.ClientTypeSendMessage)
	strayB, _ := h.s.SendMessage("random", "still not")
	c.expect(t, proto.ClientTypeSendMessage)

	frame := proto.NewErrorFrame(chat.ErrCodeRateLimited, "too many messages")
	frame.Error.ChatID = "general"
	frame.Error.ClientTempID = limited
	c.push(t, frame)

	select {
	case intent := <-h.retries:
		if intent.ClientTempID != limited {
			t.Fatalf("unexpected pending retry %+v", intent)
		}
	case <-time.After(waitFor):
		t.Fatal("rate limited send not moved to pending retry")
	}

	frame = proto.NewErrorFrame(chat.ErrCodeNotInRoom, "join the chat first")
	frame.Error.ChatID = "random"
	c.push(t, frame)

	var parked []string
	for range 2 {
		select {
		case intent := <-h.retries:
			parked = append(parked, intent.ClientTempID)
		case <-time.After(waitFor):
			t.Fatalf("not_in_room must park every send to the room, got %v", parked)
		}
	}
	want := []string{strayA, strayB}
	slices.Sort(want)
	if !slices.Equal(parked, want) {
		t.Fatalf("parked = %v, want %v", parked, want)
	}

	for _, m := range h.s.Messages("general") {
		want := chatlist.StatusPending
		if m.ClientTempID == limited {
			want = chatlist.StatusFailed
		}
		if m.Status != want {
			t.Fatalf("message %s: status %v, want %v", m.ClientTempID, m.Status, want)
		}
	}
	pending := h.s.PendingRetry()
	if len(pending) != 3 || slices.ContainsFunc(pending, func(i chat.Intent) bool { return i.ClientTempID == kept }) {
		t.Fatalf("unexpected pending retry set %+v", pending)
	}
	if h.s.State() != chat.StateConnected {
		t.Fatalf("server errors must not end the session, state %s", h.s.State())
	}
}

func TestTypingSignals(t *testing.T) {
	h := newHarness(t)
	if err := h.s.Keystroke("general"); !errors.Is(err, chat.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected while offline, got %v", err)
	}

	h.start()
	c := h.accept()

	h.s.Keystroke("general")
	c.expect(t, proto.ClientTypeTypingStart)
	h.s.Keystroke("general")
	c.noFrame(t)

	h.s.SendMessage("general", "done typing")
	c.expect(t, proto.ClientTypeTypingStop)
	c.expect(t, proto.ClientTypeSendMessage)
}

func TestRemoteTypingExpires(t *testing.T) {
	h := newHarness(t)
	changes := make(chan string, 8)
	h.s.OnTypingChange(func(room string) { changes <- room })
	h.start()
	c := h.accept()

	c.event(t, proto.EventUserTyping, proto.UserTypingData{ChatID: "general", UserID: "u2", IsTyping: true})
	c.event(t, proto.EventUserTyping, proto.UserTypingData{ChatID: "general", UserID: "u1", IsTyping: true})
	select {
	case room := <-changes:
		if room != "general" {
			t.Fatalf("unexpected room %s", room)
		}
	case <-time.After(waitFor):
		t.Fatal("typing change not reported")
	}
	eventually(t, "u2 typing", func() bool {
		entries := h.s.Typing("general")
		return len(entries) == 1 && entries[0].UserID == "u2"
	})

	h.mock.Add(5 * time.Second)
	if entries := h.s.Typing("general"); len(entries) != 0 {
		t.Fatalf("typing entry must expire, got %+v", entries)
	}
}

func TestMarkReadIsEager(t *testing.T) {
	h := newHarness(t)
	h.start()
	c := h.accept()

	c.event(t, proto.EventNewMessage, proto.NewMessageData{ChatID: "general", MessageID: "m1", SenderID: "u2", SentAt: time.Unix(1, 0)})
	eventually(t, "unread counted", func() bool {
		convs := h.s.Conversations()
		return len(convs) == 1 && convs[0].UnreadCount == 1
	})

	if err := h.s.MarkRead("general"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if convs := h.s.Conversations(); convs[0].UnreadCount != 0 {
		t.Fatalf("unread must reset immediately, got %d", convs[0].UnreadCount)
	}
	if got := chatID(t, c.expect(t, proto.ClientTypeMarkMessages)); got != "general" {
		t.Fatalf("unexpected mark-read room %s", got)
	}
}

func TestStopDisconnectsAndClears(t *testing.T) {
	h := newHarness(t)
	h.s.Join("general")
	h.start()
	c := h.accept()
	c.expect(t, proto.ClientTypeJoinChat)

	if err := h.s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	h.waitState(chat.StateDisconnected)
	eventually(t, "connection closed", c.isClosed)

	h.mock.Add(time.Minute)
	h.noDial()
	if rooms := h.s.Rooms(); len(rooms) != 0 {
		t.Fatalf("stop must clear membership, got %v", rooms)
	}
}

func TestStopDuringReconnectCancelsRetry(t *testing.T) {
	h := newHarness(t)
	h.dialer.failNext(errors.New("refused"))
	h.start()
	change := h.waitState(chat.StateReconnecting)

	h.s.Stop()
	h.waitState(chat.StateDisconnected)
	h.mock.Add(change.Delay * 2)
	h.noDial()
}

func TestStartDuringReconnectDialsImmediately(t *testing.T) {
	h := newHarness(t)
	h.dialer.failNext(errors.New("refused"))
	h.start()
	h.waitState(chat.StateReconnecting)

	h.start()
	h.accept()
}
