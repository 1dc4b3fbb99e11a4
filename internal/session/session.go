// Package session ties the connection supervisor, membership, routing, typing,
// presence and chat list projection into one client session. Every piece of
// session state is owned by a single event loop goroutine; the exported
// methods hand their work to that loop and wait for it.
package session

import (
	"context"
	"errors"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-session/internal/backoff"
	"github.com/vovakirdan/wirechat-session/internal/chat"
	"github.com/vovakirdan/wirechat-session/internal/chatlist"
	"github.com/vovakirdan/wirechat-session/internal/eventloop"
	"github.com/vovakirdan/wirechat-session/internal/membership"
	"github.com/vovakirdan/wirechat-session/internal/presence"
	"github.com/vovakirdan/wirechat-session/internal/router"
	"github.com/vovakirdan/wirechat-session/internal/transport"
	"github.com/vovakirdan/wirechat-session/internal/typing"
	"github.com/vovakirdan/wirechat-session/internal/utils"
)

// Defaults used when a Config field is zero.
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultSendBuffer       = 64
)

// Config tunes a session.
type Config struct {
	Backoff          backoff.Config
	HandshakeTimeout time.Duration
	Typing           typing.Config
	QueueSize        int
	SendBuffer       int
	CacheSize        int
}

// Option customizes a Session.
type Option func(*Session)

// WithClock replaces the wall clock, typically with clock.NewMock in tests.
func WithClock(c clock.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithRand sets the random source used for backoff jitter.
func WithRand(r *rand.Rand) Option {
	return func(s *Session) { s.rnd = r }
}

// WithLogger sets the session logger.
func WithLogger(l *zerolog.Logger) Option {
	return func(s *Session) { s.log = l.With().Str("component", "session").Logger() }
}

type stateSub struct {
	id int
	fn func(StateChange)
}

type retrySub struct {
	id int
	fn func(chat.Intent)
}

type typingSub struct {
	id int
	fn func(roomID string)
}

// Session is one client's real-time messaging session. Create it with New,
// drive it with Run, then Start it with credentials.
//
// Listeners registered through Subscribe, OnStateChange, OnTypingChange and
// OnPendingRetry run on the session's loop goroutine and must not call the
// blocking Session methods.
type Session struct {
	cfg    Config
	dialer transport.Dialer
	clock  clock.Clock
	rnd    *rand.Rand
	loop   *eventloop.Loop
	log    zerolog.Logger
	ctx    context.Context

	// Everything below is owned by the loop goroutine.
	id            string
	creds         chat.Credentials
	userID        string
	state         chat.State
	gen           uint64
	attemptCancel context.CancelFunc
	conn          *liveConn
	retry         eventloop.Timer
	backoff       *backoff.Backoff

	router   *router.Router
	members  *membership.Tracker
	presence *presence.Tracker
	typing   *typing.Coordinator
	chats    *chatlist.Projector

	// inflight holds sends written to the connection but not yet echoed;
	// parked holds sends awaiting an explicit Retry.
	inflight map[string]chat.Intent
	parked   map[string]chat.Intent

	nextSub    int
	stateSubs  []stateSub
	retrySubs  []retrySub
	typingSubs []typingSub
}

// New creates a session that dials through dialer. Call Run before any other
// method.
func New(cfg Config, dialer transport.Dialer, opts ...Option) *Session {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultSendBuffer
	}

	s := &Session{
		cfg:      cfg,
		dialer:   dialer,
		log:      zerolog.Nop(),
		ctx:      context.Background(),
		inflight: make(map[string]chat.Intent),
		parked:   make(map[string]chat.Intent),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = clock.New()
	}

	s.loop = eventloop.New(s.clock, 0)
	s.backoff = backoff.New(cfg.Backoff, s.rnd)
	s.router = router.New(router.SenderFunc(s.send), cfg.QueueSize, &s.log)
	s.router.OnDrop(s.dropped)
	s.router.SubscribeAll(s.apply)
	s.members = membership.New(s.connected, s.route, &s.log)
	s.presence = presence.New()
	s.typing = typing.New(cfg.Typing, s.loop, s.route, &s.log)
	s.typing.OnChange(s.typingChanged)
	s.chats = chatlist.New("", cfg.CacheSize)
	return s
}

// Run executes the session's event loop until ctx is cancelled, then closes
// the connection and cancels every timer.
func (s *Session) Run(ctx context.Context) error {
	s.ctx = ctx
	err := s.loop.Run(ctx)

	s.gen++
	s.cancelAttempt()
	s.closeConn("session closed")
	s.stopRetry()
	s.typing.Close()

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// do runs f on the loop and returns its error.
func (s *Session) do(f func() error) error {
	var err error
	if derr := s.loop.Do(func() { err = f() }); derr != nil {
		return derr
	}
	return err
}

// Start connects with creds. It is a no-op while a connection is being made or
// is up; a pending retry is superseded and the dial happens immediately.
func (s *Session) Start(creds chat.Credentials) error {
	if creds.Token == "" {
		return chat.ErrNoCredentials
	}
	return s.do(func() error {
		switch s.state {
		case chat.StateConnecting, chat.StateAuthenticating, chat.StateConnected:
			return nil
		case chat.StateReconnecting:
			s.stopRetry()
		case chat.StateDisconnected:
			s.id = utils.NewID()
		}
		s.creds = creds
		if s.userID == "" {
			s.setLocalUser(creds.UserID)
		}
		s.typing.Start()
		s.log.Debug().Str("session_id", s.id).Msg("starting")
		s.connect()
		return nil
	})
}

// Stop closes the connection, cancels every timer and clears all session
// state. A later Start begins a new logical session.
func (s *Session) Stop() error {
	return s.do(func() error {
		s.gen++
		s.cancelAttempt()
		s.closeConn("client closing")
		s.stopRetry()
		s.typing.Close()
		clear(s.inflight)
		s.setState(StateChange{To: chat.StateDisconnected})

		s.members.Reset()
		s.presence.Reset()
		s.chats.Reset()
		s.router.Reset()
		s.backoff.Reset()
		clear(s.parked)
		s.creds = chat.Credentials{}
		s.userID = ""
		return nil
	})
}

// ID returns the id of the current logical session, empty before the first Start.
func (s *Session) ID() string {
	var id string
	s.loop.Do(func() { id = s.id })
	return id
}

// State returns the current lifecycle state.
func (s *Session) State() chat.State {
	state := chat.StateDisconnected
	s.loop.Do(func() { state = s.state })
	return state
}

// UserID returns the local user id confirmed by the server, or the one from
// the credentials before the first ready.
func (s *Session) UserID() string {
	var id string
	s.loop.Do(func() { id = s.userID })
	return id
}

// OnStateChange registers fn for every lifecycle transition.
func (s *Session) OnStateChange(fn func(StateChange)) func() {
	var id int
	s.loop.Do(func() {
		s.nextSub++
		id = s.nextSub
		s.stateSubs = append(s.stateSubs, stateSub{id: id, fn: fn})
	})
	return func() {
		s.loop.Post(func() {
			s.stateSubs = slices.DeleteFunc(s.stateSubs, func(sub stateSub) bool { return sub.id == id })
		})
	}
}

// OnPendingRetry registers fn for sends that were not confirmed and now wait
// for Retry: in-flight sends when the connection drops, sends evicted from the
// outbound queue, and queued sends when the session fails.
func (s *Session) OnPendingRetry(fn func(chat.Intent)) func() {
	var id int
	s.loop.Do(func() {
		s.nextSub++
		id = s.nextSub
		s.retrySubs = append(s.retrySubs, retrySub{id: id, fn: fn})
	})
	return func() {
		s.loop.Post(func() {
			s.retrySubs = slices.DeleteFunc(s.retrySubs, func(sub retrySub) bool { return sub.id == id })
		})
	}
}

// OnTypingChange registers fn for changes of a room's remote typing set.
func (s *Session) OnTypingChange(fn func(roomID string)) func() {
	var id int
	s.loop.Do(func() {
		s.nextSub++
		id = s.nextSub
		s.typingSubs = append(s.typingSubs, typingSub{id: id, fn: fn})
	})
	return func() {
		s.loop.Post(func() {
			s.typingSubs = slices.DeleteFunc(s.typingSubs, func(sub typingSub) bool { return sub.id == id })
		})
	}
}

// Subscribe registers fn for inbound events of one kind. Listeners see the
// event after the session has folded it into its own state.
func (s *Session) Subscribe(kind chat.EventKind, fn router.Listener) func() {
	var unsub func()
	s.loop.Do(func() { unsub = s.router.Subscribe(kind, fn) })
	return func() { s.loop.Post(func() { unsub() }) }
}

// SubscribeAll registers fn for every inbound event.
func (s *Session) SubscribeAll(fn router.Listener) func() {
	var unsub func()
	s.loop.Do(func() { unsub = s.router.SubscribeAll(fn) })
	return func() { s.loop.Post(func() { unsub() }) }
}

// Join adds a room to the desired membership.
func (s *Session) Join(roomID string) error {
	return s.do(func() error {
		_, err := s.members.Join(roomID)
		return err
	})
}

// Leave removes a room from the desired membership.
func (s *Session) Leave(roomID string) error {
	return s.do(func() error {
		roomID = strings.TrimSpace(roomID)
		if err := s.typing.Stop(roomID); err != nil {
			s.log.Debug().Err(err).Str("room", roomID).Msg("typing stop dropped")
		}
		_, err := s.members.Leave(roomID)
		return err
	})
}

// SendMessage posts a text message and returns its client temp id. The message
// appears in the room's cache immediately as pending and is confirmed in place
// when the server echoes it.
func (s *Session) SendMessage(roomID, content string) (string, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return "", chat.ErrEmptyRoom
	}
	if strings.TrimSpace(content) == "" {
		return "", chat.ErrEmptyMessage
	}

	tempID := utils.NewTempID()
	err := s.do(func() error {
		if err := s.typing.Stop(roomID); err != nil {
			s.log.Debug().Err(err).Str("room", roomID).Msg("typing stop dropped")
		}
		intent := chat.Intent{
			Kind:         chat.IntentSendMessage,
			RoomID:       roomID,
			ClientTempID: tempID,
			Content:      content,
			MessageType:  chat.MessageTypeText,
		}
		s.chats.AddLocal(roomID, tempID, content, chat.MessageTypeText, s.clock.Now())
		return s.sendIntent(intent)
	})
	if err != nil {
		return "", err
	}
	return tempID, nil
}

// Retry re-issues a send that is waiting in the pending-retry set.
func (s *Session) Retry(tempID string) error {
	return s.do(func() error {
		intent, ok := s.parked[tempID]
		if !ok {
			return chat.ErrUnknownMessage
		}
		delete(s.parked, tempID)
		s.chats.Retrying(tempID)
		return s.sendIntent(intent)
	})
}

// PendingRetry lists sends waiting for Retry, ordered by temp id.
func (s *Session) PendingRetry() []chat.Intent {
	var out []chat.Intent
	s.loop.Do(func() {
		for _, intent := range s.parked {
			out = append(out, intent)
		}
	})
	slices.SortFunc(out, func(a, b chat.Intent) int { return strings.Compare(a.ClientTempID, b.ClientTempID) })
	return out
}

// Keystroke reports local typing activity in a room. While disconnected the
// typing signal is dropped and chat.ErrNotConnected returned.
func (s *Session) Keystroke(roomID string) error {
	return s.do(func() error { return s.typing.Keystroke(strings.TrimSpace(roomID)) })
}

// StopTyping ends local typing in a room, e.g. when the input is cleared.
func (s *Session) StopTyping(roomID string) error {
	return s.do(func() error { return s.typing.Stop(strings.TrimSpace(roomID)) })
}

// MarkRead clears the room's unread count locally and tells the server.
func (s *Session) MarkRead(roomID string) error {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return chat.ErrEmptyRoom
	}
	return s.do(func() error {
		s.chats.MarkRead(roomID)
		return s.route(chat.Intent{Kind: chat.IntentMarkRead, RoomID: roomID})
	})
}

// Rooms returns the desired room set.
func (s *Session) Rooms() []string {
	var rooms []string
	s.loop.Do(func() { rooms = s.members.Rooms() })
	return rooms
}

// IsOnline reports a user's last known presence.
func (s *Session) IsOnline(userID string) bool {
	var online bool
	s.loop.Do(func() { online = s.presence.IsOnline(userID) })
	return online
}

// Online lists users known to be online.
func (s *Session) Online() []string {
	var users []string
	s.loop.Do(func() { users = s.presence.Online() })
	return users
}

// Typing lists remote users typing in a room.
func (s *Session) Typing(roomID string) []typing.Entry {
	var entries []typing.Entry
	s.loop.Do(func() { entries = s.typing.Active(roomID) })
	return entries
}

// Conversations returns the chat list, most recent first.
func (s *Session) Conversations() []chatlist.Conversation {
	var convs []chatlist.Conversation
	s.loop.Do(func() { convs = s.chats.Snapshot() })
	return convs
}

// Messages returns the cached messages of a room, oldest first.
func (s *Session) Messages(roomID string) []chatlist.Entry {
	var entries []chatlist.Entry
	s.loop.Do(func() { entries = s.chats.Messages(roomID) })
	return entries
}

func (s *Session) connected() bool {
	return s.state == chat.StateConnected
}

func (s *Session) route(intent chat.Intent) error {
	_, err := s.router.Route(intent)
	return err
}

func (s *Session) sendIntent(intent chat.Intent) error {
	outcome, err := s.router.Route(intent)
	switch outcome {
	case router.Sent:
		s.inflight[intent.ClientTempID] = intent
	case router.Dropped:
		s.chats.Fail(intent.ClientTempID)
		return err
	}
	return nil
}

func (s *Session) setLocalUser(userID string) {
	s.userID = userID
	s.typing.SetLocalUser(userID)
	s.chats.SetLocalUser(userID)
}

// apply folds an inbound event into session state. It is the first listener
// registered on the router, so user listeners observe the updated state.
func (s *Session) apply(ev chat.Event) {
	switch ev.Kind {
	case chat.EventNewMessage:
		if m := ev.Message; m.ClientTempID != "" && m.SenderID == s.userID {
			delete(s.inflight, m.ClientTempID)
			delete(s.parked, m.ClientTempID)
		}
		s.chats.Apply(ev)
	case chat.EventMessageRead, chat.EventRoomUpdated:
		s.chats.Apply(ev)
	case chat.EventTyping:
		s.typing.Apply(*ev.Typing)
	case chat.EventPresence:
		s.presence.Apply(*ev.Presence)
	case chat.EventError:
		if ev.Error.IsAuth() {
			s.fail(errors.Join(chat.ErrAuthRejected, ev.Error))
			return
		}
		s.log.Warn().Str("code", ev.Error.Code).Str("msg", ev.Error.Message).
			Str("room", ev.Error.RoomID).Str("client_temp_id", ev.Error.ClientTempID).Msg("server error")
		s.rejected(ev.Error)
	}
}

// rejected moves sends the server refused to pending-retry. An error naming a
// temp id refuses that send; not_in_room for a room refuses every send in
// flight to it.
func (s *Session) rejected(e *chat.Error) {
	var refused []chat.Intent
	switch {
	case e.ClientTempID != "":
		if intent, ok := s.inflight[e.ClientTempID]; ok {
			refused = append(refused, intent)
		}
	case e.RoomID != "" && e.Code == chat.ErrCodeNotInRoom:
		for _, intent := range s.inflight {
			if intent.RoomID == e.RoomID {
				refused = append(refused, intent)
			}
		}
		slices.SortFunc(refused, func(a, b chat.Intent) int { return strings.Compare(a.ClientTempID, b.ClientTempID) })
	}
	for _, intent := range refused {
		s.chats.Fail(intent.ClientTempID)
		s.park(intent)
	}
}

// dropped handles intents evicted from a full outbound queue.
func (s *Session) dropped(intent chat.Intent) {
	if intent.Kind != chat.IntentSendMessage {
		return
	}
	s.chats.Fail(intent.ClientTempID)
	s.park(intent)
}

// park moves a send into the pending-retry set and notifies listeners.
func (s *Session) park(intent chat.Intent) {
	delete(s.inflight, intent.ClientTempID)
	s.parked[intent.ClientTempID] = intent
	for _, sub := range slices.Clone(s.retrySubs) {
		s.notify(func() { sub.fn(intent) })
	}
}

func (s *Session) setState(change StateChange) {
	change.From = s.state
	if change.From == change.To {
		return
	}
	s.state = change.To
	s.log.Debug().Stringer("from", change.From).Stringer("to", change.To).Msg("state change")

	if change.From == chat.StateConnected {
		s.presence.Reset()
		s.typing.ResetRemote()
	}
	for _, sub := range slices.Clone(s.stateSubs) {
		s.notify(func() { sub.fn(change) })
	}

	if change.From == chat.StateConnected {
		ids := make([]string, 0, len(s.inflight))
		for id := range s.inflight {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		for _, id := range ids {
			s.park(s.inflight[id])
		}
	}
}

func (s *Session) typingChanged(roomID string) {
	for _, sub := range slices.Clone(s.typingSubs) {
		s.notify(func() { sub.fn(roomID) })
	}
}

func (s *Session) notify(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error().Interface("panic", rec).Msg("listener failed")
		}
	}()
	fn()
}
