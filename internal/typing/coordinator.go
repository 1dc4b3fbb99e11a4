// Package typing debounces local typing signals and expires remote ones.
package typing

import (
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-session/internal/chat"
	"github.com/vovakirdan/wirechat-session/internal/eventloop"
)

// Defaults used when a Config field is zero.
const (
	DefaultIdleTimeout   = 3 * time.Second
	DefaultRemoteExpiry  = 5 * time.Second
	DefaultSweepInterval = time.Second
)

// Config holds typing timings.
type Config struct {
	IdleTimeout   time.Duration
	RemoteExpiry  time.Duration
	SweepInterval time.Duration
}

// Entry is a remote user currently typing in a room.
type Entry struct {
	RoomID    string
	UserID    string
	UserName  string
	ExpiresAt time.Time
}

// Coordinator tracks local and remote typing state for one session.
// All methods must be called from the scheduler's goroutine.
type Coordinator struct {
	cfg       Config
	sched     eventloop.Scheduler
	emit      func(chat.Intent) error
	localUser string

	local  map[string]eventloop.Timer
	remote map[string]map[string]Entry
	sweep  eventloop.Timer

	onChange func(roomID string)
	log      zerolog.Logger
}

// New creates a coordinator. emit delivers StartTyping/StopTyping intents.
func New(cfg Config, sched eventloop.Scheduler, emit func(chat.Intent) error, logger *zerolog.Logger) *Coordinator {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.RemoteExpiry <= 0 {
		cfg.RemoteExpiry = DefaultRemoteExpiry
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	return &Coordinator{
		cfg:    cfg,
		sched:  sched,
		emit:   emit,
		local:  make(map[string]eventloop.Timer),
		remote: make(map[string]map[string]Entry),
		log:    logger.With().Str("component", "typing").Logger(),
	}
}

// SetLocalUser sets the id whose remote echoes are ignored.
func (c *Coordinator) SetLocalUser(userID string) {
	c.localUser = userID
}

// OnChange registers the callback invoked when a room's remote typing set changes.
func (c *Coordinator) OnChange(fn func(roomID string)) {
	c.onChange = fn
}

// Keystroke records local typing activity. StartTyping is emitted only on the
// Idle to Typing edge; every keystroke restarts the inactivity timer.
func (c *Coordinator) Keystroke(roomID string) error {
	if timer, typing := c.local[roomID]; typing {
		timer.Stop()
		c.local[roomID] = c.armIdle(roomID)
		return nil
	}

	if err := c.emit(chat.Intent{Kind: chat.IntentStartTyping, RoomID: roomID}); err != nil {
		return err
	}
	c.local[roomID] = c.armIdle(roomID)
	return nil
}

// Stop returns the room to Idle, emitting StopTyping if it was Typing.
// It is called on explicit send or when the input is cleared.
func (c *Coordinator) Stop(roomID string) error {
	timer, typing := c.local[roomID]
	if !typing {
		return nil
	}
	timer.Stop()
	delete(c.local, roomID)
	return c.emit(chat.Intent{Kind: chat.IntentStopTyping, RoomID: roomID})
}

// IsTyping reports whether the local user is in the Typing state for the room.
func (c *Coordinator) IsTyping(roomID string) bool {
	_, typing := c.local[roomID]
	return typing
}

func (c *Coordinator) armIdle(roomID string) eventloop.Timer {
	return c.sched.AfterFunc(c.cfg.IdleTimeout, func() {
		delete(c.local, roomID)
		if err := c.emit(chat.Intent{Kind: chat.IntentStopTyping, RoomID: roomID}); err != nil {
			c.log.Debug().Err(err).Str("room", roomID).Msg("idle stop dropped")
		}
	})
}

// Apply folds a remote typing signal.
func (c *Coordinator) Apply(sig chat.TypingSignal) {
	if sig.RoomID == "" || sig.UserID == "" || sig.UserID == c.localUser {
		return
	}

	users := c.remote[sig.RoomID]
	if !sig.IsTyping {
		if _, ok := users[sig.UserID]; ok {
			delete(users, sig.UserID)
			if len(users) == 0 {
				delete(c.remote, sig.RoomID)
			}
			c.changed(sig.RoomID)
		}
		return
	}

	if users == nil {
		users = make(map[string]Entry)
		c.remote[sig.RoomID] = users
	}
	_, existed := users[sig.UserID]
	users[sig.UserID] = Entry{
		RoomID:    sig.RoomID,
		UserID:    sig.UserID,
		UserName:  sig.UserName,
		ExpiresAt: c.sched.Now().Add(c.cfg.RemoteExpiry),
	}
	if !existed {
		c.changed(sig.RoomID)
	}
}

// Active lists remote users typing in the room, sorted by user id.
func (c *Coordinator) Active(roomID string) []Entry {
	now := c.sched.Now()
	entries := make([]Entry, 0, len(c.remote[roomID]))
	for _, e := range c.remote[roomID] {
		if now.Before(e.ExpiresAt) {
			entries = append(entries, e)
		}
	}
	slices.SortFunc(entries, func(a, b Entry) int {
		switch {
		case a.UserID < b.UserID:
			return -1
		case a.UserID > b.UserID:
			return 1
		}
		return 0
	})
	return entries
}

// Sweep removes expired remote entries and returns how many were removed.
// It covers stop signals lost in transit.
func (c *Coordinator) Sweep() int {
	now := c.sched.Now()
	removed := 0
	for roomID, users := range c.remote {
		roomChanged := false
		for userID, e := range users {
			if !now.Before(e.ExpiresAt) {
				delete(users, userID)
				removed++
				roomChanged = true
			}
		}
		if len(users) == 0 {
			delete(c.remote, roomID)
		}
		if roomChanged {
			c.changed(roomID)
		}
	}
	return removed
}

// Start arms the periodic sweep. Calling Start twice is a no-op.
func (c *Coordinator) Start() {
	if c.sweep != nil {
		return
	}
	var tick func()
	tick = func() {
		c.Sweep()
		c.sweep = c.sched.AfterFunc(c.cfg.SweepInterval, tick)
	}
	c.sweep = c.sched.AfterFunc(c.cfg.SweepInterval, tick)
}

// ResetRemote drops every remote entry and returns local rooms to Idle without
// emitting; used when the connection is lost.
func (c *Coordinator) ResetRemote() {
	for roomID := range c.remote {
		delete(c.remote, roomID)
		c.changed(roomID)
	}
	for roomID, timer := range c.local {
		timer.Stop()
		delete(c.local, roomID)
	}
}

// Close cancels every timer and forgets all state.
func (c *Coordinator) Close() {
	if c.sweep != nil {
		c.sweep.Stop()
		c.sweep = nil
	}
	c.ResetRemote()
}

func (c *Coordinator) changed(roomID string) {
	if c.onChange != nil {
		c.onChange(roomID)
	}
}
