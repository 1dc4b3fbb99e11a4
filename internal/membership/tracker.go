// Package membership keeps the desired set of joined rooms for a session.
// Server-side membership does not survive a disconnect, so the desired set is
// the single source of truth and is replayed after every authentication.
package membership

import (
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-session/internal/chat"
)

// Desired is the requested membership of one room.
type Desired int

const (
	// Left means the room should not be joined.
	Left Desired = iota
	// Joined means the room should be joined.
	Joined
)

// Emitter delivers membership intents to the router.
type Emitter func(chat.Intent) error

// Tracker records desired room membership.
type Tracker struct {
	desired   map[string]Desired
	connected func() bool
	emit      Emitter
	log       zerolog.Logger
}

// New creates a tracker. connected reports whether intents can be emitted now.
func New(connected func() bool, emit Emitter, logger *zerolog.Logger) *Tracker {
	return &Tracker{
		desired:   make(map[string]Desired),
		connected: connected,
		emit:      emit,
		log:       logger.With().Str("component", "membership").Logger(),
	}
}

// Join records the room as desired. It reports whether the desired set changed;
// joining an already joined room is a no-op.
func (t *Tracker) Join(roomID string) (bool, error) {
	return t.set(normalize(roomID), Joined, chat.IntentJoinRoom)
}

// Leave records the room as not desired. It reports whether the desired set changed.
func (t *Tracker) Leave(roomID string) (bool, error) {
	return t.set(normalize(roomID), Left, chat.IntentLeaveRoom)
}

func (t *Tracker) set(roomID string, state Desired, kind chat.IntentKind) (bool, error) {
	if roomID == "" {
		return false, chat.ErrEmptyRoom
	}
	current, known := t.desired[roomID]
	if (known && current == state) || (!known && state == Left) {
		return false, nil
	}

	if state == Joined {
		t.desired[roomID] = Joined
	} else {
		delete(t.desired, roomID)
	}

	if !t.connected() {
		t.log.Debug().Str("room", roomID).Stringer("intent", kind).Msg("recorded while offline")
		return true, nil
	}
	return true, t.emit(chat.Intent{Kind: kind, RoomID: roomID})
}

// Replay emits JoinRoom for every joined room, in room id order.
// It is called after every successful (re)authentication.
func (t *Tracker) Replay() int {
	rooms := t.Rooms()
	for _, roomID := range rooms {
		if err := t.emit(chat.Intent{Kind: chat.IntentJoinRoom, RoomID: roomID}); err != nil {
			t.log.Warn().Err(err).Str("room", roomID).Msg("replay join")
		}
	}
	if len(rooms) > 0 {
		t.log.Debug().Int("rooms", len(rooms)).Msg("membership replayed")
	}
	return len(rooms)
}

// IsJoined reports whether the room is in the desired set.
func (t *Tracker) IsJoined(roomID string) bool {
	return t.desired[normalize(roomID)] == Joined
}

// Rooms returns the joined rooms sorted by id.
func (t *Tracker) Rooms() []string {
	rooms := make([]string, 0, len(t.desired))
	for roomID, state := range t.desired {
		if state == Joined {
			rooms = append(rooms, roomID)
		}
	}
	slices.Sort(rooms)
	return rooms
}

// Reset forgets every desired room.
func (t *Tracker) Reset() {
	clear(t.desired)
}

func normalize(roomID string) string {
	return strings.TrimSpace(roomID)
}
