// Package presence derives who is online from presence events.
package presence

import (
	"slices"

	"github.com/vovakirdan/wirechat-session/internal/chat"
)

// Tracker maps user id to online state. Users never announced are offline.
type Tracker struct {
	online map[string]bool
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{online: make(map[string]bool)}
}

// Apply folds a presence event. It reports whether the user's state changed.
func (t *Tracker) Apply(p chat.Presence) bool {
	if p.UserID == "" {
		return false
	}
	prev := t.online[p.UserID]
	if p.Online {
		t.online[p.UserID] = true
	} else {
		delete(t.online, p.UserID)
	}
	return prev != p.Online
}

// IsOnline reports the last announced state of the user.
func (t *Tracker) IsOnline(userID string) bool {
	return t.online[userID]
}

// Online lists online users sorted by id.
func (t *Tracker) Online() []string {
	users := make([]string, 0, len(t.online))
	for id := range t.online {
		users = append(users, id)
	}
	slices.Sort(users)
	return users
}

// Reset forgets all presence; the server re-announces after reconnecting.
func (t *Tracker) Reset() {
	clear(t.online)
}
