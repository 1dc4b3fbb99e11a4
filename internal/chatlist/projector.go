// Package chatlist folds inbound chat events into the conversation list shown
// to the user: last message, unread counts and a bounded message cache per room.
package chatlist

import (
	"slices"
	"strings"
	"time"

	"github.com/vovakirdan/wirechat-session/internal/chat"
)

// DefaultCacheSize bounds the cached messages per room.
const DefaultCacheSize = 200

// Status is the delivery state of a cached message.
type Status int

const (
	// StatusPending is an optimistic local message not yet echoed by the server.
	StatusPending Status = iota
	// StatusConfirmed is a message the server has assigned an id to.
	StatusConfirmed
	// StatusFailed is a local message that must be retried by the user.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusConfirmed:
		return "confirmed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Entry is one cached message.
type Entry struct {
	ID           string
	ClientTempID string
	RoomID       string
	SenderID     string
	SenderName   string
	Content      string
	Type         string
	SentAt       time.Time
	Status       Status
	ReadBy       []string
}

// Conversation is the projection of one room for the chat list.
type Conversation struct {
	RoomID        string
	Title         string
	Participants  []string
	LastMessage   *Entry
	LastMessageAt time.Time
	UnreadCount   int
}

type room struct {
	conv Conversation
	last *Entry
	// seen holds the ids of cached entries; horizon is the newest SentAt
	// evicted from the cache, older arrivals count as already seen.
	seen    map[string]struct{}
	horizon time.Time
	entries []*Entry
}

// Projector owns the conversation projection. It is not safe for concurrent use.
type Projector struct {
	localUser string
	cacheSize int
	rooms     map[string]*room

	// pending holds optimistic entries by client temp id until the server echo
	// arrives; reconciled records the server id each temp id resolved to.
	pending    map[string]*Entry
	reconciled map[string]string
}

// New creates an empty projector for the given local user.
func New(localUser string, cacheSize int) *Projector {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	return &Projector{
		localUser:  localUser,
		cacheSize:  cacheSize,
		rooms:      make(map[string]*room),
		pending:    make(map[string]*Entry),
		reconciled: make(map[string]string),
	}
}

// SetLocalUser changes whose messages do not count as unread.
func (p *Projector) SetLocalUser(userID string) {
	p.localUser = userID
}

// Apply folds an inbound event. It reports whether the projection changed.
func (p *Projector) Apply(ev chat.Event) bool {
	switch ev.Kind {
	case chat.EventNewMessage:
		if ev.Message != nil {
			return p.applyMessage(*ev.Message)
		}
	case chat.EventMessageRead:
		if ev.Receipt != nil {
			return p.applyReceipt(*ev.Receipt)
		}
	case chat.EventRoomUpdated:
		if ev.Room != nil {
			return p.applyRoom(*ev.Room)
		}
	}
	return false
}

func (p *Projector) applyMessage(m chat.Message) bool {
	if m.RoomID == "" || m.ID == "" {
		return false
	}
	r := p.room(m.RoomID)
	if _, dup := r.seen[m.ID]; dup {
		return false
	}
	if !r.horizon.IsZero() && !m.SentAt.IsZero() && !m.SentAt.After(r.horizon) {
		return false
	}
	r.seen[m.ID] = struct{}{}

	if local, ok := p.pending[m.ClientTempID]; ok && m.ClientTempID != "" {
		delete(p.pending, m.ClientTempID)
		p.reconciled[m.ClientTempID] = m.ID
		local.ID = m.ID
		local.Status = StatusConfirmed
		local.Content = m.Content
		if !m.SentAt.IsZero() {
			local.SentAt = m.SentAt
		}
		if r.last == local {
			r.conv.LastMessageAt = local.SentAt
		}
		return true
	}

	e := &Entry{
		ID:           m.ID,
		ClientTempID: m.ClientTempID,
		RoomID:       m.RoomID,
		SenderID:     m.SenderID,
		SenderName:   m.SenderName,
		Content:      m.Content,
		Type:         m.Type,
		SentAt:       m.SentAt,
		Status:       StatusConfirmed,
	}
	p.push(r, e)
	if m.SenderID != p.localUser {
		r.conv.UnreadCount++
	}
	return true
}

func (p *Projector) applyReceipt(rc chat.Receipt) bool {
	r, ok := p.rooms[rc.RoomID]
	if !ok {
		return false
	}
	if rc.ReaderID == p.localUser {
		if r.conv.UnreadCount == 0 {
			return false
		}
		r.conv.UnreadCount = 0
		return true
	}

	changed := false
	for _, e := range r.entries {
		if e.Status == StatusConfirmed && !slices.Contains(e.ReadBy, rc.ReaderID) {
			e.ReadBy = append(e.ReadBy, rc.ReaderID)
			changed = true
		}
		if rc.MessageID != "" && e.ID == rc.MessageID {
			break
		}
	}
	return changed
}

func (p *Projector) applyRoom(info chat.Room) bool {
	if info.ID == "" {
		return false
	}
	r := p.room(info.ID)
	if info.Title != "" {
		r.conv.Title = info.Title
	}
	if len(info.Participants) > 0 {
		r.conv.Participants = slices.Clone(info.Participants)
	}
	if m := info.LastMessage; m != nil && m.SentAt.After(r.conv.LastMessageAt) {
		if _, seen := r.seen[m.ID]; !seen {
			r.last = &Entry{
				ID:         m.ID,
				RoomID:     info.ID,
				SenderID:   m.SenderID,
				SenderName: m.SenderName,
				Content:    m.Content,
				Type:       m.Type,
				SentAt:     m.SentAt,
				Status:     StatusConfirmed,
			}
			r.conv.LastMessageAt = m.SentAt
		}
	}
	if info.UnreadCount != nil {
		r.conv.UnreadCount = *info.UnreadCount
	}
	return true
}

// AddLocal records an optimistic message sent by the local user.
func (p *Projector) AddLocal(roomID, tempID, content, kind string, at time.Time) Entry {
	r := p.room(roomID)
	e := &Entry{
		ClientTempID: tempID,
		RoomID:       roomID,
		SenderID:     p.localUser,
		Content:      content,
		Type:         kind,
		SentAt:       at,
		Status:       StatusPending,
	}
	p.pending[tempID] = e
	p.push(r, e)
	return *e
}

// MarkRead clears the unread count of a room.
func (p *Projector) MarkRead(roomID string) {
	if r, ok := p.rooms[roomID]; ok {
		r.conv.UnreadCount = 0
	}
}

// Fail marks a pending local message as failed.
func (p *Projector) Fail(tempID string) bool {
	return p.setPendingStatus(tempID, StatusFailed)
}

// Retrying marks a failed local message as pending again.
func (p *Projector) Retrying(tempID string) bool {
	return p.setPendingStatus(tempID, StatusPending)
}

func (p *Projector) setPendingStatus(tempID string, status Status) bool {
	e, ok := p.pending[tempID]
	if !ok {
		return false
	}
	e.Status = status
	return true
}

// FailPending marks every pending local message failed and returns their temp ids.
func (p *Projector) FailPending() []string {
	var ids []string
	for tempID, e := range p.pending {
		if e.Status == StatusPending {
			e.Status = StatusFailed
			ids = append(ids, tempID)
		}
	}
	slices.Sort(ids)
	return ids
}

// Local returns the optimistic entry for a temp id that is not yet confirmed.
func (p *Projector) Local(tempID string) (Entry, bool) {
	e, ok := p.pending[tempID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Reconciled returns the server id a temp id resolved to.
func (p *Projector) Reconciled(tempID string) (string, bool) {
	id, ok := p.reconciled[tempID]
	return id, ok
}

// Unread returns the unread count of a room.
func (p *Projector) Unread(roomID string) int {
	if r, ok := p.rooms[roomID]; ok {
		return r.conv.UnreadCount
	}
	return 0
}

// Snapshot returns conversations ordered by last activity, newest first,
// ties broken by room id.
func (p *Projector) Snapshot() []Conversation {
	out := make([]Conversation, 0, len(p.rooms))
	for _, r := range p.rooms {
		c := r.conv
		c.Participants = slices.Clone(r.conv.Participants)
		if r.last != nil {
			last := *r.last
			last.ReadBy = slices.Clone(r.last.ReadBy)
			c.LastMessage = &last
		}
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b Conversation) int {
		if c := b.LastMessageAt.Compare(a.LastMessageAt); c != 0 {
			return c
		}
		return strings.Compare(a.RoomID, b.RoomID)
	})
	return out
}

// Messages returns cached messages of a room in arrival order.
func (p *Projector) Messages(roomID string) []Entry {
	r, ok := p.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		cp := *e
		cp.ReadBy = slices.Clone(e.ReadBy)
		out = append(out, cp)
	}
	return out
}

// Reset forgets all conversations and reconciliation state.
func (p *Projector) Reset() {
	clear(p.rooms)
	clear(p.pending)
	clear(p.reconciled)
}

func (p *Projector) room(roomID string) *room {
	r, ok := p.rooms[roomID]
	if !ok {
		r = &room{
			conv: Conversation{RoomID: roomID},
			seen: make(map[string]struct{}),
		}
		p.rooms[roomID] = r
	}
	return r
}

func (p *Projector) push(r *room, e *Entry) {
	r.entries = append(r.entries, e)
	if over := len(r.entries) - p.cacheSize; over > 0 {
		for _, old := range r.entries[:over] {
			delete(r.seen, old.ID)
			if old.SentAt.After(r.horizon) {
				r.horizon = old.SentAt
			}
		}
		clear(r.entries[:over])
		r.entries = r.entries[over:]
	}
	if r.last == nil || !e.SentAt.Before(r.conv.LastMessageAt) {
		r.last = e
		r.conv.LastMessageAt = e.SentAt
	}
}
