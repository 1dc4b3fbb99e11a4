// Package core implements the dev server's chat hub: connections, rooms,
// presence and message fan-out, all driven from one goroutine.
package core

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-session/internal/store"
	"github.com/vovakirdan/wirechat-session/internal/utils"
)

const storeTimeout = 2 * time.Second

// Hub coordinates clients and rooms.
type Hub interface {
	RegisterClient(c *Client)
	UnregisterClient(c *Client)
	Run(ctx context.Context)
}

type envelope struct {
	client *Client
	cmd    *Command
}

type hub struct {
	register   chan *Client
	unregister chan *Client
	commands   chan envelope
	// quit is closed when Run returns.
	quit chan struct{}

	clients map[*Client]struct{}
	rooms   map[string]*Room
	online  map[string]int

	store store.Store
	clock clock.Clock
	log   zerolog.Logger
}

// NewHub creates a hub. A nil store keeps messages in memory only; a nil
// logger disables logging.
func NewHub(st store.Store, logger *zerolog.Logger) Hub {
	return newHub(st, clock.New(), logger)
}

func newHub(st store.Store, c clock.Clock, logger *zerolog.Logger) *hub {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "hub").Logger()
	}
	return &hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		commands:   make(chan envelope, 256),
		quit:       make(chan struct{}),
		clients:    make(map[*Client]struct{}),
		rooms:      make(map[string]*Room),
		online:     make(map[string]int),
		store:      st,
		clock:      c,
		log:        l,
	}
}

// RegisterClient adds a client; it starts receiving presence immediately.
// Once the hub has stopped the client is closed instead.
func (h *hub) RegisterClient(c *Client) {
	select {
	case h.register <- c:
	case <-h.quit:
		close(c.done)
	}
}

// UnregisterClient removes a client from every room.
func (h *hub) UnregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-c.done:
	}
}

// Run processes registrations and commands until ctx is cancelled.
func (h *hub) Run(ctx context.Context) {
	defer close(h.quit)
	for {
		select {
		case c := <-h.register:
			h.handleRegister(c)
		case c := <-h.unregister:
			h.handleUnregister(c)
		case env := <-h.commands:
			if _, ok := h.clients[env.client]; ok {
				h.handleCommand(env.client, env.cmd)
			}
		case <-ctx.Done():
			for c := range h.clients {
				close(c.done)
			}
			return
		}
	}
}

// forward moves a client's commands onto the hub queue, preserving order.
func (h *hub) forward(c *Client) {
	for {
		select {
		case cmd := <-c.Commands:
			select {
			case h.commands <- envelope{client: c, cmd: cmd}:
			case <-c.done:
				return
			case <-h.quit:
				return
			}
		case <-c.done:
			return
		case <-h.quit:
			return
		}
	}
}

func (h *hub) handleRegister(c *Client) {
	h.clients[c] = struct{}{}
	go h.forward(c)

	others := make([]string, 0, len(h.online))
	for userID := range h.online {
		if userID != c.UserID {
			others = append(others, userID)
		}
	}
	slices.Sort(others)
	for _, userID := range others {
		c.send(&Event{Kind: EventUserOnline, User: userID})
	}

	h.online[c.UserID]++
	if h.online[c.UserID] == 1 {
		h.broadcastAll(&Event{Kind: EventUserOnline, User: c.UserID}, c)
	}
	h.log.Debug().Str("client_id", c.ID).Str("user_id", c.UserID).Msg("client registered")
}

func (h *hub) handleUnregister(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	for name := range c.rooms {
		h.removeFromRoom(c, name)
	}
	delete(h.clients, c)
	close(c.done)

	h.online[c.UserID]--
	if h.online[c.UserID] <= 0 {
		delete(h.online, c.UserID)
		h.broadcastAll(&Event{Kind: EventUserOffline, User: c.UserID}, nil)
	}
	h.log.Debug().Str("client_id", c.ID).Str("user_id", c.UserID).Msg("client unregistered")
}

func (h *hub) handleCommand(c *Client, cmd *Command) {
	if cmd == nil || cmd.Chat == "" {
		c.send(&Event{Kind: EventError, Error: coreError(ErrCodeBadRequest, "chatId is required")})
		return
	}
	switch cmd.Kind {
	case CommandJoinChat:
		h.join(c, cmd.Chat)
	case CommandLeaveChat:
		h.leave(c, cmd.Chat)
	case CommandSendMessage:
		h.sendMessage(c, cmd.Chat, cmd.Message)
	case CommandTypingStart, CommandTypingStop:
		h.typing(c, cmd.Chat, cmd.Kind == CommandTypingStart)
	case CommandMarkRead:
		h.markRead(c, cmd.Chat)
	default:
		c.send(&Event{Kind: EventError, Error: coreError(ErrCodeInvalidMessage, "unknown command")})
	}
}

// join is idempotent; every join answers with the chat's current metadata.
func (h *hub) join(c *Client, name string) {
	room, ok := h.rooms[name]
	if !ok {
		room = NewRoom(name)
		h.rooms[name] = room
	}
	room.AddClient(c)
	c.rooms[name] = struct{}{}

	info := &ChatInfo{Title: name, UpdatedAt: h.clock.Now()}
	if h.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if chat, err := h.store.EnsureChat(ctx, name, name); err == nil {
			info.Title = chat.Title
		} else {
			h.log.Error().Err(err).Str("chat", name).Msg("ensure chat")
		}
		if err := h.store.AddMember(ctx, name, c.UserID); err != nil {
			h.log.Error().Err(err).Str("chat", name).Msg("add member")
		}
		if room.last == nil {
			if last, err := h.store.LatestMessage(ctx, name); err == nil {
				room.last = toCoreMessage(last)
			} else if !errors.Is(err, store.ErrNotFound) {
				h.log.Error().Err(err).Str("chat", name).Msg("latest message")
			}
		}
	}
	info.Participants = h.participants(room)
	info.LastMessage = room.last
	c.send(&Event{Kind: EventChatUpdated, Chat: name, Info: info})
}

func (h *hub) leave(c *Client, name string) {
	if _, ok := c.rooms[name]; !ok {
		return
	}
	h.removeFromRoom(c, name)
}

func (h *hub) removeFromRoom(c *Client, name string) {
	delete(c.rooms, name)
	room, ok := h.rooms[name]
	if !ok {
		return
	}
	room.RemoveClient(c)
	if room.Empty() {
		delete(h.rooms, name)
	}
}

func (h *hub) sendMessage(c *Client, name string, msg Message) {
	room, ok := h.joined(c, name, msg.ClientTempID)
	if !ok {
		return
	}

	msg.ID = utils.NewID()
	msg.Chat = name
	msg.SenderID = c.UserID
	msg.SenderName = c.Name
	msg.CreatedAt = h.clock.Now().UTC()
	if msg.Type == "" {
		msg.Type = "text"
	}

	if h.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		err := h.store.SaveMessage(ctx, &store.Message{
			ID:           msg.ID,
			ChatID:       msg.Chat,
			SenderID:     msg.SenderID,
			SenderName:   msg.SenderName,
			Body:         msg.Text,
			Type:         msg.Type,
			ClientTempID: msg.ClientTempID,
			CreatedAt:    msg.CreatedAt,
		})
		cancel()
		if err != nil {
			h.log.Error().Err(err).Str("chat", name).Msg("save message")
			failed := coreError(ErrCodeInternal, "message not stored")
			failed.ClientTempID = msg.ClientTempID
			c.send(&Event{Kind: EventError, Chat: name, Error: failed})
			return
		}
	}

	room.last = &msg
	room.Broadcast(&Event{Kind: EventNewMessage, Chat: name, Message: msg})
	room.Broadcast(&Event{Kind: EventChatUpdated, Chat: name, Info: &ChatInfo{
		Title:        name,
		Participants: h.participants(room),
		LastMessage:  &msg,
		UpdatedAt:    msg.CreatedAt,
	}})
}

func (h *hub) typing(c *Client, name string, isTyping bool) {
	room, ok := h.joined(c, name, "")
	if !ok {
		return
	}
	room.BroadcastExcept(&Event{
		Kind:     EventUserTyping,
		Chat:     name,
		User:     c.UserID,
		UserName: c.Name,
		IsTyping: isTyping,
	}, c)
}

func (h *hub) markRead(c *Client, name string) {
	room, ok := h.joined(c, name, "")
	if !ok {
		return
	}
	ev := &Event{Kind: EventMessageRead, Chat: name, User: c.UserID}
	if room.last != nil {
		ev.MessageID = room.last.ID
	}
	room.Broadcast(ev)
}

// joined returns the room if c is a member, otherwise it reports not_in_room
// against tempID.
func (h *hub) joined(c *Client, name, tempID string) (*Room, bool) {
	room, ok := h.rooms[name]
	if _, member := c.rooms[name]; !ok || !member {
		notMember := coreError(ErrCodeNotInRoom, "join the chat first")
		notMember.ClientTempID = tempID
		c.send(&Event{Kind: EventError, Chat: name, Error: notMember})
		return nil, false
	}
	return room, true
}

// participants lists users currently connected to the room, merged with
// persisted members when a store is configured.
func (h *hub) participants(room *Room) []string {
	seen := make(map[string]struct{})
	for c := range room.clients {
		seen[c.UserID] = struct{}{}
	}
	if h.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if members, err := h.store.ListMembers(ctx, room.Name); err == nil {
			for _, m := range members {
				seen[m] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for userID := range seen {
		out = append(out, userID)
	}
	slices.Sort(out)
	return out
}

func (h *hub) broadcastAll(ev *Event, skip *Client) {
	for c := range h.clients {
		if c != skip {
			c.send(ev)
		}
	}
}

func toCoreMessage(m *store.Message) *Message {
	return &Message{
		ID:           m.ID,
		Chat:         m.ChatID,
		SenderID:     m.SenderID,
		SenderName:   m.SenderName,
		Text:         m.Body,
		Type:         m.Type,
		ClientTempID: m.ClientTempID,
		CreatedAt:    m.CreatedAt,
	}
}
