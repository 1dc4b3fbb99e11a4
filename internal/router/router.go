// Package router demultiplexes inbound server frames into typed listeners and
// serializes outbound intents, queueing them while the connection is down.
package router

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-session/internal/chat"
	"github.com/vovakirdan/wirechat-session/internal/proto"
)

// DefaultQueueSize bounds the outbound queue.
const DefaultQueueSize = 50

// Sender writes frames to the live connection.
type Sender interface {
	Send(frame proto.ClientFrame) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(frame proto.ClientFrame) error

// Send calls f(frame).
func (f SenderFunc) Send(frame proto.ClientFrame) error {
	return f(frame)
}

// Listener receives dispatched events.
type Listener func(chat.Event)

// Outcome reports what Route did with an intent.
type Outcome int

const (
	// Sent means the frame was handed to the connection writer.
	Sent Outcome = iota
	// Queued means the intent waits for the next Flush.
	Queued
	// Dropped means the intent was discarded.
	Dropped
)

type subscription struct {
	id   int
	kind chat.EventKind
	all  bool
	fn   Listener
}

// Router is owned by a session's event loop and is not safe for concurrent use.
type Router struct {
	sender   Sender
	subs     []subscription
	nextID   int
	queue    []chat.Intent
	maxQueue int
	onDrop   func(chat.Intent)
	log      zerolog.Logger
}

// New creates a router writing to sender.
func New(sender Sender, maxQueue int, logger *zerolog.Logger) *Router {
	if maxQueue <= 0 {
		maxQueue = DefaultQueueSize
	}
	return &Router{
		sender:   sender,
		maxQueue: maxQueue,
		log:      logger.With().Str("component", "router").Logger(),
	}
}

// OnDrop registers the callback invoked when a queued intent is evicted.
func (r *Router) OnDrop(fn func(chat.Intent)) {
	r.onDrop = fn
}

// Subscribe registers fn for one event kind and returns its unsubscribe func.
func (r *Router) Subscribe(kind chat.EventKind, fn Listener) func() {
	return r.add(subscription{kind: kind, fn: fn})
}

// SubscribeAll registers fn for every event kind.
func (r *Router) SubscribeAll(fn Listener) func() {
	return r.add(subscription{all: true, fn: fn})
}

func (r *Router) add(sub subscription) func() {
	r.nextID++
	sub.id = r.nextID
	r.subs = append(r.subs, sub)
	id := sub.id
	return func() {
		for i, s := range r.subs {
			if s.id == id {
				r.subs = append(r.subs[:i:i], r.subs[i+1:]...)
				return
			}
		}
	}
}

// HandleFrame decodes and dispatches one inbound frame. Frames that cannot be
// decoded are logged and dropped; the connection is unaffected.
func (r *Router) HandleFrame(data []byte) (chat.Event, bool) {
	if e := r.log.Trace(); e.Enabled() {
		e.RawJSON("frame", data).Msg("inbound")
	}
	ev, err := Decode(data)
	if err != nil {
		if errors.Is(err, ErrUnknownEvent) {
			r.log.Warn().Err(err).Msg("ignoring unknown event")
		} else {
			r.log.Warn().Err(err).Int("bytes", len(data)).Msg("dropping malformed frame")
		}
		return chat.Event{}, false
	}
	r.Dispatch(ev)
	return ev, true
}

// Dispatch delivers ev to every matching listener in registration order.
// A panicking listener does not prevent delivery to the others.
func (r *Router) Dispatch(ev chat.Event) {
	subs := append([]subscription(nil), r.subs...)
	for _, s := range subs {
		if s.all || s.kind == ev.Kind {
			r.deliver(s, ev)
		}
	}
}

func (r *Router) deliver(s subscription, ev chat.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().Interface("panic", rec).Int("listener", s.id).Stringer("event", ev.Kind).Msg("listener failed")
		}
	}()
	s.fn(ev)
}

// Route encodes intent and sends it. When the connection is unavailable,
// typing signals are dropped and reported; everything else is queued. While
// the queue holds a backlog, new intents other than typing signals line up
// behind it so sends reach the wire in call order.
func (r *Router) Route(intent chat.Intent) (Outcome, error) {
	frame, err := Encode(intent)
	if err != nil {
		return Dropped, err
	}
	if len(r.queue) > 0 && !intent.IsTyping() {
		r.enqueue(intent)
		return Queued, nil
	}

	err = r.sender.Send(frame)
	if err == nil {
		return Sent, nil
	}
	if !errors.Is(err, chat.ErrNotConnected) && !errors.Is(err, chat.ErrSendBufferFull) {
		return Dropped, err
	}
	if intent.IsTyping() {
		r.log.Debug().Stringer("intent", intent.Kind).Str("room", intent.RoomID).Msg("typing signal dropped")
		return Dropped, err
	}

	r.enqueue(intent)
	return Queued, nil
}

func (r *Router) enqueue(intent chat.Intent) {
	if len(r.queue) >= r.maxQueue {
		evicted := r.queue[0]
		r.queue = append(r.queue[:0], r.queue[1:]...)
		r.log.Warn().Stringer("intent", evicted.Kind).Str("room", evicted.RoomID).
			Int("max", r.maxQueue).Msg("outbound queue full, dropping oldest")
		if r.onDrop != nil {
			r.onDrop(evicted)
		}
	}
	r.queue = append(r.queue, intent)
}

// Flush sends queued intents in FIFO order after a reconnect and returns the
// ones written. Queued membership intents are discarded: the membership replay
// that precedes a flush has already re-announced the desired room set.
// Flushing stops at the first send failure, keeping the rest queued.
func (r *Router) Flush() []chat.Intent {
	kept := r.queue[:0]
	for _, intent := range r.queue {
		if !intent.IsMembership() {
			kept = append(kept, intent)
		}
	}
	r.queue = kept
	return r.Drain()
}

// Drain sends queued intents in FIFO order on a live connection, membership
// changes included, and returns the ones written. It stops at the first send
// failure.
func (r *Router) Drain() []chat.Intent {
	var sent []chat.Intent
	for len(r.queue) > 0 {
		intent := r.queue[0]
		frame, err := Encode(intent)
		if err != nil {
			r.queue = r.queue[1:]
			continue
		}
		if err := r.sender.Send(frame); err != nil {
			r.log.Debug().Err(err).Int("remaining", len(r.queue)).Msg("flush interrupted")
			break
		}
		r.queue = r.queue[1:]
		sent = append(sent, intent)
	}
	if len(r.queue) == 0 {
		r.queue = nil
	}
	return sent
}

// Queued returns a copy of the outbound queue.
func (r *Router) Queued() []chat.Intent {
	return append([]chat.Intent(nil), r.queue...)
}

// Reset empties the outbound queue. Listeners stay registered.
func (r *Router) Reset() {
	r.queue = nil
}
