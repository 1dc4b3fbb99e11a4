// Package eventloop runs every state mutation of a session on one goroutine.
package eventloop

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/vovakirdan/wirechat-session/internal/chat"
)

// Timer is a cancellable scheduled callback.
type Timer interface {
	// Stop prevents the callback from running. It returns false if the
	// callback already ran or the timer was already stopped.
	Stop() bool
}

// Scheduler gives components access to time without owning goroutines.
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Loop executes posted functions sequentially until its context ends.
type Loop struct {
	clock clock.Clock
	ops   chan func()
	done  chan struct{}
	once  sync.Once
}

// New creates a loop backed by the given clock. A nil clock uses wall time.
func New(c clock.Clock, buffer int) *Loop {
	if c == nil {
		c = clock.New()
	}
	if buffer <= 0 {
		buffer = 64
	}
	return &Loop{
		clock: c,
		ops:   make(chan func(), buffer),
		done:  make(chan struct{}),
	}
}

// Run processes posted functions until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	defer l.once.Do(func() { close(l.done) })
	for {
		select {
		case op := <-l.ops:
			op()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Post queues f for execution on the loop goroutine. It blocks while the queue
// is full and returns false once the loop has stopped.
func (l *Loop) Post(f func()) bool {
	select {
	case l.ops <- f:
		return true
	case <-l.done:
		return false
	}
}

// Do runs f on the loop goroutine and waits for it to finish.
// It must not be called from the loop goroutine itself.
func (l *Loop) Do(f func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		f()
	}) {
		return chat.ErrSessionClosed
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return chat.ErrSessionClosed
	}
}

// Clock exposes the loop's time source.
func (l *Loop) Clock() clock.Clock {
	return l.clock
}

// Now returns the current time of the loop's clock.
func (l *Loop) Now() time.Time {
	return l.clock.Now()
}

// AfterFunc schedules f on the loop goroutine after d. Stopping the returned
// timer from the loop goroutine guarantees f will not run, even if the
// underlying clock already fired.
func (l *Loop) AfterFunc(d time.Duration, f func()) Timer {
	t := &loopTimer{}
	t.timer = l.clock.AfterFunc(d, func() {
		l.Post(func() {
			if t.stopped {
				return
			}
			t.stopped = true
			f()
		})
	})
	return t
}

// loopTimer's stopped flag is only touched on the loop goroutine.
type loopTimer struct {
	timer   *clock.Timer
	stopped bool
}

func (t *loopTimer) Stop() bool {
	if t.stopped {
		return false
	}
	t.stopped = true
	t.timer.Stop()
	return true
}
