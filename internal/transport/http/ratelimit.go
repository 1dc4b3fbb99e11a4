package http

import (
	"time"

	"github.com/benbjohnson/clock"
)

// rateLimiter is a fixed one-minute window counter. It is owned by a single
// read loop and is not safe for concurrent use.
type rateLimiter struct {
	clock   clock.Clock
	limit   int
	counter int
	window  time.Time
}

func newRateLimiter(c clock.Clock, limit int) *rateLimiter {
	return &rateLimiter{clock: c, limit: limit, window: c.Now()}
}

func (r *rateLimiter) allow() bool {
	if r == nil || r.limit <= 0 {
		return true
	}
	if now := r.clock.Now(); now.Sub(r.window) >= time.Minute {
		r.window = now
		r.counter = 0
	}
	r.counter++
	return r.counter <= r.limit
}
