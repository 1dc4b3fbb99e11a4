// Package backoff computes reconnection delays: exponential growth from a base
// delay up to a cap, with symmetric jitter.
package backoff

import (
	"math/rand/v2"
	"time"
)

// Defaults used when a Config field is zero.
const (
	DefaultBase   = time.Second
	DefaultCap    = 30 * time.Second
	DefaultJitter = 0.2
)

// Config bounds the delays produced by a Backoff.
type Config struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter float64
}

// Backoff produces successive retry delays. It is not safe for concurrent use.
type Backoff struct {
	cfg     Config
	rnd     *rand.Rand
	attempt int
	prev    time.Duration
}

// New builds a Backoff. A nil rnd uses a randomly seeded source.
func New(cfg Config, rnd *rand.Rand) *Backoff {
	if cfg.Base <= 0 {
		cfg.Base = DefaultBase
	}
	if cfg.Cap <= 0 {
		cfg.Cap = DefaultCap
	}
	if cfg.Cap < cfg.Base {
		cfg.Cap = cfg.Base
	}
	if cfg.Jitter < 0 || cfg.Jitter >= 1 {
		cfg.Jitter = DefaultJitter
	}
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Backoff{cfg: cfg, rnd: rnd}
}

// Next returns the delay before the next attempt and advances the sequence.
//
// The nominal delay doubles from Base and saturates at Cap; jitter scales it by
// a factor in [1-Jitter, 1+Jitter]. The result is then kept within
// [prev*(1-Jitter), min(Cap, 2*prev)*(1+Jitter)] so consecutive delays never
// shrink by more than the jitter band or grow faster than the nominal curve.
func (b *Backoff) Next() time.Duration {
	nominal := b.nominal(b.attempt)
	low, high := 1-b.cfg.Jitter, 1+b.cfg.Jitter
	factor := low + b.rnd.Float64()*(high-low)
	delay := time.Duration(float64(nominal) * factor)

	if b.attempt > 0 {
		floor := time.Duration(float64(b.prev) * low)
		ceiling := time.Duration(float64(min(b.cfg.Cap, 2*b.prev)) * high)
		delay = max(floor, min(delay, ceiling))
	}

	b.attempt++
	b.prev = delay
	return delay
}

// Attempt returns how many delays have been handed out since the last Reset.
func (b *Backoff) Attempt() int {
	return b.attempt
}

// Reset restarts the sequence from Base.
func (b *Backoff) Reset() {
	b.attempt = 0
	b.prev = 0
}

func (b *Backoff) nominal(attempt int) time.Duration {
	d := b.cfg.Base
	for range attempt {
		if d >= b.cfg.Cap/2 {
			return b.cfg.Cap
		}
		d *= 2
	}
	return min(d, b.cfg.Cap)
}
