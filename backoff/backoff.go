// Package backoff provides pluggable pacing strategies for the worker
// poll loop. When a claim round finds no runnable work the pool sleeps
// for Delay(idle) before polling again, where idle counts consecutive
// empty rounds. All strategies are stateless and safe for concurrent use.
package backoff

import (
	"math/rand/v2"
	"time"
)

// Strategy computes how long a worker waits after an empty claim round.
type Strategy interface {
	// Delay returns the wait before the next poll. idle is the number of
	// consecutive rounds that found no work, 1-indexed: idle 1 is the
	// first empty round after work was last seen.
	Delay(idle int) time.Duration
}

// Constant polls at a fixed interval no matter how long the queue has
// been empty.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a fixed-interval strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// Exponential doubles the wait each empty round, up to Max. A queue
// that just drained is re-polled quickly; a queue idle for minutes is
// polled at the ceiling.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial << (idle-1), capped at Max.
func (e *Exponential) Delay(idle int) time.Duration {
	if idle < 1 {
		idle = 1
	}
	// The shift overflows long before idle reaches 63.
	if idle > 63 {
		return e.clamp(1<<62 - 1)
	}
	d := e.Initial << (idle - 1)
	if d < e.Initial {
		d = 1<<62 - 1
	}
	return e.clamp(d)
}

func (e *Exponential) clamp(d time.Duration) time.Duration {
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// ExponentialWithJitter is Exponential with equal jitter: half the
// computed delay is fixed and half is random, so a fleet of workers
// desynchronizes without any of them ever busy-polling near zero.
type ExponentialWithJitter struct {
	Exponential
}

// NewExponentialWithJitter creates a jittered exponential strategy.
func NewExponentialWithJitter(initial, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Exponential{Initial: initial, Max: maxDelay}}
}

// Delay returns a duration in [base/2, base] where base is the
// exponential delay for this round.
func (e *ExponentialWithJitter) Delay(idle int) time.Duration {
	base := e.Exponential.Delay(idle)
	half := base / 2
	return half + time.Duration(rand.Float64()*float64(base-half)) //nolint:gosec // jitter intentionally uses non-crypto rand
}

// Default returns the pacing the worker pool uses when none is
// configured: jittered exponential from 500ms up to 5s.
func Default() Strategy {
	return NewExponentialWithJitter(500*time.Millisecond, 5*time.Second)
}
