// Package backoff provides the delay policies used by lock-acquire retry
// loops: fixed, exponential, and exponential with full jitter.
package backoff

import (
	"math/rand"
	"sync"
	"time"
)

// Policy computes the wait before retry number attempt (1-based).
type Policy interface {
	// Delay returns how long to wait after the attempt-th failed try.
	Delay(attempt int) time.Duration
	String() string
}

// Fixed waits a constant base delay between attempts.
type Fixed struct {
	Base time.Duration
}

func (f Fixed) Delay(int) time.Duration { return f.Base }

func (f Fixed) String() string { return "fixed" }

// Exponential doubles the delay each attempt, capped at Cap.
type Exponential struct {
	Base time.Duration
	Cap  time.Duration
}

func (e Exponential) Delay(attempt int) time.Duration {
	return expDelay(e.Base, e.Cap, attempt)
}

func (e Exponential) String() string { return "exponential" }

// Jitter waits a uniformly random duration in [0, exponential delay].
// Spreading retries breaks the lockstep collisions a shared failure
// causes under the plain policies.
type Jitter struct {
	Base time.Duration
	Cap  time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewJitter returns a Jitter policy with its own random source.
func NewJitter(base, cap time.Duration) *Jitter {
	return &Jitter{
		Base: base,
		Cap:  cap,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (j *Jitter) Delay(attempt int) time.Duration {
	max := expDelay(j.Base, j.Cap, attempt)
	if max <= 0 {
		return 0
	}
	j.mu.Lock()
	d := time.Duration(j.rng.Int63n(int64(max) + 1))
	j.mu.Unlock()
	return d
}

func (j *Jitter) String() string { return "exponential+jitter" }

// expDelay is min(base * 2^(attempt-1), cap). Shifts past 62 bits would
// overflow, so large attempts saturate at cap directly.
func expDelay(base, cap time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		return 0
	}
	if attempt > 62 {
		return cap
	}
	d := base << (attempt - 1)
	if d <= 0 || (cap > 0 && d > cap) {
		return cap
	}
	return d
}
