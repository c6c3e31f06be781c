package fetch

import (
	"crypto/rand"
	"math/big"
	"sync"
	"time"
)

const maxJitter = 500 * time.Millisecond

// AdaptiveDelay maintains the ambient pacing delay applied before each
// request. The delay decays toward the base on sustained success and grows
// multiplicatively on failure, bounded by [base, max]. A small uniform
// jitter is added to each reading to desynchronize workers hitting the
// same origin.
type AdaptiveDelay struct {
	mu      sync.Mutex
	base    time.Duration
	max     time.Duration
	current time.Duration
}

// NewAdaptiveDelay constructs an AdaptiveDelay starting at base.
func NewAdaptiveDelay(base, max time.Duration) *AdaptiveDelay {
	if base < 0 {
		base = 0
	}
	if max < base {
		max = base
	}
	return &AdaptiveDelay{base: base, max: max, current: base}
}

// Next returns the pacing delay to sleep before the next request: the
// current delay plus jitter in [0, 500ms).
func (d *AdaptiveDelay) Next() time.Duration {
	d.mu.Lock()
	cur := d.current
	d.mu.Unlock()
	return cur + randomJitter(maxJitter)
}

// OnSuccess decays the delay toward the base.
func (d *AdaptiveDelay) OnSuccess() {
	d.mu.Lock()
	defer d.mu.Unlock()
	next := time.Duration(float64(d.current) * 0.9)
	if next < d.base {
		next = d.base
	}
	d.current = next
}

// OnFailure grows the delay, capped at the maximum.
func (d *AdaptiveDelay) OnFailure() {
	d.mu.Lock()
	defer d.mu.Unlock()
	next := time.Duration(float64(d.current) * 1.5)
	if next == 0 {
		next = d.base
	}
	if next > d.max {
		next = d.max
	}
	d.current = next
}

// Current returns the delay without jitter, for observability and tests.
func (d *AdaptiveDelay) Current() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
