package fetch

import (
	"sync"
	"time"

	"github.com/sips-and-steals/crawler/internal/clock"
)

// BreakerState is the circuit breaker lifecycle state.
type BreakerState string

// Breaker states. HalfOpen is entered when the cooldown window elapses
// after the breaker opened; the next Allow call treats it as permission
// for a probe request.
const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// Breaker tracks consecutive failures against one origin and stops
// outbound calls for a cooldown period once a threshold is reached.
//
// Half-open does not limit concurrent probes: once the cooldown elapses,
// every worker that calls Allow gets a probe. This is a known relaxation.
type Breaker struct {
	mu               sync.Mutex
	failureThreshold int
	timeout          time.Duration
	clock            clock.Clock

	failureCount int
	lastFailure  time.Time
	state        BreakerState
}

// NewBreaker constructs a closed Breaker.
func NewBreaker(failureThreshold int, timeout time.Duration, clk clock.Clock) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Breaker{
		failureThreshold: failureThreshold,
		timeout:          timeout,
		clock:            clk,
		state:            BreakerClosed,
	}
}

// Allow reports whether a request may be attempted. While open, it returns
// false until the cooldown since the last failure has elapsed, at which
// point the breaker moves to half-open and the call is allowed as a probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if !b.lastFailure.IsZero() && b.clock.Now().Sub(b.lastFailure) > b.timeout {
			b.state = BreakerHalfOpen
			return true
		}
		return false
	default: // half-open
		return true
	}
}

// OnSuccess resets the failure count and closes the breaker, regardless of
// prior state.
func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount = 0
	b.state = BreakerClosed
}

// OnFailure records a failure and opens the breaker once the threshold is
// reached.
func (b *Breaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount++
	b.lastFailure = b.clock.Now()
	if b.failureCount >= b.failureThreshold {
		b.state = BreakerOpen
	}
}

// State returns the current breaker state for observability.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// FailureCount returns the current consecutive failure count.
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}

// BreakerRegistry owns one Breaker per origin. Breakers are created lazily
// on first use and kept for the process lifetime; the origin set is small
// and fixed by configuration.
type BreakerRegistry struct {
	mu               sync.Mutex
	breakers         map[string]*Breaker
	failureThreshold int
	timeout          time.Duration
	clock            clock.Clock
}

// NewBreakerRegistry constructs an empty registry.
func NewBreakerRegistry(failureThreshold int, timeout time.Duration, clk clock.Clock) *BreakerRegistry {
	return &BreakerRegistry{
		breakers:         make(map[string]*Breaker),
		failureThreshold: failureThreshold,
		timeout:          timeout,
		clock:            clk,
	}
}

// For returns the Breaker for origin, creating it if needed.
func (r *BreakerRegistry) For(origin string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[origin]
	if !ok {
		b = NewBreaker(r.failureThreshold, r.timeout, r.clock)
		r.breakers[origin] = b
	}
	return b
}

// States returns a snapshot of breaker states keyed by origin.
func (r *BreakerRegistry) States() map[string]BreakerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]BreakerState, len(r.breakers))
	for origin, b := range r.breakers {
		out[origin] = b.State()
	}
	return out
}
