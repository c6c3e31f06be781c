package fetch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced Clock for deterministic time tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	b := NewBreaker(5, 5*time.Minute, clk)

	require.Equal(t, BreakerClosed, b.State())
	for i := 0; i < 4; i++ {
		b.OnFailure()
		assert.True(t, b.Allow(), "breaker must stay closed below the threshold")
	}
	b.OnFailure()
	assert.Equal(t, BreakerOpen, b.State())
	assert.False(t, b.Allow())
	assert.Equal(t, 5, b.FailureCount())
}

func TestBreakerHalfOpenAfterCooldown(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	b := NewBreaker(2, time.Minute, clk)

	b.OnFailure()
	b.OnFailure()
	require.False(t, b.Allow())

	// Just inside the cooldown window: still blocked.
	clk.Advance(time.Minute)
	require.False(t, b.Allow())

	clk.Advance(time.Second)
	assert.True(t, b.Allow(), "probe must be allowed once the cooldown elapses")
	assert.Equal(t, BreakerHalfOpen, b.State())

	// A second probe while half-open is also allowed.
	assert.True(t, b.Allow())
}

func TestBreakerSuccessClosesAndResets(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	b := NewBreaker(2, time.Minute, clk)

	b.OnFailure()
	b.OnFailure()
	clk.Advance(2 * time.Minute)
	require.True(t, b.Allow())

	b.OnSuccess()
	assert.Equal(t, BreakerClosed, b.State())
	assert.Equal(t, 0, b.FailureCount())
	assert.True(t, b.Allow())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	b := NewBreaker(2, time.Minute, clk)

	b.OnFailure()
	b.OnFailure()
	clk.Advance(2 * time.Minute)
	require.True(t, b.Allow())
	require.Equal(t, BreakerHalfOpen, b.State())

	b.OnFailure()
	assert.Equal(t, BreakerOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreakerRegistryIsPerOrigin(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	reg := NewBreakerRegistry(1, time.Minute, clk)

	a := reg.For("https://a.example.com")
	b := reg.For("https://b.example.com")
	require.NotSame(t, a, b)
	require.Same(t, a, reg.For("https://a.example.com"))

	a.OnFailure()
	assert.Equal(t, BreakerOpen, a.State())
	assert.Equal(t, BreakerClosed, b.State())

	states := reg.States()
	assert.Equal(t, BreakerOpen, states["https://a.example.com"])
	assert.Equal(t, BreakerClosed, states["https://b.example.com"])
}
