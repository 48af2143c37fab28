package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newClockedLimiter(max int) (*RateLimiter, *time.Time) {
	now := time.Unix(1_700_000_000, 0)
	rl := NewRateLimiter(max)
	rl.now = func() time.Time { return now }
	return rl, &now
}

func TestRateLimiterAllow(t *testing.T) {
	rl, _ := newClockedLimiter(5)

	for i := 0; i < 5; i++ {
		ok, _ := rl.Allow("10.0.0.1")
		assert.True(t, ok, "request %d should be allowed", i+1)
	}

	ok, retryAfter := rl.Allow("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, time.Minute, retryAfter)
}

func TestRateLimiterClientsAreIndependent(t *testing.T) {
	rl, _ := newClockedLimiter(3)

	for i := 0; i < 3; i++ {
		ok1, _ := rl.Allow("a")
		ok2, _ := rl.Allow("b")
		assert.True(t, ok1)
		assert.True(t, ok2)
	}

	ok1, _ := rl.Allow("a")
	ok2, _ := rl.Allow("b")
	assert.False(t, ok1)
	assert.False(t, ok2)
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	rl, now := newClockedLimiter(2)

	ok, _ := rl.Allow("a")
	assert.True(t, ok)
	*now = now.Add(30 * time.Second)
	ok, _ = rl.Allow("a")
	assert.True(t, ok)

	ok, retryAfter := rl.Allow("a")
	assert.False(t, ok)
	assert.Equal(t, 30*time.Second, retryAfter)

	// The first request leaves the window.
	*now = now.Add(30 * time.Second)
	ok, _ = rl.Allow("a")
	assert.True(t, ok)
}

func TestRateLimiterCleanup(t *testing.T) {
	rl, now := newClockedLimiter(2)
	rl.Allow("a")
	*now = now.Add(45 * time.Second)
	rl.Allow("b")

	*now = now.Add(30 * time.Second)
	assert.Equal(t, 1, rl.Cleanup())

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.clients, "a")
	assert.Contains(t, rl.clients, "b")
}
