package commandqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDedupCache_Shutdown(t *testing.T) {
	cache := newDedupCache(context.Background(), 50*time.Millisecond)
	cache.Stop()

	select {
	case <-cache.done:
		// ok
	case <-time.After(1 * time.Second):
		t.Fatalf("dedup cache cleanup did not stop within timeout")
	}
}

func TestDedupCache_Expiry(t *testing.T) {
	cache := newDedupCache(context.Background(), 20*time.Millisecond)
	defer cache.Stop()

	cache.Set("k", taskResult{value: "v"})
	got, ok := cache.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", got.value)

	assert.Eventually(t, func() bool { return cache.Size() == 0 }, time.Second, 10*time.Millisecond)
	_, ok = cache.Get("k")
	assert.False(t, ok)
}
