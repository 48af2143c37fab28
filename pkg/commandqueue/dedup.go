package commandqueue

import (
	"context"
	"sync"
	"time"
)

type dedupEntry struct {
	result    taskResult
	timestamp time.Time
}

// dedupCache replays successful results for resubmitted requests within ttl.
type dedupCache struct {
	entries map[string]*dedupEntry
	ttl     time.Duration
	mu      sync.RWMutex
	cancel  context.CancelFunc
	done    chan struct{}
}

func newDedupCache(ctx context.Context, ttl time.Duration) *dedupCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	ctx, cancel := context.WithCancel(ctx)
	cache := &dedupCache{
		entries: make(map[string]*dedupEntry),
		ttl:     ttl,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go cache.cleanup(ctx)

	return cache
}

func (dc *dedupCache) Stop() {
	dc.cancel()
	<-dc.done
}

func (dc *dedupCache) Get(key string) (taskResult, bool) {
	dc.mu.RLock()
	defer dc.mu.RUnlock()

	entry, exists := dc.entries[key]
	if !exists || time.Since(entry.timestamp) > dc.ttl {
		return taskResult{}, false
	}
	return entry.result, true
}

func (dc *dedupCache) Set(key string, result taskResult) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	dc.entries[key] = &dedupEntry{
		result:    result,
		timestamp: time.Now(),
	}
}

func (dc *dedupCache) cleanup(ctx context.Context) {
	defer close(dc.done)

	interval := dc.ttl
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dc.mu.Lock()
			now := time.Now()
			for key, entry := range dc.entries {
				if now.Sub(entry.timestamp) > dc.ttl {
					delete(dc.entries, key)
				}
			}
			dc.mu.Unlock()
		}
	}
}

func (dc *dedupCache) Size() int {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	return len(dc.entries)
}
