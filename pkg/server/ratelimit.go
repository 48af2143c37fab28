package server

import (
	"sync"
	"time"
)

// RateLimiter caps requests per client with a one-minute sliding window.
type RateLimiter struct {
	clients     map[string][]time.Time
	maxRequests int
	window      time.Duration
	mu          sync.Mutex
	now         func() time.Time
}

// NewRateLimiter allows maxRequestsPerMinute requests per client.
func NewRateLimiter(maxRequestsPerMinute int) *RateLimiter {
	return &RateLimiter{
		clients:     make(map[string][]time.Time),
		maxRequests: maxRequestsPerMinute,
		window:      time.Minute,
		now:         time.Now,
	}
}

// Allow records a request from client and reports whether it is within the
// limit. When it is not, retryAfter is how long until the oldest request
// leaves the window.
func (rl *RateLimiter) Allow(client string) (ok bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	requests := rl.live(rl.clients[client], now)

	if len(requests) >= rl.maxRequests {
		rl.clients[client] = requests
		return false, rl.window - now.Sub(requests[0])
	}

	rl.clients[client] = append(requests, now)
	return true, 0
}

func (rl *RateLimiter) live(requests []time.Time, now time.Time) []time.Time {
	i := 0
	for i < len(requests) && now.Sub(requests[i]) >= rl.window {
		i++
	}
	return requests[i:]
}

// Cleanup forgets clients with no request in the window and returns how
// many were dropped.
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	dropped := 0
	for client, requests := range rl.clients {
		if live := rl.live(requests, now); len(live) == 0 {
			delete(rl.clients, client)
			dropped++
		} else {
			rl.clients[client] = live
		}
	}
	return dropped
}
