package router

import (
	"sync"
	"time"

	"classhub/pkg/interfaces"
)

// RateLimiter caps inbound envelopes per connection in fixed windows.
// ARCHITECTURAL DISCOVERY: per-connection state with periodic cleanup keeps
// memory bounded as students come and go
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	clock   interfaces.Clock
	clients map[string]*clientLimit
}

type clientLimit struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter allows limit envelopes per window. A limit of zero disables limiting.
func NewRateLimiter(limit int, window time.Duration, clk interfaces.Clock) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  window,
		clock:   clk,
		clients: make(map[string]*clientLimit),
	}
}

// Allow reports whether key may send one more envelope now.
func (rl *RateLimiter) Allow(key string) bool {
	if rl == nil || rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	cl, ok := rl.clients[key]
	if !ok || now.Sub(cl.windowStart) >= rl.window {
		rl.clients[key] = &clientLimit{count: 1, windowStart: now}
		return true
	}
	if cl.count >= rl.limit {
		return false
	}
	cl.count++
	return true
}

// Forget drops the state for key.
func (rl *RateLimiter) Forget(key string) {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	delete(rl.clients, key)
	rl.mu.Unlock()
}

// Cleanup removes entries idle for more than five windows.
func (rl *RateLimiter) Cleanup() int {
	if rl == nil {
		return 0
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	removed := 0
	for key, cl := range rl.clients {
		if now.Sub(cl.windowStart) > 5*rl.window {
			delete(rl.clients, key)
			removed++
		}
	}
	return removed
}
