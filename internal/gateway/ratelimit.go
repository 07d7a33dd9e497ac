package gateway

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterIdle is how long a key may go unseen before its bucket is dropped.
const limiterIdle = 10 * time.Minute

// RateLimiter admits requests per key (the calling organization) with a token bucket each.
// Buckets idle longer than it takes to refill are forgotten.
type RateLimiter struct {
	limit rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time

	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	lastSweep time.Time
}

type limiterEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewRateLimiter allows rpm requests per minute per key with the given burst.
// rpm <= 0 disables limiting.
func NewRateLimiter(rpm, burst int) *RateLimiter {
	rl := &RateLimiter{burst: burst, idle: limiterIdle, now: time.Now, limiters: make(map[string]*limiterEntry)}
	if rl.burst <= 0 {
		rl.burst = 1
	}
	if rpm > 0 {
		interval := time.Minute / time.Duration(rpm)
		rl.limit = rate.Every(interval)
		if refill := time.Duration(rl.burst) * interval; refill > rl.idle {
			rl.idle = refill
		}
	}
	return rl
}

func (rl *RateLimiter) Enabled() bool { return rl.limit > 0 }

// Allow reports whether key may make a request now.
func (rl *RateLimiter) Allow(key string) bool {
	if !rl.Enabled() {
		return true
	}
	now := rl.now()
	rl.mu.Lock()
	if now.Sub(rl.lastSweep) >= rl.idle {
		rl.sweep(now)
	}
	e, ok := rl.limiters[key]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[key] = e
	}
	e.seen = now
	rl.mu.Unlock()
	return e.lim.AllowN(now, 1)
}

// sweep drops idle buckets. A bucket idle for rl.idle is full again, so a
// fresh one behaves the same. Callers hold rl.mu.
func (rl *RateLimiter) sweep(now time.Time) {
	for k, e := range rl.limiters {
		if now.Sub(e.seen) >= rl.idle {
			delete(rl.limiters, k)
		}
	}
	rl.lastSweep = now
}

// Len is the number of keys being tracked.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}
