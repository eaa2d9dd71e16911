package agent

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket. The dispatcher uses one per user and the
// handlers share one in front of the LLM endpoint.
type RateLimiter struct {
	mu       sync.Mutex
	tokens   float64
	max      float64
	rate     float64 // tokens per second
	lastTime time.Time
}

func NewRateLimiter(maxBurst int, ratePerMinute float64) *RateLimiter {
	if maxBurst <= 0 {
		maxBurst = 3
	}
	if ratePerMinute <= 0 {
		ratePerMinute = 6
	}
	return &RateLimiter{
		tokens:   float64(maxBurst),
		max:      float64(maxBurst),
		rate:     ratePerMinute / 60.0,
		lastTime: time.Now(),
	}
}

// refill must be called with mu held.
func (rl *RateLimiter) refill(now time.Time) {
	rl.tokens += now.Sub(rl.lastTime).Seconds() * rl.rate
	if rl.tokens > rl.max {
		rl.tokens = rl.max
	}
	rl.lastTime = now
}

// Allow takes a token if one is available without waiting.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill(time.Now())
	if rl.tokens >= 1.0 {
		rl.tokens -= 1.0
		return true
	}
	return false
}

// Wait blocks until a token is available or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		rl.mu.Lock()
		rl.refill(time.Now())
		if rl.tokens >= 1.0 {
			rl.tokens -= 1.0
			rl.mu.Unlock()
			return nil
		}
		waitSec := (1.0 - rl.tokens) / rl.rate
		rl.mu.Unlock()

		timer := time.NewTimer(time.Duration(waitSec * float64(time.Second)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// full reports whether the bucket has refilled completely.
func (rl *RateLimiter) full(now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill(now)
	return rl.tokens >= rl.max
}

const userLimiterSweep = 1024

// UserLimiter keeps one bucket per user id.
type UserLimiter struct {
	mu      sync.Mutex
	buckets map[int64]*RateLimiter
	burst   int
	rate    float64
}

func NewUserLimiter(maxBurst int, ratePerMinute float64) *UserLimiter {
	return &UserLimiter{
		buckets: make(map[int64]*RateLimiter),
		burst:   maxBurst,
		rate:    ratePerMinute,
	}
}

// Allow reports whether user may trigger now.
func (ul *UserLimiter) Allow(user int64) bool {
	ul.mu.Lock()
	rl, ok := ul.buckets[user]
	if !ok {
		if len(ul.buckets) >= userLimiterSweep {
			ul.sweep()
		}
		rl = NewRateLimiter(ul.burst, ul.rate)
		ul.buckets[user] = rl
	}
	ul.mu.Unlock()
	return rl.Allow()
}

// sweep drops buckets that are full again; they carry no state. Called with
// mu held.
func (ul *UserLimiter) sweep() {
	now := time.Now()
	for id, rl := range ul.buckets {
		if rl.full(now) {
			delete(ul.buckets, id)
		}
	}
}

// Len returns the number of tracked users.
func (ul *UserLimiter) Len() int {
	ul.mu.Lock()
	defer ul.mu.Unlock()
	return len(ul.buckets)
}
