package relay

import (
	"sync"
	"time"
)

// Default rate limiter parameters.
const (
	DefaultRateLimit  = 5
	DefaultRateWindow = time.Second
)

// RateLimiter admits at most limit events per user in any trailing window.
// Rejected events are not recorded, so a user who stops sending becomes
// eligible again as soon as old entries age out. There is no penalty beyond
// the window itself.
type RateLimiter struct {
	limit  int
	window time.Duration

	mu    sync.Mutex
	times map[string][]time.Time
}

// NewRateLimiter creates a RateLimiter. Non-positive arguments fall back to
// the defaults (5 events per 1 second).
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	return &RateLimiter{
		limit:  limit,
		window: window,
		times:  make(map[string][]time.Time),
	}
}

// Admit purges entries older than the window, then admits the event at now
// if the user is under the limit. The admitted timestamp is recorded.
func (rl *RateLimiter) Admit(userID string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	recent := purge(rl.times[userID], now, rl.window)
	if len(recent) >= rl.limit {
		rl.times[userID] = recent
		return false
	}
	rl.times[userID] = append(recent, now)
	return true
}

// SaturatedCount returns the number of users currently at the limit, as of
// now. Used by the stats command.
func (rl *RateLimiter) SaturatedCount(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	count := 0
	for userID, ts := range rl.times {
		recent := purge(ts, now, rl.window)
		rl.times[userID] = recent
		if len(recent) >= rl.limit {
			count++
		}
	}
	return count
}

// purge drops timestamps that have aged out of the window.
func purge(ts []time.Time, now time.Time, window time.Duration) []time.Time {
	kept := ts[:0]
	for _, t := range ts {
		if now.Sub(t) < window {
			kept = append(kept, t)
		}
	}
	return kept
}
