package api

import (
	"sync"
	"time"
)

// rateLimiter is a per-key sliding window used on the login route. The
// external deployment fronts the API with its own limiter; this one is
// the backstop for credential stuffing when that layer is bypassed.
type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	limit   int
	history map[string][]time.Time
}

func newRateLimiter() *rateLimiter {
	return &rateLimiter{
		window:  time.Minute,
		limit:   10,
		history: make(map[string][]time.Time),
	}
}

// allow records an attempt for the key and reports whether it stays
// under the window limit.
func (r *rateLimiter) allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.window)

	kept := r.history[key][:0]
	for _, t := range r.history[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= r.limit {
		r.history[key] = kept
		return false
	}
	r.history[key] = append(kept, now)
	return true
}
