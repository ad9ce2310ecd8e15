package agentd

import (
	"sync"
	"time"
)

// rateLimiter is a fixed-window counter per client key. State is in memory
// only; a restart resets all windows, which is acceptable for a single-host
// deployment.
type rateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	buckets map[string]*window

	now func() time.Time
}

type window struct {
	start time.Time
	count int
}

func newRateLimiter(limit int, windowSize time.Duration) *rateLimiter {
	return &rateLimiter{
		limit:   limit,
		window:  windowSize,
		buckets: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow records one request for key and reports whether it fits in the
// current window.
func (r *rateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	b, ok := r.buckets[key]
	if !ok || now.Sub(b.start) >= r.window {
		r.buckets[key] = &window{start: now, count: 1}
		return true
	}
	if b.count >= r.limit {
		return false
	}
	b.count++
	return true
}

// sweep drops expired windows so the map does not grow unbounded.
func (r *rateLimiter) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for key, b := range r.buckets {
		if now.Sub(b.start) >= r.window {
			delete(r.buckets, key)
		}
	}
}
