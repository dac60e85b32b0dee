package ingest

import (
	"sync"
	"time"
)

type rateKey struct {
	proto    string
	client   string
	universe int
}

type rateBucket struct {
	window int64 // unix second
	count  int
}

// RateLimiter enforces a fixed per-second budget per
// (protocol, client, universe) key. The window resets on the wall-clock
// second boundary, so no key ever commits more than the budget within one
// second.
type RateLimiter struct {
	limit int

	mu      sync.Mutex
	buckets map[rateKey]*rateBucket

	now func() time.Time
}

// NewRateLimiter builds a limiter with the given per-second budget.
func NewRateLimiter(limitPerSec int) *RateLimiter {
	if limitPerSec <= 0 {
		limitPerSec = 60
	}
	return &RateLimiter{
		limit:   limitPerSec,
		buckets: make(map[rateKey]*rateBucket),
		now:     time.Now,
	}
}

// Allow consumes one slot for the key, or reports the budget exhausted.
func (r *RateLimiter) Allow(proto, client string, universe int) bool {
	key := rateKey{proto: proto, client: client, universe: universe}
	nowSec := r.now().Unix()

	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.buckets[key]
	if !ok {
		b = &rateBucket{window: nowSec}
		r.buckets[key] = b
	}
	if b.window != nowSec {
		b.window = nowSec
		b.count = 0
	}
	if b.count >= r.limit {
		return false
	}
	b.count++
	return true
}
