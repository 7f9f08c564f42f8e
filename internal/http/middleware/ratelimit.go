package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// RateLimiter is a token bucket per caller key. Callers are keyed by user
// id when one is known and by client IP otherwise.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64
	burst   int
	idle    time.Duration
	now     func() time.Time
}

type bucket struct {
	tokens float64
	seen   time.Time
}

// NewRateLimiter allows rate requests per second with the given burst.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		burst:   burst,
		idle:    10 * time.Minute,
		now:     time.Now,
	}
}

// Allow spends one token from key's bucket.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(rl.burst), seen: now}
		rl.buckets[key] = b
	}
	b.tokens = min(float64(rl.burst), b.tokens+now.Sub(b.seen).Seconds()*rl.rate)
	b.seen = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Evict drops buckets idle for longer than the idle window and returns how
// many were removed.
func (rl *RateLimiter) Evict() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-rl.idle)
	removed := 0
	for key, b := range rl.buckets {
		if b.seen.Before(cutoff) {
			delete(rl.buckets, key)
			removed++
		}
	}
	return removed
}

// Run evicts idle buckets every interval until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Evict()
		}
	}
}

// Middleware rejects callers over their budget with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(rateKey(r)) {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func rateKey(r *http.Request) string {
	if userID := UserIDFromRequest(r); userID != "" {
		return "user:" + userID
	}
	// chi's RealIP middleware rewrites RemoteAddr upstream.
	return "ip:" + r.RemoteAddr
}
