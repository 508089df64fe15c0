// Package ratelimit implements per-client token bucket rate limiting.
package ratelimit

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pendergraft/wasmproof/internal/middleware/realip"
)

// Config holds the rate limiter settings.
type Config struct {
	Enabled        bool
	RequestsPerMin int
	BurstSize      int
	// CleanupMinutes controls how often idle client entries are evicted.
	CleanupMinutes int
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter tracks a token bucket per client IP.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*clientBucket
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	done    chan struct{}
}

// New builds a Limiter and starts its eviction loop.
func New(cfg Config) *Limiter {
	ttl := time.Duration(cfg.CleanupMinutes) * time.Minute
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	l := &Limiter{
		buckets: make(map[string]*clientBucket),
		limit:   rate.Limit(float64(cfg.RequestsPerMin) / 60.0),
		burst:   cfg.BurstSize,
		idleTTL: ttl,
		done:    make(chan struct{}),
	}
	go l.evictLoop()
	return l
}

// Stop terminates the eviction loop.
func (l *Limiter) Stop() {
	close(l.done)
}

func (l *Limiter) evictLoop() {
	ticker := time.NewTicker(l.idleTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.evictIdle()
		case <-l.done:
			return
		}
	}
}

func (l *Limiter) evictIdle() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := time.Now().Add(-l.idleTTL)
	for ip, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, ip)
		}
	}
}

func (l *Limiter) allow(ip string) bool {
	l.mu.Lock()
	b, ok := l.buckets[ip]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[ip] = b
	}
	b.lastSeen = time.Now()
	l.mu.Unlock()
	return b.limiter.Allow()
}

var exemptPaths = map[string]bool{
	"/health":  true,
	"/healthz": true,
	"/readyz":  true,
}

// Middleware enforces the per-IP limit, answering 429 when exhausted.
func (l *Limiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if exemptPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			if !l.allow(realip.FromRequest(r)) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "60")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]any{
						"code":    "RATE_LIMIT_EXCEEDED",
						"message": "Too many requests. Please try again later.",
					},
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Middleware is a convenience constructor. The limiter's eviction goroutine
// lives for the rest of the process.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler { return next }
	}
	return New(cfg).Middleware()
}
