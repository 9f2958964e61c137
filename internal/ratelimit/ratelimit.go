// Package ratelimit provides per-partner ingress rate limiting for the
// feed service's ingestion endpoints: one lazily-created token bucket per
// partner id.
package ratelimit

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/orderingest/core/internal/partner"
)

// Limiter lazily creates one token-bucket limiter per partner.
type Limiter struct {
	mu                sync.Mutex
	limiters          map[partner.ID]*rate.Limiter
	requestsPerSecond float64
	burst             int
}

// New builds a Limiter with the given steady-state rate and burst size.
func New(requestsPerSecond float64, burst int) *Limiter {
	return &Limiter{
		limiters:          make(map[partner.ID]*rate.Limiter),
		requestsPerSecond: requestsPerSecond,
		burst:             burst,
	}
}

// Allow reports whether a request for the given partner may proceed.
func (l *Limiter) Allow(id partner.ID) bool {
	return l.limiterFor(id).Allow()
}

func (l *Limiter) limiterFor(id partner.ID) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[id]; ok {
		return lim
	}
	lim := rate.NewLimiter(rate.Limit(l.requestsPerSecond), l.burst)
	l.limiters[id] = lim
	return lim
}

// RequirePartner rejects requests for the given partner with 429 once its
// bucket is exhausted. A nil Limiter makes this a no-op passthrough.
func (l *Limiter) RequirePartner(id partner.ID, next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(id) {
			w.Header().Set("Retry-After", "1")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
