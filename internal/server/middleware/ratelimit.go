package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	limiterCleanupInterval = 10 * time.Minute
	limiterStaleAfter      = 30 * time.Minute
)

const tooManyRequestsBody = `{"title":"Too Many Requests","status":429,"detail":"rate limit exceeded"}`

// limiterPool tracks one token bucket per key and drops buckets that have
// not been touched within limiterStaleAfter. ctx bounds the cleanup
// goroutine.
type limiterPool[K comparable] struct {
	mu      sync.Mutex
	entries map[K]*limiterEntry
	rps     rate.Limit
	burst   int
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

func newLimiterPool[K comparable](ctx context.Context, requestsPerSecond float64, burst int) *limiterPool[K] {
	p := &limiterPool[K]{
		entries: make(map[K]*limiterEntry),
		rps:     rate.Limit(requestsPerSecond),
		burst:   burst,
	}
	go p.cleanup(ctx)
	return p
}

func (p *limiterPool[K]) allow(key K) bool {
	p.mu.Lock()
	e, ok := p.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(p.rps, p.burst)}
		p.entries[key] = e
	}
	e.lastAccess = time.Now()
	lim := e.limiter
	p.mu.Unlock()

	return lim.Allow()
}

func (p *limiterPool[K]) cleanup(ctx context.Context) {
	ticker := time.NewTicker(limiterCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-limiterStaleAfter)
			p.mu.Lock()
			for key, e := range p.entries {
				if e.lastAccess.Before(cutoff) {
					delete(p.entries, key)
				}
			}
			p.mu.Unlock()
		case <-ctx.Done():
			return
		}
	}
}

// RateLimit throttles per tenant, so one busy widget deployment cannot
// starve the sessions of every other tenant behind the same server.
// Requests without a tenant in context pass through; RequireTenant is the
// gate for those.
func RateLimit(ctx context.Context, requestsPerSecond float64, burst int) func(http.Handler) http.Handler {
	pool := newLimiterPool[uuid.UUID](ctx, requestsPerSecond, burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID, ok := TenantIDFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			if !pool.allow(tenantID) {
				http.Error(w, tooManyRequestsBody, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitByIP throttles per client address, for surfaces reached before a
// token is verified, like the WebSocket upgrade a widget hits on page load.
// Keyed on r.RemoteAddr as rewritten by chi's RealIP middleware.
func RateLimitByIP(ctx context.Context, requestsPerSecond float64, burst int) func(http.Handler) http.Handler {
	pool := newLimiterPool[string](ctx, requestsPerSecond, burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !pool.allow(r.RemoteAddr) {
				http.Error(w, tooManyRequestsBody, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
