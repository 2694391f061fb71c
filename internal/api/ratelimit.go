package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/euclidfi/basket-engine/internal/metrics"
)

const visitorIdle = 5 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a token bucket per client address. Run it behind
// chi's RealIP middleware so proxied requests are keyed by the real client.
type RateLimiter struct {
	perMinute float64
	burst     int

	mu       sync.Mutex
	visitors map[string]*visitor
	now      func() time.Time
	swept    time.Time
}

// NewRateLimiter allows requestsPerMinute per client with the given burst.
func NewRateLimiter(requestsPerMinute float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		perMinute: requestsPerMinute,
		burst:     burst,
		visitors:  make(map[string]*visitor),
		now:       time.Now,
	}
}

// Middleware rejects requests over the client's budget with 429.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.limiter(clientID(r)).Allow() {
			metrics.RateLimited.Inc()
			writeError(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) limiter(id string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.swept) > visitorIdle {
		for k, v := range l.visitors {
			if now.Sub(v.lastSeen) > visitorIdle {
				delete(l.visitors, k)
			}
		}
		l.swept = now
	}

	v, ok := l.visitors[id]
	if !ok {
		perSecond := l.perMinute / 60
		if perSecond <= 0 {
			perSecond = 1
		}
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(perSecond), l.burst)}
		l.visitors[id] = v
	}
	v.lastSeen = now
	return v.limiter
}

func clientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
