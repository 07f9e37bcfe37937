package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethpandaops/automatoor/pkg/config"
	"golang.org/x/time/rate"
)

const (
	limiterSweepInterval     = 5 * time.Minute
	limiterIdleTTL           = 10 * time.Minute
	defaultRequestsPerMinute = 60
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterPool holds one token bucket per client IP. Idle buckets are
// swept on access.
type limiterPool struct {
	mu        sync.Mutex
	clients   map[string]*clientLimiter
	limit     rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

func newLimiterPool(requestsPerMinute int) *limiterPool {
	if requestsPerMinute <= 0 {
		requestsPerMinute = defaultRequestsPerMinute
	}

	return &limiterPool{
		clients:   make(map[string]*clientLimiter, 64),
		limit:     rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:     requestsPerMinute,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

func (p *limiterPool) allow(ip string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()

	if now.Sub(p.lastSweep) > limiterSweepInterval {
		for key, c := range p.clients {
			if now.Sub(c.lastSeen) > limiterIdleTTL {
				delete(p.clients, key)
			}
		}

		p.lastSweep = now
	}

	c, ok := p.clients[ip]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(p.limit, p.burst)}
		p.clients[ip] = c
	}

	c.lastSeen = now

	return c.limiter.AllowN(now, 1)
}

func (p *limiterPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.clients)
}

// rateLimitMiddleware returns a per-IP token bucket middleware for the
// tier. The bucket holds one minute worth of requests.
func (s *server) rateLimitMiddleware(
	tier config.RateLimitTier,
) func(http.Handler) http.Handler {
	pool := newLimiterPool(tier.RequestsPerMinute)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !pool.allow(extractIP(r)) {
				w.Header().Set("Retry-After", "60")
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractIP returns the client's IP address from the request.
func extractIP(r *http.Request) string {
	// The first X-Forwarded-For hop is the client behind a reverse proxy.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return ip
}
