package api

import (
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethpandaops/allureboard/pkg/config"
	"golang.org/x/time/rate"
)

const (
	limiterSweepInterval = 5 * time.Minute
	limiterIdleTTL       = 10 * time.Minute
)

// clientLimiter is the token bucket of one client address.
type clientLimiter struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

// loginLimiter throttles login attempts per client address. A client may
// burst up to the per-minute budget, then refills at budget/60 per second.
type loginLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	limit   rate.Limit
	burst   int
	now     func() time.Time
}

func newLoginLimiter(perMinute int, now func() time.Time) *loginLimiter {
	return &loginLimiter{
		clients: make(map[string]*clientLimiter, 64),
		limit:   rate.Limit(float64(perMinute) / 60.0),
		burst:   perMinute,
		now:     now,
	}
}

// allow spends one token of addr. When the bucket is empty it returns the
// time until the next token.
func (l *loginLimiter) allow(addr string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	c, ok := l.clients[addr]
	if !ok {
		c = &clientLimiter{bucket: rate.NewLimiter(l.limit, l.burst)}
		l.clients[addr] = c
	}

	c.lastSeen = now

	r := c.bucket.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)

		return false, delay
	}

	return true, 0
}

// sweep drops idle clients until done is closed.
func (l *loginLimiter) sweep(done <-chan struct{}) {
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.evictIdle(l.now())
		case <-done:
			return
		}
	}
}

func (l *loginLimiter) evictIdle(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for addr, c := range l.clients {
		if now.Sub(c.lastSeen) > limiterIdleTTL {
			delete(l.clients, addr)
		}
	}
}

// rateLimitMiddleware limits requests per client address to the tier's
// budget. Rejected requests get 429 with a Retry-After hint.
func (s *server) rateLimitMiddleware(
	tier config.RateLimitTier,
) func(http.Handler) http.Handler {
	limiter := newLoginLimiter(tier.RequestsPerMinute, s.now)

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		limiter.sweep(s.done)
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addr := extractIP(r, s.proxies)

			if ok, wait := limiter.allow(addr); !ok {
				secs := int(wait.Round(time.Second) / time.Second)
				if secs < 1 {
					secs = 1
				}

				s.log.WithField("client", addr).Warn("Login rate limit exceeded")

				w.Header().Set("Retry-After", strconv.Itoa(secs))
				writeJSON(w, http.StatusTooManyRequests,
					errorResponse{Error: "too many login attempts, try again later"})

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractIP returns the client address. X-Forwarded-For is only read when
// the peer is a trusted proxy; the chain is then walked from the right and
// the first hop that is not itself a trusted proxy wins.
func extractIP(r *http.Request, trusted []netip.Prefix) string {
	remote, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		remote = r.RemoteAddr
	}

	xff := r.Header.Values("X-Forwarded-For")
	if len(xff) == 0 || !isTrusted(remote, trusted) {
		return remote
	}

	hops := strings.Split(strings.Join(xff, ","), ",")

	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}

		if !isTrusted(hop, trusted) {
			return hop
		}
	}

	return remote
}

func isTrusted(addr string, trusted []netip.Prefix) bool {
	if len(trusted) == 0 {
		return false
	}

	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return false
	}

	ip = ip.Unmap()

	for _, prefix := range trusted {
		if prefix.Contains(ip) {
			return true
		}
	}

	return false
}
