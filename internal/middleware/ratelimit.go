package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/darkden-lab/herald/internal/httputil"
)

const (
	limiterSweepInterval = time.Minute
	limiterIdleTTL       = 3 * time.Minute
)

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

func (l *ipLimiter) touch(now time.Time) {
	l.lastSeen.Store(now.UnixNano())
}

// rateLimiterStore manages per-IP rate limiters and evicts idle ones.
type rateLimiterStore struct {
	limiters sync.Map
	rps      float64
	burst    int
}

func newRateLimiterStore(rps float64, burst int) *rateLimiterStore {
	s := &rateLimiterStore{rps: rps, burst: burst}
	go s.cleanup()
	return s
}

func (s *rateLimiterStore) getLimiter(ip string) *rate.Limiter {
	now := time.Now()

	if v, ok := s.limiters.Load(ip); ok {
		entry := v.(*ipLimiter)
		entry.touch(now)
		return entry.limiter
	}

	entry := &ipLimiter{limiter: rate.NewLimiter(rate.Limit(s.rps), s.burst)}
	entry.touch(now)
	actual, _ := s.limiters.LoadOrStore(ip, entry)
	existing := actual.(*ipLimiter)
	existing.touch(now)
	return existing.limiter
}

func (s *rateLimiterStore) cleanup() {
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()

	for range ticker.C {
		s.sweep(time.Now())
	}
}

func (s *rateLimiterStore) sweep(now time.Time) {
	s.limiters.Range(func(key, value any) bool {
		entry := value.(*ipLimiter)
		if now.Sub(time.Unix(0, entry.lastSeen.Load())) > limiterIdleTTL {
			s.limiters.Delete(key)
		}
		return true
	})
}

// clientIP extracts the client IP address from the request, checking
// X-Forwarded-For first, then falling back to RemoteAddr.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.IndexByte(xff, ','); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func limitWith(store *rateLimiterStore) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !store.getLimiter(clientIP(r)).Allow() {
				httputil.WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitMiddleware enforces a per-IP token bucket. rps is the sustained
// requests-per-second rate and burst is the maximum burst size.
func RateLimitMiddleware(rps float64, burst int) mux.MiddlewareFunc {
	return limitWith(newRateLimiterStore(rps, burst))
}

// StrictRateLimitMiddleware is RateLimitMiddleware with its own limiter store,
// meant for credential endpoints so their budget is independent of the
// general API limit.
func StrictRateLimitMiddleware(rps float64, burst int) mux.MiddlewareFunc {
	return limitWith(newRateLimiterStore(rps, burst))
}
