package api

import (
	"net"
	"net/http"
	"strconv"
	"sync"

	"golang.org/x/time/rate"

	"kladovka/internal/metrics"
)

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withMiddleware wraps a handler with per-identity rate limiting and
// request metrics.
func (s *HTTPServer) withMiddleware(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(identity(r)) {
			metrics.IncHTTPRequest(name, "429")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		metrics.IncHTTPRequest(name, strconv.Itoa(rec.status))
	}
}

// requireAdmin guards the management surface. An unset admin key locks
// the surface entirely.
func (s *HTTPServer) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.isAdmin(r) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

// requireLockKey guards the lock controller surface.
func (s *HTTPServer) requireLockKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.LockAPIKey == "" || r.Header.Get("X-API-Key") != s.cfg.LockAPIKey {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func (s *HTTPServer) isAdmin(r *http.Request) bool {
	return s.cfg.AdminAPIKey != "" && r.Header.Get("X-API-Key") == s.cfg.AdminAPIKey
}

// identity picks the most specific caller marker for rate limiting.
func identity(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return "key:" + key
	}
	if user := r.Header.Get("X-User-ID"); user != "" {
		return "user:" + user
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// identityLimiter keeps one token bucket per caller.
type identityLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newIdentityLimiter(perMinute, burst int) *identityLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	if burst <= 0 {
		burst = 10
	}
	return &identityLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(float64(perMinute) / 60.0),
		burst:    burst,
	}
}

func (l *identityLimiter) allow(id string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[id]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[id] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
