package admin

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// rateLimitEntry tracks request counts for a single client IP.
type rateLimitEntry struct {
	count   int
	resetAt time.Time
}

// rateLimiter throttles remote admin callers per IP over a rolling
// fixed window, keeping scripted credential guessing slow.
type rateLimiter struct {
	mu          sync.Mutex
	entries     map[string]*rateLimitEntry
	maxRequests int
	window      time.Duration
}

func newRateLimiter(maxRequests int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		entries:     make(map[string]*rateLimitEntry),
		maxRequests: maxRequests,
		window:      window,
	}
}

// allow reports whether ip may make another request and, when denied,
// the seconds until its window resets.
func (rl *rateLimiter) allow(ip string) (bool, int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()

	// Expired entries are reaped lazily; admin IP cardinality is tiny.
	for k, e := range rl.entries {
		if now.After(e.resetAt) {
			delete(rl.entries, k)
		}
	}

	entry, ok := rl.entries[ip]
	if !ok || now.After(entry.resetAt) {
		rl.entries[ip] = &rateLimitEntry{count: 1, resetAt: now.Add(rl.window)}
		return true, 0
	}

	if entry.count >= rl.maxRequests {
		retryAfter := int(entry.resetAt.Sub(now).Seconds()) + 1
		if retryAfter < 1 {
			retryAfter = 1
		}
		return false, retryAfter
	}

	entry.count++
	return true, 0
}

// rateLimitMiddleware throttles remote callers. Loopback operators are
// exempt, consistent with the auth bypass.
func (h *Handler) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isLoopback(r) {
			next.ServeHTTP(w, r)
			return
		}

		clientIP, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			clientIP = r.RemoteAddr
		}

		allowed, retryAfter := h.limiter.allow(clientIP)
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			h.respondError(w, http.StatusTooManyRequests, "rate_limited", "too many admin requests, slow down")
			return
		}

		next.ServeHTTP(w, r)
	})
}
