package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Makar0n1/art-automation/config"
)

// clientIP extracts the caller's address for rate limiting. When trusted is
// false (no reverse proxy in front of this process), X-Forwarded-For is
// never consulted — a client could otherwise spoof it to dodge the limiter
// entirely. When trusted is true, the first hop of X-Forwarded-For is taken
// as-is, matching a single well-known proxy.
func clientIP(r *http.Request, trusted bool) string {
	if trusted {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			return strings.TrimSpace(strings.SplitN(fwd, ",", 2)[0])
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return strings.TrimPrefix(host, "::ffff:")
}

// ipWindow tracks one IP's request timestamps within the current window.
type ipWindow struct {
	hits []time.Time
}

// rateLimiter is a per-IP sliding-window limiter over Server.RateLimitPerIP
// requests per Server.RateLimitWindow, applied to every /api/* route.
type rateLimiter struct {
	mu      sync.Mutex
	windows map[string]*ipWindow
	limit   int
	window  time.Duration
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{windows: make(map[string]*ipWindow), limit: limit, window: window}
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rl.window)

	w, ok := rl.windows[ip]
	if !ok {
		w = &ipWindow{}
		rl.windows[ip] = w
	}

	start := 0
	for start < len(w.hits) && w.hits[start].Before(cutoff) {
		start++
	}
	w.hits = w.hits[start:]

	if len(w.hits) >= rl.limit {
		return false
	}
	w.hits = append(w.hits, now)
	return true
}

// rateLimitMiddleware rejects with 429 once an IP exceeds cfg's per-IP rate
// limit within the configured window.
func rateLimitMiddleware(cfg config.ServerConfig) echo.MiddlewareFunc {
	rl := newRateLimiter(cfg.RateLimitPerIP, cfg.RateLimitWindow)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := clientIP(c.Request(), cfg.TrustedProxy)
			if !rl.allow(ip) {
				c.Response().Header().Set("Retry-After", "60")
				return fail(c, http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
