package server

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/keplerai/kepler/pkg/auth"
	"github.com/keplerai/kepler/pkg/config"
)

// RateLimiter throttles requests per user in fixed one-minute windows.
// In-process only; a multi-instance deployment needs a shared backend
// in front of the service instead.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	windows map[string]*rateWindow
	now     func() time.Time
}

type rateWindow struct {
	count int
	reset time.Time
}

func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	return &RateLimiter{
		limit:   requestsPerMinute,
		windows: make(map[string]*rateWindow),
		now:     time.Now,
	}
}

// Allow records one request for the user and reports whether it fits
// in the current window, along with when the window resets.
func (l *RateLimiter) Allow(userID string) (bool, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	window, ok := l.windows[userID]
	if !ok || now.After(window.reset) {
		l.reap(now)
		window = &rateWindow{reset: now.Add(time.Minute)}
		l.windows[userID] = window
	}

	if window.count >= l.limit {
		return false, window.reset
	}
	window.count++
	return true, window.reset
}

// reap drops expired windows. Called with the lock held, only when a
// fresh window is being created.
func (l *RateLimiter) reap(now time.Time) {
	for user, window := range l.windows {
		if now.After(window.reset) {
			delete(l.windows, user)
		}
	}
}

// RateLimitMiddleware rejects requests over the per-user budget with
// 429 and a Retry-After header. Disabled config yields a pass-through.
func RateLimitMiddleware(cfg config.RateLimitConfig) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler { return next }
	}
	limiter := NewRateLimiter(cfg.RequestsPerMinute)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := auth.UserIDFromContext(r.Context())
			if userID == "" {
				userID = r.RemoteAddr
			}

			allowed, reset := limiter.Allow(userID)
			if !allowed {
				retryAfter := int(time.Until(reset).Seconds()) + 1
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
