package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const authPathPrefix = "/api/auth"

// Limiter decides whether one more request for key fits in a budget of rpm
// requests per minute.
type Limiter interface {
	Allow(ctx context.Context, key string, rpm int) (bool, error)
}

type RateLimitMiddleware struct {
	generalRPM int
	authRPM    int
	limiter    Limiter
}

// NewRateLimitMiddleware limits per client IP. A negative generalRPM disables
// the general budget; auth endpoints are always limited.
func NewRateLimitMiddleware(generalRPM int, authRPM int, limiter Limiter) *RateLimitMiddleware {
	if generalRPM == 0 {
		generalRPM = 100
	}
	if authRPM <= 0 {
		authRPM = 10
	}
	if limiter == nil {
		limiter = NewMemoryLimiter()
	}

	return &RateLimitMiddleware{
		generalRPM: generalRPM,
		authRPM:    authRPM,
		limiter:    limiter,
	}
}

func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		class, rpm := "general", m.generalRPM
		if strings.HasPrefix(strings.ToLower(r.URL.Path), authPathPrefix) {
			class, rpm = "auth", m.authRPM
		}
		if rpm < 0 {
			next.ServeHTTP(w, r)
			return
		}

		key := class + ":" + ClientIP(r)
		allowed, err := m.limiter.Allow(r.Context(), key, rpm)
		if err != nil {
			slog.Warn("rate limiter unavailable; allowing request", "key", key, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int((time.Minute/time.Duration(rpm)).Seconds())+1))
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type memoryEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryLimiter keeps one token bucket per key in process memory.
type MemoryLimiter struct {
	mu      sync.Mutex
	clients map[string]*memoryEntry
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{clients: map[string]*memoryEntry{}}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, rpm int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, exists := l.clients[key]
	if !exists {
		entry = &memoryEntry{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), rpm)}
		l.clients[key] = entry
	}
	entry.lastSeen = time.Now()
	l.gcLocked()

	return entry.limiter.Allow(), nil
}

func (l *MemoryLimiter) gcLocked() {
	if len(l.clients) < 1000 {
		return
	}

	cutoff := time.Now().Add(-10 * time.Minute)
	for key, entry := range l.clients {
		if entry.lastSeen.Before(cutoff) {
			delete(l.clients, key)
		}
	}
}
