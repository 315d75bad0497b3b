package admin

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	defaultLimit  = 60
	defaultWindow = time.Minute

	// Expired windows are swept once the map grows past this; a coarse
	// abuse guard does not need a background ticker.
	pruneThreshold = 1024
)

// LimiterConfig configures the fixed-window limiter.
type LimiterConfig struct {
	Limit  int
	Window time.Duration
	Clock  func() time.Time
}

// Limiter is an in-memory fixed-window rate limiter keyed by client IP.
// Per-process and best-effort: it is an abuse guard, not a security boundary.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*requestWindow
	limit   int
	window  time.Duration
	clock   func() time.Time
}

type requestWindow struct {
	start time.Time
	count int
}

// NewLimiter constructs a limiter, defaulting to 60 requests per minute.
func NewLimiter(cfg LimiterConfig) *Limiter {
	limit := cfg.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	window := cfg.Window
	if window <= 0 {
		window = defaultWindow
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Limiter{
		windows: make(map[string]*requestWindow),
		limit:   limit,
		window:  window,
		clock:   clock,
	}
}

// Allow records one request for the key and reports whether it fits in the
// current window.
func (l *Limiter) Allow(key string) bool {
	if key == "" {
		key = "unknown"
	}
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.windows) > pruneThreshold {
		for existing, w := range l.windows {
			if now.Sub(w.start) >= l.window {
				delete(l.windows, existing)
			}
		}
	}

	w, found := l.windows[key]
	if !found || now.Sub(w.start) >= l.window {
		l.windows[key] = &requestWindow{start: now, count: 1}
		return true
	}
	w.count++
	return w.count <= l.limit
}

// ClientIP extracts the caller's address, preferring the first hop of
// X-Forwarded-For behind a proxy.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
