// Package ratelimit bounds how fast a single user may submit engine
// requests. Engine searches are expensive; without a cap one client can
// starve every pool.
package ratelimit

import (
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Config defines the limiting thresholds.
type Config struct {
	MaxPerMinute int // sustained frames per minute per user
	Burst        int // short bursts above the limit before hard refusal
}

// Limiter enforces per-user sliding-window limits. Windows are lazily
// created and garbage-collected in the background.
type Limiter struct {
	mu       sync.RWMutex
	windows  map[string]*window
	defaults Config
	log      *slog.Logger
	stop     chan struct{}
	stopOnce sync.Once
}

type window struct {
	count atomic.Int64
	start time.Time
}

func New(cfg Config) *Limiter {
	if cfg.MaxPerMinute == 0 {
		cfg.MaxPerMinute = 60
	}
	if cfg.Burst == 0 {
		cfg.Burst = cfg.MaxPerMinute * 2
	}
	l := &Limiter{
		windows:  make(map[string]*window),
		defaults: cfg,
		log:      slog.With("component", "ratelimit"),
		stop:     make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// Allow reports whether one more request from the user fits the limit.
//
// Fast path increments an existing window under the read lock; the
// count is atomic so concurrent readers never race.
func (l *Limiter) Allow(userID string) bool {
	now := time.Now()

	l.mu.RLock()
	w, ok := l.windows[userID]
	if ok && now.Sub(w.start) <= time.Minute {
		count := w.count.Add(1)
		l.mu.RUnlock()

		if count > int64(l.defaults.Burst) {
			l.log.Warn("rate limit exceeded", "user", userID, "count", count, "burst", l.defaults.Burst)
			return false
		}
		return count <= int64(l.defaults.MaxPerMinute)
	}
	l.mu.RUnlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok = l.windows[userID]
	if ok && now.Sub(w.start) <= time.Minute {
		return w.count.Add(1) <= int64(l.defaults.Burst)
	}
	w = &window{start: now}
	w.count.Store(1)
	l.windows[userID] = w
	return true
}

// Middleware applies the limit to plain HTTP endpoints, keyed by remote
// address.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(r.RemoteAddr) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded","retry_after_seconds":60}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			now := time.Now()
			for key, w := range l.windows {
				if now.Sub(w.start) > 2*time.Minute {
					delete(l.windows, key)
				}
			}
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}

// Close stops the background cleanup goroutine.
func (l *Limiter) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// ActiveWindows reports how many users currently have a live window.
func (l *Limiter) ActiveWindows() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.windows)
}
