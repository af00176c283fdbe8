// Package ratelimit keeps per-client token buckets for the HTTP API.
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Defaults for the sync endpoint.
const (
	DefaultPerMinute = 30
	DefaultPerHour   = 500
)

// idleAfter is how long an unused client entry is kept.
const idleAfter = 2 * time.Hour

type client struct {
	minute   *rate.Limiter
	hour     *rate.Limiter
	lastSeen time.Time
}

// Limiter allows up to perMinute and perHour requests per key. A zero
// limit disables that window.
type Limiter struct {
	perMinute int
	perHour   int
	now       func() time.Time

	mu        sync.Mutex
	clients   map[string]*client
	lastSweep time.Time
}

// New returns a Limiter. Non-positive values disable the window.
func New(perMinute, perHour int) *Limiter {
	return &Limiter{
		perMinute: perMinute,
		perHour:   perHour,
		now:       time.Now,
		clients:   make(map[string]*client),
	}
}

func newBucket(n int, window time.Duration) *rate.Limiter {
	if n <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Every(window/time.Duration(n)), n)
}

// Allow reports whether key may make another request now. A denied request
// consumes nothing.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	c, ok := l.clients[key]
	if !ok {
		c = &client{
			minute: newBucket(l.perMinute, time.Minute),
			hour:   newBucket(l.perHour, time.Hour),
		}
		l.clients[key] = c
	}
	c.lastSeen = now

	m := c.minute.ReserveN(now, 1)
	if !m.OK() || m.DelayFrom(now) > 0 {
		m.CancelAt(now)
		return false
	}
	h := c.hour.ReserveN(now, 1)
	if !h.OK() || h.DelayFrom(now) > 0 {
		h.CancelAt(now)
		m.CancelAt(now)
		return false
	}
	return true
}

// Len is the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

func (l *Limiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < time.Minute {
		return
	}
	l.lastSweep = now
	for k, c := range l.clients {
		if now.Sub(c.lastSeen) > idleAfter {
			delete(l.clients, k)
		}
	}
}

// ClientIP is the first X-Forwarded-For hop when present, else the host
// part of the remote address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
