// SPDX-License-Identifier: MIT

// Package ratelimit provides token bucket limiting for public endpoints.
package ratelimit

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/ManuGH/lure/internal/metrics"
)

// Config holds rate limiting configuration
type Config struct {
	// Scope labels rejections in metrics.
	Scope string

	// Global limits
	GlobalRate  rate.Limit // requests per second
	GlobalBurst int        // max burst size

	// Per-IP limits
	PerIPRate  rate.Limit
	PerIPBurst int

	// IdleTTL drops per-IP limiters not used for this long.
	IdleTTL time.Duration
}

// DefaultConfig returns the limits used for tracking links.
func DefaultConfig() Config {
	return Config{
		Scope:       "tracking",
		GlobalRate:  200,
		GlobalBurst: 400,
		PerIPRate:   2,
		PerIPBurst:  30,
		IdleTTL:     10 * time.Minute,
	}
}

type ipEntry struct {
	limiter *rate.Limiter
	seen    time.Time
}

// Limiter applies a global and a per-IP token bucket.
type Limiter struct {
	config Config
	now    func() time.Time

	global *rate.Limiter
	perIP  map[string]*ipEntry
	mu     sync.Mutex

	lastCleanup time.Time
}

// New creates a new rate limiter with the given config
func New(config Config) *Limiter {
	if config.IdleTTL <= 0 {
		config.IdleTTL = 10 * time.Minute
	}
	return &Limiter{
		config:      config,
		now:         time.Now,
		global:      rate.NewLimiter(config.GlobalRate, config.GlobalBurst),
		perIP:       make(map[string]*ipEntry),
		lastCleanup: time.Now(),
	}
}

// Allow reports whether a request from clientIP may proceed.
func (l *Limiter) Allow(clientIP string) bool {
	if !l.global.Allow() {
		metrics.IncRateLimitRejection(l.config.Scope + "_global")
		return false
	}
	if !l.ipLimiter(clientIP).Allow() {
		metrics.IncRateLimitRejection(l.config.Scope)
		return false
	}
	l.maybeCleanup()
	return true
}

func (l *Limiter) ipLimiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.perIP[ip]
	if !ok {
		e = &ipEntry{limiter: rate.NewLimiter(l.config.PerIPRate, l.config.PerIPBurst)}
		l.perIP[ip] = e
	}
	e.seen = l.now()
	return e.limiter
}

// maybeCleanup drops idle per-IP limiters once per IdleTTL.
func (l *Limiter) maybeCleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastCleanup) < l.config.IdleTTL {
		return
	}
	for ip, e := range l.perIP {
		if now.Sub(e.seen) >= l.config.IdleTTL {
			delete(l.perIP, ip)
		}
	}
	l.lastCleanup = now
}

// Tracked returns the number of per-IP limiters held.
func (l *Limiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.perIP)
}

// Middleware rejects requests over the limit with 429.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(ClientIP(r)) {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

var trusted atomic.Pointer[[]*net.IPNet]

// TrustProxies sets the proxies whose X-Forwarded-For and X-Real-IP headers
// are honoured. Entries are CIDRs or single addresses.
func TrustProxies(entries []string) error {
	nets := make([]*net.IPNet, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if !strings.Contains(e, "/") {
			if ip := net.ParseIP(e); ip != nil && ip.To4() != nil {
				e += "/32"
			} else {
				e += "/128"
			}
		}
		_, n, err := net.ParseCIDR(e)
		if err != nil {
			return fmt.Errorf("trusted proxy %q: %w", e, err)
		}
		nets = append(nets, n)
	}
	trusted.Store(&nets)
	return nil
}

func remoteIsTrusted(host string) bool {
	nets := trusted.Load()
	if nets == nil || len(*nets) == 0 {
		return false
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, n := range *nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP returns the originating client address. Forwarding headers are
// only read when the peer is a trusted proxy.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if !remoteIsTrusted(host) {
		return host
	}
	// X-Forwarded-For can contain multiple IPs: "client, proxy1, proxy2"
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return host
}
