// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/ManuGH/lure/internal/api/middleware"
	"github.com/ManuGH/lure/internal/config"
	"github.com/ManuGH/lure/internal/metrics"
	"github.com/ManuGH/lure/internal/ratelimit"
)

// limiters holds the per-hour API limits: anonymous callers are keyed by
// client IP, authenticated callers by user id.
type limiters struct {
	enabled bool
	anon    func(http.Handler) http.Handler
	user    func(http.Handler) http.Handler
}

func newLimiters(c config.APIConfig, onLimit func(scope string) http.HandlerFunc) *limiters {
	l := &limiters{enabled: c.RateLimitEnabled}
	if !l.enabled {
		return l
	}
	l.anon = middleware.RateLimit(middleware.RateLimitConfig{
		RequestLimit: max(c.AnonRequestsPerHour, 1),
		WindowSize:   time.Hour,
		KeyFunc:      middleware.KeyByClientIP,
		OnLimit:      onLimit("anon"),
	})
	l.user = middleware.RateLimit(middleware.RateLimitConfig{
		RequestLimit: max(c.UserRequestsPerHour, 1),
		WindowSize:   time.Hour,
		KeyFunc: func(r *http.Request) (string, error) {
			if p := principal(r); p != nil {
				return "user:" + p.UserID(), nil
			}
			return middleware.KeyByClientIP(r)
		},
		OnLimit: onLimit("user"),
	})
	return l
}

func (s *Server) onRateLimited(scope string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := "anonymous"
		if p := principal(r); p != nil {
			actor = p.UserID()
		}
		metrics.IncRateLimitRejection(scope)
		s.audit.RateLimited(r, actor, scope)
		respondError(w, r, ErrRateLimited)
	}
}

// throttle applies the current limiters. It runs after identify.
func (s *Server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := s.limits.Load()
		if l == nil || !l.enabled {
			next.ServeHTTP(w, r)
			return
		}
		if principal(r) != nil {
			l.user(next).ServeHTTP(w, r)
			return
		}
		l.anon(next).ServeHTTP(w, r)
	})
}

// trackingThrottle limits the public tracking endpoints per client IP.
func (s *Server) trackingThrottle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.trackRate.Load().Allow(ratelimit.ClientIP(r)) {
			w.Header().Set("Retry-After", "1")
			respondError(w, r, ErrRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func ratelimitPerMinute(n int) rate.Limit {
	return rate.Limit(float64(n) / 60)
}
