// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api provides the HTTP surface of lure: the JSON API under
// /api/v1, the public tracking endpoints and the system routes.
package api

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuGH/lure/internal/api/middleware"
	"github.com/ManuGH/lure/internal/audit"
	"github.com/ManuGH/lure/internal/auth"
	"github.com/ManuGH/lure/internal/billing"
	"github.com/ManuGH/lure/internal/campaign"
	"github.com/ManuGH/lure/internal/config"
	"github.com/ManuGH/lure/internal/health"
	"github.com/ManuGH/lure/internal/importer"
	"github.com/ManuGH/lure/internal/log"
	"github.com/ManuGH/lure/internal/mailer"
	"github.com/ManuGH/lure/internal/notify"
	"github.com/ManuGH/lure/internal/ratelimit"
	"github.com/ManuGH/lure/internal/reports"
	"github.com/ManuGH/lure/internal/secret"
	"github.com/ManuGH/lure/internal/store"
	"github.com/ManuGH/lure/internal/tracking"
)

// landingCSP lets rendered landing pages use their own inline styles and
// remote images while still forbidding scripts from other origins.
const landingCSP = "default-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data: https:; " +
	"form-action 'self'; frame-ancestors 'none'"

// Deps are the collaborators the server routes requests to.
type Deps struct {
	Config    config.AppConfig
	Store     *store.Store
	Tokens    *auth.Tokens
	Denylist  auth.Denylist
	Campaigns *campaign.Service
	Tracking  *tracking.Service
	Importer  *importer.Importer
	Billing   *billing.Service
	Mailer    *mailer.Queue
	Box       *secret.Box
	Reports   *reports.Service
	Generator *reports.Generator
	Notify    *notify.Service
	Hub       *notify.Hub
	Health    *health.Manager
	Audit     *audit.Logger
	// TrackingLimiter throttles the public tracking endpoints per client IP.
	TrackingLimiter *ratelimit.Limiter
}

// Server holds the HTTP handlers.
type Server struct {
	cfg       config.AppConfig
	store     *store.Store
	tokens    *auth.Tokens
	denylist  auth.Denylist
	campaigns *campaign.Service
	tracking  *tracking.Service
	importer  *importer.Importer
	billing   *billing.Service
	mailer    *mailer.Queue
	box       *secret.Box
	reports   *reports.Service
	generator *reports.Generator
	notify    *notify.Service
	hub       *notify.Hub
	health    *health.Manager
	audit     *audit.Logger
	trackRate atomic.Pointer[ratelimit.Limiter]

	docs      *apiDocs
	limits    atomic.Pointer[limiters]
	startTime time.Time
}

// New validates deps and loads the embedded OpenAPI document.
func New(d Deps) (*Server, error) {
	if d.Store == nil || d.Tokens == nil {
		return nil, errors.New("api: store and tokens are required")
	}
	docs, err := loadDocs()
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:       d.Config,
		store:     d.Store,
		tokens:    d.Tokens,
		denylist:  d.Denylist,
		campaigns: d.Campaigns,
		tracking:  d.Tracking,
		importer:  d.Importer,
		billing:   d.Billing,
		mailer:    d.Mailer,
		box:       d.Box,
		reports:   d.Reports,
		generator: d.Generator,
		notify:    d.Notify,
		hub:       d.Hub,
		health:    d.Health,
		audit:     d.Audit,
		docs:      docs,
		startTime: time.Now(),
	}
	if s.audit == nil {
		s.audit = audit.NewLogger()
	}
	if d.TrackingLimiter != nil {
		s.trackRate.Store(d.TrackingLimiter)
	} else {
		s.trackRate.Store(ratelimit.New(trackingLimiterConfig(d.Config.API.TrackingPerMinute)))
	}
	s.limits.Store(newLimiters(d.Config.API, s.onRateLimited))
	return s, nil
}

func trackingLimiterConfig(perMinute int) ratelimit.Config {
	c := ratelimit.DefaultConfig()
	c.Scope = "tracking"
	if perMinute > 0 {
		c.PerIPRate = ratelimitPerMinute(perMinute)
		c.PerIPBurst = perMinute
	}
	return c
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	middleware.ApplyStack(r, middleware.StackConfig{
		EnableCORS:            len(s.cfg.API.AllowedOrigins) > 0,
		AllowedOrigins:        s.cfg.API.AllowedOrigins,
		EnableSecurityHeaders: s.cfg.API.EnableSecurityHeader,
		CSP:                   landingCSP,
		EnableMetrics:         true,
		TracingService:        tracingService(s.cfg),
		EnableLogging:         true,
	})
	r.Use(chimw.StripSlashes)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) { respondError(w, r, ErrNotFound) })
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) { respondError(w, r, ErrMethodNotAllowed) })

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/t", func(r chi.Router) {
		r.Use(s.trackingThrottle)
		r.Get("/o/{token}", s.handleTrackOpen)
		r.Get("/c/{token}", s.handleTrackClick)
		r.Post("/s/{token}", s.handleTrackSubmit)
		r.Get("/r/{token}", s.handleTrackReport)
		r.Post("/r/{token}", s.handleTrackReport)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/", s.handleAPIInfo)
		r.Get("/health", s.handleHealth)
		r.Get("/swagger.json", s.handleSwaggerJSON)
		r.Get("/swagger.yaml", s.handleSwaggerYAML)
		r.Route("/v1", s.routesV1)
	})
	return r
}

func tracingService(cfg config.AppConfig) string {
	if !cfg.Telemetry.Enabled {
		return ""
	}
	return cfg.LogService
}

func (s *Server) routesV1(r chi.Router) {
	r.Use(s.identify)
	r.Use(s.throttle)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Post("/token", s.handleToken)
		r.Post("/token/refresh", s.handleTokenRefresh)
		r.Post("/token/verify", s.handleTokenVerify)
		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Post("/logout", s.handleLogout)
			r.Put("/change-password", s.handleChangePassword)
		})
	})

	// Public signup and organization registration.
	r.Post("/users", s.handleSignup)
	r.Post("/organizations", s.handleCreateOrganization)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/profile", s.handleGetProfile)
		r.Put("/profile", s.handleUpdateProfile)
		r.Patch("/profile", s.handleUpdateProfile)
		r.Route("/notifications", s.routesNotifications)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.customerOrAdmin)
		r.Get("/users", s.handleListUsers)
		r.Get("/users/{id}", s.handleGetUser)
		r.Put("/users/{id}", s.handleUpdateUser)
		r.Patch("/users/{id}", s.handleUpdateUser)
		r.Delete("/users/{id}", s.handleDeleteUser)
		r.Get("/statistics", s.handleUserStatistics)
		r.Get("/organizations", s.handleListOrganizations)
		r.Get("/organizations/{id}", s.handleGetOrganization)
		r.Put("/organizations/{id}", s.handleUpdateOrganization)
		r.Patch("/organizations/{id}", s.handleUpdateOrganization)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.orgManager)
		r.Route("/targets", s.routesTargets)
		r.Route("/campaign", s.routesCampaigns)
		r.Route("/emails", s.routesEmails)
		r.Route("/reports", s.routesReports)
		r.Route("/billings", s.routesBilling)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.platformAdmin)
		r.Get("/admin/dashboard", s.handleAdminDashboard)
	})
}

// SetRateLimits swaps the API rate limiters. It is safe to call while
// serving and is used on configuration reload.
func (s *Server) SetRateLimits(c config.APIConfig) {
	s.limits.Store(newLimiters(c, s.onRateLimited))
	s.trackRate.Store(ratelimit.New(trackingLimiterConfig(c.TrackingPerMinute)))
	logger := log.WithComponent("api")
	logger.Info().
		Str(log.FieldEvent, "api.ratelimits.applied").
		Bool("enabled", c.RateLimitEnabled).
		Int("anon_per_hour", c.AnonRequestsPerHour).
		Int("user_per_hour", c.UserRequestsPerHour).
		Int("tracking_per_minute", c.TrackingPerMinute).
		Msg("rate limits applied")
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
		return
	}
	s.health.ServeHealth(w, r)
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
		return
	}
	s.health.ServeReady(w, r)
}
