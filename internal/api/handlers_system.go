// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	_ "embed"
	"fmt"
	"net/http"
	"time"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/ManuGH/lure/internal/model"
)

//go:embed openapi.yaml
var openapiYAML []byte

// apiDocs is the embedded OpenAPI document in both encodings.
type apiDocs struct {
	yaml []byte
	json []byte
}

// loadDocs parses and validates the embedded document once at startup.
func loadDocs() (*apiDocs, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openapiYAML)
	if err != nil {
		return nil, fmt.Errorf("load openapi document: %w", err)
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("validate openapi document: %w", err)
	}
	js, err := doc.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode openapi document: %w", err)
	}
	return &apiDocs{yaml: openapiYAML, json: js}, nil
}

func (s *Server) version() string {
	if s.cfg.Version != "" {
		return s.cfg.Version
	}
	return "dev"
}

func (s *Server) environment() string {
	if s.cfg.Telemetry.Environment != "" {
		return s.cfg.Telemetry.Environment
	}
	return "development"
}

// GET /api/health
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"timestamp":   time.Now().UTC(),
		"version":     s.version(),
		"environment": s.environment(),
		"uptime":      time.Since(s.startTime).Round(time.Second).String(),
	})
}

// GET /api/
func (s *Server) handleAPIInfo(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, map[string]any{
		"name":        "Lure Phishing Simulation API",
		"version":     s.version(),
		"description": "Organizations, targets, phishing campaigns, tracking, reports, notifications and billing.",
		"documentation": map[string]string{
			"openapi_json": "/api/swagger.json",
			"openapi_yaml": "/api/swagger.yaml",
		},
		"endpoints": map[string]string{
			"auth":          "/api/v1/auth/",
			"users":         "/api/v1/users/",
			"organizations": "/api/v1/organizations/",
			"profile":       "/api/v1/profile/",
			"targets":       "/api/v1/targets/",
			"campaigns":     "/api/v1/campaign/",
			"emails":        "/api/v1/emails/",
			"reports":       "/api/v1/reports/",
			"notifications": "/api/v1/notifications/",
			"billing":       "/api/v1/billings/",
			"admin":         "/api/v1/admin/dashboard/",
			"health":        "/api/health/",
		},
	})
}

func (s *Server) handleSwaggerJSON(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(s.docs.json)
}

func (s *Server) handleSwaggerYAML(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(s.docs.yaml)
}

// dashboard is the platform-wide overview shown to staff admins.
type dashboard struct {
	Organizations         int            `json:"organizations"`
	UsersByRole           map[string]int `json:"users_by_role"`
	CampaignsByStatus     map[string]int `json:"campaigns_by_status"`
	EmailsSentLast30Days  int            `json:"emails_sent_last_30_days"`
	SubscriptionsByStatus map[string]int `json:"subscriptions_by_status"`
	GeneratedAt           time.Time      `json:"generated_at"`
}

func (s *Server) buildDashboard(ctx context.Context) (dashboard, error) {
	now := s.store.Now()
	d := dashboard{GeneratedAt: now}
	var err error
	if d.Organizations, err = s.store.CountOrganizations(ctx); err != nil {
		return d, err
	}
	if d.UsersByRole, err = s.store.UserCountsByRole(ctx); err != nil {
		return d, err
	}
	if d.CampaignsByStatus, err = s.store.CampaignCountsByStatus(ctx); err != nil {
		return d, err
	}
	if d.EmailsSentLast30Days, err = s.store.CountAllEmailsSentSince(ctx, now.AddDate(0, 0, -30)); err != nil {
		return d, err
	}
	if d.SubscriptionsByStatus, err = s.store.SubscriptionCountsByStatus(ctx); err != nil {
		return d, err
	}
	return d, nil
}

// GET /admin/dashboard
func (s *Server) handleAdminDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.buildDashboard(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if d.UsersByRole == nil {
		d.UsersByRole = map[string]int{}
	}
	for _, role := range model.Roles {
		if _, ok := d.UsersByRole[role]; !ok {
			d.UsersByRole[role] = 0
		}
	}
	respond(w, http.StatusOK, d)
}
