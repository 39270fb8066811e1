// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/lure/internal/model"
	"github.com/ManuGH/lure/internal/validate"
)

func (s *Server) routesNotifications(r chi.Router) {
	r.Get("/", s.handleListNotifications)
	r.Post("/mark-all-read", s.handleMarkAllRead)
	r.Get("/statistics", s.handleNotificationStatistics)
	r.Get("/preferences", s.handleGetPreferences)
	r.Put("/preferences", s.handleUpdatePreferences)
	r.Patch("/preferences", s.handleUpdatePreferences)
	r.Get("/ws", s.handleNotificationSocket)

	r.Group(func(r chi.Router) {
		r.Use(s.orgMember)
		r.Get("/alert-rules", s.handleListAlertRules)
		r.Post("/alert-rules", s.handleCreateAlertRule)
		r.Get("/alert-rules/{id}", s.handleGetAlertRule)
		r.Put("/alert-rules/{id}", s.handleUpdateAlertRule)
		r.Patch("/alert-rules/{id}", s.handleUpdateAlertRule)
		r.Delete("/alert-rules/{id}", s.handleDeleteAlertRule)
	})

	r.Get("/{id}", s.handleGetNotification)
	r.Patch("/{id}", s.handlePatchNotification)
	r.Post("/{id}/read", s.handleReadNotification)
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	page, err := s.store.ListNotifications(r.Context(), principal(r).UserID(), listParams(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, page)
}

func (s *Server) respondNotification(w http.ResponseWriter, r *http.Request, msg string) {
	n, err := s.store.GetNotification(r.Context(), principal(r).UserID(), pathID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if msg != "" {
		respondMessage(w, http.StatusOK, msg, n)
		return
	}
	respond(w, http.StatusOK, n)
}

func (s *Server) handleGetNotification(w http.ResponseWriter, r *http.Request) {
	s.respondNotification(w, r, "")
}

// PATCH /notifications/{id}: only is_read is writable.
func (s *Server) handlePatchNotification(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IsRead *bool `json:"is_read"`
	}
	if err := decode(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if req.IsRead != nil {
		if err := s.store.SetNotificationRead(r.Context(), principal(r).UserID(), pathID(r), *req.IsRead); err != nil {
			writeServiceError(w, r, err)
			return
		}
	}
	s.respondNotification(w, r, "")
}

// POST /notifications/{id}/read
func (s *Server) handleReadNotification(w http.ResponseWriter, r *http.Request) {
	if err := s.store.SetNotificationRead(r.Context(), principal(r).UserID(), pathID(r), true); err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.respondNotification(w, r, "Notification marked as read")
}

// POST /notifications/mark-all-read
func (s *Server) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.MarkAllRead(r.Context(), principal(r).UserID())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondMessage(w, http.StatusOK, fmt.Sprintf("%d notifications marked as read", n), map[string]int{"updated": n})
}

func (s *Server) handleNotificationStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.NotificationStatistics(r.Context(), principal(r).UserID())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, stats)
}

// GET /notifications/ws upgrades to the live notification feed.
func (s *Server) handleNotificationSocket(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		respondError(w, r, ErrNotFound)
		return
	}
	s.hub.Serve(w, r, principal(r).UserID())
}

// Preferences

var clockPattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

type preferenceRequest struct {
	EmailCampaignUpdates *bool   `json:"email_campaign_updates"`
	EmailSecurityAlerts  *bool   `json:"email_security_alerts"`
	EmailReports         *bool   `json:"email_reports"`
	EmailBilling         *bool   `json:"email_billing"`
	AppCampaignUpdates   *bool   `json:"app_campaign_updates"`
	AppSecurityAlerts    *bool   `json:"app_security_alerts"`
	AppSystemAlerts      *bool   `json:"app_system_alerts"`
	DigestFrequency      *string `json:"digest_frequency"`
	QuietHoursStart      *string `json:"quiet_hours_start"`
	QuietHoursEnd        *string `json:"quiet_hours_end"`
	Timezone             *string `json:"timezone"`
}

func (req *preferenceRequest) apply(p *model.NotificationPreference) {
	setBool(&p.EmailCampaignUpdates, req.EmailCampaignUpdates)
	setBool(&p.EmailSecurityAlerts, req.EmailSecurityAlerts)
	setBool(&p.EmailReports, req.EmailReports)
	setBool(&p.EmailBilling, req.EmailBilling)
	setBool(&p.AppCampaignUpdates, req.AppCampaignUpdates)
	setBool(&p.AppSecurityAlerts, req.AppSecurityAlerts)
	setBool(&p.AppSystemAlerts, req.AppSystemAlerts)
	setString(&p.DigestFrequency, req.DigestFrequency)
	setString(&p.QuietHoursStart, req.QuietHoursStart)
	setString(&p.QuietHoursEnd, req.QuietHoursEnd)
	setString(&p.Timezone, req.Timezone)
	p.Timezone = strings.TrimSpace(p.Timezone)
	if p.Timezone == "" {
		p.Timezone = "UTC"
	}
}

func validatePreference(p model.NotificationPreference) error {
	v := validate.New()
	v.OneOf("digest_frequency", p.DigestFrequency, model.DigestFrequencies)
	const clockMsg = "Time has wrong format. Use HH:MM."
	v.Match("quiet_hours_start", p.QuietHoursStart, clockPattern, clockMsg)
	v.Match("quiet_hours_end", p.QuietHoursEnd, clockPattern, clockMsg)
	if (p.QuietHoursStart == "") != (p.QuietHoursEnd == "") {
		v.NonField("Quiet hours need both a start and an end.")
	}
	if _, err := time.LoadLocation(p.Timezone); err != nil {
		v.AddError("timezone", fmt.Sprintf("%q is not a valid timezone.", p.Timezone), p.Timezone)
	}
	return v.Err()
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetOrCreatePreference(r.Context(), principal(r).UserID())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, p)
}

func (s *Server) handleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, err := s.store.GetOrCreatePreference(ctx, principal(r).UserID())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	var req preferenceRequest
	if err := decode(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	req.apply(&p)
	if err := validatePreference(p); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := s.store.SavePreference(ctx, &p); err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, p)
}

// Alert rules

type alertRuleRequest struct {
	Name              *string   `json:"name"`
	TriggerType       *string   `json:"trigger_type"`
	ThresholdValue    *float64  `json:"threshold_value"`
	TimeWindowMinutes *int      `json:"time_window_minutes"`
	IsActive          *bool     `json:"is_active"`
	NotifyUserIDs     *[]string `json:"notify_user_ids"`
}

func (req *alertRuleRequest) apply(a *model.AlertRule) {
	setString(&a.Name, req.Name)
	setString(&a.TriggerType, req.TriggerType)
	if req.ThresholdValue != nil {
		v := *req.ThresholdValue
		a.ThresholdValue = &v
	}
	setInt(&a.TimeWindowMinutes, req.TimeWindowMinutes)
	setBool(&a.IsActive, req.IsActive)
	if req.NotifyUserIDs != nil {
		a.NotifyUsers = append([]string{}, *req.NotifyUserIDs...)
	}
	a.Name = strings.TrimSpace(a.Name)
}

func (s *Server) validateAlertRule(ctx context.Context, orgID string, a model.AlertRule) error {
	v := validate.New()
	if v.Required("name", a.Name) {
		v.MaxLen("name", a.Name, 255)
	}
	if v.Required("trigger_type", a.TriggerType) {
		v.OneOf("trigger_type", a.TriggerType, model.TriggerTypes)
	}
	if a.ThresholdValue != nil {
		if *a.ThresholdValue < 0 {
			v.AddError("threshold_value", "Ensure this value is greater than or equal to 0.", *a.ThresholdValue)
		} else if a.TriggerType == model.TriggerClickRate && *a.ThresholdValue > 100 {
			v.AddError("threshold_value", "Click rate threshold must be between 0 and 100.", *a.ThresholdValue)
		}
	}
	if a.TimeWindowMinutes < 1 {
		v.AddError("time_window_minutes", "Ensure this value is greater than or equal to 1.", a.TimeWindowMinutes)
	}
	missing, err := s.store.ForeignIDs(ctx, "users", orgID, a.NotifyUsers)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		v.AddError("notify_user_ids", invalidIDs("user", missing), missing)
	}
	return v.Err()
}

func (s *Server) handleListAlertRules(w http.ResponseWriter, r *http.Request) {
	page, err := s.store.ListAlertRules(r.Context(), principal(r).OrgID(), listParams(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, page)
}

func (s *Server) handleCreateAlertRule(w http.ResponseWriter, r *http.Request) {
	var req alertRuleRequest
	if err := decode(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	p := principal(r)
	a := model.AlertRule{OrganizationID: p.OrgID(), CreatedBy: p.UserID(), IsActive: true, TimeWindowMinutes: 60}
	req.apply(&a)
	if err := s.validateAlertRule(r.Context(), p.OrgID(), a); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := s.store.CreateAlertRule(r.Context(), &a); err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.respondAlertRule(w, r, http.StatusCreated, a.ID)
}

func (s *Server) respondAlertRule(w http.ResponseWriter, r *http.Request, code int, id string) {
	a, err := s.store.GetAlertRule(r.Context(), principal(r).OrgID(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, code, a)
}

func (s *Server) handleGetAlertRule(w http.ResponseWriter, r *http.Request) {
	s.respondAlertRule(w, r, http.StatusOK, pathID(r))
}

func (s *Server) handleUpdateAlertRule(w http.ResponseWriter, r *http.Request) {
	ctx, orgID := r.Context(), principal(r).OrgID()
	a, err := s.store.GetAlertRule(ctx, orgID, pathID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	var req alertRuleRequest
	if err := decode(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	req.apply(&a)
	if err := s.validateAlertRule(ctx, orgID, a); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := s.store.UpdateAlertRule(ctx, &a); err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.respondAlertRule(w, r, http.StatusOK, a.ID)
}

func (s *Server) handleDeleteAlertRule(w http.ResponseWriter, r *http.Request) {
	err := s.store.DeleteAlertRule(r.Context(), principal(r).OrgID(), pathID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
