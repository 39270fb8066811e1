// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/lure/internal/campaign"
	"github.com/ManuGH/lure/internal/model"
	"github.com/ManuGH/lure/internal/store"
	"github.com/ManuGH/lure/internal/validate"
)

func (s *Server) routesCampaigns(r chi.Router) {
	r.Get("/templates", s.handleListTemplates)
	r.Post("/templates", s.handleCreateTemplate)
	r.Get("/templates/{id}", s.handleGetTemplate)
	r.Put("/templates/{id}", s.handleUpdateTemplate)
	r.Patch("/templates/{id}", s.handleUpdateTemplate)
	r.Delete("/templates/{id}", s.handleDeleteTemplate)

	r.Get("/landing-pages", s.handleListLandingPages)
	r.Post("/landing-pages", s.handleCreateLandingPage)
	r.Get("/landing-pages/{id}", s.handleGetLandingPage)
	r.Put("/landing-pages/{id}", s.handleUpdateLandingPage)
	r.Patch("/landing-pages/{id}", s.handleUpdateLandingPage)
	r.Delete("/landing-pages/{id}", s.handleDeleteLandingPage)

	r.Get("/statistics", s.handleCampaignStatistics)
	r.Get("/", s.handleListCampaigns)
	r.Post("/", s.handleCreateCampaign)
	r.Get("/{id}", s.handleGetCampaign)
	r.Put("/{id}", s.handleUpdateCampaign)
	r.Patch("/{id}", s.handleUpdateCampaign)
	r.Delete("/{id}", s.handleDeleteCampaign)
	r.Post("/{id}/action", s.handleCampaignAction)
	r.Get("/{id}/reports", s.handleCampaignReport)
	r.Get("/{id}/targets", s.handleCampaignTargets)
}

func invalidPK(id string) string {
	return fmt.Sprintf("Invalid pk %q - object does not exist.", id)
}

// Email templates

type templateRequest struct {
	Name            *string `json:"name"`
	Subject         *string `json:"subject"`
	SenderName      *string `json:"sender_name"`
	SenderEmail     *string `json:"sender_email"`
	HTMLContent     *string `json:"html_content"`
	TextContent     *string `json:"text_content"`
	TemplateType    *string `json:"template_type"`
	DifficultyLevel *string `json:"difficulty_level"`
	IsDefault       *bool   `json:"is_default"`
}

func (req *templateRequest) apply(t *model.EmailTemplate) {
	setString(&t.Name, req.Name)
	setString(&t.Subject, req.Subject)
	setString(&t.SenderName, req.SenderName)
	setString(&t.SenderEmail, req.SenderEmail)
	setString(&t.HTMLContent, req.HTMLContent)
	setString(&t.TextContent, req.TextContent)
	setString(&t.TemplateType, req.TemplateType)
	setString(&t.DifficultyLevel, req.DifficultyLevel)
	setBool(&t.IsDefault, req.IsDefault)
	t.Name = strings.TrimSpace(t.Name)
	t.SenderEmail = strings.TrimSpace(t.SenderEmail)
}

func validateTemplate(t model.EmailTemplate) error {
	v := validate.New()
	if v.Required("name", t.Name) {
		v.MaxLen("name", t.Name, 255)
	}
	if v.Required("subject", t.Subject) {
		v.MaxLen("subject", t.Subject, 255)
	}
	if v.Required("sender_name", t.SenderName) {
		v.MaxLen("sender_name", t.SenderName, 100)
	}
	if v.Required("sender_email", t.SenderEmail) {
		v.Email("sender_email", t.SenderEmail)
	}
	v.Required("html_content", t.HTMLContent)
	if v.Required("template_type", t.TemplateType) {
		v.OneOf("template_type", t.TemplateType, model.TemplateTypes)
	}
	if v.Required("difficulty_level", t.DifficultyLevel) {
		v.OneOf("difficulty_level", t.DifficultyLevel, model.DifficultyLevels)
	}
	return v.Err()
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	page, err := s.store.ListTemplates(r.Context(), principal(r).OrgID(), listParams(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, page)
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if err := decode(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	p := principal(r)
	t := model.EmailTemplate{OrganizationID: p.OrgID(), CreatedBy: p.UserID()}
	req.apply(&t)
	if err := validateTemplate(t); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if s.billing != nil {
		if err := s.billing.CheckTemplates(r.Context(), p.OrgID()); err != nil {
			writeServiceError(w, r, err)
			return
		}
	}
	if err := s.store.CreateTemplate(r.Context(), &t); err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.respondTemplate(w, r, http.StatusCreated, t.ID)
}

func (s *Server) respondTemplate(w http.ResponseWriter, r *http.Request, code int, id string) {
	t, err := s.store.GetTemplate(r.Context(), principal(r).OrgID(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, code, t)
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	s.respondTemplate(w, r, http.StatusOK, pathID(r))
}

func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	ctx, orgID := r.Context(), principal(r).OrgID()
	t, err := s.store.GetTemplate(ctx, orgID, pathID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	var req templateRequest
	if err := decode(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	req.apply(&t)
	if err := validateTemplate(t); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := s.store.UpdateTemplate(ctx, &t); err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.respondTemplate(w, r, http.StatusOK, t.ID)
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	err := s.store.DeleteTemplate(r.Context(), principal(r).OrgID(), pathID(r))
	if errors.Is(err, store.ErrConflict) {
		respondError(w, r, ErrConflict.withMessage("This template is used by one or more campaigns."))
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Landing pages

type landingPageRequest struct {
	Name                 *string `json:"name"`
	HTMLContent          *string `json:"html_content"`
	CSSContent           *string `json:"css_content"`
	RedirectURL          *string `json:"redirect_url"`
	PageType             *string `json:"page_type"`
	CaptureCredentials   *bool   `json:"capture_credentials"`
	CaptureFormData      *bool   `json:"capture_form_data"`
	ShowAwarenessMessage *bool   `json:"show_awareness_message"`
	AwarenessMessage     *string `json:"awareness_message"`
}

func (req *landingPageRequest) apply(p *model.LandingPage) {
	setString(&p.Name, req.Name)
	setString(&p.HTMLContent, req.HTMLContent)
	setString(&p.CSSContent, req.CSSContent)
	setString(&p.RedirectURL, req.RedirectURL)
	setString(&p.PageType, req.PageType)
	setBool(&p.CaptureCredentials, req.CaptureCredentials)
	setBool(&p.CaptureFormData, req.CaptureFormData)
	setBool(&p.ShowAwarenessMessage, req.ShowAwarenessMessage)
	setString(&p.AwarenessMessage, req.AwarenessMessage)
	p.Name = strings.TrimSpace(p.Name)
	p.RedirectURL = strings.TrimSpace(p.RedirectURL)
}

func validateLandingPage(p model.LandingPage) error {
	v := validate.New()
	if v.Required("name", p.Name) {
		v.MaxLen("name", p.Name, 255)
	}
	v.Required("html_content", p.HTMLContent)
	if p.RedirectURL != "" {
		v.URL("redirect_url", p.RedirectURL, []string{"http", "https"})
	}
	if v.Required("page_type", p.PageType) {
		v.OneOf("page_type", p.PageType, model.PageTypes)
	}
	return v.Err()
}

func (s *Server) handleListLandingPages(w http.ResponseWriter, r *http.Request) {
	page, err := s.store.ListLandingPages(r.Context(), principal(r).OrgID(), listParams(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, page)
}

func (s *Server) handleCreateLandingPage(w http.ResponseWriter, r *http.Request) {
	var req landingPageRequest
	if err := decode(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	pr := principal(r)
	lp := model.LandingPage{
		OrganizationID:       pr.OrgID(),
		CreatedBy:            pr.UserID(),
		CaptureCredentials:   true,
		CaptureFormData:      true,
		ShowAwarenessMessage: true,
	}
	req.apply(&lp)
	if err := validateLandingPage(lp); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if s.billing != nil {
		if err := s.billing.CheckLandingPages(r.Context(), pr.OrgID()); err != nil {
			writeServiceError(w, r, err)
			return
		}
	}
	if err := s.store.CreateLandingPage(r.Context(), &lp); err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.respondLandingPage(w, r, http.StatusCreated, lp.ID)
}

func (s *Server) respondLandingPage(w http.ResponseWriter, r *http.Request, code int, id string) {
	lp, err := s.store.GetLandingPage(r.Context(), principal(r).OrgID(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, code, lp)
}

func (s *Server) handleGetLandingPage(w http.ResponseWriter, r *http.Request) {
	s.respondLandingPage(w, r, http.StatusOK, pathID(r))
}

func (s *Server) handleUpdateLandingPage(w http.ResponseWriter, r *http.Request) {
	ctx, orgID := r.Context(), principal(r).OrgID()
	lp, err := s.store.GetLandingPage(ctx, orgID, pathID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	var req landingPageRequest
	if err := decode(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	req.apply(&lp)
	if err := validateLandingPage(lp); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := s.store.UpdateLandingPage(ctx, &lp); err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.respondLandingPage(w, r, http.StatusOK, lp.ID)
}

func (s *Server) handleDeleteLandingPage(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteLandingPage(r.Context(), principal(r).OrgID(), pathID(r)); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Campaigns

type campaignRequest struct {
	Name                *string    `json:"name"`
	Description         *string    `json:"description"`
	Template            *string    `json:"template"`
	LandingPage         *string    `json:"landing_page"`
	TargetGroupIDs      *[]string  `json:"target_group_ids"`
	IndividualTargetIDs *[]string  `json:"individual_target_ids"`
	ScheduledStart      *time.Time `json:"scheduled_start"`
	SendIntervalMinutes *int       `json:"send_interval_minutes"`
	TrackOpens          *bool      `json:"track_opens"`
	TrackClicks         *bool      `json:"track_clicks"`
	CaptureCredentials  *bool      `json:"capture_credentials"`
	CaptureData         *bool      `json:"capture_data"`
	Status              *string    `json:"status"`
}

// hasContent reports whether the request touches anything besides status.
func (req *campaignRequest) hasContent() bool {
	return req.Name != nil || req.Description != nil || req.Template != nil || req.LandingPage != nil ||
		req.TargetGroupIDs != nil || req.IndividualTargetIDs != nil || req.ScheduledStart != nil ||
		req.SendIntervalMinutes != nil || req.TrackOpens != nil || req.TrackClicks != nil ||
		req.CaptureCredentials != nil || req.CaptureData != nil
}

func (req *campaignRequest) hasLinks() bool {
	return req.TargetGroupIDs != nil || req.IndividualTargetIDs != nil
}

func (req *campaignRequest) apply(c *model.Campaign) {
	setString(&c.Name, req.Name)
	setString(&c.Description, req.Description)
	setString(&c.TemplateID, req.Template)
	setString(&c.LandingPageID, req.LandingPage)
	if req.ScheduledStart != nil {
		t := req.ScheduledStart.UTC()
		c.ScheduledStart = &t
	}
	setInt(&c.SendIntervalMinutes, req.SendIntervalMinutes)
	setBool(&c.TrackOpens, req.TrackOpens)
	setBool(&c.TrackClicks, req.TrackClicks)
	setBool(&c.CaptureCredentials, req.CaptureCredentials)
	setBool(&c.CaptureData, req.CaptureData)
	if req.TargetGroupIDs != nil {
		c.TargetGroupIDs = append([]string{}, *req.TargetGroupIDs...)
	}
	if req.IndividualTargetIDs != nil {
		c.IndividualTargetIDs = append([]string{}, *req.IndividualTargetIDs...)
	}
	c.Name = strings.TrimSpace(c.Name)
}

// validateCampaign checks c and its relations within orgID. checkStart is
// set when the request supplied a new scheduled_start.
func (s *Server) validateCampaign(ctx context.Context, orgID string, c model.Campaign, checkStart bool) error {
	v := validate.New()
	if v.Required("name", c.Name) {
		v.MaxLen("name", c.Name, 255)
	}
	if v.Required("template", c.TemplateID) {
		if _, err := s.store.GetTemplate(ctx, orgID, c.TemplateID); errors.Is(err, store.ErrNotFound) {
			v.AddError("template", invalidPK(c.TemplateID), c.TemplateID)
		} else if err != nil {
			return err
		}
	}
	if c.LandingPageID != "" {
		if _, err := s.store.GetLandingPage(ctx, orgID, c.LandingPageID); errors.Is(err, store.ErrNotFound) {
			v.AddError("landing_page", invalidPK(c.LandingPageID), c.LandingPageID)
		} else if err != nil {
			return err
		}
	}
	if c.SendIntervalMinutes < model.MinSendInterval || c.SendIntervalMinutes > model.MaxSendInterval {
		v.AddError("send_interval_minutes",
			fmt.Sprintf("Ensure this value is between %d and %d.", model.MinSendInterval, model.MaxSendInterval),
			c.SendIntervalMinutes)
	}
	if checkStart && c.ScheduledStart != nil && !c.ScheduledStart.After(s.store.Now()) {
		v.AddError("scheduled_start", "Scheduled start time must be in the future", c.ScheduledStart)
	}

	missing, err := s.store.ForeignIDs(ctx, "target_groups", orgID, c.TargetGroupIDs)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		v.AddError("target_group_ids", invalidIDs("target group", missing), missing)
	}
	if missing, err = s.store.ForeignIDs(ctx, "targets", orgID, c.IndividualTargetIDs); err != nil {
		return err
	}
	if len(missing) > 0 {
		v.AddError("individual_target_ids", invalidIDs("target", missing), missing)
	}
	return v.Err()
}

func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	page, err := s.store.ListCampaigns(r.Context(), principal(r).OrgID(), listParams(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, page)
}

func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req campaignRequest
	if err := decode(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	p := principal(r)
	ctx, orgID := r.Context(), p.OrgID()
	c := model.Campaign{
		OrganizationID:      orgID,
		CreatedBy:           p.UserID(),
		Status:              model.CampaignDraft,
		SendIntervalMinutes: model.DefaultSendInterval,
		TrackOpens:          true,
		TrackClicks:         true,
		CaptureCredentials:  true,
		CaptureData:         true,
	}
	req.apply(&c)
	if err := s.validateCampaign(ctx, orgID, c, true); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if s.billing != nil {
		if err := s.billing.CheckCampaigns(ctx, orgID); err != nil {
			writeServiceError(w, r, err)
			return
		}
	}
	if err := s.store.CreateCampaign(ctx, &c); err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.respondCampaign(w, r, http.StatusCreated, c.ID, "")
}

func (s *Server) respondCampaign(w http.ResponseWriter, r *http.Request, code int, id, msg string) {
	c, err := s.store.GetCampaign(r.Context(), principal(r).OrgID(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if msg != "" {
		respondMessage(w, code, msg, c)
		return
	}
	respond(w, code, c)
}

func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	s.respondCampaign(w, r, http.StatusOK, pathID(r), "")
}

// PUT|PATCH /campaign/{id}. Content edits are applied first, then a status
// change runs through the lifecycle.
func (s *Server) handleUpdateCampaign(w http.ResponseWriter, r *http.Request) {
	ctx, orgID := r.Context(), principal(r).OrgID()
	c, err := s.store.GetCampaign(ctx, orgID, pathID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	var req campaignRequest
	if err := decode(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}

	if req.Status != nil {
		v := validate.New()
		v.OneOf("status", *req.Status, model.CampaignStatuses)
		if *req.Status == model.CampaignCompleted && c.Status != model.CampaignCompleted {
			v.AddError("status", "Campaigns are completed automatically once every email is sent.", *req.Status)
		}
		if err := v.Err(); err != nil {
			writeServiceError(w, r, err)
			return
		}
	}

	content := req.hasContent()
	links := req.hasLinks()
	if content {
		if c.Status != model.CampaignDraft && c.Status != model.CampaignScheduled {
			writeServiceError(w, r, badRequest("Only draft or scheduled campaigns can be modified"))
			return
		}
		if links && c.Status != model.CampaignDraft {
			writeServiceError(w, r, fieldErrors{validate.NonFieldErrors: {"Targets can only be changed while the campaign is a draft."}})
			return
		}
		req.apply(&c)
		if err := s.validateCampaign(ctx, orgID, c, req.ScheduledStart != nil); err != nil {
			writeServiceError(w, r, err)
			return
		}
	}

	msg := ""
	update := func(ctx context.Context) error {
		if content {
			if err := s.store.UpdateCampaign(ctx, &c, links); err != nil {
				return err
			}
			if links {
				if err := s.store.RebuildCampaignTargets(ctx, c.ID); err != nil {
					return err
				}
			}
		}
		if req.Status == nil {
			return nil
		}
		res, err := s.campaigns.SetStatus(ctx, c, *req.Status)
		msg = res.Message
		return err
	}
	if content {
		// a refused status change leaves the content untouched
		err = s.store.InTx(ctx, update)
	} else {
		err = update(ctx)
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.respondCampaign(w, r, http.StatusOK, c.ID, msg)
}

func (s *Server) handleDeleteCampaign(w http.ResponseWriter, r *http.Request) {
	ctx, orgID := r.Context(), principal(r).OrgID()
	c, err := s.store.GetCampaign(ctx, orgID, pathID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if c.Status == model.CampaignRunning {
		writeServiceError(w, r, badRequest("Pause or cancel the campaign before deleting it"))
		return
	}
	if err := s.store.DeleteCampaign(ctx, orgID, c.ID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /campaign/{id}/action
func (s *Server) handleCampaignAction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action string `json:"action"`
	}
	if err := decode(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	a := campaign.Action(strings.ToLower(strings.TrimSpace(req.Action)))
	if !slices.Contains(campaign.UserActions, a) {
		writeServiceError(w, r, badRequest("Invalid action"))
		return
	}
	res, err := s.campaigns.Apply(r.Context(), principal(r).OrgID(), pathID(r), a)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondMessage(w, http.StatusOK, res.Message, res.Campaign)
}

type campaignRates struct {
	OpenRate       float64 `json:"open_rate"`
	ClickRate      float64 `json:"click_rate"`
	SubmissionRate float64 `json:"submission_rate"`
	ReportRate     float64 `json:"report_rate"`
}

type campaignInfo struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	ActualStart *time.Time `json:"actual_start"`
	EndDate     *time.Time `json:"end_date"`
}

// GET /campaign/{id}/reports
func (s *Server) handleCampaignReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := s.store.GetCampaign(ctx, principal(r).OrgID(), pathID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	stats, err := s.store.CampaignEmailCounters(ctx, c.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	breakdown, err := s.store.CampaignStatusBreakdown(ctx, c.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{
		"campaign_info": campaignInfo{
			ID: c.ID, Name: c.Name, Status: c.Status, CreatedAt: c.CreatedAt, ActualStart: c.ActualStart, EndDate: c.EndDate,
		},
		"email_stats":      stats,
		"status_breakdown": breakdown,
		"rates": campaignRates{
			OpenRate:       model.Percent(stats.EmailsOpened, stats.EmailsSent),
			ClickRate:      model.Percent(stats.LinksClicked, stats.EmailsSent),
			SubmissionRate: model.Percent(stats.DataSubmitted, stats.EmailsSent),
			ReportRate:     model.Percent(stats.EmailsReported, stats.EmailsSent),
		},
	})
}

// GET /campaign/{id}/targets
func (s *Server) handleCampaignTargets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := s.store.GetCampaign(ctx, principal(r).OrgID(), pathID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	page, err := s.store.ListCampaignTargets(ctx, c.ID, listParams(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, page)
}

func (s *Server) handleCampaignStatistics(w http.ResponseWriter, r *http.Request) {
	ov, err := s.store.CampaignStatistics(r.Context(), principal(r).OrgID())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, ov)
}
