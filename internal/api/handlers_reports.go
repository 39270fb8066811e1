// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/lure/internal/model"
	"github.com/ManuGH/lure/internal/validate"
)

func (s *Server) routesReports(r chi.Router) {
	r.Get("/campaigns", s.handleListCampaignReports)
	r.Get("/campaigns/{id}", s.handleGetCampaignReport)
	r.Get("/departments", s.handleListDepartmentReports)
	r.Get("/statistics", s.handleReportStatistics)

	r.Get("/scheduled", s.handleListScheduledReports)
	r.Post("/scheduled", s.handleCreateScheduledReport)
	r.Get("/scheduled/{id}", s.handleGetScheduledReport)
	r.Put("/scheduled/{id}", s.handleUpdateScheduledReport)
	r.Patch("/scheduled/{id}", s.handleUpdateScheduledReport)
	r.Delete("/scheduled/{id}", s.handleDeleteScheduledReport)
	r.Post("/scheduled/{id}/run", s.handleRunScheduledReport)
}

func (s *Server) handleListCampaignReports(w http.ResponseWriter, r *http.Request) {
	page, err := s.store.ListCampaignReports(r.Context(), principal(r).OrgID(), listParams(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, page)
}

func (s *Server) handleGetCampaignReport(w http.ResponseWriter, r *http.Request) {
	cr, err := s.store.GetCampaignReport(r.Context(), principal(r).OrgID(), pathID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, cr)
}

func (s *Server) handleListDepartmentReports(w http.ResponseWriter, r *http.Request) {
	page, err := s.store.ListDepartmentReports(r.Context(), principal(r).OrgID(), listParams(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, page)
}

func (s *Server) handleReportStatistics(w http.ResponseWriter, r *http.Request) {
	orgID := principal(r).OrgID()
	var (
		stats any
		err   error
	)
	if s.reports != nil {
		stats, err = s.reports.Statistics(r.Context(), orgID)
	} else {
		stats, err = s.store.ReportStatistics(r.Context(), orgID)
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, stats)
}

// Scheduled reports

type scheduledReportRequest struct {
	Name        *string    `json:"name"`
	ReportType  *string    `json:"report_type"`
	Frequency   *string    `json:"frequency"`
	Recipients  *[]string  `json:"recipients"`
	CampaignIDs *[]string  `json:"campaign_ids"`
	NextRun     *time.Time `json:"next_run"`
	IsActive    *bool      `json:"is_active"`
}

func (req *scheduledReportRequest) apply(sr *model.ScheduledReport) {
	setString(&sr.Name, req.Name)
	setString(&sr.ReportType, req.ReportType)
	setString(&sr.Frequency, req.Frequency)
	setBool(&sr.IsActive, req.IsActive)
	if req.Recipients != nil {
		sr.Recipients = sr.Recipients[:0:0]
		for _, addr := range *req.Recipients {
			sr.Recipients = append(sr.Recipients, strings.ToLower(strings.TrimSpace(addr)))
		}
	}
	if req.CampaignIDs != nil {
		sr.IncludeCampaigns = append([]string{}, *req.CampaignIDs...)
	}
	if req.NextRun != nil {
		sr.NextRun = req.NextRun.UTC()
	}
	sr.Name = strings.TrimSpace(sr.Name)
}

func (s *Server) validateScheduledReport(ctx context.Context, orgID string, sr model.ScheduledReport) error {
	v := validate.New()
	if v.Required("name", sr.Name) {
		v.MaxLen("name", sr.Name, 255)
	}
	if v.Required("report_type", sr.ReportType) {
		v.OneOf("report_type", sr.ReportType, model.ReportTypes)
	}
	if v.Required("frequency", sr.Frequency) {
		v.OneOf("frequency", sr.Frequency, model.ReportFrequencies)
	}
	if len(sr.Recipients) == 0 {
		v.AddError("recipients", "At least one recipient is required.", nil)
	}
	for _, addr := range sr.Recipients {
		if !validate.IsEmail(addr) {
			v.AddError("recipients", "Invalid email address: "+addr, addr)
		}
	}
	missing, err := s.store.ForeignIDs(ctx, "campaigns", orgID, sr.IncludeCampaigns)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		v.AddError("campaign_ids", invalidIDs("campaign", missing), missing)
	}
	return v.Err()
}

func (s *Server) handleListScheduledReports(w http.ResponseWriter, r *http.Request) {
	page, err := s.store.ListScheduledReports(r.Context(), principal(r).OrgID(), listParams(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, page)
}

func (s *Server) handleCreateScheduledReport(w http.ResponseWriter, r *http.Request) {
	var req scheduledReportRequest
	if err := decode(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	p := principal(r)
	sr := model.ScheduledReport{OrganizationID: p.OrgID(), CreatedBy: p.UserID(), IsActive: true}
	req.apply(&sr)
	if err := s.validateScheduledReport(r.Context(), p.OrgID(), sr); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if req.NextRun == nil {
		now := s.store.Now()
		sr.NextRun = model.NextRunAfter(sr.Frequency, now, now)
	}
	if err := s.store.CreateScheduledReport(r.Context(), &sr); err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.respondScheduledReport(w, r, http.StatusCreated, sr.ID)
}

func (s *Server) respondScheduledReport(w http.ResponseWriter, r *http.Request, code int, id string) {
	sr, err := s.store.GetScheduledReport(r.Context(), principal(r).OrgID(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, code, sr)
}

func (s *Server) handleGetScheduledReport(w http.ResponseWriter, r *http.Request) {
	s.respondScheduledReport(w, r, http.StatusOK, pathID(r))
}

func (s *Server) handleUpdateScheduledReport(w http.ResponseWriter, r *http.Request) {
	ctx, orgID := r.Context(), principal(r).OrgID()
	sr, err := s.store.GetScheduledReport(ctx, orgID, pathID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	var req scheduledReportRequest
	if err := decode(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	req.apply(&sr)
	if err := s.validateScheduledReport(ctx, orgID, sr); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := s.store.UpdateScheduledReport(ctx, &sr); err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.respondScheduledReport(w, r, http.StatusOK, sr.ID)
}

func (s *Server) handleDeleteScheduledReport(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteScheduledReport(r.Context(), principal(r).OrgID(), pathID(r)); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /reports/scheduled/{id}/run generates the report now.
func (s *Server) handleRunScheduledReport(w http.ResponseWriter, r *http.Request) {
	sr, err := s.store.GetScheduledReport(r.Context(), principal(r).OrgID(), pathID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if s.generator == nil {
		writeServiceError(w, r, errors.New("report generator is not configured"))
		return
	}
	done, err := s.generator.Generate(r.Context(), sr)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondMessage(w, http.StatusOK, "Report generated successfully", done)
}
