// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/lure/internal/audit"
	"github.com/ManuGH/lure/internal/log"
	"github.com/ManuGH/lure/internal/model"
	"github.com/ManuGH/lure/internal/validate"
)

func (s *Server) routesEmails(r chi.Router) {
	r.Get("/smtp-configs", s.handleListSMTPConfigs)
	r.Post("/smtp-configs", s.handleCreateSMTPConfig)
	r.Get("/smtp-configs/{id}", s.handleGetSMTPConfig)
	r.Put("/smtp-configs/{id}", s.handleUpdateSMTPConfig)
	r.Patch("/smtp-configs/{id}", s.handleUpdateSMTPConfig)
	r.Delete("/smtp-configs/{id}", s.handleDeleteSMTPConfig)
	r.Post("/smtp-configs/{id}/test", s.handleTestSMTPConfig)

	r.Get("/queue", s.handleListQueue)
	r.Get("/events", s.handleListEvents)
	r.Get("/statistics", s.handleEmailStatistics)
}

type smtpRequest struct {
	Name         *string `json:"name"`
	Host         *string `json:"host"`
	Port         *int    `json:"port"`
	Username     *string `json:"username"`
	Password     *string `json:"password"`
	UseTLS       *bool   `json:"use_tls"`
	UseSSL       *bool   `json:"use_ssl"`
	FromEmail    *string `json:"from_email"`
	ReplyToEmail *string `json:"reply_to_email"`
	IsActive     *bool   `json:"is_active"`
	DailyLimit   *int    `json:"daily_limit"`
}

// apply copies the request onto c and seals a supplied password.
func (s *Server) applySMTP(c *model.SMTPConfig, req smtpRequest) error {
	setString(&c.Name, req.Name)
	setString(&c.Host, req.Host)
	setInt(&c.Port, req.Port)
	setString(&c.Username, req.Username)
	setBool(&c.UseTLS, req.UseTLS)
	setBool(&c.UseSSL, req.UseSSL)
	setString(&c.FromEmail, req.FromEmail)
	setString(&c.ReplyToEmail, req.ReplyToEmail)
	setBool(&c.IsActive, req.IsActive)
	setInt(&c.DailyLimit, req.DailyLimit)
	c.Name = strings.TrimSpace(c.Name)
	c.Host = strings.TrimSpace(c.Host)
	c.FromEmail = strings.TrimSpace(c.FromEmail)
	c.ReplyToEmail = strings.TrimSpace(c.ReplyToEmail)

	if req.Password == nil {
		return nil
	}
	if *req.Password == "" {
		c.PasswordEnc = ""
		return nil
	}
	if s.box == nil {
		return errors.New("smtp password encryption is not configured")
	}
	sealed, err := s.box.Seal(*req.Password)
	if err != nil {
		return err
	}
	c.PasswordEnc = sealed
	return nil
}

func validateSMTP(c model.SMTPConfig) error {
	v := validate.New()
	if v.Required("name", c.Name) {
		v.MaxLen("name", c.Name, 100)
	}
	if v.Required("host", c.Host) {
		v.MaxLen("host", c.Host, 255)
	}
	if c.Port < 1 || c.Port > 65535 {
		v.AddError("port", "Ensure this value is between 1 and 65535.", c.Port)
	}
	if v.Required("from_email", c.FromEmail) {
		v.Email("from_email", c.FromEmail)
	}
	if c.ReplyToEmail != "" {
		v.Email("reply_to_email", c.ReplyToEmail)
	}
	if c.DailyLimit < 1 {
		v.AddError("daily_limit", "Ensure this value is greater than or equal to 1.", c.DailyLimit)
	}
	if c.UseTLS && c.UseSSL {
		v.NonField("Cannot use both TLS and SSL simultaneously.")
	}
	return v.Err()
}

func (s *Server) handleListSMTPConfigs(w http.ResponseWriter, r *http.Request) {
	page, err := s.store.ListSMTPConfigs(r.Context(), principal(r).OrgID(), listParams(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, page)
}

func (s *Server) handleCreateSMTPConfig(w http.ResponseWriter, r *http.Request) {
	var req smtpRequest
	if err := decode(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	c := model.SMTPConfig{
		OrganizationID: principal(r).OrgID(),
		Port:           587,
		UseTLS:         true,
		IsActive:       true,
		DailyLimit:     model.DefaultDailyLimit,
	}
	if err := s.applySMTP(&c, req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := validateSMTP(c); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := s.store.CreateSMTPConfig(r.Context(), &c); err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, c)
}

func (s *Server) handleGetSMTPConfig(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.GetSMTPConfig(r.Context(), principal(r).OrgID(), pathID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, c)
}

func (s *Server) handleUpdateSMTPConfig(w http.ResponseWriter, r *http.Request) {
	ctx, orgID := r.Context(), principal(r).OrgID()
	c, err := s.store.GetSMTPConfig(ctx, orgID, pathID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	var req smtpRequest
	if err := decode(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := s.applySMTP(&c, req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := validateSMTP(c); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := s.store.UpdateSMTPConfig(ctx, &c); err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, c)
}

func (s *Server) handleDeleteSMTPConfig(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteSMTPConfig(r.Context(), principal(r).OrgID(), pathID(r)); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /emails/smtp-configs/{id}/test
func (s *Server) handleTestSMTPConfig(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	c, err := s.store.GetSMTPConfig(r.Context(), p.OrgID(), pathID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	var req struct {
		To string `json:"to"`
	}
	if err := decode(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	to := strings.TrimSpace(req.To)
	if to == "" {
		to = p.User.Email
	}
	v := validate.New()
	v.Email("to", to)
	if err := v.Err(); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if s.mailer == nil {
		writeServiceError(w, r, errors.New("mailer is not configured"))
		return
	}

	event := audit.Event{
		Type: audit.EventSMTPConfigTest, Actor: p.UserID(), Action: "tested smtp configuration", Resource: c.ID,
		Details: map[string]string{"host": c.Host, "to": to},
	}
	msgID, err := s.mailer.SendTest(r.Context(), c, to)
	if err != nil {
		event.Result = audit.ResultFailure
		s.audit.FromRequest(r, event)
		logger := log.WithComponentFromContext(r.Context(), "mailer")
		logger.Warn().Err(err).Str(log.FieldEvent, "smtp.test_failed").Str("smtp_config_id", c.ID).Msg("smtp test failed")
		writeServiceError(w, r, badRequest("Test email failed: "+err.Error()))
		return
	}
	event.Result = audit.ResultSuccess
	s.audit.FromRequest(r, event)
	respondMessage(w, http.StatusOK, "Test email sent successfully", map[string]string{"message_id": msgID, "to": to})
}

func (s *Server) handleListQueue(w http.ResponseWriter, r *http.Request) {
	page, err := s.store.ListQueue(r.Context(), principal(r).OrgID(), listParams(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, page)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	page, err := s.store.ListEvents(r.Context(), principal(r).OrgID(), listParams(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, page)
}

func (s *Server) handleEmailStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.EmailStatistics(r.Context(), principal(r).OrgID())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, stats)
}
