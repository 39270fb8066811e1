// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/lure/internal/model"
	"github.com/ManuGH/lure/internal/store"
	"github.com/ManuGH/lure/internal/validate"
)

func (s *Server) routesBilling(r chi.Router) {
	r.Get("/subscription", s.handleGetSubscription)
	r.Get("/overview", s.handleBillingOverview)
	r.Get("/invoices", s.handleListInvoices)
	r.Get("/invoices/{id}", s.handleGetInvoice)
	r.Get("/usage", s.handleListUsage)

	r.Get("/payment-methods", s.handleListPaymentMethods)
	r.Post("/payment-methods", s.handleCreatePaymentMethod)
	r.Get("/payment-methods/{id}", s.handleGetPaymentMethod)
	r.Put("/payment-methods/{id}", s.handleUpdatePaymentMethod)
	r.Patch("/payment-methods/{id}", s.handleUpdatePaymentMethod)
	r.Delete("/payment-methods/{id}", s.handleDeletePaymentMethod)
}

var noSubscription = ErrNotFound.withMessage("No subscription found")

func (s *Server) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := s.store.GetSubscription(r.Context(), principal(r).OrgID())
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, r, noSubscription)
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, sub)
}

// GET /billings/overview
func (s *Server) handleBillingOverview(w http.ResponseWriter, r *http.Request) {
	ctx, orgID := r.Context(), principal(r).OrgID()
	sub, err := s.store.GetSubscription(ctx, orgID)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, r, noSubscription)
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	usage, err := s.store.ListUsageMetrics(ctx, orgID, store.ListParams{PageSize: store.MaxPageSize})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	recent, err := s.store.RecentInvoices(ctx, orgID, 5)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	summary, err := s.store.InvoiceSummaryFor(ctx, orgID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if recent == nil {
		recent = []model.Invoice{}
	}
	respond(w, http.StatusOK, map[string]any{
		"subscription":    sub,
		"current_usage":   usage.Results,
		"recent_invoices": recent,
		"billing_summary": summary,
	})
}

func (s *Server) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	page, err := s.store.ListInvoices(r.Context(), principal(r).OrgID(), listParams(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, page)
}

func (s *Server) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := s.store.GetInvoice(r.Context(), principal(r).OrgID(), pathID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, inv)
}

func (s *Server) handleListUsage(w http.ResponseWriter, r *http.Request) {
	page, err := s.store.ListUsageMetrics(r.Context(), principal(r).OrgID(), listParams(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, page)
}

// Payment methods

var lastFour = regexp.MustCompile(`^\d{4}$`)

type paymentMethodRequest struct {
	MethodType            *string `json:"method_type"`
	CardLastFour          *string `json:"card_last_four"`
	CardBrand             *string `json:"card_brand"`
	ExpiryMonth           *int    `json:"expiry_month"`
	ExpiryYear            *int    `json:"expiry_year"`
	StripePaymentMethodID *string `json:"stripe_payment_method_id"`
	PaypalPaymentID       *string `json:"paypal_payment_id"`
	IsDefault             *bool   `json:"is_default"`
	IsActive              *bool   `json:"is_active"`
}

func (req *paymentMethodRequest) apply(p *model.PaymentMethod) {
	setString(&p.MethodType, req.MethodType)
	setString(&p.CardLastFour, req.CardLastFour)
	setString(&p.CardBrand, req.CardBrand)
	if req.ExpiryMonth != nil {
		v := *req.ExpiryMonth
		p.ExpiryMonth = &v
	}
	if req.ExpiryYear != nil {
		v := *req.ExpiryYear
		p.ExpiryYear = &v
	}
	setString(&p.StripePaymentMethodID, req.StripePaymentMethodID)
	setString(&p.PaypalPaymentID, req.PaypalPaymentID)
	setBool(&p.IsDefault, req.IsDefault)
	setBool(&p.IsActive, req.IsActive)
	p.CardLastFour = strings.TrimSpace(p.CardLastFour)
}

func (s *Server) validatePaymentMethod(p model.PaymentMethod) error {
	v := validate.New()
	if v.Required("method_type", p.MethodType) {
		v.OneOf("method_type", p.MethodType, model.PaymentMethodTypes)
	}
	v.Match("card_last_four", p.CardLastFour, lastFour, "Card last four must be exactly 4 digits.")
	v.MaxLen("card_brand", p.CardBrand, 20)
	if p.ExpiryMonth != nil && (*p.ExpiryMonth < 1 || *p.ExpiryMonth > 12) {
		v.AddError("expiry_month", "Expiry month must be between 1 and 12.", *p.ExpiryMonth)
	}
	if p.ExpiryYear != nil && *p.ExpiryYear < s.store.Now().Year() {
		v.AddError("expiry_year", "Expiry year cannot be in the past.", *p.ExpiryYear)
	}
	return v.Err()
}

func (s *Server) handleListPaymentMethods(w http.ResponseWriter, r *http.Request) {
	page, err := s.store.ListPaymentMethods(r.Context(), principal(r).OrgID(), listParams(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, page)
}

func (s *Server) handleCreatePaymentMethod(w http.ResponseWriter, r *http.Request) {
	var req paymentMethodRequest
	if err := decode(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	p := model.PaymentMethod{OrganizationID: principal(r).OrgID(), IsActive: true}
	req.apply(&p)
	if err := s.validatePaymentMethod(p); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := s.store.CreatePaymentMethod(r.Context(), &p); err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, p)
}

func (s *Server) handleGetPaymentMethod(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetPaymentMethod(r.Context(), principal(r).OrgID(), pathID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, p)
}

func (s *Server) handleUpdatePaymentMethod(w http.ResponseWriter, r *http.Request) {
	ctx, orgID := r.Context(), principal(r).OrgID()
	p, err := s.store.GetPaymentMethod(ctx, orgID, pathID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	var req paymentMethodRequest
	if err := decode(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	req.apply(&p)
	if err := s.validatePaymentMethod(p); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := s.store.UpdatePaymentMethod(ctx, &p); err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, p)
}

func (s *Server) handleDeletePaymentMethod(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeletePaymentMethod(r.Context(), principal(r).OrgID(), pathID(r)); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
