// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ManuGH/lure/internal/log"
	"github.com/ManuGH/lure/internal/metrics"
	"github.com/ManuGH/lure/internal/model"
	"github.com/ManuGH/lure/internal/notify"
	"github.com/ManuGH/lure/internal/store"
)

const (
	invoiceDueDays     = 30
	invoiceNumberTries = 5
)

// Run executes one pass of every billing job.
func (s *Service) Run(ctx context.Context) error {
	var errs []error
	if _, err := s.ExpireTrials(ctx); err != nil {
		errs = append(errs, fmt.Errorf("expire trials: %w", err))
	}
	if _, err := s.IssueInvoices(ctx); err != nil {
		errs = append(errs, fmt.Errorf("issue invoices: %w", err))
	}
	if _, err := s.MarkOverdue(ctx); err != nil {
		errs = append(errs, fmt.Errorf("mark overdue: %w", err))
	}
	if err := s.RefreshUsage(ctx); err != nil {
		errs = append(errs, fmt.Errorf("refresh usage: %w", err))
	}
	return errors.Join(errs...)
}

func (s *Service) alert(ctx context.Context, orgID string, req notify.Request) {
	if s.alerts == nil {
		return
	}
	req.Type = model.NotifyBillingAlert
	req.ActionURL = "/billing"
	req.ActionLabel = "View billing"
	if _, err := s.alerts.OrgAlert(ctx, orgID, req); err != nil {
		s.logger.Warn().Err(err).
			Str(log.FieldEvent, "billing.alert_failed").
			Str(log.FieldOrgID, orgID).
			Msg("billing alert failed")
	}
}

type usageSource struct {
	metric string
	limit  func(model.Subscription) int
	count  func(ctx context.Context, orgID string, since time.Time) (int, error)
}

func (s *Service) usageSources() []usageSource {
	return []usageSource{
		{
			metric: model.MetricTargets,
			limit:  func(sub model.Subscription) int { return sub.MaxTargets },
			count: func(ctx context.Context, orgID string, _ time.Time) (int, error) {
				return s.store.CountTargets(ctx, orgID)
			},
		},
		{
			metric: model.MetricCampaigns,
			limit:  func(sub model.Subscription) int { return sub.MaxCampaignsPerMonth },
			count:  s.store.CountCampaignsSince,
		},
		{
			metric: model.MetricEmails,
			limit:  func(sub model.Subscription) int { return sub.MaxEmailsPerMonth },
			count:  s.store.CountEmailsSentSince,
		},
	}
}

// RefreshUsage recomputes the usage metrics of every subscribed organization
// and raises billing alerts on the first warning and on a new overrun.
func (s *Service) RefreshUsage(ctx context.Context) error {
	subs, err := s.store.ListSubscriptions(ctx)
	if err != nil {
		return err
	}
	now := s.store.Now()
	since := monthStart(now)
	for _, sub := range subs {
		for _, src := range s.usageSources() {
			if err := s.refreshMetric(ctx, sub, src, now, since); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) refreshMetric(ctx context.Context, sub model.Subscription, src usageSource, now, since time.Time) error {
	m, err := s.store.GetUsageMetric(ctx, sub.OrganizationID, src.metric)
	switch {
	case errors.Is(err, store.ErrNotFound):
		m = model.UsageMetric{
			OrganizationID:   sub.OrganizationID,
			MetricType:       src.metric,
			WarningThreshold: model.DefaultWarningThreshold,
			ResetDate:        model.FirstOfNextMonth(now),
		}
	case err != nil:
		return err
	}
	if !now.Before(m.ResetDate) {
		m.WarningSent = false
		m.LimitExceeded = false
		m.ResetDate = model.FirstOfNextMonth(now)
	}
	current, err := src.count(ctx, sub.OrganizationID, since)
	if err != nil {
		return err
	}
	wasExceeded := m.LimitExceeded
	m.CurrentValue = current
	m.LimitValue = src.limit(sub)
	m.MeasurementDate = now
	warn := m.Recompute()
	if err := s.store.SaveUsageMetric(ctx, &m); err != nil {
		return err
	}

	label := strings.ReplaceAll(src.metric, "_", " ")
	switch {
	case m.LimitExceeded && !wasExceeded:
		s.alert(ctx, sub.OrganizationID, alertRequest(model.PriorityUrgent, "Plan limit exceeded",
			fmt.Sprintf("Usage of %s is %d of %d allowed by your %s plan.", label, m.CurrentValue, m.LimitValue, sub.PlanName),
			"usage:"+src.metric+":exceeded:"+m.ResetDate.Format("2006-01")))
	case warn:
		s.alert(ctx, sub.OrganizationID, alertRequest(model.PriorityHigh, "Approaching plan limit",
			fmt.Sprintf("Usage of %s is at %.0f%% of your %s plan.", label, m.UsagePercentage, sub.PlanName),
			"usage:"+src.metric+":warning:"+m.ResetDate.Format("2006-01")))
	}
	return nil
}

// alertRequest builds a billing alert request.
func alertRequest(priority, title, message, dedupeKey string) notify.Request {
	return notify.Request{
		Priority:     priority,
		Title:        title,
		Message:      message,
		DedupeKey:    dedupeKey,
		DedupeWindow: 31 * 24 * time.Hour,
	}
}

// cycleEnd returns the end of a billing period starting at start.
func cycleEnd(cycle string, start time.Time) time.Time {
	if cycle == "annual" {
		return start.AddDate(1, 0, 0)
	}
	return start.AddDate(0, 1, 0)
}

// InvoiceNumber formats an invoice number for the given issue time.
func InvoiceNumber(issued time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("INV-%s-%s", issued.UTC().Format("200601"), suffix)
}

func (s *Service) newInvoiceNumber(ctx context.Context, issued time.Time) (string, error) {
	for i := 0; i < invoiceNumberTries; i++ {
		n := InvoiceNumber(issued)
		taken, err := s.store.InvoiceNumberExists(ctx, n)
		if err != nil {
			return "", err
		}
		if !taken {
			return n, nil
		}
	}
	return "", errors.New("billing: could not allocate a unique invoice number")
}

// IssueInvoices bills every active subscription whose next billing date has
// passed for the upcoming period and advances the period.
func (s *Service) IssueInvoices(ctx context.Context) (int, error) {
	subs, err := s.store.ListSubscriptions(ctx)
	if err != nil {
		return 0, err
	}
	now := s.store.Now()
	issued := 0
	for _, sub := range subs {
		if sub.Status != model.SubActive || now.Before(sub.NextBillingDate) {
			continue
		}
		inv, err := s.issue(ctx, sub, now)
		if err != nil {
			return issued, err
		}
		issued++
		metrics.IncInvoiceIssued()
		s.logger.Info().
			Str(log.FieldEvent, "billing.invoice_issued").
			Str(log.FieldOrgID, sub.OrganizationID).
			Str("invoice_number", inv.InvoiceNumber).
			Str("total", inv.TotalAmount.String()).
			Msg("invoice issued")
	}
	return issued, nil
}

func (s *Service) issue(ctx context.Context, sub model.Subscription, now time.Time) (model.Invoice, error) {
	var inv model.Invoice
	err := s.store.InTx(ctx, func(ctx context.Context) error {
		number, err := s.newInvoiceNumber(ctx, now)
		if err != nil {
			return err
		}
		start := sub.NextBillingDate
		end := cycleEnd(sub.BillingCycle, start)
		price := sub.PeriodPrice()
		inv = model.Invoice{
			SubscriptionID: sub.ID,
			OrganizationID: sub.OrganizationID,
			InvoiceNumber:  number,
			Subtotal:       price,
			TotalAmount:    price,
			IssueDate:      now,
			DueDate:        now.AddDate(0, 0, invoiceDueDays),
			Status:         model.InvoiceSent,
			PeriodStart:    start,
			PeriodEnd:      end,
			Notes:          fmt.Sprintf("%s plan, %s billing", sub.PlanName, sub.BillingCycle),
		}
		if err := s.store.CreateInvoice(ctx, &inv); err != nil {
			return err
		}
		sub.CurrentPeriodStart = start
		sub.CurrentPeriodEnd = end
		sub.NextBillingDate = end
		return s.store.UpdateSubscription(ctx, &sub)
	})
	return inv, err
}

// MarkOverdue flags sent invoices past their due date.
func (s *Service) MarkOverdue(ctx context.Context) (int, error) {
	n, err := s.store.MarkOverdueInvoices(ctx, s.store.Now())
	if err == nil && n > 0 {
		s.logger.Info().Str(log.FieldEvent, "billing.invoices_overdue").Int("count", n).Msg("invoices marked overdue")
	}
	return n, err
}

// ExpireTrials ends finished trials. Organizations with a default payment
// method become active and are billed on the next pass; the rest are
// suspended.
func (s *Service) ExpireTrials(ctx context.Context) (int, error) {
	subs, err := s.store.ListSubscriptions(ctx)
	if err != nil {
		return 0, err
	}
	now := s.store.Now()
	changed := 0
	for _, sub := range subs {
		if sub.Status != model.SubTrial || sub.TrialEndDate == nil || now.Before(*sub.TrialEndDate) {
			continue
		}
		paying, err := s.store.HasDefaultPaymentMethod(ctx, sub.OrganizationID)
		if err != nil {
			return changed, err
		}
		old := sub.Status
		if paying {
			sub.Status = model.SubActive
			sub.CurrentPeriodStart = now
			sub.CurrentPeriodEnd = now
			sub.NextBillingDate = now
		} else {
			sub.Status = model.SubSuspended
		}
		if err := s.store.UpdateSubscription(ctx, &sub); err != nil {
			return changed, err
		}
		changed++
		s.logger.Info().
			Str(log.FieldEvent, "billing.trial_ended").
			Str(log.FieldOrgID, sub.OrganizationID).
			Str(log.FieldOldState, old).
			Str(log.FieldNewState, sub.Status).
			Msg("trial ended")
		if !paying {
			s.alert(ctx, sub.OrganizationID, alertRequest(model.PriorityUrgent, "Trial ended",
				"Your trial has ended and the subscription is suspended. Add a default payment method to continue.",
				"trial:"+sub.ID+":suspended"))
		}
	}
	return changed, nil
}
