// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/ManuGH/lure/internal/model"
)

// Subscriptions

const subscriptionColumns = `s.id, s.organization_id, o.name, s.plan_name, s.plan_type, s.max_targets,
	s.max_campaigns_per_month, s.max_emails_per_month, s.max_templates, s.max_landing_pages,
	s.advanced_reporting, s.api_access, s.custom_branding, s.priority_support, s.monthly_price, s.annual_price,
	s.billing_cycle, s.status, s.trial_end_date, s.current_period_start, s.current_period_end,
	s.next_billing_date, s.created_at, s.updated_at`

const subscriptionFrom = `subscriptions s JOIN organizations o ON o.id = s.organization_id`

func scanSubscription(r scanner) (model.Subscription, error) {
	var sub model.Subscription
	var trial sql.NullInt64
	var start, end, next, created, updated int64
	err := r.Scan(&sub.ID, &sub.OrganizationID, &sub.OrganizationName, &sub.PlanName, &sub.PlanType, &sub.MaxTargets,
		&sub.MaxCampaignsPerMonth, &sub.MaxEmailsPerMonth, &sub.MaxTemplates, &sub.MaxLandingPages,
		&sub.AdvancedReporting, &sub.APIAccess, &sub.CustomBranding, &sub.PrioritySupport, &sub.MonthlyPrice,
		&sub.AnnualPrice, &sub.BillingCycle, &sub.Status, &trial, &start, &end,
		&next, &created, &updated)
	sub.TrialEndDate = timePtr(trial)
	sub.CurrentPeriodStart = fromMS(start)
	sub.CurrentPeriodEnd = fromMS(end)
	sub.NextBillingDate = fromMS(next)
	sub.CreatedAt = fromMS(created)
	sub.UpdatedAt = fromMS(updated)
	return sub, err
}

// CreateSubscription inserts sub.
func (s *Store) CreateSubscription(ctx context.Context, sub *model.Subscription) error {
	if sub.ID == "" {
		sub.ID = newID()
	}
	now := s.now()
	sub.CreatedAt, sub.UpdatedAt = now, now
	_, err := s.q(ctx).ExecContext(ctx, `
	INSERT INTO subscriptions (id, organization_id, plan_name, plan_type, max_targets, max_campaigns_per_month,
		max_emails_per_month, max_templates, max_landing_pages, advanced_reporting, api_access, custom_branding,
		priority_support, monthly_price, annual_price, billing_cycle, status, trial_end_date, current_period_start,
		current_period_end, next_billing_date, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.OrganizationID, sub.PlanName, sub.PlanType, sub.MaxTargets, sub.MaxCampaignsPerMonth,
		sub.MaxEmailsPerMonth, sub.MaxTemplates, sub.MaxLandingPages, b2i(sub.AdvancedReporting), b2i(sub.APIAccess),
		b2i(sub.CustomBranding), b2i(sub.PrioritySupport), int64(sub.MonthlyPrice), int64(sub.AnnualPrice),
		sub.BillingCycle, sub.Status, nullMS(sub.TrialEndDate), ms(sub.CurrentPeriodStart),
		ms(sub.CurrentPeriodEnd), ms(sub.NextBillingDate), ms(now), ms(now))
	return mapErr(err)
}

// GetSubscription loads the subscription of orgID.
func (s *Store) GetSubscription(ctx context.Context, orgID string) (model.Subscription, error) {
	sub, err := scanSubscription(s.q(ctx).QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM `+subscriptionFrom+` WHERE s.organization_id = ?`, orgID))
	return sub, mapErr(err)
}

// UpdateSubscription writes status and billing period columns.
func (s *Store) UpdateSubscription(ctx context.Context, sub *model.Subscription) error {
	sub.UpdatedAt = s.now()
	return exactlyOne(s.q(ctx).ExecContext(ctx, `
	UPDATE subscriptions SET status = ?, trial_end_date = ?, current_period_start = ?, current_period_end = ?,
		next_billing_date = ?, billing_cycle = ?, updated_at = ?
	WHERE id = ?`,
		sub.Status, nullMS(sub.TrialEndDate), ms(sub.CurrentPeriodStart), ms(sub.CurrentPeriodEnd),
		ms(sub.NextBillingDate), sub.BillingCycle, ms(sub.UpdatedAt), sub.ID))
}

// ListSubscriptions returns every subscription.
func (s *Store) ListSubscriptions(ctx context.Context) ([]model.Subscription, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT `+subscriptionColumns+` FROM `+subscriptionFrom+` ORDER BY s.created_at`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// SubscriptionCountsByStatus counts subscriptions per status.
func (s *Store) SubscriptionCountsByStatus(ctx context.Context) (map[string]int, error) {
	return countBy(ctx, s.q(ctx), model.SubscriptionStatuses, `SELECT status, COUNT(*) FROM subscriptions GROUP BY status`)
}

// Invoices

const invoiceColumns = `i.id, i.subscription_id, s.organization_id, o.name, i.invoice_number, i.subtotal,
	i.tax_amount, i.discount_amount, i.total_amount, i.issue_date, i.due_date, i.paid_date, i.status,
	i.payment_method, i.transaction_id, i.period_start, i.period_end, i.notes, i.created_at`

const invoiceFrom = `invoices i
	JOIN subscriptions s ON s.id = i.subscription_id
	JOIN organizations o ON o.id = s.organization_id`

var invoiceList = ListSpec{
	Filters: map[string]Filter{
		"status":         {Column: "i.status"},
		"payment_method": {Column: "i.payment_method"},
	},
	Search:   []string{"i.invoice_number"},
	Ordering: map[string]string{"issue_date": "i.issue_date", "due_date": "i.due_date", "total_amount": "i.total_amount"},
	Default:  "i.issue_date DESC",
}

func scanInvoice(r scanner) (model.Invoice, error) {
	var inv model.Invoice
	var issue, due, start, end, created int64
	var paid sql.NullInt64
	err := r.Scan(&inv.ID, &inv.SubscriptionID, &inv.OrganizationID, &inv.OrganizationName, &inv.InvoiceNumber,
		&inv.Subtotal, &inv.TaxAmount, &inv.DiscountAmount, &inv.TotalAmount, &issue, &due, &paid, &inv.Status,
		&inv.PaymentMethod, &inv.TransactionID, &start, &end, &inv.Notes, &created)
	inv.IssueDate = fromMS(issue)
	inv.DueDate = fromMS(due)
	inv.PaidDate = timePtr(paid)
	inv.PeriodStart = fromMS(start)
	inv.PeriodEnd = fromMS(end)
	inv.CreatedAt = fromMS(created)
	return inv, err
}

// CreateInvoice inserts inv.
func (s *Store) CreateInvoice(ctx context.Context, inv *model.Invoice) error {
	if inv.ID == "" {
		inv.ID = newID()
	}
	inv.CreatedAt = s.now()
	_, err := s.q(ctx).ExecContext(ctx, `
	INSERT INTO invoices (id, subscription_id, invoice_number, subtotal, tax_amount, discount_amount, total_amount,
		issue_date, due_date, paid_date, status, payment_method, transaction_id, period_start, period_end, notes,
		created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.SubscriptionID, inv.InvoiceNumber, int64(inv.Subtotal), int64(inv.TaxAmount),
		int64(inv.DiscountAmount), int64(inv.TotalAmount), ms(inv.IssueDate), ms(inv.DueDate), nullMS(inv.PaidDate),
		inv.Status, inv.PaymentMethod, inv.TransactionID, ms(inv.PeriodStart), ms(inv.PeriodEnd), inv.Notes,
		ms(inv.CreatedAt))
	return mapErr(err)
}

// GetInvoice loads an invoice within orgID.
func (s *Store) GetInvoice(ctx context.Context, orgID, id string) (model.Invoice, error) {
	inv, err := scanInvoice(s.q(ctx).QueryRowContext(ctx,
		`SELECT `+invoiceColumns+` FROM `+invoiceFrom+` WHERE s.organization_id = ? AND i.id = ?`, orgID, id))
	return inv, mapErr(err)
}

// ListInvoices lists invoices of orgID.
func (s *Store) ListInvoices(ctx context.Context, orgID string, p ListParams) (Page[model.Invoice], error) {
	var w where
	w.add("s.organization_id = ?", orgID)
	return list(ctx, s.q(ctx), invoiceColumns, invoiceFrom, "i.id", w, invoiceList, p, scanInvoice)
}

// MarkOverdueInvoices flags sent invoices past their due date.
func (s *Store) MarkOverdueInvoices(ctx context.Context, now time.Time) (int, error) {
	res, err := s.q(ctx).ExecContext(ctx,
		`UPDATE invoices SET status = 'overdue' WHERE status = 'sent' AND due_date < ?`, ms(now))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// InvoiceSummary aggregates an organization's invoices.
type InvoiceSummary struct {
	TotalInvoices     int         `json:"total_invoices"`
	PaidInvoices      int         `json:"paid_invoices"`
	OverdueInvoices   int         `json:"overdue_invoices"`
	OutstandingAmount model.Money `json:"outstanding_amount"`
}

// InvoiceSummaryFor computes InvoiceSummary for orgID.
func (s *Store) InvoiceSummaryFor(ctx context.Context, orgID string) (InvoiceSummary, error) {
	var sum InvoiceSummary
	var outstanding int64
	err := s.q(ctx).QueryRowContext(ctx, `
	SELECT COUNT(*),
		COALESCE(SUM(i.status = 'paid'), 0),
		COALESCE(SUM(i.status = 'overdue'), 0),
		COALESCE(SUM(CASE WHEN i.status IN ('sent', 'overdue') THEN i.total_amount ELSE 0 END), 0)
	FROM invoices i JOIN subscriptions s ON s.id = i.subscription_id
	WHERE s.organization_id = ?`, orgID).Scan(&sum.TotalInvoices, &sum.PaidInvoices, &sum.OverdueInvoices, &outstanding)
	sum.OutstandingAmount = model.Money(outstanding)
	return sum, err
}

// RecentInvoices returns the latest invoices of orgID.
func (s *Store) RecentInvoices(ctx context.Context, orgID string, limit int) ([]model.Invoice, error) {
	page, err := s.ListInvoices(ctx, orgID, ListParams{PageSize: limit})
	return page.Results, err
}

// InvoiceNumberExists reports whether number is taken.
func (s *Store) InvoiceNumberExists(ctx context.Context, number string) (bool, error) {
	n, err := scalarInt(ctx, s.q(ctx), `SELECT COUNT(*) FROM invoices WHERE invoice_number = ?`, number)
	return n > 0, err
}

// Usage metrics

const usageColumns = `um.id, um.organization_id, um.metric_type, um.current_value, um.limit_value,
	um.usage_percentage, um.measurement_date, um.reset_date, um.warning_threshold, um.warning_sent, um.limit_exceeded`

var usageList = ListSpec{
	Filters: map[string]Filter{
		"metric_type":    {Column: "um.metric_type"},
		"warning_sent":   {Column: "um.warning_sent", Bool: true},
		"limit_exceeded": {Column: "um.limit_exceeded", Bool: true},
	},
	Ordering: map[string]string{"metric_type": "um.metric_type", "usage_percentage": "um.usage_percentage"},
	Default:  "um.metric_type ASC",
}

func scanUsage(r scanner) (model.UsageMetric, error) {
	var m model.UsageMetric
	var measured, reset int64
	err := r.Scan(&m.ID, &m.OrganizationID, &m.MetricType, &m.CurrentValue, &m.LimitValue,
		&m.UsagePercentage, &measured, &reset, &m.WarningThreshold, &m.WarningSent, &m.LimitExceeded)
	m.MeasurementDate = fromMS(measured)
	m.ResetDate = fromMS(reset)
	return m, err
}

// GetUsageMetric loads one metric of orgID.
func (s *Store) GetUsageMetric(ctx context.Context, orgID, metricType string) (model.UsageMetric, error) {
	m, err := scanUsage(s.q(ctx).QueryRowContext(ctx,
		`SELECT `+usageColumns+` FROM usage_metrics um WHERE um.organization_id = ? AND um.metric_type = ?`,
		orgID, metricType))
	return m, mapErr(err)
}

// SaveUsageMetric upserts m keyed by organization and metric type.
func (s *Store) SaveUsageMetric(ctx context.Context, m *model.UsageMetric) error {
	if m.ID == "" {
		m.ID = newID()
	}
	_, err := s.q(ctx).ExecContext(ctx, `
	INSERT INTO usage_metrics (id, organization_id, metric_type, current_value, limit_value, usage_percentage,
		measurement_date, reset_date, warning_threshold, warning_sent, limit_exceeded)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(organization_id, metric_type) DO UPDATE SET
		current_value = excluded.current_value, limit_value = excluded.limit_value,
		usage_percentage = excluded.usage_percentage, measurement_date = excluded.measurement_date,
		reset_date = excluded.reset_date, warning_threshold = excluded.warning_threshold,
		warning_sent = excluded.warning_sent, limit_exceeded = excluded.limit_exceeded`,
		m.ID, m.OrganizationID, m.MetricType, m.CurrentValue, m.LimitValue, m.UsagePercentage,
		ms(m.MeasurementDate), ms(m.ResetDate), m.WarningThreshold, b2i(m.WarningSent), b2i(m.LimitExceeded))
	return mapErr(err)
}

// ListUsageMetrics lists orgID's metrics.
func (s *Store) ListUsageMetrics(ctx context.Context, orgID string, p ListParams) (Page[model.UsageMetric], error) {
	var w where
	w.add("um.organization_id = ?", orgID)
	return list(ctx, s.q(ctx), usageColumns, "usage_metrics um", "um.id", w, usageList, p, scanUsage)
}

// Payment methods

const paymentColumns = `pm.id, pm.organization_id, pm.method_type, pm.card_last_four, pm.card_brand, pm.expiry_month,
	pm.expiry_year, pm.stripe_payment_method_id, pm.paypal_payment_id, pm.is_default, pm.is_active, pm.created_at`

var paymentList = ListSpec{
	Filters: map[string]Filter{
		"method_type": {Column: "pm.method_type"},
		"is_active":   {Column: "pm.is_active", Bool: true},
	},
	Ordering: map[string]string{"created_at": "pm.created_at"},
	Default:  "pm.is_default DESC, pm.created_at DESC",
}

func scanPayment(r scanner) (model.PaymentMethod, error) {
	var p model.PaymentMethod
	var month, year sql.NullInt64
	var created int64
	err := r.Scan(&p.ID, &p.OrganizationID, &p.MethodType, &p.CardLastFour, &p.CardBrand, &month,
		&year, &p.StripePaymentMethodID, &p.PaypalPaymentID, &p.IsDefault, &p.IsActive, &created)
	if month.Valid {
		v := int(month.Int64)
		p.ExpiryMonth = &v
	}
	if year.Valid {
		v := int(year.Int64)
		p.ExpiryYear = &v
	}
	p.CreatedAt = fromMS(created)
	return p, err
}

// CreatePaymentMethod inserts p. A default method clears the previous default.
func (s *Store) CreatePaymentMethod(ctx context.Context, p *model.PaymentMethod) error {
	if p.ID == "" {
		p.ID = newID()
	}
	p.CreatedAt = s.now()
	return s.InTx(ctx, func(ctx context.Context) error {
		if p.IsDefault {
			if err := s.clearDefaultPayment(ctx, p.OrganizationID); err != nil {
				return err
			}
		}
		_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO payment_methods (id, organization_id, method_type, card_last_four, card_brand, expiry_month,
			expiry_year, stripe_payment_method_id, paypal_payment_id, is_default, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.OrganizationID, p.MethodType, p.CardLastFour, p.CardBrand, p.ExpiryMonth,
			p.ExpiryYear, p.StripePaymentMethodID, p.PaypalPaymentID, b2i(p.IsDefault), b2i(p.IsActive), ms(p.CreatedAt))
		return mapErr(err)
	})
}

func (s *Store) clearDefaultPayment(ctx context.Context, orgID string) error {
	_, err := s.q(ctx).ExecContext(ctx, `UPDATE payment_methods SET is_default = 0 WHERE organization_id = ?`, orgID)
	return err
}

// GetPaymentMethod loads a payment method within orgID.
func (s *Store) GetPaymentMethod(ctx context.Context, orgID, id string) (model.PaymentMethod, error) {
	p, err := scanPayment(s.q(ctx).QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payment_methods pm WHERE pm.organization_id = ? AND pm.id = ?`, orgID, id))
	return p, mapErr(err)
}

// UpdatePaymentMethod writes p. A default method clears the previous default.
func (s *Store) UpdatePaymentMethod(ctx context.Context, p *model.PaymentMethod) error {
	return s.InTx(ctx, func(ctx context.Context) error {
		if p.IsDefault {
			if err := s.clearDefaultPayment(ctx, p.OrganizationID); err != nil {
				return err
			}
		}
		return exactlyOne(s.q(ctx).ExecContext(ctx, `
		UPDATE payment_methods SET method_type = ?, card_last_four = ?, card_brand = ?, expiry_month = ?,
			expiry_year = ?, stripe_payment_method_id = ?, paypal_payment_id = ?, is_default = ?, is_active = ?
		WHERE organization_id = ? AND id = ?`,
			p.MethodType, p.CardLastFour, p.CardBrand, p.ExpiryMonth, p.ExpiryYear, p.StripePaymentMethodID,
			p.PaypalPaymentID, b2i(p.IsDefault), b2i(p.IsActive), p.OrganizationID, p.ID))
	})
}

// DeletePaymentMethod removes a payment method.
func (s *Store) DeletePaymentMethod(ctx context.Context, orgID, id string) error {
	return exactlyOne(s.q(ctx).ExecContext(ctx, `DELETE FROM payment_methods WHERE organization_id = ? AND id = ?`, orgID, id))
}

// ListPaymentMethods lists orgID's payment methods.
func (s *Store) ListPaymentMethods(ctx context.Context, orgID string, p ListParams) (Page[model.PaymentMethod], error) {
	var w where
	w.add("pm.organization_id = ?", orgID)
	return list(ctx, s.q(ctx), paymentColumns, "payment_methods pm", "pm.id", w, paymentList, p, scanPayment)
}

// HasDefaultPaymentMethod reports whether orgID has an active default method.
func (s *Store) HasDefaultPaymentMethod(ctx context.Context, orgID string) (bool, error) {
	n, err := scalarInt(ctx, s.q(ctx),
		`SELECT COUNT(*) FROM payment_methods WHERE organization_id = ? AND is_default = 1 AND is_active = 1`, orgID)
	return n > 0, err
}
