package model

import (
	"encoding/json"
	"time"
)

// Plan types.
const (
	PlanBasic        = "basic"
	PlanProfessional = "professional"
	PlanEnterprise   = "enterprise"
	PlanCustom       = "custom"
)

// PlanTypes lists every plan type.
var PlanTypes = []string{PlanBasic, PlanProfessional, PlanEnterprise, PlanCustom}

// Subscription statuses.
const (
	SubActive    = "active"
	SubCancelled = "cancelled"
	SubSuspended = "suspended"
	SubTrial     = "trial"
)

// Billing choices.
var (
	SubscriptionStatuses = []string{SubActive, SubCancelled, SubSuspended, SubTrial}
	BillingCycles        = []string{"monthly", "annual"}
	InvoiceStatuses      = []string{InvoiceDraft, InvoiceSent, InvoicePaid, InvoiceOverdue, InvoiceCancelled}
	PaymentMethodTypes   = []string{"credit_card", "bank_transfer", "paypal", "stripe"}
	MetricTypes          = []string{MetricTargets, MetricCampaigns, MetricEmails, MetricStorage, MetricAPIRequests}
)

// Invoice statuses.
const (
	InvoiceDraft     = "draft"
	InvoiceSent      = "sent"
	InvoicePaid      = "paid"
	InvoiceOverdue   = "overdue"
	InvoiceCancelled = "cancelled"
)

// Usage metric types.
const (
	MetricTargets     = "targets_count"
	MetricCampaigns   = "campaigns_count"
	MetricEmails      = "emails_sent"
	MetricStorage     = "storage_used"
	MetricAPIRequests = "api_requests"
)

// TrialDays is the length of the trial granted to new organizations.
const TrialDays = 14

// DefaultWarningThreshold is the usage fraction that raises a warning.
const DefaultWarningThreshold = 0.8

// PlanLimits are the quotas and features attached to a plan.
type PlanLimits struct {
	MaxTargets           int  `json:"max_targets"`
	MaxCampaignsPerMonth int  `json:"max_campaigns_per_month"`
	MaxEmailsPerMonth    int  `json:"max_emails_per_month"`
	MaxTemplates         int  `json:"max_templates"`
	MaxLandingPages      int  `json:"max_landing_pages"`
	AdvancedReporting    bool `json:"advanced_reporting"`
	APIAccess            bool `json:"api_access"`
	CustomBranding       bool `json:"custom_branding"`
	PrioritySupport      bool `json:"priority_support"`
}

// Plan is a catalogue entry.
type Plan struct {
	Name         string
	Type         string
	MonthlyPrice Money
	AnnualPrice  Money
	Limits       PlanLimits
}

// Plans is the built-in catalogue keyed by plan type.
var Plans = map[string]Plan{
	PlanBasic: {
		Name: "Basic", Type: PlanBasic,
		MonthlyPrice: NewMoney(49, 0), AnnualPrice: NewMoney(490, 0),
		Limits: PlanLimits{MaxTargets: 100, MaxCampaignsPerMonth: 5, MaxEmailsPerMonth: 1000, MaxTemplates: 10, MaxLandingPages: 5},
	},
	PlanProfessional: {
		Name: "Professional", Type: PlanProfessional,
		MonthlyPrice: NewMoney(199, 0), AnnualPrice: NewMoney(1990, 0),
		Limits: PlanLimits{
			MaxTargets: 1000, MaxCampaignsPerMonth: 25, MaxEmailsPerMonth: 10000, MaxTemplates: 50, MaxLandingPages: 25,
			AdvancedReporting: true, APIAccess: true,
		},
	},
	PlanEnterprise: {
		Name: "Enterprise", Type: PlanEnterprise,
		MonthlyPrice: NewMoney(799, 0), AnnualPrice: NewMoney(7990, 0),
		Limits: PlanLimits{
			MaxTargets: 10000, MaxCampaignsPerMonth: 100, MaxEmailsPerMonth: 100000, MaxTemplates: 500, MaxLandingPages: 250,
			AdvancedReporting: true, APIAccess: true, CustomBranding: true, PrioritySupport: true,
		},
	},
}

// Subscription binds an organization to a plan.
type Subscription struct {
	ID                 string     `json:"id"`
	OrganizationID     string     `json:"organization"`
	OrganizationName   string     `json:"organization_name"`
	PlanName           string     `json:"plan_name"`
	PlanType           string     `json:"plan_type"`
	MonthlyPrice       Money      `json:"monthly_price"`
	AnnualPrice        Money      `json:"annual_price"`
	BillingCycle       string     `json:"billing_cycle"`
	Status             string     `json:"status"`
	TrialEndDate       *time.Time `json:"trial_end_date"`
	CurrentPeriodStart time.Time  `json:"current_period_start"`
	CurrentPeriodEnd   time.Time  `json:"current_period_end"`
	NextBillingDate    time.Time  `json:"next_billing_date"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	PlanLimits
}

// IsTrial reports whether the subscription is in its trial period at now.
func (s Subscription) IsTrial(now time.Time) bool {
	return s.Status == SubTrial && s.TrialEndDate != nil && now.Before(*s.TrialEndDate)
}

// DaysUntilRenewal counts whole days until the next billing date, never negative.
func (s Subscription) DaysUntilRenewal(now time.Time) int {
	d := s.NextBillingDate.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}

// PeriodPrice returns the price charged per billing cycle.
func (s Subscription) PeriodPrice() Money {
	if s.BillingCycle == "annual" {
		return s.AnnualPrice
	}
	return s.MonthlyPrice
}

// MarshalJSON adds is_trial and days_until_renewal.
func (s Subscription) MarshalJSON() ([]byte, error) {
	type alias Subscription
	now := time.Now()
	return json.Marshal(struct {
		alias
		IsTrial          bool `json:"is_trial"`
		DaysUntilRenewal int  `json:"days_until_renewal"`
	}{alias: alias(s), IsTrial: s.IsTrial(now), DaysUntilRenewal: s.DaysUntilRenewal(now)})
}

// NewTrialSubscription returns the basic trial granted to a new organization.
func NewTrialSubscription(orgID string, now time.Time) Subscription {
	plan := Plans[PlanBasic]
	trialEnd := now.AddDate(0, 0, TrialDays)
	return Subscription{
		OrganizationID:     orgID,
		PlanName:           plan.Name,
		PlanType:           plan.Type,
		MonthlyPrice:       plan.MonthlyPrice,
		AnnualPrice:        plan.AnnualPrice,
		BillingCycle:       "monthly",
		Status:             SubTrial,
		TrialEndDate:       &trialEnd,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   trialEnd,
		NextBillingDate:    trialEnd,
		PlanLimits:         plan.Limits,
	}
}

// Invoice is one billing document.
type Invoice struct {
	ID               string     `json:"id"`
	SubscriptionID   string     `json:"subscription"`
	OrganizationID   string     `json:"organization"`
	OrganizationName string     `json:"organization_name"`
	InvoiceNumber    string     `json:"invoice_number"`
	Subtotal         Money      `json:"subtotal"`
	TaxAmount        Money      `json:"tax_amount"`
	DiscountAmount   Money      `json:"discount_amount"`
	TotalAmount      Money      `json:"total_amount"`
	IssueDate        time.Time  `json:"issue_date"`
	DueDate          time.Time  `json:"due_date"`
	PaidDate         *time.Time `json:"paid_date"`
	Status           string     `json:"status"`
	PaymentMethod    string     `json:"payment_method"`
	TransactionID    string     `json:"transaction_id"`
	PeriodStart      time.Time  `json:"period_start"`
	PeriodEnd        time.Time  `json:"period_end"`
	Notes            string     `json:"notes"`
	CreatedAt        time.Time  `json:"created_at"`
}

// IsOverdue reports whether an unpaid invoice is past its due date.
func (i Invoice) IsOverdue(now time.Time) bool {
	return (i.Status == InvoiceSent || i.Status == InvoiceOverdue) && now.After(i.DueDate)
}

// MarshalJSON adds is_overdue.
func (i Invoice) MarshalJSON() ([]byte, error) {
	type alias Invoice
	return json.Marshal(struct {
		alias
		IsOverdue bool `json:"is_overdue"`
	}{alias: alias(i), IsOverdue: i.IsOverdue(time.Now())})
}

// UsageMetric tracks one quota for an organization.
type UsageMetric struct {
	ID               string    `json:"id"`
	OrganizationID   string    `json:"organization"`
	MetricType       string    `json:"metric_type"`
	CurrentValue     int       `json:"current_value"`
	LimitValue       int       `json:"limit_value"`
	UsagePercentage  float64   `json:"usage_percentage"`
	MeasurementDate  time.Time `json:"measurement_date"`
	ResetDate        time.Time `json:"reset_date"`
	WarningThreshold float64   `json:"warning_threshold"`
	WarningSent      bool      `json:"warning_sent"`
	LimitExceeded    bool      `json:"limit_exceeded"`
}

// Recompute sets usage_percentage and limit_exceeded from the current values.
// It returns true when the warning threshold was crossed for the first time.
func (m *UsageMetric) Recompute() (warn bool) {
	if m.LimitValue > 0 {
		m.UsagePercentage = Percent(m.CurrentValue, m.LimitValue)
	} else {
		m.UsagePercentage = 0
	}
	m.LimitExceeded = m.LimitValue > 0 && m.CurrentValue > m.LimitValue
	if m.LimitValue > 0 && !m.WarningSent && m.UsagePercentage >= m.WarningThreshold*100 {
		m.WarningSent = true
		return true
	}
	return false
}

// FirstOfNextMonth returns midnight UTC on the first day of the following month.
func FirstOfNextMonth(now time.Time) time.Time {
	y, mo, _ := now.UTC().Date()
	return time.Date(y, mo+1, 1, 0, 0, 0, 0, time.UTC)
}

// PaymentMethod is a stored reference to an external payment instrument.
type PaymentMethod struct {
	ID                    string    `json:"id"`
	OrganizationID        string    `json:"organization"`
	MethodType            string    `json:"method_type"`
	CardLastFour          string    `json:"card_last_four"`
	CardBrand             string    `json:"card_brand"`
	ExpiryMonth           *int      `json:"expiry_month"`
	ExpiryYear            *int      `json:"expiry_year"`
	StripePaymentMethodID string    `json:"-"`
	PaypalPaymentID       string    `json:"-"`
	IsDefault             bool      `json:"is_default"`
	IsActive              bool      `json:"is_active"`
	CreatedAt             time.Time `json:"created_at"`
}
