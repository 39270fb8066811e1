package model

import (
	"encoding/json"
	"strconv"
	"time"
)

// Notification types.
const (
	NotifyCampaignStarted   = "campaign_started"
	NotifyCampaignCompleted = "campaign_completed"
	NotifyHighRiskClick     = "high_risk_click"
	NotifySecurityBreach    = "security_breach"
	NotifyReportReady       = "report_ready"
	NotifySystemAlert       = "system_alert"
	NotifyBillingAlert      = "billing_alert"
	NotifyTrainingReminder  = "training_reminder"
)

// NotificationTypes lists every notification type.
var NotificationTypes = []string{
	NotifyCampaignStarted, NotifyCampaignCompleted, NotifyHighRiskClick, NotifySecurityBreach,
	NotifyReportReady, NotifySystemAlert, NotifyBillingAlert, NotifyTrainingReminder,
}

// Priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Priorities lists every priority.
var Priorities = []string{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent}

// Digest frequencies.
const (
	DigestRealtime = "realtime"
	DigestDaily    = "daily"
	DigestWeekly   = "weekly"
	DigestDisabled = "disabled"
)

// DigestFrequencies lists every digest frequency.
var DigestFrequencies = []string{DigestRealtime, DigestDaily, DigestWeekly, DigestDisabled}

// Alert trigger types.
const (
	TriggerClickRate         = "click_rate_threshold"
	TriggerMultipleClicksIP  = "multiple_clicks_same_ip"
	TriggerCredentialSubmit  = "credential_submission"
	TriggerCampaignCompleted = "campaign_completion"
	TriggerFailedEmails      = "failed_email_threshold"
	TriggerHighRiskClick     = "high_risk_user_click"
)

// TriggerTypes lists every alert trigger.
var TriggerTypes = []string{
	TriggerClickRate, TriggerMultipleClicksIP, TriggerCredentialSubmit,
	TriggerCampaignCompleted, TriggerFailedEmails, TriggerHighRiskClick,
}

// Notification is an in-app message for one user.
type Notification struct {
	ID               string     `json:"id"`
	RecipientID      string     `json:"recipient"`
	Title            string     `json:"title"`
	Message          string     `json:"message"`
	NotificationType string     `json:"notification_type"`
	Priority         string     `json:"priority"`
	IsRead           bool       `json:"is_read"`
	IsEmailSent      bool       `json:"is_email_sent"`
	CampaignID       string     `json:"campaign"`
	CampaignName     string     `json:"campaign_name"`
	TargetID         string     `json:"target"`
	ActionURL        string     `json:"action_url"`
	ActionLabel      string     `json:"action_label"`
	DedupeKey        string     `json:"-"`
	CreatedAt        time.Time  `json:"created_at"`
	ReadAt           *time.Time `json:"read_at"`
	ExpiresAt        *time.Time `json:"expires_at"`
}

// MarshalJSON renders missing references as null and adds time_since_created.
func (n Notification) MarshalJSON() ([]byte, error) {
	type alias Notification
	return json.Marshal(struct {
		alias
		CampaignID       *string `json:"campaign"`
		TargetID         *string `json:"target"`
		TimeSinceCreated string  `json:"time_since_created"`
	}{
		alias:            alias(n),
		CampaignID:       nullable(n.CampaignID),
		TargetID:         nullable(n.TargetID),
		TimeSinceCreated: humanSince(time.Since(n.CreatedAt)),
	})
}

// Category groups notification types for preference checks.
type Category string

// Preference categories.
const (
	CategoryCampaign Category = "campaign"
	CategorySecurity Category = "security"
	CategoryReports  Category = "reports"
	CategoryBilling  Category = "billing"
	CategorySystem   Category = "system"
)

// CategoryOf maps a notification type to its preference category.
func CategoryOf(notificationType string) Category {
	switch notificationType {
	case NotifyCampaignStarted, NotifyCampaignCompleted:
		return CategoryCampaign
	case NotifyHighRiskClick, NotifySecurityBreach:
		return CategorySecurity
	case NotifyReportReady:
		return CategoryReports
	case NotifyBillingAlert:
		return CategoryBilling
	default:
		return CategorySystem
	}
}

// NotificationPreference holds per-user delivery settings.
type NotificationPreference struct {
	UserID               string     `json:"user"`
	EmailCampaignUpdates bool       `json:"email_campaign_updates"`
	EmailSecurityAlerts  bool       `json:"email_security_alerts"`
	EmailReports         bool       `json:"email_reports"`
	EmailBilling         bool       `json:"email_billing"`
	AppCampaignUpdates   bool       `json:"app_campaign_updates"`
	AppSecurityAlerts    bool       `json:"app_security_alerts"`
	AppSystemAlerts      bool       `json:"app_system_alerts"`
	DigestFrequency      string     `json:"digest_frequency"`
	QuietHoursStart      string     `json:"quiet_hours_start"`
	QuietHoursEnd        string     `json:"quiet_hours_end"`
	Timezone             string     `json:"timezone"`
	LastDigestAt         *time.Time `json:"-"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// DefaultPreference returns the settings applied on first access.
func DefaultPreference(userID string) NotificationPreference {
	return NotificationPreference{
		UserID:               userID,
		EmailCampaignUpdates: true,
		EmailSecurityAlerts:  true,
		EmailReports:         true,
		EmailBilling:         true,
		AppCampaignUpdates:   true,
		AppSecurityAlerts:    true,
		AppSystemAlerts:      true,
		DigestFrequency:      DigestDaily,
		Timezone:             "UTC",
	}
}

// InApp reports whether in-app delivery is enabled for the category.
// Reports and billing have no in-app switch and are always delivered.
func (p NotificationPreference) InApp(c Category) bool {
	switch c {
	case CategoryCampaign:
		return p.AppCampaignUpdates
	case CategorySecurity:
		return p.AppSecurityAlerts
	case CategorySystem:
		return p.AppSystemAlerts
	default:
		return true
	}
}

// Email reports whether email delivery is enabled for the category.
func (p NotificationPreference) Email(c Category) bool {
	switch c {
	case CategoryCampaign:
		return p.EmailCampaignUpdates
	case CategorySecurity:
		return p.EmailSecurityAlerts
	case CategoryReports:
		return p.EmailReports
	case CategoryBilling:
		return p.EmailBilling
	default:
		return p.EmailSecurityAlerts
	}
}

// AlertRule fires notifications when a campaign metric crosses a threshold.
type AlertRule struct {
	ID                string    `json:"id"`
	OrganizationID    string    `json:"organization"`
	Name              string    `json:"name"`
	TriggerType       string    `json:"trigger_type"`
	ThresholdValue    *float64  `json:"threshold_value"`
	TimeWindowMinutes int       `json:"time_window_minutes"`
	IsActive          bool      `json:"is_active"`
	NotifyUsers       []string  `json:"notify_users"`
	CreatedBy         string    `json:"created_by"`
	CreatedByName     string    `json:"created_by_name"`
	CreatedAt         time.Time `json:"created_at"`
}

// Threshold returns the configured threshold or def when unset.
func (r AlertRule) Threshold(def float64) float64 {
	if r.ThresholdValue == nil {
		return def
	}
	return *r.ThresholdValue
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func humanSince(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d/time.Minute), "minute") + " ago"
	case d < 24*time.Hour:
		return plural(int(d/time.Hour), "hour") + " ago"
	default:
		return plural(int(d/(24*time.Hour)), "day") + " ago"
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return strconv.Itoa(n) + " " + unit + "s"
}
