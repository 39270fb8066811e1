package model

import (
	"encoding/json"
	"time"
)

// Campaign statuses.
const (
	CampaignDraft     = "draft"
	CampaignScheduled = "scheduled"
	CampaignRunning   = "running"
	CampaignPaused    = "paused"
	CampaignCompleted = "completed"
	CampaignCancelled = "cancelled"
)

// CampaignStatuses lists every campaign status in lifecycle order.
var CampaignStatuses = []string{CampaignDraft, CampaignScheduled, CampaignRunning, CampaignPaused, CampaignCompleted, CampaignCancelled}

// Campaign target statuses.
const (
	TargetPending   = "pending"
	TargetSent      = "sent"
	TargetOpened    = "opened"
	TargetClicked   = "clicked"
	TargetSubmitted = "submitted"
	TargetReported  = "reported"
	TargetFailed    = "failed"
)

// CampaignTargetStatuses lists every per-recipient status.
var CampaignTargetStatuses = []string{TargetPending, TargetSent, TargetOpened, TargetClicked, TargetSubmitted, TargetReported, TargetFailed}

// Template and landing page choices.
var (
	TemplateTypes    = []string{"social_media", "it_support", "hr_notice", "security_alert", "invoice", "shipping", "banking", "custom"}
	DifficultyLevels = []string{"beginner", "intermediate", "advanced", "expert"}
	PageTypes        = []string{"login", "survey", "download", "notification", "banking", "social", "custom"}
)

// Send interval bounds in minutes.
const (
	MinSendInterval     = 1
	MaxSendInterval     = 1440
	DefaultSendInterval = 5
)

// EmailTemplate is the phishing email body.
type EmailTemplate struct {
	ID              string    `json:"id"`
	OrganizationID  string    `json:"organization"`
	Name            string    `json:"name"`
	Subject         string    `json:"subject"`
	SenderName      string    `json:"sender_name"`
	SenderEmail     string    `json:"sender_email"`
	HTMLContent     string    `json:"html_content"`
	TextContent     string    `json:"text_content"`
	TemplateType    string    `json:"template_type"`
	DifficultyLevel string    `json:"difficulty_level"`
	IsDefault       bool      `json:"is_default"`
	CreatedBy       string    `json:"created_by"`
	CreatedByName   string    `json:"created_by_name"`
	CreatedAt       time.Time `json:"created_at"`
	CampaignsCount  int       `json:"campaigns_count"`
}

// LandingPage is shown when a recipient clicks the tracked link.
type LandingPage struct {
	ID                   string    `json:"id"`
	OrganizationID       string    `json:"organization"`
	Name                 string    `json:"name"`
	HTMLContent          string    `json:"html_content"`
	CSSContent           string    `json:"css_content"`
	RedirectURL          string    `json:"redirect_url"`
	PageType             string    `json:"page_type"`
	CaptureCredentials   bool      `json:"capture_credentials"`
	CaptureFormData      bool      `json:"capture_form_data"`
	ShowAwarenessMessage bool      `json:"show_awareness_message"`
	AwarenessMessage     string    `json:"awareness_message"`
	CreatedBy            string    `json:"created_by"`
	CreatedByName        string    `json:"created_by_name"`
	CreatedAt            time.Time `json:"created_at"`
	CampaignsCount       int       `json:"campaigns_count"`
}

// CampaignStats are the per-campaign counters shown in listings.
type CampaignStats struct {
	TotalTargets  int `json:"total_targets"`
	EmailsSent    int `json:"emails_sent"`
	EmailsOpened  int `json:"emails_opened"`
	LinksClicked  int `json:"links_clicked"`
	DataSubmitted int `json:"data_submitted"`
}

// Campaign is one phishing simulation run.
type Campaign struct {
	ID                  string     `json:"id"`
	OrganizationID      string     `json:"organization"`
	Name                string     `json:"name"`
	Description         string     `json:"description"`
	TemplateID          string     `json:"template"`
	TemplateName        string     `json:"template_name"`
	LandingPageID       string     `json:"landing_page"`
	LandingPageName     string     `json:"landing_page_name"`
	TargetGroupIDs      []string   `json:"target_groups"`
	IndividualTargetIDs []string   `json:"individual_targets"`
	Status              string     `json:"status"`
	ScheduledStart      *time.Time `json:"scheduled_start"`
	ActualStart         *time.Time `json:"actual_start"`
	EndDate             *time.Time `json:"end_date"`
	SendIntervalMinutes int        `json:"send_interval_minutes"`
	TrackOpens          bool       `json:"track_opens"`
	TrackClicks         bool       `json:"track_clicks"`
	CaptureCredentials  bool       `json:"capture_credentials"`
	CaptureData         bool       `json:"capture_data"`
	CreatedBy           string     `json:"created_by"`
	CreatedByName       string     `json:"created_by_name"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	CampaignStats
}

// MarshalJSON renders empty id lists as [] and a missing landing page as null.
func (c Campaign) MarshalJSON() ([]byte, error) {
	type alias Campaign
	a := alias(c)
	if a.TargetGroupIDs == nil {
		a.TargetGroupIDs = []string{}
	}
	if a.IndividualTargetIDs == nil {
		a.IndividualTargetIDs = []string{}
	}
	var lp *string
	if c.LandingPageID != "" {
		lp = &c.LandingPageID
	}
	return json.Marshal(struct {
		alias
		LandingPageID *string `json:"landing_page"`
	}{alias: a, LandingPageID: lp})
}

// CampaignTarget tracks one recipient within a campaign.
type CampaignTarget struct {
	ID              string         `json:"id"`
	CampaignID      string         `json:"campaign"`
	TargetID        string         `json:"target"`
	Target          *Target        `json:"target_details,omitempty"`
	Status          string         `json:"status"`
	EmailSentAt     *time.Time     `json:"email_sent_at"`
	EmailOpenedAt   *time.Time     `json:"email_opened_at"`
	LinkClickedAt   *time.Time     `json:"link_clicked_at"`
	DataSubmittedAt *time.Time     `json:"data_submitted_at"`
	ReportedAt      *time.Time     `json:"reported_at"`
	IPAddress       string         `json:"ip_address"`
	UserAgent       string         `json:"user_agent"`
	SubmittedData   map[string]any `json:"submitted_data"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

var statusRank = map[string]int{
	TargetPending:   0,
	TargetSent:      1,
	TargetOpened:    2,
	TargetClicked:   3,
	TargetSubmitted: 4,
}

// AdvanceStatus returns the status a recipient moves to after an event.
// Progress only moves forward, reported is final and failed only replaces pending.
func AdvanceStatus(current, next string) string {
	switch {
	case current == TargetReported:
		return current
	case next == TargetReported:
		return next
	case next == TargetFailed:
		if current == TargetPending {
			return next
		}
		return current
	case current == TargetFailed:
		if next == TargetSent {
			return next
		}
		return current
	}
	if statusRank[next] > statusRank[current] {
		return next
	}
	return current
}

// DeliveredStatuses are the recipient statuses counted as delivered in
// campaign reports. Reported recipients are counted separately.
var DeliveredStatuses = []string{TargetSent, TargetOpened, TargetClicked, TargetSubmitted}

// IsDelivered reports whether status is one of DeliveredStatuses.
func IsDelivered(status string) bool {
	switch status {
	case TargetSent, TargetOpened, TargetClicked, TargetSubmitted:
		return true
	}
	return false
}
