package model

import (
	"encoding/json"
	"time"
)

// Scheduled report choices.
var (
	ReportTypes       = []string{"campaign_summary", "security_metrics", "department_breakdown", "trend_analysis", "executive_summary"}
	ReportFrequencies = []string{"daily", "weekly", "monthly", "quarterly"}
)

// CampaignReport aggregates one campaign. Rates are percentages in 0..100.
type CampaignReport struct {
	ID                  string    `json:"id"`
	CampaignID          string    `json:"campaign"`
	CampaignName        string    `json:"campaign_name"`
	CampaignStatus      string    `json:"campaign_status"`
	TotalEmails         int       `json:"total_emails"`
	EmailsSent          int       `json:"emails_sent"`
	EmailsDelivered     int       `json:"emails_delivered"`
	EmailsBounced       int       `json:"emails_bounced"`
	EmailsOpened        int       `json:"emails_opened"`
	EmailsClicked       int       `json:"emails_clicked"`
	PageVisits          int       `json:"page_visits"`
	CredentialsCaptured int       `json:"credentials_captured"`
	DataSubmitted       int       `json:"data_submitted"`
	EmailsReported      int       `json:"emails_reported"`
	DeliveryRate        float64   `json:"delivery_rate"`
	OpenRate            float64   `json:"open_rate"`
	ClickRate           float64   `json:"click_rate"`
	SusceptibilityRate  float64   `json:"susceptibility_rate"`
	AwarenessRate       float64   `json:"awareness_rate"`
	ClickThroughRate    float64   `json:"click_through_rate"`
	LastUpdated         time.Time `json:"last_updated"`
}

// DepartmentReport aggregates one department within a campaign.
type DepartmentReport struct {
	ID                    string    `json:"id"`
	CampaignID            string    `json:"campaign"`
	CampaignName          string    `json:"campaign_name"`
	Department            string    `json:"department"`
	TotalEmployees        int       `json:"total_employees"`
	EmailsSent            int       `json:"emails_sent"`
	EmailsOpened          int       `json:"emails_opened"`
	LinksClicked          int       `json:"links_clicked"`
	DataSubmitted         int       `json:"data_submitted"`
	EmailsReported        int       `json:"emails_reported"`
	RiskScore             float64   `json:"risk_score"`
	ImprovementPercentage float64   `json:"improvement_percentage"`
	CreatedAt             time.Time `json:"created_at"`
}

// ScheduledReport is generated periodically and mailed to recipients.
type ScheduledReport struct {
	ID               string     `json:"id"`
	OrganizationID   string     `json:"organization"`
	Name             string     `json:"name"`
	ReportType       string     `json:"report_type"`
	Frequency        string     `json:"frequency"`
	Recipients       []string   `json:"recipients"`
	IncludeCampaigns []string   `json:"include_campaigns"`
	NextRun          time.Time  `json:"next_run"`
	LastRun          *time.Time `json:"last_run"`
	LastFile         string     `json:"last_file"`
	IsActive         bool       `json:"is_active"`
	CreatedBy        string     `json:"created_by"`
	CreatedByName    string     `json:"created_by_name"`
	CreatedAt        time.Time  `json:"created_at"`
}

// MarshalJSON renders nil lists as [].
func (r ScheduledReport) MarshalJSON() ([]byte, error) {
	type alias ScheduledReport
	a := alias(r)
	if a.Recipients == nil {
		a.Recipients = []string{}
	}
	if a.IncludeCampaigns == nil {
		a.IncludeCampaigns = []string{}
	}
	return json.Marshal(a)
}

// NextRunAfter advances from by one period of frequency until it is after now.
func NextRunAfter(frequency string, from, now time.Time) time.Time {
	next := from
	for !next.After(now) {
		switch frequency {
		case "daily":
			next = next.AddDate(0, 0, 1)
		case "weekly":
			next = next.AddDate(0, 0, 7)
		case "monthly":
			next = next.AddDate(0, 1, 0)
		case "quarterly":
			next = next.AddDate(0, 3, 0)
		default:
			return now.Add(24 * time.Hour)
		}
	}
	return next
}
