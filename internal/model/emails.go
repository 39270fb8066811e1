package model

import "time"

// Queue statuses.
const (
	QueueQueued    = "queued"
	QueueSending   = "sending"
	QueueSent      = "sent"
	QueueFailed    = "failed"
	QueueCancelled = "cancelled"
)

// QueueStatuses lists every queue entry status.
var QueueStatuses = []string{QueueQueued, QueueSending, QueueSent, QueueFailed, QueueCancelled}

// Email event types.
const (
	EventSent      = "sent"
	EventDelivered = "delivered"
	EventBounced   = "bounced"
	EventOpened    = "opened"
	EventClicked   = "clicked"
	EventSubmitted = "submitted"
	EventReported  = "reported"
)

// EventTypes lists every email event type.
var EventTypes = []string{EventSent, EventDelivered, EventBounced, EventOpened, EventClicked, EventSubmitted, EventReported}

// DefaultDailyLimit caps messages per SMTP configuration per day.
const DefaultDailyLimit = 1000

// SMTPConfig is an organization's outbound mail server. The password is
// stored encrypted and never rendered.
type SMTPConfig struct {
	ID                string    `json:"id"`
	OrganizationID    string    `json:"organization"`
	Name              string    `json:"name"`
	Host              string    `json:"host"`
	Port              int       `json:"port"`
	Username          string    `json:"username"`
	Password          string    `json:"-"`
	PasswordEnc       string    `json:"-"`
	HasPassword       bool      `json:"has_password"`
	UseTLS            bool      `json:"use_tls"`
	UseSSL            bool      `json:"use_ssl"`
	FromEmail         string    `json:"from_email"`
	ReplyToEmail      string    `json:"reply_to_email"`
	IsActive          bool      `json:"is_active"`
	DailyLimit        int       `json:"daily_limit"`
	CurrentDailyCount int       `json:"current_daily_count"`
	LastResetDate     string    `json:"last_reset_date"`
	CreatedAt         time.Time `json:"created_at"`
}

// EmailQueue is one scheduled delivery.
type EmailQueue struct {
	ID               string     `json:"id"`
	CampaignID       string     `json:"campaign"`
	CampaignName     string     `json:"campaign_name"`
	TargetID         string     `json:"target"`
	TargetEmail      string     `json:"target_email"`
	CampaignTargetID string     `json:"campaign_target"`
	ScheduledTime    time.Time  `json:"scheduled_time"`
	SentTime         *time.Time `json:"sent_time"`
	Status           string     `json:"status"`
	RetryCount       int        `json:"retry_count"`
	ErrorMessage     string     `json:"error_message"`
	MessageID        string     `json:"message_id"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// EmailEvent is a tracked delivery or engagement event.
type EmailEvent struct {
	ID           string         `json:"id"`
	CampaignID   string         `json:"campaign"`
	CampaignName string         `json:"campaign_name"`
	TargetID     string         `json:"target"`
	TargetEmail  string         `json:"target_email"`
	EventType    string         `json:"event_type"`
	Timestamp    time.Time      `json:"timestamp"`
	IPAddress    string         `json:"ip_address"`
	UserAgent    string         `json:"user_agent"`
	Location     string         `json:"location"`
	MessageID    string         `json:"message_id"`
	BounceReason string         `json:"bounce_reason"`
	Metadata     map[string]any `json:"metadata"`
}
