package model

import (
	"encoding/json"
	"strings"
	"time"
)

// Import statuses.
const (
	ImportProcessing = "processing"
	ImportCompleted  = "completed"
	ImportFailed     = "failed"
)

// DefaultTagColor is used when a tag is created without a color.
const DefaultTagColor = "#007bff"

// TargetTag labels targets within an organization.
type TargetTag struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization"`
	Name           string    `json:"name"`
	Color          string    `json:"color"`
	CreatedAt      time.Time `json:"created_at"`
	TargetsCount   int       `json:"targets_count"`
}

// Target is an employee that can receive simulated phishing emails.
type Target struct {
	ID             string      `json:"id"`
	OrganizationID string      `json:"organization"`
	Email          string      `json:"email"`
	FirstName      string      `json:"first_name"`
	LastName       string      `json:"last_name"`
	Department     string      `json:"department"`
	JobTitle       string      `json:"job_title"`
	Phone          string      `json:"phone"`
	RiskLevel      string      `json:"risk_level"`
	IsActive       bool        `json:"is_active"`
	CreatedAt      time.Time   `json:"created_at"`
	Tags           []TargetTag `json:"tags"`
}

// FullName joins first and last name.
func (t Target) FullName() string {
	return strings.TrimSpace(t.FirstName + " " + t.LastName)
}

// MarshalJSON adds full_name.
func (t Target) MarshalJSON() ([]byte, error) {
	type alias Target
	tags := t.Tags
	if tags == nil {
		tags = []TargetTag{}
	}
	a := alias(t)
	a.Tags = tags
	return json.Marshal(struct {
		alias
		FullName string `json:"full_name"`
	}{alias: a, FullName: t.FullName()})
}

// TargetGroup is a named set of targets.
type TargetGroup struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	CreatedBy      string    `json:"created_by"`
	CreatedByName  string    `json:"created_by_name"`
	CreatedAt      time.Time `json:"created_at"`
	TargetsCount   int       `json:"targets_count"`
	Targets        []Target  `json:"targets,omitempty"`
}

// TargetImport records one bulk import run.
type TargetImport struct {
	ID                string    `json:"id"`
	OrganizationID    string    `json:"organization"`
	FileName          string    `json:"file_name"`
	TotalRecords      int       `json:"total_records"`
	SuccessfulImports int       `json:"successful_imports"`
	FailedImports     int       `json:"failed_imports"`
	Status            string    `json:"status"`
	ErrorLog          string    `json:"error_log"`
	ImportedBy        string    `json:"imported_by"`
	ImportedByName    string    `json:"imported_by_name"`
	CreatedAt         time.Time `json:"created_at"`
}

// SuccessRate is successful/total as a percentage.
func (i TargetImport) SuccessRate() float64 {
	return Percent(i.SuccessfulImports, i.TotalRecords)
}

// MarshalJSON adds success_rate.
func (i TargetImport) MarshalJSON() ([]byte, error) {
	type alias TargetImport
	return json.Marshal(struct {
		alias
		SuccessRate float64 `json:"success_rate"`
	}{alias: alias(i), SuccessRate: i.SuccessRate()})
}
