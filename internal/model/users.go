package model

import (
	"encoding/json"
	"strings"
	"time"
)

// User roles.
const (
	RoleAdmin    = "admin"
	RoleCustomer = "customer"
	RoleTarget   = "target"
)

// Roles lists the accepted user roles.
var Roles = []string{RoleAdmin, RoleCustomer, RoleTarget}

// Organization choices.
var (
	Industries = []string{"technology", "finance", "healthcare", "education", "government", "retail", "manufacturing", "other"}
	OrgSizes   = []string{"small", "medium", "large", "enterprise"}
)

// Security and risk levels share the same scale.
const (
	LevelLow      = "low"
	LevelMedium   = "medium"
	LevelHigh     = "high"
	LevelCritical = "critical"
)

// Levels lists low..critical.
var Levels = []string{LevelLow, LevelMedium, LevelHigh, LevelCritical}

// Organization is a tenant.
type Organization struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Domain           string    `json:"domain"`
	Industry         string    `json:"industry"`
	Size             string    `json:"size"`
	SubscriptionTier string    `json:"subscription_tier"`
	IsActive         bool      `json:"is_active"`
	CreatedAt        time.Time `json:"created_at"`
	UsersCount       int       `json:"users_count"`
}

// User is an account. Email is the login identifier.
type User struct {
	ID               string       `json:"id"`
	Username         string       `json:"username"`
	Email            string       `json:"email"`
	PasswordHash     string       `json:"-"`
	FirstName        string       `json:"first_name"`
	LastName         string       `json:"last_name"`
	Role             string       `json:"role"`
	OrganizationID   string       `json:"organization"`
	OrganizationName string       `json:"organization_name"`
	Phone            string       `json:"phone"`
	IsVerified       bool         `json:"is_verified"`
	IsActive         bool         `json:"is_active"`
	IsStaff          bool         `json:"is_staff"`
	LastLogin        *time.Time   `json:"last_login"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
	Profile          *UserProfile `json:"profile"`
}

// FullName joins first and last name.
func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// HasOrganization reports whether the user belongs to a tenant.
func (u User) HasOrganization() bool { return u.OrganizationID != "" }

// MarshalJSON adds full_name and renders a missing organization as null.
func (u User) MarshalJSON() ([]byte, error) {
	type alias User
	var org *string
	if u.OrganizationID != "" {
		org = &u.OrganizationID
	}
	return json.Marshal(struct {
		alias
		OrganizationID *string `json:"organization"`
		FullName       string  `json:"full_name"`
	}{alias: alias(u), OrganizationID: org, FullName: u.FullName()})
}

// UserProfile holds optional employee details.
type UserProfile struct {
	Department       string     `json:"department"`
	JobTitle         string     `json:"job_title"`
	SecurityLevel    string     `json:"security_level"`
	LastTrainingDate *time.Time `json:"last_training_date"`
}
