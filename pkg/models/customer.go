package models

import (
	"time"

	"github.com/google/uuid"
)

type LeadStatus string

const (
	LeadNew       LeadStatus = "NEW"
	LeadContacted LeadStatus = "CONTACTED"
	LeadNurturing LeadStatus = "NURTURING"
	LeadQualified LeadStatus = "QUALIFIED"
)

type Customer struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	TenantID       uuid.UUID  `db:"tenant_id" json:"tenant_id"`
	FirstName      string     `db:"first_name" json:"first_name"`
	LastName       string     `db:"last_name" json:"last_name"`
	Email          *string    `db:"email" json:"email,omitempty"`
	Phone          *string    `db:"phone" json:"phone,omitempty"`
	TelegramHandle *string    `db:"telegram_handle" json:"telegram_handle,omitempty"`
	JobTitle       *string    `db:"job_title" json:"job_title,omitempty"`
	AccountID      *uuid.UUID `db:"account_id" json:"account_id,omitempty"`
	IsLead         bool       `db:"is_lead" json:"is_lead"`
	LeadStatus     LeadStatus `db:"lead_status" json:"lead_status"`
	LeadScore      int        `db:"lead_score" json:"lead_score"`
	LeadSource     *string    `db:"lead_source" json:"lead_source,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (Customer) TableName() string {
	return "customers"
}

// Name returns the display name, falling back to the email address
func (c *Customer) Name() string {
	name := c.FirstName
	if c.LastName != "" {
		if name != "" {
			name += " "
		}
		name += c.LastName
	}
	if name == "" && c.Email != nil {
		return *c.Email
	}
	return name
}

type UserRole string

const (
	RoleAdmin   UserRole = "ADMIN"
	RoleManager UserRole = "MANAGER"
	RoleUser    UserRole = "USER"
)

type User struct {
	ID        uuid.UUID `db:"id" json:"id"`
	TenantID  uuid.UUID `db:"tenant_id" json:"tenant_id"`
	Email     string    `db:"email" json:"email"`
	Name      string    `db:"name" json:"name"`
	Role      UserRole  `db:"role" json:"role"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// TableName returns the database table name
func (User) TableName() string {
	return "users"
}
