package models

import (
	"time"

	"github.com/google/uuid"
)

type InteractionType string

const (
	InteractionMessage InteractionType = "MESSAGE"
	InteractionCall    InteractionType = "CALL"
	InteractionEmail   InteractionType = "EMAIL"
	InteractionMeeting InteractionType = "MEETING"
)

type InteractionDirection string

const (
	DirectionInbound  InteractionDirection = "INBOUND"
	DirectionOutbound InteractionDirection = "OUTBOUND"
)

type InteractionStatus string

const (
	InteractionCompleted  InteractionStatus = "COMPLETED"
	InteractionInProgress InteractionStatus = "IN_PROGRESS"
	InteractionScheduled  InteractionStatus = "SCHEDULED"
)

// Interaction is a CRM activity record. At most one row exists per
// (tenant, integration type, external id).
type Interaction struct {
	ID              uuid.UUID            `db:"id" json:"id"`
	TenantID        uuid.UUID            `db:"tenant_id" json:"tenant_id"`
	Type            InteractionType      `db:"type" json:"type"`
	Direction       InteractionDirection `db:"direction" json:"direction"`
	Status          InteractionStatus    `db:"status" json:"status"`
	Subject         string               `db:"subject" json:"subject"`
	Description     string               `db:"description" json:"description"`
	DurationSeconds *int                 `db:"duration_seconds" json:"duration_seconds,omitempty"`
	CustomerID      *uuid.UUID           `db:"customer_id" json:"customer_id,omitempty"`
	AccountID       *uuid.UUID           `db:"account_id" json:"account_id,omitempty"`
	UserID          *uuid.UUID           `db:"user_id" json:"user_id,omitempty"`
	ExternalID      string               `db:"external_id" json:"external_id"`
	IntegrationType Provider             `db:"integration_type" json:"integration_type"`
	OccurredAt      time.Time            `db:"occurred_at" json:"occurred_at"`
	CreatedAt       time.Time            `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time            `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (Interaction) TableName() string {
	return "interactions"
}
