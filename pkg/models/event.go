package models

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// EventType is the canonical kind of an inbound webhook
type EventType string

const (
	EventMessageReceived    EventType = "message_received"
	EventCallCompleted      EventType = "call_completed"
	EventCallStatusChanged  EventType = "call_status_changed"
	EventRecordingCompleted EventType = "recording_completed"
	EventIssueUpdated       EventType = "issue_updated"
	EventCalendarChanged    EventType = "calendar_changed"
	EventMailboxChanged     EventType = "mailbox_changed"
)

// Normalized payload keys shared by every adapter
const (
	PayloadText          = "text"
	PayloadFrom          = "from"
	PayloadTo            = "to"
	PayloadStatus        = "status"
	PayloadTimestamp     = "timestamp"
	PayloadDuration      = "duration"
	PayloadRecordingURL  = "recording_url"
	PayloadChatID        = "chat_id"
	PayloadFromID        = "from_id"
	PayloadFromUsername  = "from_username"
	PayloadFromFirstName = "from_first_name"
	PayloadDate          = "date"
	PayloadEvent         = "event"
	PayloadIssueKey      = "issue_key"
	PayloadEmailAddress  = "email_address"
	PayloadResourceID    = "resource_id"
	PayloadResourceState = "resource_state"
	PayloadVendor        = "vendor"
)

// IntegrationEvent is the canonical form of an inbound webhook delivery
type IntegrationEvent struct {
	Provider   Provider       `json:"provider"`
	TenantID   uuid.UUID      `json:"tenant_id"`
	Type       EventType      `json:"type"`
	ExternalID string         `json:"external_id"`
	Payload    map[string]any `json:"payload"`
	ReceivedAt time.Time      `json:"received_at"`
}

// Key identifies the event for partitioning and deduplication
func (e *IntegrationEvent) Key() string {
	return fmt.Sprintf("%s:%s:%s", e.TenantID, e.Provider, e.ExternalID)
}

// String reads a payload field as a string
func (e *IntegrationEvent) String(key string) string {
	return stringValue(e.Payload, key)
}

// Int reads a numeric payload field. Strings are parsed; anything else is zero.
func (e *IntegrationEvent) Int(key string) int {
	switch v := e.Payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// Text is the human-written content of the event, if any
func (e *IntegrationEvent) Text() string {
	return e.String(PayloadText)
}
