package models

import "time"

// ResourceKind is the kind of a pulled external resource
type ResourceKind string

const (
	ResourceIssue   ResourceKind = "issue"
	ResourceEmail   ResourceKind = "email"
	ResourceEvent   ResourceKind = "event"
	ResourceCall    ResourceKind = "call"
	ResourceMessage ResourceKind = "message"
)

// ExternalResource is the provider-neutral shape of anything an adapter lists or fetches.
// Provider-specific fields go in Fields under normalized names.
type ExternalResource struct {
	Kind        ResourceKind   `json:"kind"`
	Provider    Provider       `json:"provider"`
	ExternalID  string         `json:"external_id"`
	Key         string         `json:"key,omitempty"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Status      string         `json:"status,omitempty"`
	Priority    string         `json:"priority,omitempty"`
	Assignee    string         `json:"assignee,omitempty"`
	Labels      []string       `json:"labels,omitempty"`
	URL         string         `json:"url,omitempty"`
	CreatedAt   *time.Time     `json:"created_at,omitempty"`
	UpdatedAt   *time.Time     `json:"updated_at,omitempty"`
	Fields      map[string]any `json:"fields,omitempty"`
}

// Field reads a normalized field as a string
func (r *ExternalResource) Field(key string) string {
	return stringValue(r.Fields, key)
}

// Normalized resource field keys
const (
	FieldFrom        = "from"
	FieldTo          = "to"
	FieldStart       = "start"
	FieldEnd         = "end"
	FieldTimeZone    = "time_zone"
	FieldLocation    = "location"
	FieldMeetingLink = "meeting_link"
	FieldAttendees   = "attendees"
	FieldDuration    = "duration"
	FieldRecording   = "recording_url"
	FieldIssueType   = "issue_type"
	FieldReporter    = "reporter"
	FieldTeam        = "team"
	FieldDirection   = "direction"
	FieldChatID      = "chat_id"
)
