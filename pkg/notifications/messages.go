package notifications

import (
	"fmt"
	"html"
	"strings"
	"time"
)

const descriptionPreview = 100

// Customer is the customer shape carried on CRM events
type Customer struct {
	FirstName  string     `json:"first_name"`
	LastName   string     `json:"last_name"`
	Email      string     `json:"email"`
	Phone      string     `json:"phone"`
	LeadStatus string     `json:"lead_status"`
	LeadSource string     `json:"lead_source"`
	CreatedAt  *time.Time `json:"created_at"`
	UpdatedAt  *time.Time `json:"updated_at"`
}

func (c Customer) name() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

type Task struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	DueDate     *time.Time `json:"due_date"`
	AssignedTo  string     `json:"assigned_to"`
	CreatedAt   *time.Time `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

type Interaction struct {
	Type      string     `json:"type"`
	Direction string     `json:"direction"`
	Subject   string     `json:"subject"`
	Customer  string     `json:"customer"`
	CreatedAt *time.Time `json:"created_at"`
}

type Account struct {
	Name      string     `json:"name"`
	Website   string     `json:"website"`
	Industry  string     `json:"industry"`
	CreatedAt *time.Time `json:"created_at"`
}

// message builds a Telegram HTML message. Values are escaped, labels are not.
type message struct {
	b strings.Builder
}

func newMessage(icon, title string) *message {
	m := &message{}
	if icon != "" {
		m.b.WriteString(icon + " ")
	}
	fmt.Fprintf(&m.b, "<b>%s</b>\n\n", html.EscapeString(title))
	return m
}

func (m *message) line(icon, label, value string) *message {
	if value == "" {
		return m
	}
	if icon != "" {
		m.b.WriteString(icon + " ")
	}
	fmt.Fprintf(&m.b, "<b>%s:</b> %s\n", html.EscapeString(label), html.EscapeString(value))
	return m
}

func (m *message) footer(label string, at *time.Time) string {
	switch {
	case at == nil:
	case label == "":
		fmt.Fprintf(&m.b, "\n<i>%s</i>", formatTime(at))
	default:
		fmt.Fprintf(&m.b, "\n<i>%s: %s</i>", label, formatTime(at))
	}
	return strings.TrimRight(m.b.String(), "\n")
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func CustomerCreated(c Customer) string {
	return newMessage("🆕", "New Customer Created").
		line("👤", "Name", c.name()).
		line("📧", "Email", c.Email).
		line("📞", "Phone", c.Phone).
		line("📊", "Status", c.LeadStatus).
		line("🔗", "Source", c.LeadSource).
		footer("Created at", c.CreatedAt)
}

func CustomerUpdated(c Customer) string {
	return newMessage("✏️", "Customer Updated").
		line("👤", "Name", c.name()).
		line("📧", "Email", c.Email).
		line("📊", "Status", c.LeadStatus).
		footer("Updated at", c.UpdatedAt)
}

func CustomerDeleted(c Customer, at time.Time) string {
	return newMessage("🗑️", "Customer Deleted").
		line("👤", "Name", c.name()).
		line("📧", "Email", c.Email).
		footer("Deleted at", &at)
}

// TaskCreated shows the first 100 characters of the description
func TaskCreated(t Task) string {
	return newMessage("✅", "New Task Created").
		line("📝", "Title", t.Title).
		line("📄", "Description", truncate(t.Description, descriptionPreview)).
		line("📊", "Status", t.Status).
		line("⚡", "Priority", t.Priority).
		line("📅", "Due Date", formatTime(t.DueDate)).
		line("👤", "Assigned To", t.AssignedTo).
		footer("Created at", t.CreatedAt)
}

func TaskUpdated(t Task) string {
	return newMessage("✏️", "Task Updated").
		line("📝", "Title", t.Title).
		line("📊", "Status", t.Status).
		line("📅", "Due Date", formatTime(t.DueDate)).
		footer("Updated at", t.UpdatedAt)
}

func TaskCompleted(t Task) string {
	return newMessage("🎉", "Task Completed").
		line("📝", "Title", t.Title).
		line("👤", "Completed By", t.AssignedTo).
		line("✅", "Completed At", formatTime(t.CompletedAt)).
		footer("", nil)
}

func InteractionLogged(i Interaction) string {
	return newMessage("💬", "New Interaction").
		line("📋", "Type", i.Type).
		line("📊", "Direction", i.Direction).
		line("📝", "Subject", i.Subject).
		line("👤", "Customer", i.Customer).
		footer("Created at", i.CreatedAt)
}

func AccountCreated(a Account) string {
	return newMessage("🏢", "New Account Created").
		line("📛", "Name", a.Name).
		line("🌐", "Website", a.Website).
		line("🏭", "Industry", a.Industry).
		footer("Created at", a.CreatedAt)
}

// Generic renders a title and key/value details in the given key order
func Generic(title string, keys []string, details map[string]string, at time.Time) string {
	m := newMessage("", title)
	for _, k := range keys {
		m.line("", k, details[k])
	}
	return m.footer("", &at)
}
