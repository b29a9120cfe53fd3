package automation

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Ramsey-B/fern/pkg/expressions"
	"github.com/Ramsey-B/fern/pkg/models"
)

// Identifier kinds a customer can be matched on
const (
	IdentifierEmail    = "email"
	IdentifierPhone    = "phone"
	IdentifierTelegram = "telegram"
)

// DefaultComplaintKeywords are matched case-insensitively as substrings of the event text
var DefaultComplaintKeywords = []string{
	"complaint", "complain", "unhappy", "disappointed", "angry",
	"frustrated", "terrible", "awful", "worst", "never again",
	"refund", "cancel", "sue", "lawyer", "unacceptable",
	"problem", "issue", "broken", "not working", "failed",
}

const (
	DefaultComplaintTitle = "Handle Customer Complaint"
	DefaultComplaintDue   = 24 * time.Hour

	// DefaultComplaintDescription renders against the event document plus "source"
	DefaultComplaintDescription = "Complaint received via {{ source }}:\n" +
		"From: {{ payload.from_username || payload.from_first_name || payload.from || 'Unknown' }}\n" +
		"Message: {{ payload.text }}\n\n" +
		"Please review and respond promptly."
)

// IdentifierRule extracts candidate identifiers of one kind from an event
type IdentifierRule struct {
	Kind       string `yaml:"kind"`
	Expression string `yaml:"expression"`
}

// ComplaintRule configures complaint detection and the task it creates
type ComplaintRule struct {
	Keywords    []string      `yaml:"keywords"`
	Title       string        `yaml:"title"`
	Description string        `yaml:"description"`
	DueWithin   time.Duration `yaml:"due_within"`
}

// Rules is the automation rules file
type Rules struct {
	Complaint   ComplaintRule                        `yaml:"complaint"`
	Identifiers map[models.Provider][]IdentifierRule `yaml:"identifiers"`
}

// DefaultRules returns the built-in rule set
func DefaultRules() *Rules {
	return &Rules{
		Complaint: ComplaintRule{
			Keywords:    append([]string(nil), DefaultComplaintKeywords...),
			Title:       DefaultComplaintTitle,
			Description: DefaultComplaintDescription,
			DueWithin:   DefaultComplaintDue,
		},
		Identifiers: map[models.Provider][]IdentifierRule{
			models.ProviderTelegram: {
				{Kind: IdentifierTelegram, Expression: "payload.from_username"},
			},
			models.ProviderTelephony: {
				{Kind: IdentifierPhone, Expression: "payload.from"},
				{Kind: IdentifierPhone, Expression: "payload.to"},
			},
			models.ProviderGmail: {
				{Kind: IdentifierEmail, Expression: "payload.from"},
			},
		},
	}
}

// LoadRules reads a YAML rules file. An empty path yields the defaults, and sections
// missing from the file keep their default values.
func LoadRules(path string) (*Rules, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read automation rules %s: %w", path, err)
	}
	return ParseRules(data)
}

// ParseRules decodes YAML rules over the defaults and validates them
func ParseRules(data []byte) (*Rules, error) {
	rules := DefaultRules()
	var file Rules
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse automation rules: %w", err)
	}

	if len(file.Complaint.Keywords) > 0 {
		rules.Complaint.Keywords = file.Complaint.Keywords
	}
	if file.Complaint.Title != "" {
		rules.Complaint.Title = file.Complaint.Title
	}
	if file.Complaint.Description != "" {
		rules.Complaint.Description = file.Complaint.Description
	}
	if file.Complaint.DueWithin > 0 {
		rules.Complaint.DueWithin = file.Complaint.DueWithin
	}
	for provider, identifiers := range file.Identifiers {
		rules.Identifiers[provider] = identifiers
	}

	if err := rules.Validate(expressions.NewEvaluator()); err != nil {
		return nil, err
	}
	return rules, nil
}

// Validate checks identifier kinds and compiles every expression
func (r *Rules) Validate(evaluator *expressions.Evaluator) error {
	for provider, identifiers := range r.Identifiers {
		if _, err := models.ParseProvider(string(provider)); err != nil {
			return fmt.Errorf("identifiers: %w", err)
		}
		for _, rule := range identifiers {
			switch rule.Kind {
			case IdentifierEmail, IdentifierPhone, IdentifierTelegram:
			default:
				return fmt.Errorf("identifiers.%s: unknown kind %q", provider, rule.Kind)
			}
			if err := evaluator.Validate(rule.Expression); err != nil {
				return fmt.Errorf("identifiers.%s: invalid expression %q: %w", provider, rule.Expression, err)
			}
		}
	}
	if err := expressions.NewTemplate(evaluator).Validate(r.Complaint.Description); err != nil {
		return fmt.Errorf("complaint.description: %w", err)
	}
	return nil
}

// IsComplaint reports whether text contains any complaint keyword
func (r *Rules) IsComplaint(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, keyword := range r.Complaint.Keywords {
		if keyword != "" && strings.Contains(lower, strings.ToLower(keyword)) {
			return true
		}
	}
	return false
}
