// Package gmail adapts the Gmail API for mailbox sync, sending and push notifications.
package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/providers"
	"github.com/Ramsey-B/fern/pkg/providers/gsuite"
)

const (
	me              = "me"
	DefaultSubject  = "(No Subject)"
	SyncQuery       = "newer_than:7d"
	SyncLimit       = 50
	defaultMaxEmail = 20
)

type Email struct {
	ID       string   `json:"id"`
	ThreadID string   `json:"threadId"`
	From     string   `json:"from"`
	To       []string `json:"to"`
	Subject  string   `json:"subject"`
	Snippet  string   `json:"snippet"`
	Body     string   `json:"body,omitempty"`
	Date     int64    `json:"date"` // epoch millis
	Labels   []string `json:"labels"`
}

type SendEmailRequest struct {
	To      string `json:"to" validate:"required,email"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	IsHTML  bool   `json:"isHtml"`
}

type Adapter struct {
	session *gsuite.Session
	logger  ectologger.Logger
}

func New(configs providers.ConfigResolver, tokens gsuite.Tokens, limiter providers.Limiter, timeout time.Duration, logger ectologger.Logger) *Adapter {
	return &Adapter{
		session: gsuite.NewSession(models.ProviderGmail, configs, tokens, limiter, timeout, logger),
		logger:  logger,
	}
}

// WithEndpoint points the adapter at another Gmail API base URL
func (a *Adapter) WithEndpoint(endpoint string) *Adapter {
	a.session.WithEndpoint(endpoint)
	return a
}

func (a *Adapter) Provider() models.Provider { return models.ProviderGmail }

func (a *Adapter) service(ctx context.Context, client *http.Client) (*gmailapi.Service, error) {
	return gmailapi.NewService(ctx, a.session.Options(client)...)
}

// ListEmails lists messages matching query and fetches each in full. Messages that fail
// to load are skipped.
func (a *Adapter) ListEmails(ctx context.Context, tenantID uuid.UUID, query string, max int) ([]Email, error) {
	if max <= 0 {
		max = defaultMaxEmail
	}

	var ids []string
	err := a.session.Do(ctx, tenantID, "list_emails", func(ctx context.Context, client *http.Client) error {
		svc, err := a.service(ctx, client)
		if err != nil {
			return err
		}
		call := svc.Users.Messages.List(me).MaxResults(int64(max)).Context(ctx)
		if query != "" {
			call = call.Q(query)
		}
		resp, err := call.Do()
		if err != nil {
			return err
		}
		ids = ectolinq.Map(resp.Messages, func(m *gmailapi.Message) string { return m.Id })
		return nil
	})
	if err != nil {
		return nil, err
	}

	emails := make([]Email, 0, len(ids))
	for _, id := range ids {
		email, err := a.GetEmail(ctx, tenantID, id)
		if err != nil {
			a.logger.WithContext(ctx).WithError(err).WithField("message_id", id).Warn("Skipping Gmail message that failed to load")
			continue
		}
		emails = append(emails, *email)
	}
	return emails, nil
}

func (a *Adapter) GetEmail(ctx context.Context, tenantID uuid.UUID, id string) (*Email, error) {
	var email *Email
	err := a.session.Do(ctx, tenantID, "get_email", func(ctx context.Context, client *http.Client) error {
		svc, err := a.service(ctx, client)
		if err != nil {
			return err
		}
		msg, err := svc.Users.Messages.Get(me, id).Format("full").Context(ctx).Do()
		if err != nil {
			return err
		}
		email = toEmail(msg)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return email, nil
}

// SendEmail sends a single-part message and returns Gmail's message id
func (a *Adapter) SendEmail(ctx context.Context, tenantID uuid.UUID, req SendEmailRequest) (string, error) {
	raw, err := buildRaw(req)
	if err != nil {
		return "", providers.Permanent(models.ProviderGmail, "send_email", err.Error())
	}

	var id string
	err = a.session.Do(ctx, tenantID, "send_email", func(ctx context.Context, client *http.Client) error {
		svc, err := a.service(ctx, client)
		if err != nil {
			return err
		}
		sent, err := svc.Users.Messages.Send(me, &gmailapi.Message{Raw: raw}).Context(ctx).Do()
		if err != nil {
			return err
		}
		id = sent.Id
		return nil
	})
	if err != nil {
		return "", err
	}
	a.logger.WithContext(ctx).WithFields(map[string]any{"tenant_id": tenantID, "message_id": id}).Info("Sent email via Gmail")
	return id, nil
}

// buildRaw renders an RFC 2822 message, base64url encoded
func buildRaw(req SendEmailRequest) (string, error) {
	to, err := mail.ParseAddress(req.To)
	if err != nil {
		return "", fmt.Errorf("invalid recipient %q: %w", req.To, err)
	}
	contentType := "text/plain"
	if req.IsHTML {
		contentType = "text/html"
	}

	var b strings.Builder
	b.WriteString("To: " + to.String() + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", req.Subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: " + contentType + "; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(req.Body)
	return base64.URLEncoding.EncodeToString([]byte(b.String())), nil
}

func toEmail(msg *gmailapi.Message) *Email {
	email := &Email{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Subject:  DefaultSubject,
		Snippet:  msg.Snippet,
		Date:     msg.InternalDate,
		Labels:   msg.LabelIds,
		To:       []string{},
	}
	if email.Labels == nil {
		email.Labels = []string{}
	}
	if msg.Payload == nil {
		return email
	}
	for _, h := range msg.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "from":
			email.From = h.Value
		case "to":
			for _, addr := range strings.Split(h.Value, ",") {
				if addr = strings.TrimSpace(addr); addr != "" {
					email.To = append(email.To, addr)
				}
			}
		case "subject":
			if h.Value != "" {
				email.Subject = h.Value
			}
		}
	}
	email.Body = extractBody(msg.Payload)
	return email
}

// extractBody returns the whole body of a single-part message, or the first
// text/plain part of a multipart one.
func extractBody(part *gmailapi.MessagePart) string {
	if len(part.Parts) == 0 {
		if part.Body == nil {
			return ""
		}
		return decode(part.Body.Data)
	}
	if plain := findPlain(part.Parts); plain != nil && plain.Body != nil {
		return decode(plain.Body.Data)
	}
	return ""
}

func findPlain(parts []*gmailapi.MessagePart) *gmailapi.MessagePart {
	for _, p := range parts {
		if p.MimeType == "text/plain" {
			return p
		}
		if found := findPlain(p.Parts); found != nil {
			return found
		}
	}
	return nil
}

func decode(data string) string {
	if data == "" {
		return ""
	}
	if b, err := base64.URLEncoding.DecodeString(data); err == nil {
		return string(b)
	}
	if b, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return string(b)
	}
	return ""
}

// Resource converts an email to the canonical resource
func Resource(email Email) models.ExternalResource {
	sent := time.UnixMilli(email.Date).UTC()
	description := email.Body
	if description == "" {
		description = email.Snippet
	}
	return models.ExternalResource{
		Kind:        models.ResourceEmail,
		Provider:    models.ProviderGmail,
		ExternalID:  email.ID,
		Key:         email.ThreadID,
		Title:       email.Subject,
		Description: description,
		Labels:      email.Labels,
		CreatedAt:   &sent,
		Fields: map[string]any{
			models.FieldFrom:      email.From,
			models.FieldTo:        strings.Join(email.To, ", "),
			models.FieldDirection: ectolinq.Ternary(ectolinq.Contains(email.Labels, "SENT"), string(models.DirectionOutbound), string(models.DirectionInbound)),
		},
	}
}

// ListResources lists recent mail. Without a query the window is the last seven days,
// or everything after filter.Since.
func (a *Adapter) ListResources(ctx context.Context, tenantID uuid.UUID, filter providers.ListFilter) ([]models.ExternalResource, error) {
	query := filter.Query
	if query == "" {
		query = SyncQuery
		if filter.Since != nil {
			query = fmt.Sprintf("after:%d", filter.Since.Unix())
		}
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = SyncLimit
	}
	emails, err := a.ListEmails(ctx, tenantID, query, limit)
	if err != nil {
		return nil, err
	}
	return ectolinq.Map(emails, Resource), nil
}

func (a *Adapter) GetResource(ctx context.Context, tenantID uuid.UUID, externalID string) (*models.ExternalResource, error) {
	email, err := a.GetEmail(ctx, tenantID, externalID)
	if err != nil {
		return nil, err
	}
	r := Resource(*email)
	return &r, nil
}

// CreateResource sends an email to fields.to with the title as subject
func (a *Adapter) CreateResource(ctx context.Context, tenantID uuid.UUID, req providers.ResourceRequest) (*models.ExternalResource, error) {
	send := SendEmailRequest{
		To:      req.Field("to"),
		Subject: req.Title,
		Body:    req.Description,
	}
	if isHTML, ok := req.Fields["isHtml"].(bool); ok {
		send.IsHTML = isHTML
	}
	id, err := a.SendEmail(ctx, tenantID, send)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &models.ExternalResource{
		Kind:        models.ResourceEmail,
		Provider:    models.ProviderGmail,
		ExternalID:  id,
		Title:       ectolinq.Ternary(send.Subject != "", send.Subject, DefaultSubject),
		Description: send.Body,
		CreatedAt:   &now,
		Fields: map[string]any{
			models.FieldTo:        send.To,
			models.FieldDirection: string(models.DirectionOutbound),
		},
	}, nil
}

func (a *Adapter) UpdateResource(_ context.Context, _ uuid.UUID, _ string, _ providers.ResourceRequest) (*models.ExternalResource, error) {
	return nil, providers.Permanent(models.ProviderGmail, "update_resource", "sent email cannot be changed")
}

var _ providers.Adapter = (*Adapter)(nil)
