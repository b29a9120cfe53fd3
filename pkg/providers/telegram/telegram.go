// Package telegram adapts the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/credentials"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/providers"
)

const (
	DefaultBaseURL = "https://api.telegram.org"
	ParseModeHTML  = "HTML"
)

// AllowedUpdates are the update kinds the bot subscribes to
var AllowedUpdates = []string{"message", "callback_query"}

type Message struct {
	MessageID        int64  `json:"message_id"`
	ChatID           int64  `json:"chat_id"`
	FromID           int64  `json:"from_id,omitempty"`
	FromUsername     string `json:"from_username,omitempty"`
	FromFirstName    string `json:"from_first_name,omitempty"`
	Text             string `json:"text,omitempty"`
	Date             int64  `json:"date"`
	ReplyToMessageID int64  `json:"reply_to_message_id,omitempty"`
}

type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

type SendMessageRequest struct {
	ChatID           int64  `json:"chat_id" validate:"required"`
	Text             string `json:"text" validate:"required"`
	ParseMode        string `json:"parse_mode,omitempty"`
	ReplyToMessageID int64  `json:"reply_to_message_id,omitempty"`
}

type BotInfo struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

// wire shapes
type user struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

type messageDTO struct {
	MessageID int64 `json:"message_id"`
	Chat      struct {
		ID int64 `json:"id"`
	} `json:"chat"`
	From           *user       `json:"from"`
	Text           string      `json:"text"`
	Date           int64       `json:"date"`
	ReplyToMessage *messageDTO `json:"reply_to_message"`
}

func (m *messageDTO) toMessage() *Message {
	msg := &Message{
		MessageID: m.MessageID,
		ChatID:    m.Chat.ID,
		Text:      m.Text,
		Date:      m.Date,
	}
	if m.From != nil {
		msg.FromID = m.From.ID
		msg.FromUsername = m.From.Username
		msg.FromFirstName = m.From.FirstName
	}
	if m.ReplyToMessage != nil {
		msg.ReplyToMessageID = m.ReplyToMessage.MessageID
	}
	return msg
}

type updateDTO struct {
	UpdateID *int64      `json:"update_id"`
	Message  *messageDTO `json:"message"`
}

type apiResponse[T any] struct {
	OK          bool   `json:"ok"`
	Result      T      `json:"result"`
	Description string `json:"description"`
}

// Adapter calls the Bot API as the tenant's bot
type Adapter struct {
	configs      providers.ConfigResolver
	client       *resty.Client
	caller       *providers.Caller
	baseURL      string
	defaultToken string
	logger       ectologger.Logger
}

// New creates the adapter. defaultToken is used for tenants without a botToken of their own.
func New(configs providers.ConfigResolver, client *resty.Client, limiter providers.Limiter, timeout time.Duration, baseURL, defaultToken string, logger ectologger.Logger) *Adapter {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Adapter{
		configs:      configs,
		client:       client,
		caller:       providers.NewCaller(models.ProviderTelegram, limiter, timeout, logger),
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		defaultToken: defaultToken,
		logger:       logger,
	}
}

func (a *Adapter) Provider() models.Provider { return models.ProviderTelegram }

// botToken prefers the tenant's credential and falls back to the process-wide token
// when the tenant has no telegram config at all.
func (a *Adapter) botToken(ctx context.Context, tenantID uuid.UUID) (string, error) {
	config, err := a.configs.Resolve(ctx, tenantID, models.ProviderTelegram)
	switch {
	case err == nil:
		if token := config.Secret("botToken"); token != "" {
			return token, nil
		}
	case errors.Is(err, providers.ErrNotConfigured):
	default:
		return "", err
	}
	if a.defaultToken == "" {
		return "", providers.NotConfigured(models.ProviderTelegram)
	}
	return a.defaultToken, nil
}

func (a *Adapter) method(token, name string) string {
	return a.baseURL + "/bot" + token + "/" + name
}

func checkOK(op string, ok bool, description string) error {
	if ok {
		return nil
	}
	if description == "" {
		description = "telegram returned ok=false"
	}
	return providers.Permanent(models.ProviderTelegram, op, description)
}

// SendMessage posts a message. Parse mode defaults to HTML.
func (a *Adapter) SendMessage(ctx context.Context, tenantID uuid.UUID, req SendMessageRequest) (*Message, error) {
	token, err := a.botToken(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if req.ParseMode == "" {
		req.ParseMode = ParseModeHTML
	}

	var out apiResponse[messageDTO]
	err = a.caller.Do(ctx, tenantID, "send_message", func(ctx context.Context) error {
		resp, err := a.client.R().
			SetContext(ctx).
			SetBody(req).
			SetResult(&out).
			Post(a.method(token, "sendMessage"))
		if err := providers.Check(models.ProviderTelegram, "send_message", resp, err); err != nil {
			return err
		}
		return checkOK("send_message", out.OK, out.Description)
	})
	if err != nil {
		return nil, err
	}
	return out.Result.toMessage(), nil
}

// GetUpdates polls for updates. It fails while a webhook is registered.
func (a *Adapter) GetUpdates(ctx context.Context, tenantID uuid.UUID, offset *int64, limit int) ([]Update, error) {
	token, err := a.botToken(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	var out apiResponse[[]updateDTO]
	err = a.caller.Do(ctx, tenantID, "get_updates", func(ctx context.Context) error {
		r := a.client.R().
			SetContext(ctx).
			SetQueryParam("limit", strconv.Itoa(limit)).
			SetResult(&out)
		if offset != nil {
			r.SetQueryParam("offset", strconv.FormatInt(*offset, 10))
		}
		resp, err := r.Get(a.method(token, "getUpdates"))
		if err := providers.Check(models.ProviderTelegram, "get_updates", resp, err); err != nil {
			return err
		}
		return checkOK("get_updates", out.OK, out.Description)
	})
	if err != nil {
		return nil, err
	}

	updates := make([]Update, 0, len(out.Result))
	for _, u := range out.Result {
		if u.UpdateID == nil {
			continue
		}
		update := Update{UpdateID: *u.UpdateID}
		if u.Message != nil {
			update.Message = u.Message.toMessage()
		}
		updates = append(updates, update)
	}
	return updates, nil
}

func (a *Adapter) SetWebhook(ctx context.Context, tenantID uuid.UUID, webhookURL string) error {
	token, err := a.botToken(ctx, tenantID)
	if err != nil {
		return err
	}
	if webhookURL == "" {
		return providers.Permanent(models.ProviderTelegram, "set_webhook", "webhook url is required")
	}
	var out apiResponse[bool]
	return a.caller.Do(ctx, tenantID, "set_webhook", func(ctx context.Context) error {
		resp, err := a.client.R().
			SetContext(ctx).
			SetBody(map[string]any{"url": webhookURL, "allowed_updates": AllowedUpdates}).
			SetResult(&out).
			Post(a.method(token, "setWebhook"))
		if err := providers.Check(models.ProviderTelegram, "set_webhook", resp, err); err != nil {
			return err
		}
		return checkOK("set_webhook", out.OK, out.Description)
	})
}

func (a *Adapter) DeleteWebhook(ctx context.Context, tenantID uuid.UUID) error {
	token, err := a.botToken(ctx, tenantID)
	if err != nil {
		return err
	}
	var out apiResponse[bool]
	return a.caller.Do(ctx, tenantID, "delete_webhook", func(ctx context.Context) error {
		resp, err := a.client.R().
			SetContext(ctx).
			SetResult(&out).
			Get(a.method(token, "deleteWebhook"))
		if err := providers.Check(models.ProviderTelegram, "delete_webhook", resp, err); err != nil {
			return err
		}
		return checkOK("delete_webhook", out.OK, out.Description)
	})
}

func (a *Adapter) GetMe(ctx context.Context, tenantID uuid.UUID) (*BotInfo, error) {
	token, err := a.botToken(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	var out apiResponse[BotInfo]
	err = a.caller.Do(ctx, tenantID, "get_me", func(ctx context.Context) error {
		resp, err := a.client.R().
			SetContext(ctx).
			SetResult(&out).
			Get(a.method(token, "getMe"))
		if err := providers.Check(models.ProviderTelegram, "get_me", resp, err); err != nil {
			return err
		}
		return checkOK("get_me", out.OK, out.Description)
	})
	if err != nil {
		return nil, err
	}
	return &out.Result, nil
}

// Resource converts a message to the canonical resource
func Resource(msg Message) models.ExternalResource {
	sent := time.Unix(msg.Date, 0).UTC()
	from := msg.FromUsername
	if from == "" {
		from = msg.FromFirstName
	}
	return models.ExternalResource{
		Kind:        models.ResourceMessage,
		Provider:    models.ProviderTelegram,
		ExternalID:  strconv.FormatInt(msg.MessageID, 10),
		Title:       msg.Text,
		Description: msg.Text,
		CreatedAt:   &sent,
		Fields: map[string]any{
			models.FieldChatID: msg.ChatID,
			models.FieldFrom:   from,
		},
	}
}

// ListResources returns messages from pending updates. Telegram is not pull-capable for
// sync; this exists for manual inspection of bots without a webhook.
func (a *Adapter) ListResources(ctx context.Context, tenantID uuid.UUID, filter providers.ListFilter) ([]models.ExternalResource, error) {
	updates, err := a.GetUpdates(ctx, tenantID, nil, filter.Limit)
	if err != nil {
		return nil, err
	}
	resources := make([]models.ExternalResource, 0, len(updates))
	for _, u := range updates {
		if u.Message != nil {
			resources = append(resources, Resource(*u.Message))
		}
	}
	return resources, nil
}

func (a *Adapter) GetResource(_ context.Context, _ uuid.UUID, _ string) (*models.ExternalResource, error) {
	return nil, providers.Permanent(models.ProviderTelegram, "get_resource", "telegram messages cannot be fetched by id")
}

// CreateResource sends a message. The chat comes from fields.chatId; the text is the
// description, or the title when there is no description.
func (a *Adapter) CreateResource(ctx context.Context, tenantID uuid.UUID, req providers.ResourceRequest) (*models.ExternalResource, error) {
	chatID, ok := credentials.ParseChatID(req.Fields["chatId"])
	if !ok {
		return nil, providers.Permanent(models.ProviderTelegram, "send_message", "fields.chatId is required")
	}
	text := req.Description
	if text == "" {
		text = req.Title
	}
	msg, err := a.SendMessage(ctx, tenantID, SendMessageRequest{ChatID: chatID, Text: text})
	if err != nil {
		return nil, err
	}
	r := Resource(*msg)
	return &r, nil
}

func (a *Adapter) UpdateResource(_ context.Context, _ uuid.UUID, _ string, _ providers.ResourceRequest) (*models.ExternalResource, error) {
	return nil, providers.Permanent(models.ProviderTelegram, "update_resource", "telegram messages cannot be edited")
}

var _ providers.Adapter = (*Adapter)(nil)
