// Package notifications pushes CRM events out to a tenant's Telegram chats.
package notifications

import (
	"context"
	"errors"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/credentials"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/providers"
	"github.com/Ramsey-B/fern/pkg/providers/telegram"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Sender delivers one Telegram message
type Sender interface {
	SendMessage(ctx context.Context, tenantID uuid.UUID, req telegram.SendMessageRequest) (*telegram.Message, error)
}

type Dispatcher struct {
	configs providers.ConfigResolver
	sender  Sender
	logger  ectologger.Logger
}

func NewDispatcher(configs providers.ConfigResolver, sender Sender, logger ectologger.Logger) *Dispatcher {
	return &Dispatcher{configs: configs, sender: sender, logger: logger}
}

// Notify sends text to every chat in the tenant's enabled telegram config. It reports
// false when nothing could be sent or any chat failed.
func (d *Dispatcher) Notify(ctx context.Context, tenantID uuid.UUID, kind, text string) bool {
	ctx, span := tracing.StartSpan(ctx, "Dispatcher.Notify")
	defer span.End()
	ctx = appctx.WithTenant(ctx, tenantID)
	log := d.logger.WithContext(ctx).WithFields(map[string]any{"tenant_id": tenantID, "kind": kind})

	config, err := d.configs.Resolve(ctx, tenantID, models.ProviderTelegram)
	if err != nil {
		if !errors.Is(err, providers.ErrNotConfigured) && !errors.Is(err, providers.ErrDisabled) {
			log.WithError(err).Warn("Failed to load telegram config for notification")
		}
		metrics.RecordNotification(kind, "skipped")
		return false
	}
	chatIDs := credentials.ChatIDs(config)
	if len(chatIDs) == 0 {
		log.Debug("No telegram chat ids configured")
		metrics.RecordNotification(kind, "skipped")
		return false
	}

	ok := true
	for _, chatID := range chatIDs {
		_, err := d.sender.SendMessage(ctx, tenantID, telegram.SendMessageRequest{
			ChatID:    chatID,
			Text:      text,
			ParseMode: telegram.ParseModeHTML,
		})
		if err != nil {
			log.WithError(err).WithField("chat_id", chatID).Warn("Failed to send telegram notification")
			metrics.RecordNotification(kind, "error")
			ok = false
			// no bot token means no chat can succeed
			if errors.Is(err, providers.ErrNotConfigured) {
				return false
			}
			continue
		}
		metrics.RecordNotification(kind, "sent")
	}
	return ok
}
