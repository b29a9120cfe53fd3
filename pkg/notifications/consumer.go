package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/kafka"
)

// DefaultTopic carries CRM-side change events
const DefaultTopic = "crm-events"

// CRM event types
const (
	EventCustomerCreated  = "customer.created"
	EventCustomerUpdated  = "customer.updated"
	EventCustomerDeleted  = "customer.deleted"
	EventTaskCreated      = "task.created"
	EventTaskUpdated      = "task.updated"
	EventTaskCompleted    = "task.completed"
	EventInteractionAdded = "interaction.created"
	EventAccountCreated   = "account.created"
	EventGeneric          = "notification.generic"
)

// CRMEvent is the envelope published by the CRM on DefaultTopic
type CRMEvent struct {
	Type     string          `json:"type"`
	TenantID uuid.UUID       `json:"tenant_id"`
	Data     json.RawMessage `json:"data"`
}

type generic struct {
	Title   string            `json:"title"`
	Details map[string]string `json:"details"`
}

// Handler turns CRM events into notifications
type Handler struct {
	dispatcher *Dispatcher
	now        func() time.Time
}

func NewHandler(dispatcher *Dispatcher) *Handler {
	return &Handler{dispatcher: dispatcher, now: time.Now}
}

// Handle is a kafka.MessageHandler. Undecodable messages return an error; unknown
// event types are skipped.
func (h *Handler) Handle(ctx context.Context, msg *kafka.ReceivedMessage) error {
	var event CRMEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to decode crm event: %w", err)
	}
	if event.TenantID == uuid.Nil {
		return fmt.Errorf("crm event %q has no tenant_id", event.Type)
	}

	text, err := h.render(event)
	if err != nil {
		return fmt.Errorf("failed to decode %s data: %w", event.Type, err)
	}
	if text == "" {
		h.dispatcher.logger.WithContext(ctx).WithField("type", event.Type).Debug("Skipping unknown crm event")
		return nil
	}
	h.dispatcher.Notify(ctx, event.TenantID, event.Type, text)
	return nil
}

func (h *Handler) render(event CRMEvent) (string, error) {
	switch event.Type {
	case EventCustomerCreated, EventCustomerUpdated, EventCustomerDeleted:
		var c Customer
		if err := decode(event.Data, &c); err != nil {
			return "", err
		}
		switch event.Type {
		case EventCustomerCreated:
			return CustomerCreated(c), nil
		case EventCustomerUpdated:
			return CustomerUpdated(c), nil
		default:
			return CustomerDeleted(c, h.now()), nil
		}
	case EventTaskCreated, EventTaskUpdated, EventTaskCompleted:
		var t Task
		if err := decode(event.Data, &t); err != nil {
			return "", err
		}
		switch event.Type {
		case EventTaskCreated:
			return TaskCreated(t), nil
		case EventTaskUpdated:
			return TaskUpdated(t), nil
		default:
			return TaskCompleted(t), nil
		}
	case EventInteractionAdded:
		var i Interaction
		if err := decode(event.Data, &i); err != nil {
			return "", err
		}
		return InteractionLogged(i), nil
	case EventAccountCreated:
		var a Account
		if err := decode(event.Data, &a); err != nil {
			return "", err
		}
		return AccountCreated(a), nil
	case EventGeneric:
		var g generic
		if err := decode(event.Data, &g); err != nil {
			return "", err
		}
		keys := make([]string, 0, len(g.Details))
		for k := range g.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return Generic(g.Title, keys, g.Details, h.now()), nil
	default:
		return "", nil
	}
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
