// Package automation turns canonical integration events into CRM records: it logs
// interactions, opens complaint tasks and keeps lead scores current.
package automation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/expressions"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/repositories"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Route steps, used as StepErrors keys
const (
	StepResolveCustomer = "resolve_customer"
	StepLogInteraction  = "log_interaction"
	StepUpdate          = "update"
	StepComplaint       = "complaint"
	StepLeadScore       = "lead_score"
	StepSync            = "sync"
)

// SyncEnqueuer schedules a pull sync for a tenant's provider
type SyncEnqueuer interface {
	EnqueueSync(ctx context.Context, tenantID uuid.UUID, provider models.Provider) error
}

// EventPublisher writes routed events to the audit stream
type EventPublisher interface {
	Publish(ctx context.Context, key string, value any, headers map[string]string) error
}

// Repositories groups the CRM tables the router writes
type Repositories struct {
	Customers    repositories.CustomerRepo
	Interactions repositories.InteractionRepo
	Tasks        repositories.TaskRepo
	Users        repositories.UserRepo
}

// RouteResult describes what routing one event did. Created is false when the
// interaction already existed.
type RouteResult struct {
	Customer    *models.Customer
	Interaction *models.Interaction
	Created     bool
	Complaint   bool
	TaskCreated bool
	LeadScore   *int
	SyncQueued  bool
	StepErrors  map[string]error
}

// Failed reports whether any step errored
func (r *RouteResult) Failed() bool {
	return len(r.StepErrors) > 0
}

// Err joins the step errors into one, or nil
func (r *RouteResult) Err() error {
	if !r.Failed() {
		return nil
	}
	parts := make([]string, 0, len(r.StepErrors))
	for _, step := range []string{StepResolveCustomer, StepLogInteraction, StepUpdate, StepComplaint, StepLeadScore, StepSync} {
		if err, ok := r.StepErrors[step]; ok {
			parts = append(parts, fmt.Sprintf("%s: %v", step, err))
		}
	}
	return fmt.Errorf("routing failed: %s", strings.Join(parts, "; "))
}

func (r *RouteResult) fail(step string, err error) {
	if r.StepErrors == nil {
		r.StepErrors = make(map[string]error)
	}
	r.StepErrors[step] = err
}

// Router runs the automation rules for each event
type Router struct {
	repos     Repositories
	rules     *Rules
	evaluator *expressions.Evaluator
	template  *expressions.Template
	syncs     SyncEnqueuer
	publisher EventPublisher
	logger    ectologger.Logger
	now       func() time.Time
}

// NewRouter builds a router. syncs and publisher may be nil.
func NewRouter(repos Repositories, rules *Rules, syncs SyncEnqueuer, publisher EventPublisher, logger ectologger.Logger) *Router {
	if rules == nil {
		rules = DefaultRules()
	}
	evaluator := expressions.NewEvaluator()
	return &Router{
		repos:     repos,
		rules:     rules,
		evaluator: evaluator,
		template:  expressions.NewTemplate(evaluator),
		syncs:     syncs,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Route applies every step to event. Steps are isolated: a failing step is recorded
// in StepErrors and later steps still run.
func (r *Router) Route(ctx context.Context, event *models.IntegrationEvent) *RouteResult {
	ctx, span := tracing.StartSpan(ctx, "Router.Route")
	defer span.End()

	ctx = appctx.WithTenant(ctx, event.TenantID)
	ctx = appctx.SetProvider(ctx, event.Provider.String())
	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"provider":    event.Provider,
		"event_type":  event.Type,
		"external_id": event.ExternalID,
	})

	result := &RouteResult{}
	doc, err := r.document(event)
	if err != nil {
		result.fail(StepResolveCustomer, err)
	} else {
		customer, err := r.resolveCustomer(ctx, event, doc)
		if err != nil {
			result.fail(StepResolveCustomer, err)
		}
		result.Customer = customer
	}

	switch event.Type {
	case models.EventMessageReceived, models.EventCallCompleted, models.EventCallStatusChanged, models.EventRecordingCompleted:
		r.logInteraction(ctx, event, result)
		r.applyUpdate(ctx, event, result)
		r.detectComplaint(ctx, event, doc, result)
		r.scoreLead(ctx, result)
	case models.EventCalendarChanged, models.EventMailboxChanged:
		r.enqueueSync(ctx, event, result)
	case models.EventIssueUpdated:
		log.WithField("event", event.String(models.PayloadEvent)).Info("Issue webhook received")
	default:
		log.Warn("No automation for event type")
	}

	for step, err := range result.StepErrors {
		metrics.RecordAutomationAction(step, "error")
		log.WithError(err).WithField("step", step).Error("Automation step failed")
	}

	r.publish(ctx, event)
	return result
}

func (r *Router) document(event *models.IntegrationEvent) (map[string]any, error) {
	doc, err := expressions.EventDocument(event)
	if err != nil {
		return nil, fmt.Errorf("failed to build event document: %w", err)
	}
	doc["source"] = sourceName(event.Provider)
	return doc, nil
}

// resolveCustomer matches the identifiers extracted from the event. No match is not an error.
func (r *Router) resolveCustomer(ctx context.Context, event *models.IntegrationEvent, doc map[string]any) (*models.Customer, error) {
	var lookup repositories.CustomerLookup
	for _, rule := range r.rules.Identifiers[event.Provider] {
		values, err := r.evaluator.EvaluateStrings(rule.Expression, doc)
		if err != nil {
			return nil, err
		}
		switch rule.Kind {
		case IdentifierEmail:
			lookup.Emails = append(lookup.Emails, ExtractEmails(values)...)
		case IdentifierPhone:
			lookup.Phones = append(lookup.Phones, values...)
		case IdentifierTelegram:
			for _, v := range values {
				lookup.TelegramHandles = append(lookup.TelegramHandles, strings.TrimPrefix(v, "@"))
			}
		}
	}
	if lookup.Empty() {
		return nil, nil
	}

	customer, err := r.repos.Customers.Find(ctx, lookup)
	if repositories.IsNotFound(err) {
		return nil, nil
	}
	return customer, err
}

func (r *Router) logInteraction(ctx context.Context, event *models.IntegrationEvent, result *RouteResult) {
	interaction := r.interactionFor(event)
	if result.Customer != nil {
		interaction.CustomerID = &result.Customer.ID
		interaction.AccountID = result.Customer.AccountID
	}

	created, err := r.repos.Interactions.Log(ctx, interaction)
	if err != nil {
		result.fail(StepLogInteraction, err)
		return
	}
	result.Interaction = interaction
	result.Created = created
	metrics.RecordAutomationAction("log_interaction", ectolinq.Ternary(created, "created", "duplicate"))
}

func (r *Router) interactionFor(event *models.IntegrationEvent) *models.Interaction {
	occurredAt := event.ReceivedAt
	if occurredAt.IsZero() {
		occurredAt = r.now()
	}
	interaction := &models.Interaction{
		Direction:       models.DirectionInbound,
		Status:          models.InteractionCompleted,
		ExternalID:      event.ExternalID,
		IntegrationType: event.Provider,
		OccurredAt:      occurredAt,
	}

	switch event.Type {
	case models.EventMessageReceived:
		interaction.Type = models.InteractionMessage
		interaction.Subject = sourceName(event.Provider) + " Message"
		interaction.Description = event.Text()
	default:
		interaction.Type = models.InteractionCall
		interaction.Subject = "Call from " + firstNonEmpty(event.String(models.PayloadFrom), "unknown number")
		interaction.Description = "Call status: " + firstNonEmpty(event.String(models.PayloadStatus), "unknown")
		if event.Type == models.EventCallStatusChanged {
			interaction.Status = models.InteractionInProgress
		}
		if event.Type == models.EventCallCompleted {
			duration := event.Int(models.PayloadDuration)
			interaction.DurationSeconds = &duration
		}
	}
	return interaction
}

// applyUpdate runs the event-specific change against the interaction with the event's external id
func (r *Router) applyUpdate(ctx context.Context, event *models.IntegrationEvent, result *RouteResult) {
	if result.Interaction == nil {
		return
	}

	switch event.Type {
	case models.EventCallCompleted:
		duration := event.Int(models.PayloadDuration)
		if err := r.repos.Interactions.Complete(ctx, event.Provider, event.ExternalID, duration); err != nil {
			result.fail(StepUpdate, err)
			return
		}
		result.Interaction.Status = models.InteractionCompleted
		result.Interaction.DurationSeconds = &duration
	case models.EventRecordingCompleted:
		url := event.String(models.PayloadRecordingURL)
		if url == "" || strings.Contains(result.Interaction.Description, url) {
			return
		}
		suffix := "\n\nRecording: " + url
		if err := r.repos.Interactions.AppendDescription(ctx, event.Provider, event.ExternalID, suffix); err != nil {
			result.fail(StepUpdate, err)
			return
		}
		result.Interaction.Description += suffix
	}
}

// detectComplaint opens a task for complaints on newly logged interactions only
func (r *Router) detectComplaint(ctx context.Context, event *models.IntegrationEvent, doc map[string]any, result *RouteResult) {
	result.Complaint = r.rules.IsComplaint(event.Text())
	if !result.Complaint || result.Interaction == nil {
		return
	}
	if !result.Created {
		r.logger.WithContext(ctx).WithField("external_id", event.ExternalID).Debug("Complaint on a redelivered event, task already handled")
		return
	}

	description, err := r.template.Render(r.rules.Complaint.Description, doc)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Warn("Complaint description rendered with errors")
	}

	due := r.now().Add(r.rules.Complaint.DueWithin)
	task := &models.Task{
		Title:         r.rules.Complaint.Title,
		Description:   description,
		Status:        models.TaskPending,
		Priority:      models.PriorityHigh,
		InteractionID: &result.Interaction.ID,
		DueDate:       &due,
	}
	if result.Customer != nil {
		task.CustomerID = &result.Customer.ID
	}

	admin, err := r.repos.Users.FirstByRole(ctx, models.RoleAdmin)
	switch {
	case err == nil:
		task.AssignedTo = &admin.ID
	case !repositories.IsNotFound(err):
		r.logger.WithContext(ctx).WithError(err).Warn("Failed to look up admin for complaint task")
	}

	if err := r.repos.Tasks.Create(ctx, task); err != nil {
		metrics.RecordAutomationAction("complaint_task", "error")
		result.fail(StepComplaint, err)
		return
	}
	result.TaskCreated = true
	metrics.RecordAutomationAction("complaint_task", "created")
	r.logger.WithContext(ctx).WithField("task_id", task.ID).Info("Created complaint task")
}

// scoreLead recomputes the score of the resolved customer and writes it when it changed
func (r *Router) scoreLead(ctx context.Context, result *RouteResult) {
	if result.Customer == nil {
		return
	}
	score, err := r.UpdateLead(ctx, result.Customer)
	if err != nil {
		result.fail(StepLeadScore, err)
		return
	}
	result.LeadScore = &score
}

// UpdateLead recomputes the customer's lead score and status. The status only moves
// for leads. Nothing is written when neither changed.
func (r *Router) UpdateLead(ctx context.Context, customer *models.Customer) (int, error) {
	count, err := r.repos.Interactions.CountByCustomer(ctx, customer.ID)
	if err != nil {
		return 0, err
	}

	score := LeadScore(customer, count)
	status := customer.LeadStatus
	if customer.IsLead {
		status = LeadStatusFor(count)
	}
	if score == customer.LeadScore && status == customer.LeadStatus {
		return score, nil
	}

	if err := r.repos.Customers.UpdateLead(ctx, customer.ID, score, status); err != nil {
		return 0, err
	}
	customer.LeadScore = score
	customer.LeadStatus = status
	metrics.RecordAutomationAction("lead_score", "updated")
	return score, nil
}

func (r *Router) enqueueSync(ctx context.Context, event *models.IntegrationEvent, result *RouteResult) {
	if r.syncs == nil {
		return
	}
	if err := r.syncs.EnqueueSync(ctx, event.TenantID, event.Provider); err != nil {
		result.fail(StepSync, err)
		return
	}
	result.SyncQueued = true
	metrics.RecordAutomationAction("sync", "queued")
}

// publish writes the event to the audit topic. Failures are logged only.
func (r *Router) publish(ctx context.Context, event *models.IntegrationEvent) {
	if r.publisher == nil {
		return
	}
	headers := map[string]string{
		"provider":   event.Provider.String(),
		"event_type": string(event.Type),
		"tenant_id":  event.TenantID.String(),
	}
	if err := r.publisher.Publish(ctx, event.Key(), event, headers); err != nil {
		r.logger.WithContext(ctx).WithError(err).Warn("Failed to publish integration event")
	}
}

func sourceName(provider models.Provider) string {
	switch provider {
	case models.ProviderGmail:
		return "Gmail"
	case models.ProviderCalendar:
		return "Google Calendar"
	case models.ProviderJira:
		return "Jira"
	case models.ProviderLinear:
		return "Linear"
	case models.ProviderTelegram:
		return "Telegram"
	case models.ProviderTelephony:
		return "Telephony"
	default:
		return string(provider)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
