package automation

import (
	"context"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/providers/telephony"
	"github.com/Ramsey-B/fern/pkg/repositories"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// LeadSourceEmail marks customers created from an inbound email sender
const LeadSourceEmail = "email"

// LogOutboundCall records a call placed from the CRM. The call id is the external id, so
// the status webhooks that follow update this row.
func (r *Router) LogOutboundCall(ctx context.Context, tenantID uuid.UUID, userID, customerID *uuid.UUID, call *telephony.CallResult) (*models.Interaction, error) {
	ctx, span := tracing.StartSpan(ctx, "Router.LogOutboundCall")
	defer span.End()
	ctx = appctx.WithTenant(ctx, tenantID)

	interaction := &models.Interaction{
		Type:            models.InteractionCall,
		Direction:       models.DirectionOutbound,
		Status:          models.InteractionInProgress,
		Subject:         "Call to " + call.To,
		Description:     "Outbound call initiated via CRM",
		UserID:          userID,
		ExternalID:      call.CallID,
		IntegrationType: models.ProviderTelephony,
		OccurredAt:      call.StartTime,
	}
	if interaction.OccurredAt.IsZero() {
		interaction.OccurredAt = r.now()
	}

	if customerID != nil {
		customer, err := r.repos.Customers.GetByID(ctx, *customerID)
		switch {
		case err == nil:
			interaction.CustomerID = &customer.ID
			interaction.AccountID = customer.AccountID
		case repositories.IsNotFound(err):
			r.logger.WithContext(ctx).WithField("customer_id", customerID).Warn("Outbound call customer not found")
		default:
			return nil, err
		}
	}

	if _, err := r.repos.Interactions.Log(ctx, interaction); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("call_id", call.CallID).Error("Failed to log outbound call")
		return nil, err
	}
	return interaction, nil
}

// AutoCreateLeadFromEmail returns the customer with the sender's address, creating a new
// lead when there is none. from may be a bare address or "Name <address>". The bool
// reports whether a customer was created.
func (r *Router) AutoCreateLeadFromEmail(ctx context.Context, tenantID uuid.UUID, from string) (*models.Customer, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "Router.AutoCreateLeadFromEmail")
	defer span.End()
	ctx = appctx.WithTenant(ctx, tenantID)

	address, err := mail.ParseAddress(from)
	if err != nil {
		return nil, false, repositories.BadRequest("invalid sender address: " + from)
	}
	email := strings.ToLower(address.Address)

	existing, err := r.repos.Customers.Find(ctx, repositories.CustomerLookup{Emails: []string{email}})
	if err == nil {
		return existing, false, nil
	}
	if !repositories.IsNotFound(err) {
		return nil, false, err
	}

	name := strings.TrimSpace(address.Name)
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}
	firstName, lastName, _ := strings.Cut(name, " ")
	if firstName == "" {
		firstName = "Unknown"
	}

	source := LeadSourceEmail
	customer := &models.Customer{
		FirstName:  firstName,
		LastName:   strings.TrimSpace(lastName),
		Email:      &email,
		IsLead:     true,
		LeadStatus: models.LeadNew,
		LeadSource: &source,
	}
	if err := r.repos.Customers.Create(ctx, customer); err != nil {
		return nil, false, err
	}
	r.logger.WithContext(ctx).WithField("customer_id", customer.ID).Info("Created lead from email sender")
	return customer, true, nil
}

// ExtractEmails pulls the addresses out of header-style values. Values that do not
// parse are dropped.
func ExtractEmails(values []string) []string {
	var out []string
	for _, v := range values {
		addresses, err := mail.ParseAddressList(v)
		if err != nil {
			continue
		}
		for _, a := range addresses {
			out = append(out, strings.ToLower(a.Address))
		}
	}
	return out
}
