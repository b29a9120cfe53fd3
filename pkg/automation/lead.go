package automation

import (
	"github.com/Ramsey-B/fern/pkg/models"
)

const maxInteractionPoints = 50

// LeadScore rates how complete and engaged a customer is:
// 10 email, 10 phone, 5 job title, 15 account, 5 per interaction up to 50.
func LeadScore(customer *models.Customer, interactions int) int {
	score := 0
	if customer.Email != nil && *customer.Email != "" {
		score += 10
	}
	if customer.Phone != nil && *customer.Phone != "" {
		score += 10
	}
	if customer.JobTitle != nil && *customer.JobTitle != "" {
		score += 5
	}
	if customer.AccountID != nil {
		score += 15
	}
	return score + min(interactions*5, maxInteractionPoints)
}

// LeadStatusFor derives the lead stage from the interaction count
func LeadStatusFor(interactions int) models.LeadStatus {
	switch {
	case interactions >= 10:
		return models.LeadQualified
	case interactions >= 5:
		return models.LeadNurturing
	case interactions >= 1:
		return models.LeadContacted
	default:
		return models.LeadNew
	}
}
