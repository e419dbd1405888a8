package reconcile

import (
	"time"

	"github.com/dreamsuncharted/funding-backend/pkg/db/models"
)

// donationEventPayload is the outbox data for donation lifecycle events.
// Donor identity is reduced to the public display name so downstream
// consumers never see emails or anonymous donors' names.
type donationEventPayload struct {
	DonationID    string  `json:"donationId"`
	FundingGoalID string  `json:"fundingGoalId"`
	DisplayName   string  `json:"displayName"`
	Amount        string  `json:"amount"`
	Currency      string  `json:"currency"`
	Status        string  `json:"status"`
	Message       *string `json:"message,omitempty"`
	TierTitle     *string `json:"tierTitle,omitempty"`
	TierApplied   bool    `json:"tierApplied"`
}

func newDonationEventPayload(donation *models.Donation) donationEventPayload {
	payload := donationEventPayload{
		DonationID:    donation.ID.String(),
		FundingGoalID: donation.FundingGoalID.String(),
		DisplayName:   donation.DisplayName(),
		Amount:        donation.Amount.StringFixed(2),
		Currency:      string(donation.Currency),
		Status:        string(donation.Status),
		TierApplied:   donation.TierApplied,
	}
	if !donation.IsAnonymous {
		payload.Message = donation.Message
	}
	if donation.TierApplied {
		payload.TierTitle = donation.TierTitle
	}
	return payload
}

type goalCompletedPayload struct {
	FundingGoalID  string `json:"fundingGoalId"`
	CreatorUserID  string `json:"creatorUserId"`
	Title          string `json:"title"`
	FundingType    string `json:"fundingType"`
	TargetAmount   string `json:"targetAmount"`
	CurrentAmount  string `json:"currentAmount"`
	TotalDonations int    `json:"totalDonations"`
	UniqueDonors   int    `json:"uniqueDonors"`
	CompletedAt    string `json:"completedAt,omitempty"`
}

func newGoalCompletedPayload(goal *models.FundingGoal) goalCompletedPayload {
	payload := goalCompletedPayload{
		FundingGoalID:  goal.ID.String(),
		CreatorUserID:  goal.CreatorUserID.String(),
		Title:          goal.Title,
		FundingType:    string(goal.FundingType),
		TargetAmount:   goal.TargetAmount.StringFixed(2),
		CurrentAmount:  goal.CurrentAmount.StringFixed(2),
		TotalDonations: goal.TotalDonations,
		UniqueDonors:   goal.UniqueDonors,
	}
	if goal.CompletedAt != nil {
		payload.CompletedAt = goal.CompletedAt.UTC().Format(time.RFC3339)
	}
	return payload
}
