package controllers

import (
	"time"

	"github.com/google/uuid"

	"github.com/dreamsuncharted/funding-backend/internal/funding"
	"github.com/dreamsuncharted/funding-backend/pkg/db/models"
	"github.com/dreamsuncharted/funding-backend/pkg/enums"
)

type tierView struct {
	ID             uuid.UUID `json:"id"`
	Amount         string    `json:"amount"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	MaxBackers     *int      `json:"max_backers,omitempty"`
	CurrentBackers int       `json:"current_backers"`
	Exhausted      bool      `json:"exhausted"`
}

type goalView struct {
	ID                   uuid.UUID               `json:"id"`
	CreatorUserID        uuid.UUID               `json:"creator_user_id"`
	ContentID            *uuid.UUID              `json:"content_id,omitempty"`
	SeriesID             *uuid.UUID              `json:"series_id,omitempty"`
	FundingType          enums.FundingType       `json:"funding_type"`
	Title                string                  `json:"title"`
	Description          string                  `json:"description"`
	TargetAmount         string                  `json:"target_amount"`
	CurrentAmount        string                  `json:"current_amount"`
	Currency             enums.Currency          `json:"currency"`
	Status               enums.FundingGoalStatus `json:"status"`
	Deadline             *time.Time              `json:"deadline,omitempty"`
	CompletedAt          *time.Time              `json:"completed_at,omitempty"`
	TotalDonations       int                     `json:"total_donations"`
	UniqueDonors         int                     `json:"unique_donors"`
	AverageDonation      string                  `json:"average_donation"`
	CompletionPercentage string                  `json:"completion_percentage"`
	RewardTiers          []tierView              `json:"reward_tiers,omitempty"`
	CreatedAt            time.Time               `json:"created_at"`
}

func newGoalView(goal *models.FundingGoal) goalView {
	view := goalView{
		ID:                   goal.ID,
		CreatorUserID:        goal.CreatorUserID,
		ContentID:            goal.ContentID,
		SeriesID:             goal.SeriesID,
		FundingType:          goal.FundingType,
		Title:                goal.Title,
		Description:          goal.Description,
		TargetAmount:         goal.TargetAmount.StringFixed(2),
		CurrentAmount:        goal.CurrentAmount.StringFixed(2),
		Currency:             goal.Currency,
		Status:               goal.Status,
		Deadline:             goal.Deadline,
		CompletedAt:          goal.CompletedAt,
		TotalDonations:       goal.TotalDonations,
		UniqueDonors:         goal.UniqueDonors,
		AverageDonation:      goal.AverageDonation.StringFixed(2),
		CompletionPercentage: goal.CompletionPercentage.StringFixed(2),
		CreatedAt:            goal.CreatedAt,
	}
	for i := range goal.RewardTiers {
		tier := &goal.RewardTiers[i]
		view.RewardTiers = append(view.RewardTiers, tierView{
			ID:             tier.ID,
			Amount:         tier.Amount.StringFixed(2),
			Title:          tier.Title,
			Description:    tier.Description,
			MaxBackers:     tier.MaxBackers,
			CurrentBackers: tier.CurrentBackers,
			Exhausted:      tier.Exhausted(),
		})
	}
	return view
}

// feedDonationView is the trimmed donation shape shown on public goal pages.
type feedDonationView struct {
	DisplayName string     `json:"display_name"`
	Amount      string     `json:"amount"`
	Message     *string    `json:"message,omitempty"`
	TierTitle   *string    `json:"tier_title,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

type snapshotView struct {
	Goal                 goalView           `json:"goal"`
	RecentDonations      []feedDonationView `json:"recent_donations"`
	TimeRemainingSeconds *int64             `json:"time_remaining_seconds,omitempty"`
	TargetReached        bool               `json:"target_reached"`
}

func newSnapshotView(snapshot *funding.Snapshot) snapshotView {
	view := snapshotView{
		Goal:            newGoalView(snapshot.Goal),
		RecentDonations: make([]feedDonationView, 0, len(snapshot.RecentDonations)),
		TargetReached:   snapshot.TargetReached,
	}
	if snapshot.TimeRemaining != nil {
		seconds := int64(snapshot.TimeRemaining.Seconds())
		view.TimeRemainingSeconds = &seconds
	}
	for i := range snapshot.RecentDonations {
		donation := &snapshot.RecentDonations[i]
		item := feedDonationView{
			DisplayName: donation.DisplayName(),
			Amount:      donation.Amount.StringFixed(2),
			Message:     donation.Message,
			ProcessedAt: donation.ProcessedAt,
		}
		if donation.TierApplied {
			item.TierTitle = donation.TierTitle
		}
		view.RecentDonations = append(view.RecentDonations, item)
	}
	return view
}

type donationView struct {
	ID            uuid.UUID             `json:"id"`
	FundingGoalID uuid.UUID             `json:"funding_goal_id"`
	DisplayName   string                `json:"display_name"`
	IsAnonymous   bool                  `json:"is_anonymous"`
	Message       *string               `json:"message,omitempty"`
	Amount        string                `json:"amount"`
	Currency      enums.Currency        `json:"currency"`
	Provider      enums.PaymentProvider `json:"provider"`
	Status        enums.DonationStatus  `json:"status"`
	TierTitle     *string               `json:"tier_title,omitempty"`
	TierApplied   bool                  `json:"tier_applied"`
	ProcessingFee *string               `json:"processing_fee,omitempty"`
	NetAmount     *string               `json:"net_amount,omitempty"`
	FailureReason *string               `json:"failure_reason,omitempty"`
	ProcessedAt   *time.Time            `json:"processed_at,omitempty"`
	RefundedAt    *time.Time            `json:"refunded_at,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
}

func newDonationView(donation *models.Donation) donationView {
	view := donationView{
		ID:            donation.ID,
		FundingGoalID: donation.FundingGoalID,
		DisplayName:   donation.DisplayName(),
		IsAnonymous:   donation.IsAnonymous,
		Message:       donation.Message,
		Amount:        donation.Amount.StringFixed(2),
		Currency:      donation.Currency,
		Provider:      donation.Provider,
		Status:        donation.Status,
		TierTitle:     donation.TierTitle,
		TierApplied:   donation.TierApplied,
		FailureReason: donation.FailureReason,
		ProcessedAt:   donation.ProcessedAt,
		RefundedAt:    donation.RefundedAt,
		CreatedAt:     donation.CreatedAt,
	}
	// Fee and net are meaningful only once the payment settled.
	if donation.Status == enums.DonationStatusCompleted || donation.Status == enums.DonationStatusRefunded {
		fee := donation.ProcessingFee.StringFixed(2)
		net := donation.NetAmount.StringFixed(2)
		view.ProcessingFee = &fee
		view.NetAmount = &net
	}
	return view
}
