package donations

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dreamsuncharted/funding-backend/internal/funding"
	"github.com/dreamsuncharted/funding-backend/internal/providers"
	"github.com/dreamsuncharted/funding-backend/pkg/db/models"
	"github.com/dreamsuncharted/funding-backend/pkg/enums"
	pkgerrors "github.com/dreamsuncharted/funding-backend/pkg/errors"
	"github.com/dreamsuncharted/funding-backend/pkg/logger"
	"github.com/dreamsuncharted/funding-backend/pkg/pagination"
)

const maxMessageLength = 500

// Service defines the donation intake surface. A donation is born pending,
// gets a provider handle attached (processing), and reaches a terminal state
// only through webhook reconciliation.
type Service interface {
	Initiate(ctx context.Context, input InitiateInput) (*models.Donation, error)
	IssueHandle(ctx context.Context, donationID uuid.UUID, sourceID string) (*models.Donation, *providers.Handle, error)
	GetDonation(ctx context.Context, donationID uuid.UUID) (*models.Donation, error)
	ListByDonor(ctx context.Context, donorUserID uuid.UUID, params pagination.Params) ([]models.Donation, pagination.Meta, error)
	ListDonations(ctx context.Context, filter ListFilter, params pagination.Params) ([]models.Donation, pagination.Meta, error)
}

// InitiateInput carries the fields for opening a donation.
type InitiateInput struct {
	FundingGoalID uuid.UUID
	DonorUserID   *uuid.UUID
	DonorName     *string
	DonorEmail    *string
	IsAnonymous   bool
	Message       *string
	Amount        decimal.Decimal
	Provider      enums.PaymentProvider
	RewardTierID  *uuid.UUID
}

type service struct {
	repo     Repository
	goals    funding.Repository
	registry *providers.Registry
	logg     *logger.Logger
}

// NewService wires the donation service.
func NewService(repo Repository, goals funding.Repository, registry *providers.Registry, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("donation repository required")
	}
	if goals == nil {
		return nil, fmt.Errorf("funding repository required")
	}
	if registry == nil {
		return nil, fmt.Errorf("provider registry required")
	}
	return &service{repo: repo, goals: goals, registry: registry, logg: logg}, nil
}

func (s *service) Initiate(ctx context.Context, input InitiateInput) (*models.Donation, error) {
	adapter, err := s.registry.Get(input.Provider)
	if err != nil {
		return nil, err
	}
	if !input.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if input.Amount.LessThan(adapter.MinimumAmount()) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("minimum donation for %s is %s", adapter.Name(), adapter.MinimumAmount()))
	}
	if input.Message != nil && len([]rune(*input.Message)) > maxMessageLength {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "message exceeds 500 characters")
	}

	goal, err := s.goals.FindByID(ctx, input.FundingGoalID)
	if err != nil {
		return nil, err
	}
	if goal.Status != enums.FundingGoalStatusActive {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("goal is %s and not accepting donations", goal.Status))
	}
	if goal.Deadline != nil && goal.Deadline.Before(time.Now()) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "goal deadline has passed")
	}

	donation := &models.Donation{
		FundingGoalID: goal.ID,
		DonorUserID:   input.DonorUserID,
		DonorName:     input.DonorName,
		DonorEmail:    input.DonorEmail,
		IsAnonymous:   input.IsAnonymous,
		Message:       input.Message,
		Amount:        input.Amount,
		Currency:      goal.Currency,
		Provider:      input.Provider,
		Status:        enums.DonationStatusPending,
	}

	if input.RewardTierID != nil {
		tier, err := s.goals.FindTier(ctx, goal.ID, *input.RewardTierID)
		if err != nil {
			return nil, err
		}
		if input.Amount.LessThan(tier.Amount) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation,
				fmt.Sprintf("tier %q requires at least %s", tier.Title, tier.Amount))
		}
		// Advisory only; the slot is claimed under the reconciliation
		// transaction when payment settles.
		if tier.Exhausted() {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "reward tier has no remaining slots")
		}
		donation.RewardTierID = &tier.ID
		donation.TierAmount = &tier.Amount
		donation.TierTitle = &tier.Title
		donation.TierDescription = &tier.Description
	}

	if err := s.repo.Create(ctx, donation); err != nil {
		return nil, err
	}

	if s.logg != nil {
		s.logg.Info(s.logg.WithDonationID(ctx, donation.ID.String()), "donation initiated")
	}
	return donation, nil
}

// IssueHandle opens the payment with the provider and moves the donation to
// processing. The correlation id is persisted before the client ever sees
// the handle, so a webhook can never race an unknown reference.
func (s *service) IssueHandle(ctx context.Context, donationID uuid.UUID, sourceID string) (*models.Donation, *providers.Handle, error) {
	donation, err := s.repo.FindByID(ctx, donationID)
	if err != nil {
		return nil, nil, err
	}
	if donation.Status != enums.DonationStatusPending {
		return nil, nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("donation is %s; a handle can only be issued once", donation.Status))
	}

	adapter, err := s.registry.Get(donation.Provider)
	if err != nil {
		return nil, nil, err
	}

	handle, err := adapter.CreateHandle(ctx, providers.HandleRequest{
		DonationID:    donation.ID,
		FundingGoalID: donation.FundingGoalID,
		Amount:        donation.Amount,
		Currency:      donation.Currency,
		DonorEmail:    donation.DonorEmail,
		SourceID:      sourceID,
	})
	if err != nil {
		return nil, nil, err
	}

	moved, err := s.repo.MarkProcessing(ctx, donation.ID, handle.CorrelationID)
	if err != nil {
		return nil, nil, err
	}
	if !moved {
		return nil, nil, pkgerrors.New(pkgerrors.CodeStateConflict, "donation already left pending")
	}
	donation.Status = enums.DonationStatusProcessing
	donation.CorrelationID = &handle.CorrelationID

	if s.logg != nil {
		s.logg.Info(s.logg.WithDonationID(ctx, donation.ID.String()), "payment handle issued")
	}
	return donation, handle, nil
}

func (s *service) GetDonation(ctx context.Context, donationID uuid.UUID) (*models.Donation, error) {
	return s.repo.FindByID(ctx, donationID)
}

func (s *service) ListByDonor(ctx context.Context, donorUserID uuid.UUID, params pagination.Params) ([]models.Donation, pagination.Meta, error) {
	params = pagination.Normalize(params)
	rows, total, err := s.repo.ListByDonor(ctx, donorUserID, params)
	if err != nil {
		return nil, pagination.Meta{}, err
	}
	return rows, pagination.NewMeta(params, total), nil
}

func (s *service) ListDonations(ctx context.Context, filter ListFilter, params pagination.Params) ([]models.Donation, pagination.Meta, error) {
	params = pagination.Normalize(params)
	rows, total, err := s.repo.List(ctx, filter, params)
	if err != nil {
		return nil, pagination.Meta{}, err
	}
	return rows, pagination.NewMeta(params, total), nil
}
