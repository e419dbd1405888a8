package funding

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dreamsuncharted/funding-backend/pkg/content"
	"github.com/dreamsuncharted/funding-backend/pkg/db/models"
	"github.com/dreamsuncharted/funding-backend/pkg/enums"
	pkgerrors "github.com/dreamsuncharted/funding-backend/pkg/errors"
	"github.com/dreamsuncharted/funding-backend/pkg/pagination"
)

// RecentDonationLister exposes the slice of the donation store the snapshot
// needs. Implemented by the donations repository.
type RecentDonationLister interface {
	ListRecentCompleted(ctx context.Context, goalID uuid.UUID, limit int) ([]models.Donation, error)
}

// Service defines funding goal management and read operations.
type Service interface {
	CreateGoal(ctx context.Context, actor Actor, input CreateGoalInput) (*models.FundingGoal, error)
	UpdateGoal(ctx context.Context, actor Actor, goalID uuid.UUID, input UpdateGoalInput) (*models.FundingGoal, error)
	SetGoalStatus(ctx context.Context, actor Actor, goalID uuid.UUID, status enums.FundingGoalStatus) (*models.FundingGoal, error)
	DeleteGoal(ctx context.Context, actor Actor, goalID uuid.UUID) error
	GetGoal(ctx context.Context, goalID uuid.UUID) (*models.FundingGoal, error)
	GetSnapshot(ctx context.Context, goalID uuid.UUID) (*Snapshot, error)
	ListGoals(ctx context.Context, filter ListFilter, params pagination.Params) ([]models.FundingGoal, pagination.Meta, error)
}

// Actor identifies the authenticated caller for authorization checks.
type Actor struct {
	UserID uuid.UUID
	Role   enums.MemberRole
}

// CreateGoalInput carries the fields needed to open a funding goal.
type CreateGoalInput struct {
	ContentID    *uuid.UUID
	SeriesID     *uuid.UUID
	FundingType  enums.FundingType
	Title        string
	Description  string
	TargetAmount decimal.Decimal
	Currency     enums.Currency
	Deadline     *time.Time
	RewardTiers  []TierInput
}

// TierInput is a reward tier definition supplied at goal creation.
type TierInput struct {
	Amount      decimal.Decimal
	Title       string
	Description string
	MaxBackers  *int
}

// UpdateGoalInput carries the editable goal fields. Nil means unchanged.
type UpdateGoalInput struct {
	Title         *string
	Description   *string
	TargetAmount  *decimal.Decimal
	Deadline      *time.Time
	ClearDeadline bool
}

// Snapshot is the eventually consistent read model for a goal page.
type Snapshot struct {
	Goal            *models.FundingGoal
	RecentDonations []models.Donation
	TimeRemaining   *time.Duration
	TargetReached   bool
}

type service struct {
	repo                 Repository
	donations            RecentDonationLister
	ownership            content.Resolver
	recentDonationsLimit int
}

// NewService wires the funding goal service.
func NewService(repo Repository, donations RecentDonationLister, ownership content.Resolver, recentDonationsLimit int) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("funding repository required")
	}
	if donations == nil {
		return nil, fmt.Errorf("donation lister required")
	}
	if recentDonationsLimit <= 0 {
		recentDonationsLimit = 10
	}
	return &service{
		repo:                 repo,
		donations:            donations,
		ownership:            ownership,
		recentDonationsLimit: recentDonationsLimit,
	}, nil
}

func (s *service) CreateGoal(ctx context.Context, actor Actor, input CreateGoalInput) (*models.FundingGoal, error) {
	if !actor.Role.CanManageGoals() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only creators can open funding goals")
	}
	if !input.FundingType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid funding type %q", input.FundingType))
	}
	if input.Title == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "title is required")
	}
	if !input.TargetAmount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "target amount must be positive")
	}
	currency := input.Currency
	if currency == "" {
		currency = enums.CurrencyUSD
	}
	if !currency.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid currency %q", input.Currency))
	}
	if input.Deadline != nil && input.Deadline.Before(time.Now()) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "deadline must be in the future")
	}

	if err := s.checkOwnership(ctx, actor, input.ContentID, input.SeriesID); err != nil {
		return nil, err
	}

	goal := &models.FundingGoal{
		CreatorUserID: actor.UserID,
		ContentID:     input.ContentID,
		SeriesID:      input.SeriesID,
		FundingType:   input.FundingType,
		Title:         input.Title,
		Description:   input.Description,
		TargetAmount:  input.TargetAmount,
		CurrentAmount: decimal.Zero,
		Currency:      currency,
		Status:        enums.FundingGoalStatusActive,
		Deadline:      input.Deadline,
	}

	for i, tier := range input.RewardTiers {
		if !tier.Amount.IsPositive() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "tier amounts must be positive")
		}
		if tier.MaxBackers != nil && *tier.MaxBackers <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "tier max backers must be positive")
		}
		goal.RewardTiers = append(goal.RewardTiers, models.RewardTier{
			Position:    i,
			Amount:      tier.Amount,
			Title:       tier.Title,
			Description: tier.Description,
			MaxBackers:  tier.MaxBackers,
		})
	}

	if err := s.repo.Create(ctx, goal); err != nil {
		return nil, err
	}
	return goal, nil
}

func (s *service) UpdateGoal(ctx context.Context, actor Actor, goalID uuid.UUID, input UpdateGoalInput) (*models.FundingGoal, error) {
	goal, err := s.authorizeGoalWrite(ctx, actor, goalID)
	if err != nil {
		return nil, err
	}
	if goal.Status == enums.FundingGoalStatusCompleted || goal.Status == enums.FundingGoalStatusCancelled {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "goal is closed and cannot be edited")
	}

	if input.Title != nil {
		if *input.Title == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "title cannot be empty")
		}
		goal.Title = *input.Title
	}
	if input.Description != nil {
		goal.Description = *input.Description
	}
	if input.TargetAmount != nil {
		if !input.TargetAmount.IsPositive() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "target amount must be positive")
		}
		// The target only moves while nothing has been raised; changing it
		// afterwards would silently rewrite completion math.
		if goal.CurrentAmount.IsPositive() {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "target cannot change once donations arrived")
		}
		goal.TargetAmount = *input.TargetAmount
	}
	if input.ClearDeadline {
		goal.Deadline = nil
	} else if input.Deadline != nil {
		if input.Deadline.Before(time.Now()) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "deadline must be in the future")
		}
		goal.Deadline = input.Deadline
	}

	if err := s.repo.Update(ctx, goal); err != nil {
		return nil, err
	}
	return goal, nil
}

func (s *service) SetGoalStatus(ctx context.Context, actor Actor, goalID uuid.UUID, status enums.FundingGoalStatus) (*models.FundingGoal, error) {
	goal, err := s.authorizeGoalWrite(ctx, actor, goalID)
	if err != nil {
		return nil, err
	}

	switch status {
	case enums.FundingGoalStatusPaused:
		if goal.Status != enums.FundingGoalStatusActive {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only active goals can be paused")
		}
	case enums.FundingGoalStatusActive:
		if goal.Status != enums.FundingGoalStatusPaused {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only paused goals can be resumed")
		}
	case enums.FundingGoalStatusCancelled:
		if goal.Status == enums.FundingGoalStatusCompleted {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "completed goals cannot be cancelled")
		}
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("status %q cannot be set directly", status))
	}

	goal.Status = status
	if err := s.repo.Update(ctx, goal); err != nil {
		return nil, err
	}
	return goal, nil
}

func (s *service) DeleteGoal(ctx context.Context, actor Actor, goalID uuid.UUID) error {
	if _, err := s.authorizeGoalWrite(ctx, actor, goalID); err != nil {
		return err
	}
	return s.repo.Delete(ctx, goalID)
}

func (s *service) GetGoal(ctx context.Context, goalID uuid.UUID) (*models.FundingGoal, error) {
	return s.repo.FindByID(ctx, goalID)
}

func (s *service) GetSnapshot(ctx context.Context, goalID uuid.UUID) (*Snapshot, error) {
	goal, err := s.repo.FindByID(ctx, goalID)
	if err != nil {
		return nil, err
	}

	recent, err := s.donations.ListRecentCompleted(ctx, goalID, s.recentDonationsLimit)
	if err != nil {
		return nil, err
	}

	snapshot := &Snapshot{
		Goal:            goal,
		RecentDonations: recent,
		TargetReached:   goal.TargetReached(),
	}
	if goal.Deadline != nil {
		remaining := time.Until(*goal.Deadline)
		if remaining < 0 {
			remaining = 0
		}
		snapshot.TimeRemaining = &remaining
	}
	return snapshot, nil
}

func (s *service) ListGoals(ctx context.Context, filter ListFilter, params pagination.Params) ([]models.FundingGoal, pagination.Meta, error) {
	params = pagination.Normalize(params)
	goals, total, err := s.repo.List(ctx, filter, params)
	if err != nil {
		return nil, pagination.Meta{}, err
	}
	return goals, pagination.NewMeta(params, total), nil
}

func (s *service) authorizeGoalWrite(ctx context.Context, actor Actor, goalID uuid.UUID) (*models.FundingGoal, error) {
	goal, err := s.repo.FindByID(ctx, goalID)
	if err != nil {
		return nil, err
	}
	if goal.CreatorUserID != actor.UserID && !actor.Role.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "goal belongs to another creator")
	}
	return goal, nil
}

func (s *service) checkOwnership(ctx context.Context, actor Actor, contentID, seriesID *uuid.UUID) error {
	// Admins may open goals on behalf of creators; the publishing service
	// is only consulted for self-serve creators.
	if actor.Role.IsAdmin() || s.ownership == nil {
		return nil
	}
	if contentID != nil {
		owns, err := s.ownership.IsContentOwner(ctx, *contentID, actor.UserID)
		if err != nil {
			return err
		}
		if !owns {
			return pkgerrors.New(pkgerrors.CodeForbidden, "content belongs to another creator")
		}
	}
	if seriesID != nil {
		owns, err := s.ownership.IsSeriesOwner(ctx, *seriesID, actor.UserID)
		if err != nil {
			return err
		}
		if !owns {
			return pkgerrors.New(pkgerrors.CodeForbidden, "series belongs to another creator")
		}
	}
	return nil
}
