package funding

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/dreamsuncharted/funding-backend/pkg/db/models"
	"github.com/dreamsuncharted/funding-backend/pkg/enums"
	pkgerrors "github.com/dreamsuncharted/funding-backend/pkg/errors"
	"github.com/dreamsuncharted/funding-backend/pkg/pagination"
)

// ErrVersionConflict signals the goal aggregate changed underneath an update.
// Callers retry the whole transaction.
var ErrVersionConflict = errors.New("funding goal version conflict")

// AggregateUpdate carries the recomputed goal columns written under the
// version guard.
type AggregateUpdate struct {
	CurrentAmount        decimal.Decimal
	TotalDonations       int
	UniqueDonors         int
	AverageDonation      decimal.Decimal
	CompletionPercentage decimal.Decimal
	Status               enums.FundingGoalStatus
	CompletedAt          *time.Time
}

// ListFilter narrows goal listings.
type ListFilter struct {
	CreatorUserID *uuid.UUID
	SeriesID      *uuid.UUID
	Status        *enums.FundingGoalStatus
	FundingType   *enums.FundingType
}

// Repository manages persistence for funding goals and reward tiers.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Create(ctx context.Context, goal *models.FundingGoal) error
	Update(ctx context.Context, goal *models.FundingGoal) error
	Delete(ctx context.Context, goalID uuid.UUID) error
	FindByID(ctx context.Context, goalID uuid.UUID) (*models.FundingGoal, error)
	List(ctx context.Context, filter ListFilter, params pagination.Params) ([]models.FundingGoal, int64, error)

	UpdateAggregates(ctx context.Context, goalID uuid.UUID, expectedVersion int64, update AggregateUpdate) error
	CountDistinctDonors(ctx context.Context, goalID uuid.UUID) (int, error)

	FindTier(ctx context.Context, goalID, tierID uuid.UUID) (*models.RewardTier, error)
	TryIncrementTierBackers(ctx context.Context, tierID uuid.UUID) (bool, error)
	DecrementTierBackers(ctx context.Context, tierID uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a funding repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, goal *models.FundingGoal) error {
	return r.db.WithContext(ctx).Create(goal).Error
}

func (r *repository) Update(ctx context.Context, goal *models.FundingGoal) error {
	return r.db.WithContext(ctx).Save(goal).Error
}

// Delete removes a goal that has not collected anything yet. Goals with
// completed donations are cancelled, never deleted.
func (r *repository) Delete(ctx context.Context, goalID uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Where("id = ? AND current_amount = 0", goalID).
		Delete(&models.FundingGoal{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "goal has donations and cannot be deleted")
	}
	return nil
}

func (r *repository) FindByID(ctx context.Context, goalID uuid.UUID) (*models.FundingGoal, error) {
	var goal models.FundingGoal
	err := r.db.WithContext(ctx).
		Preload("RewardTiers", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC, amount ASC")
		}).
		First(&goal, "id = ?", goalID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "funding goal not found")
		}
		return nil, err
	}
	return &goal, nil
}

func (r *repository) List(ctx context.Context, filter ListFilter, params pagination.Params) ([]models.FundingGoal, int64, error) {
	params = pagination.Normalize(params)

	q := r.db.WithContext(ctx).Model(&models.FundingGoal{})
	if filter.CreatorUserID != nil {
		q = q.Where("creator_user_id = ?", *filter.CreatorUserID)
	}
	if filter.SeriesID != nil {
		q = q.Where("series_id = ?", *filter.SeriesID)
	}
	if filter.Status != nil {
		q = q.Where("status = ?", *filter.Status)
	}
	if filter.FundingType != nil {
		q = q.Where("funding_type = ?", *filter.FundingType)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var goals []models.FundingGoal
	err := q.Order("created_at DESC").
		Limit(params.Limit).
		Offset(params.Offset()).
		Find(&goals).Error
	if err != nil {
		return nil, 0, err
	}
	return goals, total, nil
}

// UpdateAggregates writes the recomputed aggregate columns guarded by the
// version read at the start of reconciliation. A missed guard means another
// reconciliation committed first.
func (r *repository) UpdateAggregates(ctx context.Context, goalID uuid.UUID, expectedVersion int64, update AggregateUpdate) error {
	values := map[string]any{
		"current_amount":        update.CurrentAmount,
		"total_donations":       update.TotalDonations,
		"unique_donors":         update.UniqueDonors,
		"average_donation":      update.AverageDonation,
		"completion_percentage": update.CompletionPercentage,
		"status":                update.Status,
		"completed_at":          update.CompletedAt,
		"version":               expectedVersion + 1,
		"updated_at":            time.Now(),
	}
	res := r.db.WithContext(ctx).
		Model(&models.FundingGoal{}).
		Where("id = ? AND version = ?", goalID, expectedVersion).
		Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (r *repository) CountDistinctDonors(ctx context.Context, goalID uuid.UUID) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Donation{}).
		Where("funding_goal_id = ? AND status = ? AND donor_user_id IS NOT NULL", goalID, enums.DonationStatusCompleted).
		Distinct("donor_user_id").
		Count(&count).Error
	return int(count), err
}

func (r *repository) FindTier(ctx context.Context, goalID, tierID uuid.UUID) (*models.RewardTier, error) {
	var tier models.RewardTier
	err := r.db.WithContext(ctx).
		First(&tier, "id = ? AND funding_goal_id = ?", tierID, goalID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "reward tier not found")
		}
		return nil, err
	}
	return &tier, nil
}

// TryIncrementTierBackers claims a backer slot. The capacity check lives in
// the WHERE clause so two concurrent claims cannot both take the last slot.
func (r *repository) TryIncrementTierBackers(ctx context.Context, tierID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.RewardTier{}).
		Where("id = ? AND (max_backers IS NULL OR current_backers < max_backers)", tierID).
		Updates(map[string]any{
			"current_backers": gorm.Expr("current_backers + 1"),
			"updated_at":      time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) DecrementTierBackers(ctx context.Context, tierID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.RewardTier{}).
		Where("id = ? AND current_backers > 0", tierID).
		Updates(map[string]any{
			"current_backers": gorm.Expr("current_backers - 1"),
			"updated_at":      time.Now(),
		}).Error
}
