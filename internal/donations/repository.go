package donations

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

// ListFilter narrows admin donation listings.
type ListFilter struct {
	FundingGoalID *uuid.UUID
	DonorUserID   *uuid.UUID
	Status        *enums.DonationStatus
	Provider      *enums.PaymentProvider
}

// CompletionUpdate carries the provider facts recorded when a donation
// settles.
type CompletionUpdate struct {
	TransactionID string
	ProcessingFee decimal.Decimal
	NetAmount     decimal.Decimal
	ProcessedAt   time.Time
}

// Repository manages persistence for donation rows. All state transitions
// are conditional updates keyed on the current status, so replayed webhook
// events and concurrent workers cannot move a row twice.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Create(ctx context.Context, donation *models.Donation) error
	FindByID(ctx context.Context, donationID uuid.UUID) (*models.Donation, error)
	FindByCorrelationID(ctx context.Context, correlationID string) (*models.Donation, error)

	MarkProcessing(ctx context.Context, donationID uuid.UUID, correlationID string) (bool, error)
	MarkCompleted(ctx context.Context, donationID uuid.UUID, update CompletionUpdate) (bool, error)
	MarkFailed(ctx context.Context, donationID uuid.UUID, reason string) (bool, error)
	MarkCancelled(ctx context.Context, donationID uuid.UUID, reason string) (bool, error)
	MarkRefunded(ctx context.Context, donationID uuid.UUID, reason string) (bool, error)
	SetTierApplied(ctx context.Context, donationID uuid.UUID, applied bool) error

	ListRecentCompleted(ctx context.Context, goalID uuid.UUID, limit int) ([]models.Donation, error)
	ListByDonor(ctx context.Context, donorUserID uuid.UUID, params pagination.Params) ([]models.Donation, int64, error)
	List(ctx context.Context, filter ListFilter, params pagination.Params) ([]models.Donation, int64, error)
	FindStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.Donation, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, donation *models.Donation) error {
	return r.db.WithContext(ctx).Create(donation).Error
}

func (r *repository) FindByID(ctx context.Context, donationID uuid.UUID) (*models.Donation, error) {
	var donation models.Donation
	err := r.db.WithContext(ctx).First(&donation, "id = ?", donationID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "donation not found")
		}
		return nil, err
	}
	return &donation, nil
}

func (r *repository) FindByCorrelationID(ctx context.Context, correlationID string) (*models.Donation, error) {
	var donation models.Donation
	err := r.db.WithContext(ctx).First(&donation, "correlation_id = ?", correlationID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "donation not found for correlation id")
		}
		return nil, err
	}
	return &donation, nil
}

// MarkProcessing attaches the provider handle and moves a pending row to
// processing. Returns false when the row already left pending.
func (r *repository) MarkProcessing(ctx context.Context, donationID uuid.UUID, correlationID string) (bool, error) {
	return r.transition(ctx, donationID, []enums.DonationStatus{enums.DonationStatusPending}, map[string]any{
		"status":         enums.DonationStatusProcessing,
		"correlation_id": correlationID,
	})
}

func (r *repository) MarkCompleted(ctx context.Context, donationID uuid.UUID, update CompletionUpdate) (bool, error) {
	return r.transition(ctx, donationID, []enums.DonationStatus{enums.DonationStatusProcessing}, map[string]any{
		"status":         enums.DonationStatusCompleted,
		"transaction_id": update.TransactionID,
		"processing_fee": update.ProcessingFee,
		"net_amount":     update.NetAmount,
		"processed_at":   update.ProcessedAt,
	})
}

func (r *repository) MarkFailed(ctx context.Context, donationID uuid.UUID, reason string) (bool, error) {
	return r.transition(ctx, donationID, []enums.DonationStatus{enums.DonationStatusProcessing}, map[string]any{
		"status":         enums.DonationStatusFailed,
		"failure_reason": reason,
	})
}

// MarkCancelled closes a donation that never reached a provider outcome.
// Pending rows expire through the sweeper; processing rows are cancelled
// when the provider reports the attempt abandoned.
func (r *repository) MarkCancelled(ctx context.Context, donationID uuid.UUID, reason string) (bool, error) {
	return r.transition(ctx, donationID, []enums.DonationStatus{enums.DonationStatusPending, enums.DonationStatusProcessing}, map[string]any{
		"status":         enums.DonationStatusCancelled,
		"failure_reason": reason,
	})
}

func (r *repository) MarkRefunded(ctx context.Context, donationID uuid.UUID, reason string) (bool, error) {
	now := time.Now()
	return r.transition(ctx, donationID, []enums.DonationStatus{enums.DonationStatusCompleted}, map[string]any{
		"status":        enums.DonationStatusRefunded,
		"refunded_at":   now,
		"refund_reason": reason,
	})
}

func (r *repository) SetTierApplied(ctx context.Context, donationID uuid.UUID, applied bool) error {
	return r.db.WithContext(ctx).
		Model(&models.Donation{}).
		Where("id = ?", donationID).
		Updates(map[string]any{
			"tier_applied": applied,
			"updated_at":   time.Now(),
		}).Error
}

func (r *repository) transition(ctx context.Context, donationID uuid.UUID, from []enums.DonationStatus, values map[string]any) (bool, error) {
	values["updated_at"] = time.Now()
	res := r.db.WithContext(ctx).
		Model(&models.Donation{}).
		Where("id = ? AND status IN ?", donationID, from).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) ListRecentCompleted(ctx context.Context, goalID uuid.UUID, limit int) ([]models.Donation, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows []models.Donation
	err := r.db.WithContext(ctx).
		Where("funding_goal_id = ? AND status = ? AND is_anonymous = ?", goalID, enums.DonationStatusCompleted, false).
		Order("processed_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListByDonor(ctx context.Context, donorUserID uuid.UUID, params pagination.Params) ([]models.Donation, int64, error) {
	params = pagination.Normalize(params)

	q := r.db.WithContext(ctx).Model(&models.Donation{}).Where("donor_user_id = ?", donorUserID)
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.Donation
	err := q.Order("created_at DESC").
		Limit(params.Limit).
		Offset(params.Offset()).
		Find(&rows).Error
	return rows, total, err
}

func (r *repository) List(ctx context.Context, filter ListFilter, params pagination.Params) ([]models.Donation, int64, error) {
	params = pagination.Normalize(params)

	q := r.db.WithContext(ctx).Model(&models.Donation{})
	if filter.FundingGoalID != nil {
		q = q.Where("funding_goal_id = ?", *filter.FundingGoalID)
	}
	if filter.DonorUserID != nil {
		q = q.Where("donor_user_id = ?", *filter.DonorUserID)
	}
	if filter.Status != nil {
		q = q.Where("status = ?", *filter.Status)
	}
	if filter.Provider != nil {
		q = q.Where("provider = ?", *filter.Provider)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.Donation
	err := q.Order("created_at DESC").
		Limit(params.Limit).
		Offset(params.Offset()).
		Find(&rows).Error
	return rows, total, err
}

// FindStalePending returns pending donations created before the cutoff, for
// the expiry sweeper.
func (r *repository) FindStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.Donation, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.Donation
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.DonationStatusPending, olderThan).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
