package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/dreamsuncharted/funding-backend/pkg/enums"
)

// Donation is the ledger record for a single payment attempt against a
// funding goal. Tier columns are an immutable snapshot of the tier terms
// taken at creation time; the live tier may change or fill afterwards.
// CorrelationID references the provider handle, TransactionID is the
// provider-unique idempotency key recorded on completion.
type Donation struct {
	ID            uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	FundingGoalID uuid.UUID             `gorm:"column:funding_goal_id;type:uuid;not null;index"`
	DonorUserID   *uuid.UUID            `gorm:"column:donor_user_id;type:uuid"`
	DonorName     *string               `gorm:"column:donor_name"`
	DonorEmail    *string               `gorm:"column:donor_email"`
	IsAnonymous   bool                  `gorm:"column:is_anonymous;not null;default:false"`
	Message       *string               `gorm:"column:message"`
	Amount        decimal.Decimal       `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency      enums.Currency        `gorm:"column:currency;type:currency_enum;not null;default:'USD'"`
	Provider      enums.PaymentProvider `gorm:"column:provider;type:payment_provider_enum;not null"`
	CorrelationID *string               `gorm:"column:correlation_id;unique"`
	TransactionID *string               `gorm:"column:transaction_id;unique"`
	Status        enums.DonationStatus  `gorm:"column:status;type:donation_status_enum;not null;default:'pending'"`

	RewardTierID    *uuid.UUID       `gorm:"column:reward_tier_id;type:uuid"`
	TierAmount      *decimal.Decimal `gorm:"column:tier_amount;type:numeric(12,2)"`
	TierTitle       *string          `gorm:"column:tier_title"`
	TierDescription *string          `gorm:"column:tier_description"`
	TierApplied     bool             `gorm:"column:tier_applied;not null;default:false"`

	ProcessingFee decimal.Decimal `gorm:"column:processing_fee;type:numeric(12,2);not null;default:0"`
	NetAmount     decimal.Decimal `gorm:"column:net_amount;type:numeric(12,2);not null;default:0"`
	FailureReason *string         `gorm:"column:failure_reason"`
	ProcessedAt   *time.Time      `gorm:"column:processed_at"`
	RefundedAt    *time.Time      `gorm:"column:refunded_at"`
	RefundReason  *string         `gorm:"column:refund_reason"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// BeforeCreate assigns the primary key when the caller did not.
func (d *Donation) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

// HasTierSnapshot reports whether a reward tier was chosen at creation.
func (d *Donation) HasTierSnapshot() bool {
	return d.RewardTierID != nil
}

// DisplayName resolves the name shown in public donation feeds.
func (d *Donation) DisplayName() string {
	if d.IsAnonymous {
		return "Anonymous"
	}
	if d.DonorName != nil && *d.DonorName != "" {
		return *d.DonorName
	}
	return "Anonymous"
}
