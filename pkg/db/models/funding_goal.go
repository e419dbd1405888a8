package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/dreamsuncharted/funding-backend/pkg/enums"
)

// FundingGoal is the crowdfunding aggregate attached to a piece of content.
// CurrentAmount and the stats columns are derived from completed donations
// and are mutated only through the funding aggregator, guarded by Version.
type FundingGoal struct {
	ID            uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	CreatorUserID uuid.UUID               `gorm:"column:creator_user_id;type:uuid;not null;index"`
	ContentID     *uuid.UUID              `gorm:"column:content_id;type:uuid"`
	SeriesID      *uuid.UUID              `gorm:"column:series_id;type:uuid;index"`
	FundingType   enums.FundingType       `gorm:"column:funding_type;type:funding_type_enum;not null"`
	Title         string                  `gorm:"column:title;not null"`
	Description   string                  `gorm:"column:description;not null"`
	TargetAmount  decimal.Decimal         `gorm:"column:target_amount;type:numeric(12,2);not null"`
	CurrentAmount decimal.Decimal         `gorm:"column:current_amount;type:numeric(12,2);not null;default:0"`
	Currency      enums.Currency          `gorm:"column:currency;type:currency_enum;not null;default:'USD'"`
	Status        enums.FundingGoalStatus `gorm:"column:status;type:funding_goal_status_enum;not null;default:'active'"`
	Deadline      *time.Time              `gorm:"column:deadline"`
	CompletedAt   *time.Time              `gorm:"column:completed_at"`

	TotalDonations       int             `gorm:"column:total_donations;not null;default:0"`
	UniqueDonors         int             `gorm:"column:unique_donors;not null;default:0"`
	AverageDonation      decimal.Decimal `gorm:"column:average_donation;type:numeric(12,2);not null;default:0"`
	CompletionPercentage decimal.Decimal `gorm:"column:completion_percentage;type:numeric(5,2);not null;default:0"`

	Version   int64     `gorm:"column:version;not null;default:0"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`

	RewardTiers []RewardTier `gorm:"foreignKey:FundingGoalID;references:ID"`
}

// BeforeCreate assigns the primary key when the caller did not.
func (g *FundingGoal) BeforeCreate(tx *gorm.DB) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	return nil
}

// TargetReached reports whether the raised amount meets the target.
func (g *FundingGoal) TargetReached() bool {
	return g.CurrentAmount.GreaterThanOrEqual(g.TargetAmount)
}
