package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// RewardTier is a capacity-limited perk unlocked at a minimum donation
// amount. CurrentBackers only grows through a conditional update that
// enforces MaxBackers; a nil MaxBackers means unlimited.
type RewardTier struct {
	ID             uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	FundingGoalID  uuid.UUID       `gorm:"column:funding_goal_id;type:uuid;not null;index"`
	Position       int             `gorm:"column:position;not null;default:0"`
	Amount         decimal.Decimal `gorm:"column:amount;type:numeric(12,2);not null"`
	Title          string          `gorm:"column:title;not null"`
	Description    string          `gorm:"column:description;not null"`
	MaxBackers     *int            `gorm:"column:max_backers"`
	CurrentBackers int             `gorm:"column:current_backers;not null;default:0"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// BeforeCreate assigns the primary key when the caller did not.
func (t *RewardTier) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// Exhausted reports whether the tier has no backer slots left.
func (t *RewardTier) Exhausted() bool {
	return t.MaxBackers != nil && t.CurrentBackers >= *t.MaxBackers
}
