package funding

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/dreamsuncharted/funding-backend/pkg/db/models"
	"github.com/dreamsuncharted/funding-backend/pkg/enums"
)

var hundred = decimal.NewFromInt(100)

// Aggregator recomputes a goal's derived columns when a donation reaches a
// terminal state. Every mutation goes through the version guard; on conflict
// the caller rolls back and retries.
type Aggregator struct {
	repo Repository
	// refundAdjustsGoal keeps conservation by reversing aggregates on
	// refund. When disabled a refund only touches the donation row.
	refundAdjustsGoal bool
}

// CompletionResult reports what the aggregate write changed.
type CompletionResult struct {
	GoalCompleted bool
	Goal          *models.FundingGoal
}

// NewAggregator wires an aggregator over the funding repository.
func NewAggregator(repo Repository, refundAdjustsGoal bool) (*Aggregator, error) {
	if repo == nil {
		return nil, fmt.Errorf("funding repository required")
	}
	return &Aggregator{repo: repo, refundAdjustsGoal: refundAdjustsGoal}, nil
}

// ApplyCompletion folds a newly completed donation into the goal aggregate.
// Runs inside the caller's transaction; tx must be the same transaction the
// donation row was updated in.
func (a *Aggregator) ApplyCompletion(ctx context.Context, tx *gorm.DB, donation *models.Donation) (*CompletionResult, error) {
	repo := a.repo.WithTx(tx)

	goal, err := repo.FindByID(ctx, donation.FundingGoalID)
	if err != nil {
		return nil, err
	}

	newAmount := goal.CurrentAmount.Add(donation.Amount)
	newTotal := goal.TotalDonations + 1

	donors, err := repo.CountDistinctDonors(ctx, donation.FundingGoalID)
	if err != nil {
		return nil, err
	}

	update := AggregateUpdate{
		CurrentAmount:        newAmount,
		TotalDonations:       newTotal,
		UniqueDonors:         donors,
		AverageDonation:      averageDonation(newAmount, newTotal),
		CompletionPercentage: completionPercentage(newAmount, goal.TargetAmount),
		Status:               goal.Status,
		CompletedAt:          goal.CompletedAt,
	}

	completedNow := false
	if goal.Status == enums.FundingGoalStatusActive && newAmount.GreaterThanOrEqual(goal.TargetAmount) {
		completedNow = true
		now := time.Now()
		update.Status = enums.FundingGoalStatusCompleted
		update.CompletedAt = &now
	}

	if err := repo.UpdateAggregates(ctx, goal.ID, goal.Version, update); err != nil {
		return nil, err
	}

	goal.CurrentAmount = update.CurrentAmount
	goal.TotalDonations = update.TotalDonations
	goal.UniqueDonors = update.UniqueDonors
	goal.AverageDonation = update.AverageDonation
	goal.CompletionPercentage = update.CompletionPercentage
	goal.Status = update.Status
	goal.CompletedAt = update.CompletedAt
	goal.Version = goal.Version + 1

	return &CompletionResult{GoalCompleted: completedNow, Goal: goal}, nil
}

// ApplyRefund reverses a completed donation's contribution. A completed goal
// stays completed; refunds adjust the totals but never reopen funding.
func (a *Aggregator) ApplyRefund(ctx context.Context, tx *gorm.DB, donation *models.Donation) error {
	if !a.refundAdjustsGoal {
		return nil
	}

	repo := a.repo.WithTx(tx)

	goal, err := repo.FindByID(ctx, donation.FundingGoalID)
	if err != nil {
		return err
	}

	newAmount := goal.CurrentAmount.Sub(donation.Amount)
	if newAmount.IsNegative() {
		newAmount = decimal.Zero
	}
	newTotal := goal.TotalDonations - 1
	if newTotal < 0 {
		newTotal = 0
	}

	donors, err := repo.CountDistinctDonors(ctx, donation.FundingGoalID)
	if err != nil {
		return err
	}

	update := AggregateUpdate{
		CurrentAmount:        newAmount,
		TotalDonations:       newTotal,
		UniqueDonors:         donors,
		AverageDonation:      averageDonation(newAmount, newTotal),
		CompletionPercentage: completionPercentage(newAmount, goal.TargetAmount),
		Status:               goal.Status,
		CompletedAt:          goal.CompletedAt,
	}

	if err := repo.UpdateAggregates(ctx, goal.ID, goal.Version, update); err != nil {
		return err
	}

	if donation.TierApplied && donation.RewardTierID != nil {
		if err := repo.DecrementTierBackers(ctx, *donation.RewardTierID); err != nil {
			return err
		}
	}
	return nil
}

func averageDonation(total decimal.Decimal, count int) decimal.Decimal {
	if count <= 0 {
		return decimal.Zero
	}
	return total.DivRound(decimal.NewFromInt(int64(count)), 2)
}

func completionPercentage(current, target decimal.Decimal) decimal.Decimal {
	if !target.IsPositive() {
		return decimal.Zero
	}
	pct := current.Mul(hundred).DivRound(target, 2)
	if pct.GreaterThan(hundred) {
		return hundred
	}
	return pct
}
