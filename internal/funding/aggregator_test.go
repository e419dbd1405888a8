package funding

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/dreamsuncharted/funding-backend/pkg/db/models"
	"github.com/dreamsuncharted/funding-backend/pkg/enums"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:funding_%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&models.FundingGoal{}, &models.RewardTier{}, &models.Donation{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("unwrap sql db: %v", err)
	}
	// sqlite allows a single writer; one pooled connection keeps concurrent
	// statements from tripping over driver locks.
	sqlDB.SetMaxOpenConns(1)
	return conn
}

func seedGoal(t *testing.T, db *gorm.DB, target string) *models.FundingGoal {
	t.Helper()
	goal := &models.FundingGoal{
		CreatorUserID: uuid.New(),
		FundingType:   enums.FundingTypeChapter,
		Title:         "Print run",
		Description:   "Cover the first print run",
		TargetAmount:  decimal.RequireFromString(target),
		CurrentAmount: decimal.Zero,
		Currency:      enums.CurrencyUSD,
		Status:        enums.FundingGoalStatusActive,
	}
	if err := db.Create(goal).Error; err != nil {
		t.Fatalf("seed goal: %v", err)
	}
	return goal
}

func seedCompletedDonation(t *testing.T, db *gorm.DB, goalID uuid.UUID, donorID *uuid.UUID, amount string) *models.Donation {
	t.Helper()
	donation := &models.Donation{
		FundingGoalID: goalID,
		DonorUserID:   donorID,
		Amount:        decimal.RequireFromString(amount),
		Currency:      enums.CurrencyUSD,
		Provider:      enums.PaymentProviderStripe,
		Status:        enums.DonationStatusCompleted,
	}
	if err := db.Create(donation).Error; err != nil {
		t.Fatalf("seed donation: %v", err)
	}
	return donation
}

func reloadGoal(t *testing.T, db *gorm.DB, id uuid.UUID) *models.FundingGoal {
	t.Helper()
	var goal models.FundingGoal
	if err := db.First(&goal, "id = ?", id).Error; err != nil {
		t.Fatalf("reload goal: %v", err)
	}
	return &goal
}

func TestApplyCompletionUpdatesAggregates(t *testing.T) {
	db := newTestDB(t)
	agg, err := NewAggregator(NewRepository(db), true)
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}
	goal := seedGoal(t, db, "100.00")
	donor := uuid.New()
	donation := seedCompletedDonation(t, db, goal.ID, &donor, "25.00")

	var result *CompletionResult
	err = db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		result, txErr = agg.ApplyCompletion(context.Background(), tx, donation)
		return txErr
	})
	if err != nil {
		t.Fatalf("apply completion: %v", err)
	}
	if result.GoalCompleted {
		t.Fatal("goal should not be completed at 25%")
	}

	stored := reloadGoal(t, db, goal.ID)
	if !stored.CurrentAmount.Equal(decimal.RequireFromString("25.00")) {
		t.Fatalf("current amount = %s, want 25.00", stored.CurrentAmount)
	}
	if stored.TotalDonations != 1 {
		t.Fatalf("total donations = %d, want 1", stored.TotalDonations)
	}
	if stored.UniqueDonors != 1 {
		t.Fatalf("unique donors = %d, want 1", stored.UniqueDonors)
	}
	if !stored.CompletionPercentage.Equal(decimal.RequireFromString("25")) {
		t.Fatalf("completion = %s, want 25", stored.CompletionPercentage)
	}
	if stored.Version != goal.Version+1 {
		t.Fatalf("version = %d, want %d", stored.Version, goal.Version+1)
	}
	if stored.Status != enums.FundingGoalStatusActive {
		t.Fatalf("status = %s, want active", stored.Status)
	}
}

func TestApplyCompletionMarksGoalCompletedExactlyOnce(t *testing.T) {
	db := newTestDB(t)
	agg, err := NewAggregator(NewRepository(db), true)
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}
	goal := seedGoal(t, db, "50.00")
	donor := uuid.New()

	first := seedCompletedDonation(t, db, goal.ID, &donor, "50.00")
	var result *CompletionResult
	err = db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		result, txErr = agg.ApplyCompletion(context.Background(), tx, first)
		return txErr
	})
	if err != nil {
		t.Fatalf("apply completion: %v", err)
	}
	if !result.GoalCompleted {
		t.Fatal("expected completion flip on reaching target")
	}

	stored := reloadGoal(t, db, goal.ID)
	if stored.Status != enums.FundingGoalStatusCompleted {
		t.Fatalf("status = %s, want completed", stored.Status)
	}
	if stored.CompletedAt == nil {
		t.Fatal("completed_at should be set")
	}
	completedAt := *stored.CompletedAt

	// Donations keep landing after completion; the aggregate grows but the
	// completion flip only happens once.
	second := seedCompletedDonation(t, db, goal.ID, &donor, "10.00")
	err = db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		result, txErr = agg.ApplyCompletion(context.Background(), tx, second)
		return txErr
	})
	if err != nil {
		t.Fatalf("apply second completion: %v", err)
	}
	if result.GoalCompleted {
		t.Fatal("completion must not flip twice")
	}

	stored = reloadGoal(t, db, goal.ID)
	if !stored.CurrentAmount.Equal(decimal.RequireFromString("60.00")) {
		t.Fatalf("current amount = %s, want 60.00", stored.CurrentAmount)
	}
	if !stored.CompletedAt.Equal(completedAt) {
		t.Fatal("completed_at must not move on later donations")
	}
	if !stored.CompletionPercentage.Equal(decimal.RequireFromString("100")) {
		t.Fatalf("completion = %s, want capped at 100", stored.CompletionPercentage)
	}
}

func TestApplyCompletionCountsDistinctDonors(t *testing.T) {
	db := newTestDB(t)
	agg, err := NewAggregator(NewRepository(db), true)
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}
	goal := seedGoal(t, db, "500.00")
	donor := uuid.New()

	first := seedCompletedDonation(t, db, goal.ID, &donor, "10.00")
	if err := db.Transaction(func(tx *gorm.DB) error {
		_, txErr := agg.ApplyCompletion(context.Background(), tx, first)
		return txErr
	}); err != nil {
		t.Fatalf("apply first: %v", err)
	}

	// Same donor again plus a guest donation; unique donors stays at 1
	// because guests carry no user id.
	second := seedCompletedDonation(t, db, goal.ID, &donor, "15.00")
	if err := db.Transaction(func(tx *gorm.DB) error {
		_, txErr := agg.ApplyCompletion(context.Background(), tx, second)
		return txErr
	}); err != nil {
		t.Fatalf("apply second: %v", err)
	}
	guest := seedCompletedDonation(t, db, goal.ID, nil, "5.00")
	if err := db.Transaction(func(tx *gorm.DB) error {
		_, txErr := agg.ApplyCompletion(context.Background(), tx, guest)
		return txErr
	}); err != nil {
		t.Fatalf("apply guest: %v", err)
	}

	stored := reloadGoal(t, db, goal.ID)
	if stored.UniqueDonors != 1 {
		t.Fatalf("unique donors = %d, want 1", stored.UniqueDonors)
	}
	if stored.TotalDonations != 3 {
		t.Fatalf("total donations = %d, want 3", stored.TotalDonations)
	}
	if !stored.AverageDonation.Equal(decimal.RequireFromString("10")) {
		t.Fatalf("average = %s, want 10", stored.AverageDonation)
	}
}

func TestApplyCompletionDetectsVersionConflict(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	agg, err := NewAggregator(repo, true)
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}
	goal := seedGoal(t, db, "100.00")
	donor := uuid.New()
	donation := seedCompletedDonation(t, db, goal.ID, &donor, "10.00")

	// Another writer bumps the version between our read and our write.
	if err := db.Model(&models.FundingGoal{}).
		Where("id = ?", goal.ID).
		Update("version", goal.Version+1).Error; err != nil {
		t.Fatalf("bump version: %v", err)
	}

	err = repo.UpdateAggregates(context.Background(), goal.ID, goal.Version, AggregateUpdate{
		CurrentAmount:  decimal.RequireFromString("10.00"),
		TotalDonations: 1,
	})
	if err != ErrVersionConflict {
		t.Fatalf("err = %v, want ErrVersionConflict", err)
	}

	// A fresh read picks up the new version and succeeds.
	if err := db.Transaction(func(tx *gorm.DB) error {
		_, txErr := agg.ApplyCompletion(context.Background(), tx, donation)
		return txErr
	}); err != nil {
		t.Fatalf("retry after conflict: %v", err)
	}
}

func TestApplyRefundReversesAggregates(t *testing.T) {
	db := newTestDB(t)
	agg, err := NewAggregator(NewRepository(db), true)
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}
	goal := seedGoal(t, db, "100.00")
	donorA := uuid.New()
	donorB := uuid.New()

	first := seedCompletedDonation(t, db, goal.ID, &donorA, "40.00")
	second := seedCompletedDonation(t, db, goal.ID, &donorB, "30.00")
	for _, d := range []*models.Donation{first, second} {
		if err := db.Transaction(func(tx *gorm.DB) error {
			_, txErr := agg.ApplyCompletion(context.Background(), tx, d)
			return txErr
		}); err != nil {
			t.Fatalf("apply completion: %v", err)
		}
	}

	// Refund flow marks the row refunded before the aggregate is adjusted,
	// so the donor count query no longer sees it.
	if err := db.Model(&models.Donation{}).
		Where("id = ?", second.ID).
		Update("status", enums.DonationStatusRefunded).Error; err != nil {
		t.Fatalf("mark refunded: %v", err)
	}
	if err := db.Transaction(func(tx *gorm.DB) error {
		return agg.ApplyRefund(context.Background(), tx, second)
	}); err != nil {
		t.Fatalf("apply refund: %v", err)
	}

	stored := reloadGoal(t, db, goal.ID)
	if !stored.CurrentAmount.Equal(decimal.RequireFromString("40.00")) {
		t.Fatalf("current amount = %s, want 40.00", stored.CurrentAmount)
	}
	if stored.TotalDonations != 1 {
		t.Fatalf("total donations = %d, want 1", stored.TotalDonations)
	}
	if stored.UniqueDonors != 1 {
		t.Fatalf("unique donors = %d, want 1", stored.UniqueDonors)
	}
}

func TestApplyRefundNoOpWhenDisabled(t *testing.T) {
	db := newTestDB(t)
	agg, err := NewAggregator(NewRepository(db), false)
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}
	goal := seedGoal(t, db, "100.00")
	donor := uuid.New()
	donation := seedCompletedDonation(t, db, goal.ID, &donor, "40.00")
	if err := db.Transaction(func(tx *gorm.DB) error {
		_, txErr := agg.ApplyCompletion(context.Background(), tx, donation)
		return txErr
	}); err != nil {
		t.Fatalf("apply completion: %v", err)
	}

	if err := db.Transaction(func(tx *gorm.DB) error {
		return agg.ApplyRefund(context.Background(), tx, donation)
	}); err != nil {
		t.Fatalf("apply refund: %v", err)
	}

	stored := reloadGoal(t, db, goal.ID)
	if !stored.CurrentAmount.Equal(decimal.RequireFromString("40.00")) {
		t.Fatalf("current amount = %s, want unchanged 40.00", stored.CurrentAmount)
	}
}

func TestApplyRefundNeverReopensCompletedGoal(t *testing.T) {
	db := newTestDB(t)
	agg, err := NewAggregator(NewRepository(db), true)
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}
	goal := seedGoal(t, db, "50.00")
	donor := uuid.New()
	donation := seedCompletedDonation(t, db, goal.ID, &donor, "50.00")
	if err := db.Transaction(func(tx *gorm.DB) error {
		_, txErr := agg.ApplyCompletion(context.Background(), tx, donation)
		return txErr
	}); err != nil {
		t.Fatalf("apply completion: %v", err)
	}

	if err := db.Model(&models.Donation{}).
		Where("id = ?", donation.ID).
		Update("status", enums.DonationStatusRefunded).Error; err != nil {
		t.Fatalf("mark refunded: %v", err)
	}
	if err := db.Transaction(func(tx *gorm.DB) error {
		return agg.ApplyRefund(context.Background(), tx, donation)
	}); err != nil {
		t.Fatalf("apply refund: %v", err)
	}

	stored := reloadGoal(t, db, goal.ID)
	if stored.Status != enums.FundingGoalStatusCompleted {
		t.Fatalf("status = %s, refund must not reopen a completed goal", stored.Status)
	}
	if !stored.CurrentAmount.Equal(decimal.Zero) {
		t.Fatalf("current amount = %s, want 0", stored.CurrentAmount)
	}
}
