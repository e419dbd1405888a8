package reconcile

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/dreamsuncharted/funding-backend/internal/donations"
	"github.com/dreamsuncharted/funding-backend/internal/funding"
	"github.com/dreamsuncharted/funding-backend/pkg/db"
	"github.com/dreamsuncharted/funding-backend/pkg/db/models"
	"github.com/dreamsuncharted/funding-backend/pkg/enums"
	"github.com/dreamsuncharted/funding-backend/pkg/metrics"
	"github.com/dreamsuncharted/funding-backend/pkg/outbox"
)

type fakeGuard struct {
	seen     map[string]bool
	released []string
}

func newFakeGuard() *fakeGuard {
	return &fakeGuard{seen: map[string]bool{}}
}

func (g *fakeGuard) Get(ctx context.Context, key string) (string, error) {
	if g.seen[key] {
		return "1", nil
	}
	return "", nil
}

func (g *fakeGuard) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if g.seen[key] {
		return false, nil
	}
	g.seen[key] = true
	return true, nil
}

func (g *fakeGuard) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("du:idempotency:%s:%s", scope, id)
}

func (g *fakeGuard) Del(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(g.seen, key)
		g.released = append(g.released, key)
	}
	return nil
}

type fixture struct {
	svc       *Service
	conn      *gorm.DB
	donations donations.Repository
	goals     funding.Repository
	guard     *fakeGuard
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:reconcile_%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&models.FundingGoal{}, &models.RewardTier{}, &models.Donation{}, &models.OutboxEvent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("unwrap sql db: %v", err)
	}
	// sqlite allows a single writer; one pooled connection keeps concurrent
	// transactions from tripping over driver locks.
	sqlDB.SetMaxOpenConns(1)

	donationRepo := donations.NewRepository(conn)
	goalRepo := funding.NewRepository(conn)
	aggregator, err := funding.NewAggregator(goalRepo, true)
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}
	guard := newFakeGuard()
	svc, err := NewService(
		db.NewWithConn(conn),
		donationRepo,
		goalRepo,
		aggregator,
		outbox.NewService(outbox.NewRepository(conn), nil),
		guard,
		metrics.NewReconcileMetrics(nil),
		nil,
		Options{},
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return &fixture{svc: svc, conn: conn, donations: donationRepo, goals: goalRepo, guard: guard}
}

func (f *fixture) seedGoal(t *testing.T, target string, tiers ...models.RewardTier) *models.FundingGoal {
	t.Helper()
	goal := &models.FundingGoal{
		CreatorUserID: uuid.New(),
		FundingType:   enums.FundingTypeChapter,
		Title:         "Chapter 12",
		Description:   "Fund the next chapter",
		TargetAmount:  decimal.RequireFromString(target),
		CurrentAmount: decimal.Zero,
		Currency:      enums.CurrencyUSD,
		Status:        enums.FundingGoalStatusActive,
		RewardTiers:   tiers,
	}
	if err := f.goals.Create(context.Background(), goal); err != nil {
		t.Fatalf("seed goal: %v", err)
	}
	return goal
}

func (f *fixture) seedProcessingDonation(t *testing.T, goalID uuid.UUID, amount, correlationID string, tierID *uuid.UUID) *models.Donation {
	t.Helper()
	donor := uuid.New()
	donation := &models.Donation{
		FundingGoalID: goalID,
		DonorUserID:   &donor,
		Amount:        decimal.RequireFromString(amount),
		Currency:      enums.CurrencyUSD,
		Provider:      enums.PaymentProviderStripe,
		CorrelationID: &correlationID,
		Status:        enums.DonationStatusProcessing,
		RewardTierID:  tierID,
	}
	if err := f.donations.Create(context.Background(), donation); err != nil {
		t.Fatalf("seed donation: %v", err)
	}
	return donation
}

func (f *fixture) reloadDonation(t *testing.T, id uuid.UUID) *models.Donation {
	t.Helper()
	donation, err := f.donations.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("reload donation: %v", err)
	}
	return donation
}

func (f *fixture) reloadGoal(t *testing.T, id uuid.UUID) *models.FundingGoal {
	t.Helper()
	goal, err := f.goals.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("reload goal: %v", err)
	}
	return goal
}

func (f *fixture) countEvents(t *testing.T, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var count int64
	if err := f.conn.Model(&models.OutboxEvent{}).
		Where("event_type = ?", eventType).
		Count(&count).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	return count
}

func TestProcessCompletionSettlesDonation(t *testing.T) {
	f := newFixture(t)
	goal := f.seedGoal(t, "100.00")
	donation := f.seedProcessingDonation(t, goal.ID, "25.00", "pi_abc", nil)

	err := f.svc.Process(context.Background(), ProviderEvent{
		EventID:       "evt_1",
		Provider:      enums.PaymentProviderStripe,
		Outcome:       OutcomeCompleted,
		CorrelationID: "pi_abc",
		TransactionID: "ch_1",
		OccurredAt:    time.Now(),
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	stored := f.reloadDonation(t, donation.ID)
	if stored.Status != enums.DonationStatusCompleted {
		t.Fatalf("status = %s, want completed", stored.Status)
	}
	if stored.TransactionID == nil || *stored.TransactionID != "ch_1" {
		t.Fatal("transaction id not recorded")
	}
	if !stored.ProcessingFee.Equal(decimal.RequireFromString("1.03")) {
		t.Fatalf("fee = %s, want 1.03", stored.ProcessingFee)
	}
	if !stored.NetAmount.Equal(decimal.RequireFromString("23.97")) {
		t.Fatalf("net = %s, want 23.97", stored.NetAmount)
	}
	if stored.ProcessedAt == nil {
		t.Fatal("processed_at not set")
	}

	updatedGoal := f.reloadGoal(t, goal.ID)
	if !updatedGoal.CurrentAmount.Equal(decimal.RequireFromString("25.00")) {
		t.Fatalf("goal amount = %s, want gross 25.00", updatedGoal.CurrentAmount)
	}
	if updatedGoal.TotalDonations != 1 {
		t.Fatalf("total donations = %d, want 1", updatedGoal.TotalDonations)
	}
	if got := f.countEvents(t, enums.EventDonationThanked); got != 1 {
		t.Fatalf("thanked events = %d, want 1", got)
	}
	if got := f.countEvents(t, enums.EventGoalCompleted); got != 0 {
		t.Fatalf("goal completed events = %d, want 0", got)
	}
}

func TestProcessCompletionHonorsReportedFee(t *testing.T) {
	f := newFixture(t)
	goal := f.seedGoal(t, "100.00")
	donation := f.seedProcessingDonation(t, goal.ID, "25.00", "pi_abc", nil)

	reported := decimal.RequireFromString("1.10")
	err := f.svc.Process(context.Background(), ProviderEvent{
		EventID:       "evt_1",
		Provider:      enums.PaymentProviderSquare,
		Outcome:       OutcomeCompleted,
		CorrelationID: "pi_abc",
		ReportedFee:   &reported,
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	stored := f.reloadDonation(t, donation.ID)
	if !stored.ProcessingFee.Equal(reported) {
		t.Fatalf("fee = %s, want the provider's reported 1.10", stored.ProcessingFee)
	}
	if !stored.NetAmount.Equal(decimal.RequireFromString("23.90")) {
		t.Fatalf("net = %s, want 23.90", stored.NetAmount)
	}
}

func TestProcessDuplicateEventIDSkipped(t *testing.T) {
	f := newFixture(t)
	goal := f.seedGoal(t, "100.00")
	f.seedProcessingDonation(t, goal.ID, "25.00", "pi_abc", nil)

	event := ProviderEvent{
		EventID:       "evt_1",
		Provider:      enums.PaymentProviderStripe,
		Outcome:       OutcomeCompleted,
		CorrelationID: "pi_abc",
	}
	if err := f.svc.Process(context.Background(), event); err != nil {
		t.Fatalf("first process: %v", err)
	}
	if err := f.svc.Process(context.Background(), event); err != nil {
		t.Fatalf("replayed process: %v", err)
	}

	updatedGoal := f.reloadGoal(t, goal.ID)
	if updatedGoal.TotalDonations != 1 {
		t.Fatalf("total donations = %d, replay must not double count", updatedGoal.TotalDonations)
	}
}

func TestProcessReplayedOutcomeIsNoOp(t *testing.T) {
	f := newFixture(t)
	goal := f.seedGoal(t, "100.00")
	f.seedProcessingDonation(t, goal.ID, "25.00", "pi_abc", nil)

	first := ProviderEvent{
		EventID:       "evt_1",
		Provider:      enums.PaymentProviderStripe,
		Outcome:       OutcomeCompleted,
		CorrelationID: "pi_abc",
	}
	if err := f.svc.Process(context.Background(), first); err != nil {
		t.Fatalf("first process: %v", err)
	}

	// Same settlement delivered under a fresh event id; the conditional
	// transition catches what the dedupe store cannot.
	second := first
	second.EventID = "evt_2"
	if err := f.svc.Process(context.Background(), second); err != nil {
		t.Fatalf("second process: %v", err)
	}

	updatedGoal := f.reloadGoal(t, goal.ID)
	if updatedGoal.TotalDonations != 1 {
		t.Fatalf("total donations = %d, want 1", updatedGoal.TotalDonations)
	}
	if got := f.countEvents(t, enums.EventDonationThanked); got != 1 {
		t.Fatalf("thanked events = %d, want 1", got)
	}
}

func TestProcessCompletionFlipsGoalOnce(t *testing.T) {
	f := newFixture(t)
	goal := f.seedGoal(t, "50.00")
	f.seedProcessingDonation(t, goal.ID, "30.00", "pi_1", nil)
	f.seedProcessingDonation(t, goal.ID, "30.00", "pi_2", nil)

	for i, correlation := range []string{"pi_1", "pi_2"} {
		err := f.svc.Process(context.Background(), ProviderEvent{
			EventID:       fmt.Sprintf("evt_%d", i),
			Provider:      enums.PaymentProviderStripe,
			Outcome:       OutcomeCompleted,
			CorrelationID: correlation,
		})
		if err != nil {
			t.Fatalf("process %s: %v", correlation, err)
		}
	}

	updatedGoal := f.reloadGoal(t, goal.ID)
	if updatedGoal.Status != enums.FundingGoalStatusCompleted {
		t.Fatalf("status = %s, want completed", updatedGoal.Status)
	}
	if !updatedGoal.CurrentAmount.Equal(decimal.RequireFromString("60.00")) {
		t.Fatalf("amount = %s, want 60.00", updatedGoal.CurrentAmount)
	}
	if got := f.countEvents(t, enums.EventGoalCompleted); got != 1 {
		t.Fatalf("goal completed events = %d, want exactly 1", got)
	}
}

func TestProcessFailureLeavesGoalUntouched(t *testing.T) {
	f := newFixture(t)
	goal := f.seedGoal(t, "100.00")
	donation := f.seedProcessingDonation(t, goal.ID, "25.00", "pi_abc", nil)

	err := f.svc.Process(context.Background(), ProviderEvent{
		EventID:       "evt_1",
		Provider:      enums.PaymentProviderStripe,
		Outcome:       OutcomeFailed,
		CorrelationID: "pi_abc",
		FailureReason: "card_declined",
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	stored := f.reloadDonation(t, donation.ID)
	if stored.Status != enums.DonationStatusFailed {
		t.Fatalf("status = %s, want failed", stored.Status)
	}
	if stored.FailureReason == nil || *stored.FailureReason != "card_declined" {
		t.Fatal("failure reason not recorded")
	}

	updatedGoal := f.reloadGoal(t, goal.ID)
	if !updatedGoal.CurrentAmount.Equal(decimal.Zero) {
		t.Fatalf("goal amount = %s, failed donation must not count", updatedGoal.CurrentAmount)
	}
}

func TestProcessRefundReversesAggregates(t *testing.T) {
	f := newFixture(t)
	goal := f.seedGoal(t, "100.00")
	donation := f.seedProcessingDonation(t, goal.ID, "25.00", "pi_abc", nil)

	if err := f.svc.Process(context.Background(), ProviderEvent{
		EventID:       "evt_1",
		Provider:      enums.PaymentProviderStripe,
		Outcome:       OutcomeCompleted,
		CorrelationID: "pi_abc",
	}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if err := f.svc.Process(context.Background(), ProviderEvent{
		EventID:       "evt_2",
		Provider:      enums.PaymentProviderStripe,
		Outcome:       OutcomeRefunded,
		CorrelationID: "pi_abc",
		RefundReason:  "requested_by_customer",
	}); err != nil {
		t.Fatalf("refund: %v", err)
	}

	stored := f.reloadDonation(t, donation.ID)
	if stored.Status != enums.DonationStatusRefunded {
		t.Fatalf("status = %s, want refunded", stored.Status)
	}
	if stored.RefundedAt == nil {
		t.Fatal("refunded_at not set")
	}

	updatedGoal := f.reloadGoal(t, goal.ID)
	if !updatedGoal.CurrentAmount.Equal(decimal.Zero) {
		t.Fatalf("goal amount = %s, want 0 after refund", updatedGoal.CurrentAmount)
	}
	if updatedGoal.TotalDonations != 0 {
		t.Fatalf("total donations = %d, want 0", updatedGoal.TotalDonations)
	}
	if got := f.countEvents(t, enums.EventDonationRefunded); got != 1 {
		t.Fatalf("refund events = %d, want 1", got)
	}
}

func TestProcessClaimsTierSlotAtSettlement(t *testing.T) {
	max := 1
	f := newFixture(t)
	goal := f.seedGoal(t, "500.00", models.RewardTier{
		Amount:     decimal.RequireFromString("20.00"),
		Title:      "Signed print",
		MaxBackers: &max,
	})
	tier := goal.RewardTiers[0]
	first := f.seedProcessingDonation(t, goal.ID, "25.00", "pi_1", &tier.ID)
	second := f.seedProcessingDonation(t, goal.ID, "25.00", "pi_2", &tier.ID)

	for i, correlation := range []string{"pi_1", "pi_2"} {
		err := f.svc.Process(context.Background(), ProviderEvent{
			EventID:       fmt.Sprintf("evt_%d", i),
			Provider:      enums.PaymentProviderStripe,
			Outcome:       OutcomeCompleted,
			CorrelationID: correlation,
		})
		if err != nil {
			t.Fatalf("process %s: %v", correlation, err)
		}
	}

	// Only one slot existed, so only the first settlement got the perk.
	// Both donations still settle and count toward the goal.
	if !f.reloadDonation(t, first.ID).TierApplied {
		t.Fatal("first donation should hold the tier slot")
	}
	if f.reloadDonation(t, second.ID).TierApplied {
		t.Fatal("second donation must not overfill the tier")
	}

	var storedTier models.RewardTier
	if err := f.conn.First(&storedTier, "id = ?", tier.ID).Error; err != nil {
		t.Fatalf("reload tier: %v", err)
	}
	if storedTier.CurrentBackers != 1 {
		t.Fatalf("current backers = %d, want 1", storedTier.CurrentBackers)
	}

	updatedGoal := f.reloadGoal(t, goal.ID)
	if updatedGoal.TotalDonations != 2 {
		t.Fatalf("total donations = %d, want 2", updatedGoal.TotalDonations)
	}
}

func TestProcessConcurrentCompletionsConserveTotals(t *testing.T) {
	maxBackers := 3
	f := newFixture(t)
	goal := f.seedGoal(t, "1000.00", models.RewardTier{
		Amount:     decimal.RequireFromString("10.00"),
		Title:      "Early bird",
		MaxBackers: &maxBackers,
	})
	tier := goal.RewardTiers[0]

	const settlements = 8
	for i := 0; i < settlements; i++ {
		f.seedProcessingDonation(t, goal.ID, "10.00", fmt.Sprintf("pi_%d", i), &tier.ID)
	}

	var wg sync.WaitGroup
	errs := make(chan error, settlements)
	for i := 0; i < settlements; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			errs <- f.svc.Process(context.Background(), ProviderEvent{
				EventID:       fmt.Sprintf("evt_%d", n),
				Provider:      enums.PaymentProviderStripe,
				Outcome:       OutcomeCompleted,
				CorrelationID: fmt.Sprintf("pi_%d", n),
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("process: %v", err)
		}
	}

	updatedGoal := f.reloadGoal(t, goal.ID)
	if !updatedGoal.CurrentAmount.Equal(decimal.RequireFromString("80.00")) {
		t.Fatalf("amount = %s, want 80.00 with every settlement counted", updatedGoal.CurrentAmount)
	}
	if updatedGoal.TotalDonations != settlements {
		t.Fatalf("total donations = %d, want %d", updatedGoal.TotalDonations, settlements)
	}
	if got := f.countEvents(t, enums.EventDonationThanked); got != settlements {
		t.Fatalf("thanked events = %d, want %d", got, settlements)
	}

	var storedTier models.RewardTier
	if err := f.conn.First(&storedTier, "id = ?", tier.ID).Error; err != nil {
		t.Fatalf("reload tier: %v", err)
	}
	if storedTier.CurrentBackers != maxBackers {
		t.Fatalf("current backers = %d, want %d", storedTier.CurrentBackers, maxBackers)
	}
	var perks int64
	if err := f.conn.Model(&models.Donation{}).
		Where("funding_goal_id = ? AND tier_applied = ?", goal.ID, true).
		Count(&perks).Error; err != nil {
		t.Fatalf("count tier holders: %v", err)
	}
	if perks != int64(maxBackers) {
		t.Fatalf("tier holders = %d, want %d", perks, maxBackers)
	}
}

func TestProcessUnknownCorrelationReleasesDedupe(t *testing.T) {
	f := newFixture(t)

	err := f.svc.Process(context.Background(), ProviderEvent{
		EventID:       "evt_1",
		Provider:      enums.PaymentProviderStripe,
		Outcome:       OutcomeCompleted,
		CorrelationID: "pi_missing",
	})
	if err == nil {
		t.Fatal("expected error for unknown correlation id")
	}
	if len(f.guard.released) != 1 {
		t.Fatalf("released keys = %d, want the claim given back for retry", len(f.guard.released))
	}
}

func TestProcessRejectsIncompleteEvents(t *testing.T) {
	f := newFixture(t)
	if err := f.svc.Process(context.Background(), ProviderEvent{Provider: enums.PaymentProviderStripe}); err == nil {
		t.Fatal("expected validation error for missing ids")
	}
}
