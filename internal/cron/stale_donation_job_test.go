package cron

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/dreamsuncharted/funding-backend/internal/donations"
	"github.com/dreamsuncharted/funding-backend/pkg/db"
	"github.com/dreamsuncharted/funding-backend/pkg/db/models"
	"github.com/dreamsuncharted/funding-backend/pkg/enums"
	"github.com/dreamsuncharted/funding-backend/pkg/logger"
	"github.com/dreamsuncharted/funding-backend/pkg/outbox"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:cron_%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&models.FundingGoal{}, &models.Donation{}, &models.OutboxEvent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

func seedPendingDonation(t *testing.T, conn *gorm.DB, age time.Duration) *models.Donation {
	t.Helper()
	donation := &models.Donation{
		FundingGoalID: uuid.New(),
		Amount:        decimal.RequireFromString("10.00"),
		Currency:      enums.CurrencyUSD,
		Provider:      enums.PaymentProviderStripe,
		Status:        enums.DonationStatusPending,
	}
	if err := conn.Create(donation).Error; err != nil {
		t.Fatalf("seed donation: %v", err)
	}
	if age > 0 {
		if err := conn.Model(&models.Donation{}).
			Where("id = ?", donation.ID).
			Update("created_at", time.Now().Add(-age)).Error; err != nil {
			t.Fatalf("age donation: %v", err)
		}
	}
	return donation
}

func TestStaleDonationJobExpiresOldPending(t *testing.T) {
	conn := newTestDB(t)
	repo := donations.NewRepository(conn)
	logg := logger.New(logger.Options{ServiceName: "cron-test"})

	stale := seedPendingDonation(t, conn, 48*time.Hour)
	fresh := seedPendingDonation(t, conn, 0)

	job, err := NewStaleDonationJob(StaleDonationJobParams{
		Logger:     logg,
		DB:         db.NewWithConn(conn),
		Repository: repo,
		Outbox:     outbox.NewService(outbox.NewRepository(conn), nil),
		PendingTTL: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run job: %v", err)
	}

	var staleRow models.Donation
	if err := conn.First(&staleRow, "id = ?", stale.ID).Error; err != nil {
		t.Fatalf("reload stale: %v", err)
	}
	if staleRow.Status != enums.DonationStatusCancelled {
		t.Fatalf("stale status = %s, want cancelled", staleRow.Status)
	}

	var freshRow models.Donation
	if err := conn.First(&freshRow, "id = ?", fresh.ID).Error; err != nil {
		t.Fatalf("reload fresh: %v", err)
	}
	if freshRow.Status != enums.DonationStatusPending {
		t.Fatalf("fresh status = %s, want untouched pending", freshRow.Status)
	}

	var events int64
	if err := conn.Model(&models.OutboxEvent{}).
		Where("event_type = ?", enums.EventDonationExpired).
		Count(&events).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if events != 1 {
		t.Fatalf("expired events = %d, want 1", events)
	}
}

func TestStaleDonationJobSkipsRowsThatSettledMeanwhile(t *testing.T) {
	conn := newTestDB(t)
	repo := donations.NewRepository(conn)
	logg := logger.New(logger.Options{ServiceName: "cron-test"})

	stale := seedPendingDonation(t, conn, 48*time.Hour)

	settlingRepo := &settleOnReadRepo{Repository: repo, conn: conn, target: stale.ID}
	job, err := NewStaleDonationJob(StaleDonationJobParams{
		Logger:     logg,
		DB:         db.NewWithConn(conn),
		Repository: settlingRepo,
		Outbox:     outbox.NewService(outbox.NewRepository(conn), nil),
		PendingTTL: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run job: %v", err)
	}

	var row models.Donation
	if err := conn.First(&row, "id = ?", stale.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if row.Status != enums.DonationStatusCompleted {
		t.Fatalf("status = %s, sweeper must not clobber a settled row", row.Status)
	}

	var events int64
	if err := conn.Model(&models.OutboxEvent{}).Count(&events).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if events != 0 {
		t.Fatalf("events = %d, want none for a settled row", events)
	}
}

// settleOnReadRepo completes the target donation right after the sweep query
// returns it, simulating a webhook racing the sweeper.
type settleOnReadRepo struct {
	donations.Repository
	conn   *gorm.DB
	target uuid.UUID
}

func (r *settleOnReadRepo) FindStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.Donation, error) {
	rows, err := r.Repository.FindStalePending(ctx, olderThan, limit)
	if err != nil {
		return nil, err
	}
	if err := r.conn.Model(&models.Donation{}).
		Where("id = ?", r.target).
		Update("status", enums.DonationStatusCompleted).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
