package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/dreamsuncharted/funding-backend/internal/donations"
	"github.com/dreamsuncharted/funding-backend/pkg/db/models"
	"github.com/dreamsuncharted/funding-backend/pkg/enums"
	"github.com/dreamsuncharted/funding-backend/pkg/logger"
	"github.com/dreamsuncharted/funding-backend/pkg/outbox"
)

const (
	defaultPendingTTL = 24 * time.Hour
	staleSweepBatch   = 200
)

// txRunner abstracts db.Client.WithTx for the jobs.
type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// StaleDonationJobParams configure the pending donation sweeper.
type StaleDonationJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Repository donations.Repository
	Outbox     outboxEmitter
	PendingTTL time.Duration
	BatchSize  int
}

// NewStaleDonationJob builds the job that cancels pending donations whose
// payment handle was never completed.
func NewStaleDonationJob(params StaleDonationJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("donation repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	ttl := params.PendingTTL
	if ttl <= 0 {
		ttl = defaultPendingTTL
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = staleSweepBatch
	}
	return &staleDonationJob{
		logg:   params.Logger,
		db:     params.DB,
		repo:   params.Repository,
		outbox: params.Outbox,
		ttl:    ttl,
		batch:  batch,
		now:    time.Now,
	}, nil
}

type staleDonationJob struct {
	logg   *logger.Logger
	db     txRunner
	repo   donations.Repository
	outbox outboxEmitter
	ttl    time.Duration
	batch  int
	now    func() time.Time
}

func (j *staleDonationJob) Name() string { return "donation-sweeper" }

func (j *staleDonationJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.ttl)
	stale, err := j.repo.FindStalePending(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("query stale pending donations: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}

	var errs []error
	expired := 0
	for _, donation := range stale {
		if err := j.expireDonation(ctx, donation); err != nil {
			errs = append(errs, fmt.Errorf("expire donation %s: %w", donation.ID, err))
			continue
		}
		expired++
	}

	runCtx := j.logg.WithField(ctx, "expired", expired)
	j.logg.Info(runCtx, "stale pending donations swept")
	return multierr.Combine(errs...)
}

func (j *staleDonationJob) expireDonation(ctx context.Context, donation models.Donation) error {
	return j.db.WithTx(ctx, func(tx *gorm.DB) error {
		moved, err := j.repo.WithTx(tx).MarkCancelled(ctx, donation.ID, "pending donation expired")
		if err != nil {
			return err
		}
		// A webhook settled or failed the row between the query and now.
		if !moved {
			return nil
		}
		return j.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDonationExpired,
			AggregateType: enums.AggregateDonation,
			AggregateID:   donation.ID,
			Data: map[string]string{
				"donationId":    donation.ID.String(),
				"fundingGoalId": donation.FundingGoalID.String(),
				"amount":        donation.Amount.StringFixed(2),
				"provider":      string(donation.Provider),
			},
			Version:    1,
			OccurredAt: j.now().UTC(),
		})
	})
}
