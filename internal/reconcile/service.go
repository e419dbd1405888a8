package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	"github.com/dreamsuncharted/funding-backend/internal/donations"
	"github.com/dreamsuncharted/funding-backend/internal/funding"
	"github.com/dreamsuncharted/funding-backend/internal/providers"
	"github.com/dreamsuncharted/funding-backend/pkg/db"
	"github.com/dreamsuncharted/funding-backend/pkg/db/models"
	"github.com/dreamsuncharted/funding-backend/pkg/enums"
	pkgerrors "github.com/dreamsuncharted/funding-backend/pkg/errors"
	"github.com/dreamsuncharted/funding-backend/pkg/logger"
	"github.com/dreamsuncharted/funding-backend/pkg/metrics"
	"github.com/dreamsuncharted/funding-backend/pkg/outbox"
	"github.com/dreamsuncharted/funding-backend/pkg/redis"
)

const (
	defaultMaxRetries    = 5
	retryInitialBackoff  = 50 * time.Millisecond
	defaultWebhookDedupe = 30 * 24 * time.Hour
)

// Service applies provider webhook events to the donation ledger and the
// goal aggregates. Process is safe to call with replayed or out-of-order
// events; every state change is a conditional update.
type Service struct {
	db         *db.Client
	donations  donations.Repository
	goals      funding.Repository
	aggregator *funding.Aggregator
	events     *outbox.Service
	guard      redis.IdempotencyStore
	metrics    *metrics.ReconcileMetrics
	logg       *logger.Logger

	maxRetries uint64
	dedupeTTL  time.Duration
}

// Options tunes retry and dedupe behavior.
type Options struct {
	MaxRetries uint64
	DedupeTTL  time.Duration
}

// NewService wires the reconciliation service.
func NewService(
	client *db.Client,
	donationRepo donations.Repository,
	goalRepo funding.Repository,
	aggregator *funding.Aggregator,
	events *outbox.Service,
	guard redis.IdempotencyStore,
	reconMetrics *metrics.ReconcileMetrics,
	logg *logger.Logger,
	opts Options,
) (*Service, error) {
	if client == nil {
		return nil, fmt.Errorf("db client required")
	}
	if donationRepo == nil {
		return nil, fmt.Errorf("donation repository required")
	}
	if goalRepo == nil {
		return nil, fmt.Errorf("funding repository required")
	}
	if aggregator == nil {
		return nil, fmt.Errorf("aggregator required")
	}
	if events == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.DedupeTTL <= 0 {
		opts.DedupeTTL = defaultWebhookDedupe
	}
	return &Service{
		db:         client,
		donations:  donationRepo,
		goals:      goalRepo,
		aggregator: aggregator,
		events:     events,
		guard:      guard,
		metrics:    reconMetrics,
		logg:       logg,
		maxRetries: opts.MaxRetries,
		dedupeTTL:  opts.DedupeTTL,
	}, nil
}

// Process applies one provider event. Duplicate events (same provider event
// id, or an outcome the ledger already recorded) return nil so the provider
// stops retrying.
func (s *Service) Process(ctx context.Context, event ProviderEvent) error {
	start := time.Now()
	defer func() {
		s.metrics.ObserveDuration(string(event.Provider), time.Since(start))
	}()

	if event.EventID == "" || event.CorrelationID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "event id and correlation id are required")
	}

	dedupeKey, fresh, err := s.claimEvent(ctx, event)
	if err != nil {
		return err
	}
	if !fresh {
		s.metrics.IncDuplicate(string(event.Provider))
		if s.logg != nil {
			s.logg.Info(ctx, "webhook event already seen, skipping")
		}
		return nil
	}

	if err := s.apply(ctx, event); err != nil {
		// Release the claim so the provider's retry gets another run.
		s.releaseEvent(ctx, dedupeKey)
		return err
	}
	return nil
}

func (s *Service) apply(ctx context.Context, event ProviderEvent) error {
	donation, err := s.donations.FindByCorrelationID(ctx, event.CorrelationID)
	if err != nil {
		return err
	}
	ctx = s.withLogFields(ctx, donation)

	backoff := retry.WithMaxRetries(s.maxRetries, retry.NewExponential(retryInitialBackoff))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		txErr := s.db.WithTx(ctx, func(tx *gorm.DB) error {
			return s.applyInTx(ctx, tx, donation, event)
		})
		if errors.Is(txErr, funding.ErrVersionConflict) {
			s.metrics.IncVersionConflict(string(event.Provider))
			return retry.RetryableError(txErr)
		}
		return txErr
	})
	if err != nil {
		if s.logg != nil {
			s.logg.Error(ctx, "reconciliation failed", err)
		}
		return err
	}

	s.metrics.IncOutcome(string(event.Provider), string(event.Outcome))
	return nil
}

func (s *Service) applyInTx(ctx context.Context, tx *gorm.DB, donation *models.Donation, event ProviderEvent) error {
	repo := s.donations.WithTx(tx)

	switch event.Outcome {
	case OutcomeCompleted:
		return s.applyCompletion(ctx, tx, repo, donation, event)
	case OutcomeFailed:
		moved, err := repo.MarkFailed(ctx, donation.ID, event.FailureReason)
		if err != nil {
			return err
		}
		if !moved && s.logg != nil {
			s.logg.Warn(ctx, "failure event for donation no longer processing")
		}
		return nil
	case OutcomeCancelled:
		moved, err := repo.MarkCancelled(ctx, donation.ID, event.FailureReason)
		if err != nil {
			return err
		}
		if !moved && s.logg != nil {
			s.logg.Warn(ctx, "cancel event for donation no longer open")
		}
		return nil
	case OutcomeRefunded:
		return s.applyRefund(ctx, tx, repo, donation, event)
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown outcome %q", event.Outcome))
	}
}

func (s *Service) applyCompletion(ctx context.Context, tx *gorm.DB, repo donations.Repository, donation *models.Donation, event ProviderEvent) error {
	transactionID := event.TransactionID
	if transactionID == "" {
		transactionID = event.CorrelationID
	}
	processedAt := event.OccurredAt
	if processedAt.IsZero() {
		processedAt = time.Now()
	}

	fee := providers.ProcessingFee(donation.Amount)
	if event.ReportedFee != nil {
		fee = *event.ReportedFee
	}

	moved, err := repo.MarkCompleted(ctx, donation.ID, donations.CompletionUpdate{
		TransactionID: transactionID,
		ProcessingFee: fee,
		NetAmount:     donation.Amount.Sub(fee),
		ProcessedAt:   processedAt,
	})
	if err != nil {
		return err
	}
	if !moved {
		// Already terminal; the provider replayed a settled payment.
		if s.logg != nil {
			s.logg.Info(ctx, "completion event for donation already settled")
		}
		return nil
	}
	donation.Status = enums.DonationStatusCompleted

	if donation.RewardTierID != nil {
		claimed, err := s.goals.WithTx(tx).TryIncrementTierBackers(ctx, *donation.RewardTierID)
		if err != nil {
			return err
		}
		// The tier may have filled since initiation; the donation still
		// settles, it just loses the perk.
		if claimed {
			if err := repo.SetTierApplied(ctx, donation.ID, true); err != nil {
				return err
			}
			donation.TierApplied = true
		} else if s.logg != nil {
			s.logg.Warn(ctx, "reward tier filled before settlement")
		}
	}

	result, err := s.aggregator.ApplyCompletion(ctx, tx, donation)
	if err != nil {
		return err
	}

	if err := s.events.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventDonationThanked,
		AggregateType: enums.AggregateDonation,
		AggregateID:   donation.ID,
		Data:          newDonationEventPayload(donation),
		Version:       1,
		OccurredAt:    processedAt,
	}); err != nil {
		return err
	}

	if result.GoalCompleted {
		if err := s.events.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventGoalCompleted,
			AggregateType: enums.AggregateFundingGoal,
			AggregateID:   result.Goal.ID,
			Data:          newGoalCompletedPayload(result.Goal),
			Version:       1,
			OccurredAt:    processedAt,
		}); err != nil {
			return err
		}
		if s.logg != nil {
			s.logg.Info(s.logg.WithGoalID(ctx, result.Goal.ID.String()), "funding goal completed")
		}
	}
	return nil
}

func (s *Service) applyRefund(ctx context.Context, tx *gorm.DB, repo donations.Repository, donation *models.Donation, event ProviderEvent) error {
	moved, err := repo.MarkRefunded(ctx, donation.ID, event.RefundReason)
	if err != nil {
		return err
	}
	if !moved {
		if s.logg != nil {
			s.logg.Info(ctx, "refund event for donation not in completed state")
		}
		return nil
	}
	donation.Status = enums.DonationStatusRefunded

	if err := s.aggregator.ApplyRefund(ctx, tx, donation); err != nil {
		return err
	}

	return s.events.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventDonationRefunded,
		AggregateType: enums.AggregateDonation,
		AggregateID:   donation.ID,
		Data:          newDonationEventPayload(donation),
		Version:       1,
		OccurredAt:    time.Now(),
	})
}

// claimEvent takes the dedupe slot for the provider event. Without a guard
// store configured the event is always treated as fresh and the database
// conditionals carry deduplication alone.
func (s *Service) claimEvent(ctx context.Context, event ProviderEvent) (string, bool, error) {
	if s.guard == nil {
		return "", true, nil
	}
	key := s.guard.IdempotencyKey(string(event.Provider), event.EventID)
	fresh, err := s.guard.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), s.dedupeTTL)
	if err != nil {
		// Redis being down must not drop payments; fall through to the
		// conditional updates.
		if s.logg != nil {
			s.logg.Warn(ctx, "webhook dedupe store unavailable")
		}
		return "", true, nil
	}
	return key, fresh, nil
}

func (s *Service) releaseEvent(ctx context.Context, key string) {
	if s.guard == nil || key == "" {
		return
	}
	if err := s.guard.Del(ctx, key); err != nil && s.logg != nil {
		s.logg.Warn(ctx, "failed to release webhook dedupe key")
	}
}

func (s *Service) withLogFields(ctx context.Context, donation *models.Donation) context.Context {
	if s.logg == nil {
		return ctx
	}
	ctx = s.logg.WithDonationID(ctx, donation.ID.String())
	return s.logg.WithGoalID(ctx, donation.FundingGoalID.String())
}
