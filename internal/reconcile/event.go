package reconcile

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/dreamsuncharted/funding-backend/pkg/enums"
)

// Outcome is the provider's verdict on a payment attempt.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeRefunded  Outcome = "refunded"
)

// ProviderEvent is the normalized webhook notification handed to the
// reconciliation service. Controllers translate each provider's payload into
// this shape; EventID is the provider's own event identifier and drives
// deduplication.
type ProviderEvent struct {
	EventID       string
	Provider      enums.PaymentProvider
	Outcome       Outcome
	CorrelationID string
	// TransactionID is the provider's settlement reference, recorded on
	// completion. Falls back to CorrelationID when the provider does not
	// send a separate one.
	TransactionID string
	// ReportedFee is the processing fee the provider itself reported for a
	// completed payment. Nil when the payload carries no fee; settlement
	// then falls back to the provider formula.
	ReportedFee   *decimal.Decimal
	FailureReason string
	RefundReason  string
	OccurredAt    time.Time
}
