package providers

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dreamsuncharted/funding-backend/pkg/enums"
	pkgerrors "github.com/dreamsuncharted/funding-backend/pkg/errors"
)

// HandleRequest carries everything an adapter needs to open a payment with
// its provider for a pending donation.
type HandleRequest struct {
	DonationID    uuid.UUID
	FundingGoalID uuid.UUID
	Amount        decimal.Decimal
	Currency      enums.Currency
	DonorEmail    *string
	// SourceID is the client-side payment token. Square requires it at
	// handle time; Stripe collects payment details against the client
	// secret afterwards.
	SourceID string
}

// Handle is the provider-issued reference the client uses to complete
// payment. CorrelationID is what reconciliation later matches webhooks on.
type Handle struct {
	Provider      enums.PaymentProvider
	CorrelationID string
	// ClientSecret is set for providers that finish payment client-side.
	ClientSecret string
}

// Adapter is the per-provider surface for opening payments.
type Adapter interface {
	Name() enums.PaymentProvider
	MinimumAmount() decimal.Decimal
	CreateHandle(ctx context.Context, req HandleRequest) (*Handle, error)
}

// Registry resolves adapters by provider name.
type Registry struct {
	adapters map[enums.PaymentProvider]Adapter
}

// NewRegistry indexes the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	indexed := make(map[enums.PaymentProvider]Adapter, len(adapters))
	for _, adapter := range adapters {
		if adapter == nil {
			continue
		}
		indexed[adapter.Name()] = adapter
	}
	return &Registry{adapters: indexed}
}

// Get returns the adapter for the provider or a validation error.
func (r *Registry) Get(provider enums.PaymentProvider) (Adapter, error) {
	if r == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "provider registry not configured")
	}
	adapter, ok := r.adapters[provider]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("payment provider %q is not enabled", provider))
	}
	return adapter, nil
}

var (
	feeRate = decimal.NewFromFloat(0.029)
	feeFlat = decimal.NewFromFloat(0.30)
)

// ProcessingFee returns the provider processing fee for a gross amount,
// 2.9% plus 30 cents, rounded to cents.
func ProcessingFee(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(feeRate).Add(feeFlat).Round(2)
}

// NetAmount returns the amount credited after the processing fee.
func NetAmount(amount decimal.Decimal) decimal.Decimal {
	return amount.Sub(ProcessingFee(amount))
}
