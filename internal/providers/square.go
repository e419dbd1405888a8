package providers

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	sq "github.com/square/square-go-sdk"

	"github.com/dreamsuncharted/funding-backend/pkg/enums"
	pkgerrors "github.com/dreamsuncharted/funding-backend/pkg/errors"
	pkgsquare "github.com/dreamsuncharted/funding-backend/pkg/square"
)

var squareMinimum = decimal.NewFromFloat(1.00)

// SquarePaymentClient is the subset of the Square wrapper the adapter needs.
type SquarePaymentClient interface {
	CreatePayment(ctx context.Context, params pkgsquare.PaymentCreateParams) (*sq.Payment, error)
	LocationID() string
}

// SquareAdapter charges donations through Square using the client-tokenized
// payment source. Square payments land asynchronously, so the donation stays
// processing until the payment webhook confirms the terminal status.
type SquareAdapter struct {
	client SquarePaymentClient
}

// NewSquareAdapter wires the adapter against the initialized Square client.
func NewSquareAdapter(client SquarePaymentClient) (*SquareAdapter, error) {
	if client == nil {
		return nil, errors.New("square client is required")
	}
	return &SquareAdapter{client: client}, nil
}

func (a *SquareAdapter) Name() enums.PaymentProvider {
	return enums.PaymentProviderSquare
}

func (a *SquareAdapter) MinimumAmount() decimal.Decimal {
	return squareMinimum
}

func (a *SquareAdapter) CreateHandle(ctx context.Context, req HandleRequest) (*Handle, error) {
	if req.SourceID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "square donations require a payment source")
	}

	amountCents := req.Amount.Mul(decimal.NewFromInt(100)).IntPart()
	payment, err := a.client.CreatePayment(ctx, pkgsquare.PaymentCreateParams{
		AmountCents:    amountCents,
		Currency:       string(req.Currency),
		LocationID:     a.client.LocationID(),
		SourceID:       req.SourceID,
		IdempotencyKey: fmt.Sprintf("donation-%s", req.DonationID),
		Note:           "Dreams Uncharted donation",
		ReferenceID:    req.DonationID.String(),
	})
	if err != nil {
		return nil, err
	}

	paymentID := payment.GetID()
	if paymentID == nil || *paymentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "square payment response missing id")
	}

	return &Handle{
		Provider:      enums.PaymentProviderSquare,
		CorrelationID: *paymentID,
	}, nil
}
