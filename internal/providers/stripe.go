package providers

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/paymentintent"

	"github.com/dreamsuncharted/funding-backend/pkg/enums"
	pkgerrors "github.com/dreamsuncharted/funding-backend/pkg/errors"
	pkgstripe "github.com/dreamsuncharted/funding-backend/pkg/stripe"
)

var stripeMinimum = decimal.NewFromFloat(0.50)

type paymentIntentCreator func(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)

// StripeAdapter opens Stripe PaymentIntents for pending donations.
type StripeAdapter struct {
	createIntent paymentIntentCreator
}

// NewStripeAdapter wires the adapter against the initialized Stripe client.
func NewStripeAdapter(client *pkgstripe.Client) (*StripeAdapter, error) {
	if client == nil {
		return nil, errors.New("stripe client is required")
	}
	return &StripeAdapter{createIntent: paymentintent.New}, nil
}

func (a *StripeAdapter) Name() enums.PaymentProvider {
	return enums.PaymentProviderStripe
}

func (a *StripeAdapter) MinimumAmount() decimal.Decimal {
	return stripeMinimum
}

func (a *StripeAdapter) CreateHandle(ctx context.Context, req HandleRequest) (*Handle, error) {
	amountCents := req.Amount.Mul(decimal.NewFromInt(100)).IntPart()
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountCents),
		Currency: stripe.String(string(req.Currency)),
	}
	params.Context = ctx
	params.AddMetadata("donation_id", req.DonationID.String())
	params.AddMetadata("funding_goal_id", req.FundingGoalID.String())
	if req.DonorEmail != nil && *req.DonorEmail != "" {
		params.ReceiptEmail = stripe.String(*req.DonorEmail)
	}

	intent, err := a.createIntent(params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "creating stripe payment intent")
	}

	return &Handle{
		Provider:      enums.PaymentProviderStripe,
		CorrelationID: intent.ID,
		ClientSecret:  intent.ClientSecret,
	}, nil
}
