package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/dreamsuncharted/funding-backend/api/responses"
	"github.com/dreamsuncharted/funding-backend/internal/reconcile"
	"github.com/dreamsuncharted/funding-backend/pkg/enums"
	pkgerrors "github.com/dreamsuncharted/funding-backend/pkg/errors"
	"github.com/dreamsuncharted/funding-backend/pkg/logger"
)

// Reconciler settles normalized provider events against the ledger. It is
// responsible for deduplication, so webhook handlers only verify and translate.
type Reconciler interface {
	Process(ctx context.Context, event reconcile.ProviderEvent) error
}

type stripeClient interface {
	SigningSecret() string
}

// StripeWebhook handles Stripe payment lifecycle events.
func StripeWebhook(svc Reconciler, client stripeClient, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconcile service unavailable"))
			return
		}
		if client == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stripe client unavailable"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		sigHeader := r.Header.Get("Stripe-Signature")
		if sigHeader == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "stripe signature missing"))
			return
		}

		event, err := webhook.ConstructEvent(payload, sigHeader, client.SigningSecret())
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "verify signature"))
			return
		}

		providerEvent, ok, err := translateStripeEvent(&event)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if !ok {
			// Unhandled event types are acknowledged so Stripe stops retrying.
			responses.WriteSuccess(w, nil)
			return
		}

		finishReconcile(ctx, logg, w, "stripe", event.ID, svc.Process(ctx, providerEvent))
	}
}

func translateStripeEvent(event *stripe.Event) (reconcile.ProviderEvent, bool, error) {
	base := reconcile.ProviderEvent{
		EventID:    event.ID,
		Provider:   enums.PaymentProviderStripe,
		OccurredAt: time.Unix(event.Created, 0).UTC(),
	}
	if event.Data == nil {
		return base, false, pkgerrors.New(pkgerrors.CodeValidation, "stripe event has no data")
	}

	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed", "payment_intent.canceled":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return base, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode payment intent")
		}
		base.CorrelationID = intent.ID
		switch event.Type {
		case "payment_intent.succeeded":
			base.Outcome = reconcile.OutcomeCompleted
			if intent.LatestCharge != nil {
				base.TransactionID = intent.LatestCharge.ID
			}
		case "payment_intent.payment_failed":
			base.Outcome = reconcile.OutcomeFailed
			if intent.LastPaymentError != nil {
				base.FailureReason = intent.LastPaymentError.Msg
			}
		case "payment_intent.canceled":
			base.Outcome = reconcile.OutcomeCancelled
			base.FailureReason = string(intent.CancellationReason)
		}
		return base, true, nil

	case "charge.refunded":
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return base, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode charge")
		}
		if charge.PaymentIntent == nil {
			return base, false, pkgerrors.New(pkgerrors.CodeValidation, "refunded charge has no payment intent")
		}
		base.Outcome = reconcile.OutcomeRefunded
		base.CorrelationID = charge.PaymentIntent.ID
		base.TransactionID = charge.ID
		base.RefundReason = "refunded via stripe"
		return base, true, nil

	default:
		return base, false, nil
	}
}
