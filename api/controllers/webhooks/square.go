package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dreamsuncharted/funding-backend/api/responses"
	"github.com/dreamsuncharted/funding-backend/internal/reconcile"
	"github.com/dreamsuncharted/funding-backend/pkg/enums"
	pkgerrors "github.com/dreamsuncharted/funding-backend/pkg/errors"
	"github.com/dreamsuncharted/funding-backend/pkg/logger"
)

type squareClient interface {
	SigningSecret() string
}

type squareWebhookEvent struct {
	EventID   string            `json:"event_id"`
	Type      string            `json:"type"`
	CreatedAt time.Time         `json:"created_at"`
	Data      squareWebhookData `json:"data"`
}

type squareWebhookData struct {
	Type   string              `json:"type"`
	ID     string              `json:"id"`
	Object squareWebhookObject `json:"object"`
}

type squareWebhookObject struct {
	Payment *squarePaymentObject `json:"payment"`
	Refund  *squareRefundObject  `json:"refund"`
}

type squarePaymentObject struct {
	ID            string           `json:"id"`
	Status        string           `json:"status"`
	ProcessingFee []squareFeeEntry `json:"processing_fee"`
}

type squareFeeEntry struct {
	AmountMoney squareMoney `json:"amount_money"`
}

type squareMoney struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type squareRefundObject struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
	Reason    string `json:"reason"`
}

// SquareWebhook handles Square payment lifecycle events.
func SquareWebhook(svc Reconciler, client squareClient, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconcile service unavailable"))
			return
		}
		if client == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "square client unavailable"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		sigHeader := r.Header.Get("Square-Signature")
		if sigHeader == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "square signature missing"))
			return
		}
		if !validateSquareSignature(payload, client.SigningSecret(), sigHeader) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeDependency, "invalid square signature"))
			return
		}

		var event squareWebhookEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode event"))
			return
		}

		providerEvent, ok, err := translateSquareEvent(&event)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if !ok {
			responses.WriteSuccess(w, nil)
			return
		}

		finishReconcile(ctx, logg, w, "square", providerEvent.EventID, svc.Process(ctx, providerEvent))
	}
}

func translateSquareEvent(event *squareWebhookEvent) (reconcile.ProviderEvent, bool, error) {
	eventID := strings.TrimSpace(event.EventID)
	if eventID == "" {
		eventID = event.Data.ID
	}
	base := reconcile.ProviderEvent{
		EventID:    eventID,
		Provider:   enums.PaymentProviderSquare,
		OccurredAt: event.CreatedAt,
	}

	switch event.Type {
	case "payment.updated":
		payment := event.Data.Object.Payment
		if payment == nil || payment.ID == "" {
			return base, false, pkgerrors.New(pkgerrors.CodeValidation, "payment event has no payment")
		}
		base.CorrelationID = payment.ID
		switch payment.Status {
		case "COMPLETED":
			base.Outcome = reconcile.OutcomeCompleted
			base.ReportedFee = squareReportedFee(payment.ProcessingFee)
		case "FAILED":
			base.Outcome = reconcile.OutcomeFailed
			base.FailureReason = "payment failed"
		case "CANCELED":
			base.Outcome = reconcile.OutcomeCancelled
			base.FailureReason = "payment canceled"
		default:
			// APPROVED and PENDING are intermediate states.
			return base, false, nil
		}
		return base, true, nil

	case "refund.updated":
		refund := event.Data.Object.Refund
		if refund == nil || refund.PaymentID == "" {
			return base, false, pkgerrors.New(pkgerrors.CodeValidation, "refund event has no payment reference")
		}
		if refund.Status != "COMPLETED" {
			return base, false, nil
		}
		base.Outcome = reconcile.OutcomeRefunded
		base.CorrelationID = refund.PaymentID
		base.TransactionID = refund.ID
		base.RefundReason = refund.Reason
		if base.RefundReason == "" {
			base.RefundReason = "refunded via square"
		}
		return base, true, nil

	default:
		return base, false, nil
	}
}

// squareReportedFee sums the payment's fee entries. Square reports money in
// the currency's smallest unit, so cents become a two-decimal amount.
func squareReportedFee(entries []squareFeeEntry) *decimal.Decimal {
	if len(entries) == 0 {
		return nil
	}
	var cents int64
	for _, entry := range entries {
		cents += entry.AmountMoney.Amount
	}
	fee := decimal.New(cents, -2)
	return &fee
}

func validateSquareSignature(payload []byte, secret, header string) bool {
	if header == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header))
}
