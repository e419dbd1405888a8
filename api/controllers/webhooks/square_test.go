package webhooks

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/dreamsuncharted/funding-backend/internal/reconcile"
	"github.com/dreamsuncharted/funding-backend/pkg/enums"
	pkgerrors "github.com/dreamsuncharted/funding-backend/pkg/errors"
)

const squareTestSecret = "sq-webhook-secret"

func signSquarePayload(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(squareTestSecret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func postSquareEvent(t *testing.T, svc *fakeReconciler, payload []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	handler := SquareWebhook(svc, &fakeSigningClient{secret: squareTestSecret}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/square", bytes.NewReader(payload))
	req.Header.Set("Square-Signature", signature)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestSquareWebhookCompletedPayment(t *testing.T) {
	payload := []byte(`{
		"event_id": "sq-evt-1",
		"type": "payment.updated",
		"data": {"type": "payment", "id": "obj-1", "object": {"payment": {"id": "sq_pay_1", "status": "COMPLETED"}}}
	}`)
	svc := &fakeReconciler{}
	rec := postSquareEvent(t, svc, payload, signSquarePayload(payload))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if len(svc.events) != 1 {
		t.Fatalf("expected one event, got %d", len(svc.events))
	}
	event := svc.events[0]
	if event.Outcome != reconcile.OutcomeCompleted {
		t.Fatalf("unexpected outcome %q", event.Outcome)
	}
	if event.Provider != enums.PaymentProviderSquare {
		t.Fatalf("unexpected provider %q", event.Provider)
	}
	if event.CorrelationID != "sq_pay_1" {
		t.Fatalf("unexpected correlation %q", event.CorrelationID)
	}
	if event.EventID != "sq-evt-1" {
		t.Fatalf("unexpected event id %q", event.EventID)
	}
}

func TestSquareWebhookCarriesReportedFee(t *testing.T) {
	payload := []byte(`{
		"event_id": "sq-evt-7",
		"type": "payment.updated",
		"data": {"object": {"payment": {
			"id": "sq_pay_7",
			"status": "COMPLETED",
			"processing_fee": [{"amount_money": {"amount": 59, "currency": "USD"}},
				{"amount_money": {"amount": 30, "currency": "USD"}}]
		}}}
	}`)
	svc := &fakeReconciler{}
	rec := postSquareEvent(t, svc, payload, signSquarePayload(payload))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if len(svc.events) != 1 {
		t.Fatalf("expected one event, got %d", len(svc.events))
	}
	event := svc.events[0]
	if event.ReportedFee == nil {
		t.Fatal("reported fee missing from translated event")
	}
	if !event.ReportedFee.Equal(decimal.RequireFromString("0.89")) {
		t.Fatalf("reported fee = %s, want the summed 0.89", event.ReportedFee)
	}
}

func TestSquareWebhookIgnoresIntermediateStates(t *testing.T) {
	payload := []byte(`{
		"event_id": "sq-evt-2",
		"type": "payment.updated",
		"data": {"object": {"payment": {"id": "sq_pay_2", "status": "APPROVED"}}}
	}`)
	svc := &fakeReconciler{}
	rec := postSquareEvent(t, svc, payload, signSquarePayload(payload))

	if rec.Code != http.StatusOK {
		t.Fatalf("intermediate states must be acknowledged, got %d", rec.Code)
	}
	if len(svc.events) != 0 {
		t.Fatal("intermediate states must not reach the reconciler")
	}
}

func TestSquareWebhookCompletedRefund(t *testing.T) {
	payload := []byte(`{
		"event_id": "sq-evt-3",
		"type": "refund.updated",
		"data": {"object": {"refund": {"id": "sq_ref_1", "payment_id": "sq_pay_1", "status": "COMPLETED", "reason": "requested by donor"}}}
	}`)
	svc := &fakeReconciler{}
	rec := postSquareEvent(t, svc, payload, signSquarePayload(payload))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if len(svc.events) != 1 {
		t.Fatalf("expected one event, got %d", len(svc.events))
	}
	event := svc.events[0]
	if event.Outcome != reconcile.OutcomeRefunded {
		t.Fatalf("unexpected outcome %q", event.Outcome)
	}
	if event.CorrelationID != "sq_pay_1" {
		t.Fatalf("refund must correlate through the payment id, got %q", event.CorrelationID)
	}
	if event.RefundReason != "requested by donor" {
		t.Fatalf("refund reason not carried: %q", event.RefundReason)
	}
}

func TestSquareWebhookAcknowledgesUnknownPayment(t *testing.T) {
	payload := []byte(`{
		"event_id": "sq-evt-5",
		"type": "payment.updated",
		"data": {"object": {"payment": {"id": "sq_pay_unknown", "status": "COMPLETED"}}}
	}`)
	svc := &fakeReconciler{err: pkgerrors.New(pkgerrors.CodeNotFound, "donation not found for correlation id")}
	rec := postSquareEvent(t, svc, payload, signSquarePayload(payload))

	// Payments created on the same Square account outside this system fail
	// the same way on every redelivery; bouncing them builds a retry storm.
	if rec.Code != http.StatusOK {
		t.Fatalf("unknown payment must be acknowledged, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestSquareWebhookSurfacesTransientFailure(t *testing.T) {
	payload := []byte(`{
		"event_id": "sq-evt-6",
		"type": "payment.updated",
		"data": {"object": {"payment": {"id": "sq_pay_6", "status": "COMPLETED"}}}
	}`)
	svc := &fakeReconciler{err: pkgerrors.New(pkgerrors.CodeDependency, "database unavailable")}
	rec := postSquareEvent(t, svc, payload, signSquarePayload(payload))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("transient failure must trigger redelivery, got %d", rec.Code)
	}
}

func TestSquareWebhookInvalidSignature(t *testing.T) {
	payload := []byte(`{"event_id": "sq-evt-4", "type": "payment.updated"}`)
	svc := &fakeReconciler{}
	rec := postSquareEvent(t, svc, payload, "deadbeef")

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for invalid signature, got %d", rec.Code)
	}
	if len(svc.events) != 0 {
		t.Fatal("reconciler must not run on invalid signature")
	}
}

func TestSquareWebhookMissingPaymentRejected(t *testing.T) {
	payload := []byte(`{
		"event_id": "sq-evt-5",
		"type": "payment.updated",
		"data": {"object": {}}
	}`)
	svc := &fakeReconciler{}
	rec := postSquareEvent(t, svc, payload, signSquarePayload(payload))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (%s)", rec.Code, rec.Body.String())
	}
}
