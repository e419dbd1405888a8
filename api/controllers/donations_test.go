package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dreamsuncharted/funding-backend/api/middleware"
	"github.com/dreamsuncharted/funding-backend/internal/donations"
	"github.com/dreamsuncharted/funding-backend/internal/providers"
	"github.com/dreamsuncharted/funding-backend/pkg/db/models"
	"github.com/dreamsuncharted/funding-backend/pkg/enums"
	pkgerrors "github.com/dreamsuncharted/funding-backend/pkg/errors"
	"github.com/dreamsuncharted/funding-backend/pkg/pagination"
)

type testDonationService struct {
	initiateFn    func(ctx context.Context, input donations.InitiateInput) (*models.Donation, error)
	issueHandleFn func(ctx context.Context, donationID uuid.UUID, sourceID string) (*models.Donation, *providers.Handle, error)
	getFn         func(ctx context.Context, donationID uuid.UUID) (*models.Donation, error)
	listByDonorFn func(ctx context.Context, donorUserID uuid.UUID, params pagination.Params) ([]models.Donation, pagination.Meta, error)
	listFn        func(ctx context.Context, filter donations.ListFilter, params pagination.Params) ([]models.Donation, pagination.Meta, error)
}

func (s *testDonationService) Initiate(ctx context.Context, input donations.InitiateInput) (*models.Donation, error) {
	if s.initiateFn != nil {
		return s.initiateFn(ctx, input)
	}
	return nil, pkgerrors.New(pkgerrors.CodeInternal, "not implemented")
}

func (s *testDonationService) IssueHandle(ctx context.Context, donationID uuid.UUID, sourceID string) (*models.Donation, *providers.Handle, error) {
	if s.issueHandleFn != nil {
		return s.issueHandleFn(ctx, donationID, sourceID)
	}
	return nil, nil, pkgerrors.New(pkgerrors.CodeInternal, "not implemented")
}

func (s *testDonationService) GetDonation(ctx context.Context, donationID uuid.UUID) (*models.Donation, error) {
	if s.getFn != nil {
		return s.getFn(ctx, donationID)
	}
	return nil, pkgerrors.New(pkgerrors.CodeInternal, "not implemented")
}

func (s *testDonationService) ListByDonor(ctx context.Context, donorUserID uuid.UUID, params pagination.Params) ([]models.Donation, pagination.Meta, error) {
	if s.listByDonorFn != nil {
		return s.listByDonorFn(ctx, donorUserID, params)
	}
	return nil, pagination.Meta{}, pkgerrors.New(pkgerrors.CodeInternal, "not implemented")
}

func (s *testDonationService) ListDonations(ctx context.Context, filter donations.ListFilter, params pagination.Params) ([]models.Donation, pagination.Meta, error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter, params)
	}
	return nil, pagination.Meta{}, pkgerrors.New(pkgerrors.CodeInternal, "not implemented")
}

func sampleDonation(goalID uuid.UUID) *models.Donation {
	return &models.Donation{
		ID:            uuid.New(),
		FundingGoalID: goalID,
		Amount:        decimal.RequireFromString("25.00"),
		Currency:      enums.CurrencyUSD,
		Provider:      enums.PaymentProviderStripe,
		Status:        enums.DonationStatusPending,
	}
}

func TestDonationInitiateGuest(t *testing.T) {
	goalID := uuid.New()
	var gotInput donations.InitiateInput
	svc := &testDonationService{
		initiateFn: func(ctx context.Context, input donations.InitiateInput) (*models.Donation, error) {
			gotInput = input
			return sampleDonation(goalID), nil
		},
	}

	body := `{
		"funding_goal_id": "` + goalID.String() + `",
		"donor_name": "Sam",
		"amount": "25.00",
		"provider": "stripe",
		"message": "keep going"
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/donations", strings.NewReader(body))
	resp := httptest.NewRecorder()
	DonationInitiate(svc, testLogger())(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
	if gotInput.DonorUserID != nil {
		t.Fatal("guest donation must not carry a donor user id")
	}
	if gotInput.FundingGoalID != goalID {
		t.Fatalf("unexpected goal id %s", gotInput.FundingGoalID)
	}
	if !gotInput.Amount.Equal(decimal.RequireFromString("25.00")) {
		t.Fatalf("unexpected amount %s", gotInput.Amount)
	}
}

func TestDonationInitiateAttachesAuthenticatedDonor(t *testing.T) {
	goalID := uuid.New()
	donorID := uuid.New()
	svc := &testDonationService{
		initiateFn: func(ctx context.Context, input donations.InitiateInput) (*models.Donation, error) {
			if input.DonorUserID == nil || *input.DonorUserID != donorID {
				t.Fatalf("donor not attached: %+v", input.DonorUserID)
			}
			return sampleDonation(goalID), nil
		},
	}

	body := `{"funding_goal_id": "` + goalID.String() + `", "amount": "10.00", "provider": "square"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/donations", strings.NewReader(body))
	req = req.WithContext(middleware.WithUserID(req.Context(), donorID.String()))
	resp := httptest.NewRecorder()
	DonationInitiate(svc, testLogger())(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestDonationInitiateRejectsUnknownProvider(t *testing.T) {
	body := `{"funding_goal_id": "` + uuid.NewString() + `", "amount": "10.00", "provider": "paypal"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/donations", strings.NewReader(body))
	resp := httptest.NewRecorder()
	DonationInitiate(&testDonationService{}, testLogger())(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestDonationIssueHandleReturnsSecret(t *testing.T) {
	donation := sampleDonation(uuid.New())
	donation.Status = enums.DonationStatusProcessing
	svc := &testDonationService{
		issueHandleFn: func(ctx context.Context, donationID uuid.UUID, sourceID string) (*models.Donation, *providers.Handle, error) {
			if sourceID != "cnon:card-nonce" {
				t.Fatalf("source id not forwarded: %q", sourceID)
			}
			return donation, &providers.Handle{
				Provider:      enums.PaymentProviderStripe,
				CorrelationID: "pi_123",
				ClientSecret:  "pi_123_secret",
			}, nil
		},
	}

	body := `{"source_id": "cnon:card-nonce"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/donations/"+donation.ID.String()+"/handle", strings.NewReader(body))
	req = addRouteParam(req, "donationID", donation.ID.String())
	resp := httptest.NewRecorder()
	DonationIssueHandle(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	var envelope struct {
		Data struct {
			Handle handleView `json:"handle"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if envelope.Data.Handle.CorrelationID != "pi_123" {
		t.Fatalf("unexpected correlation id %q", envelope.Data.Handle.CorrelationID)
	}
	if envelope.Data.Handle.ClientSecret != "pi_123_secret" {
		t.Fatalf("client secret missing")
	}
}

func TestDonationIssueHandleAllowsEmptyBody(t *testing.T) {
	donation := sampleDonation(uuid.New())
	svc := &testDonationService{
		issueHandleFn: func(ctx context.Context, donationID uuid.UUID, sourceID string) (*models.Donation, *providers.Handle, error) {
			if sourceID != "" {
				t.Fatalf("expected empty source id, got %q", sourceID)
			}
			return donation, &providers.Handle{Provider: enums.PaymentProviderStripe, CorrelationID: "pi_1"}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/donations/"+donation.ID.String()+"/handle", nil)
	req = addRouteParam(req, "donationID", donation.ID.String())
	resp := httptest.NewRecorder()
	DonationIssueHandle(svc, testLogger())(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestDonationGetHidesFeeUntilSettled(t *testing.T) {
	donation := sampleDonation(uuid.New())
	donation.ProcessingFee = decimal.RequireFromString("1.03")
	donation.NetAmount = decimal.RequireFromString("23.97")
	svc := &testDonationService{
		getFn: func(ctx context.Context, donationID uuid.UUID) (*models.Donation, error) {
			return donation, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/donations/"+donation.ID.String(), nil)
	req = addRouteParam(req, "donationID", donation.ID.String())
	resp := httptest.NewRecorder()
	DonationGet(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	var envelope struct {
		Data donationView `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if envelope.Data.ProcessingFee != nil {
		t.Fatal("pending donation must not expose a processing fee")
	}

	donation.Status = enums.DonationStatusCompleted
	resp = httptest.NewRecorder()
	DonationGet(svc, testLogger())(resp, req)
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if envelope.Data.ProcessingFee == nil || *envelope.Data.ProcessingFee != "1.03" {
		t.Fatalf("completed donation fee missing: %+v", envelope.Data.ProcessingFee)
	}
	if envelope.Data.NetAmount == nil || *envelope.Data.NetAmount != "23.97" {
		t.Fatalf("completed donation net missing: %+v", envelope.Data.NetAmount)
	}
}

func TestDonationListForGoalFiltersCompleted(t *testing.T) {
	goalID := uuid.New()
	name := "Jamie"
	anonymous := sampleDonation(goalID)
	anonymous.Status = enums.DonationStatusCompleted
	anonymous.IsAnonymous = true
	anonymous.DonorName = &name

	svc := &testDonationService{
		listFn: func(ctx context.Context, filter donations.ListFilter, params pagination.Params) ([]models.Donation, pagination.Meta, error) {
			if filter.FundingGoalID == nil || *filter.FundingGoalID != goalID {
				t.Fatalf("goal filter not applied: %+v", filter)
			}
			if filter.Status == nil || *filter.Status != enums.DonationStatusCompleted {
				t.Fatalf("public feed must list completed donations only, got %+v", filter.Status)
			}
			return []models.Donation{*anonymous}, pagination.Meta{Current: 1, Pages: 1, Total: 1}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/goals/"+goalID.String()+"/donations", nil)
	req = addRouteParam(req, "goalID", goalID.String())
	resp := httptest.NewRecorder()
	DonationListForGoal(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	var envelope struct {
		Data struct {
			Donations []feedDonationView `json:"donations"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(envelope.Data.Donations) != 1 {
		t.Fatalf("expected one donation, got %d", len(envelope.Data.Donations))
	}
	if envelope.Data.Donations[0].DisplayName != "Anonymous" {
		t.Fatalf("anonymous donor name leaked: %q", envelope.Data.Donations[0].DisplayName)
	}
	if strings.Contains(resp.Body.String(), "processing_fee") {
		t.Fatal("public feed must not expose fee fields")
	}
}

func TestDonationListMineRequiresAuth(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/me/donations", nil)
	resp := httptest.NewRecorder()
	DonationListMine(&testDonationService{}, testLogger())(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestDonationListMineScopesToUser(t *testing.T) {
	donorID := uuid.New()
	svc := &testDonationService{
		listByDonorFn: func(ctx context.Context, donorUserID uuid.UUID, params pagination.Params) ([]models.Donation, pagination.Meta, error) {
			if donorUserID != donorID {
				t.Fatalf("unexpected donor %s", donorUserID)
			}
			return []models.Donation{*sampleDonation(uuid.New())}, pagination.Meta{Current: 1, Pages: 1, Total: 1}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me/donations", nil)
	req = req.WithContext(middleware.WithUserID(req.Context(), donorID.String()))
	resp := httptest.NewRecorder()
	DonationListMine(svc, testLogger())(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
}
