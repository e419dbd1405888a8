package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dreamsuncharted/funding-backend/api/middleware"
	"github.com/dreamsuncharted/funding-backend/api/responses"
	"github.com/dreamsuncharted/funding-backend/api/validators"
	"github.com/dreamsuncharted/funding-backend/internal/donations"
	"github.com/dreamsuncharted/funding-backend/pkg/enums"
	pkgerrors "github.com/dreamsuncharted/funding-backend/pkg/errors"
	"github.com/dreamsuncharted/funding-backend/pkg/logger"
)

type initiateDonationPayload struct {
	FundingGoalID string  `json:"funding_goal_id" validate:"required,uuid"`
	DonorName     *string `json:"donor_name" validate:"omitempty,max=120"`
	DonorEmail    *string `json:"donor_email" validate:"omitempty,email"`
	IsAnonymous   bool    `json:"is_anonymous"`
	Message       *string `json:"message"`
	Amount        string  `json:"amount" validate:"required"`
	Provider      string  `json:"provider" validate:"required,oneof=stripe square"`
	RewardTierID  *string `json:"reward_tier_id" validate:"omitempty,uuid"`
}

type issueHandlePayload struct {
	// SourceID is the tokenized payment source; only Square requires it.
	SourceID string `json:"source_id"`
}

type handleView struct {
	Provider      enums.PaymentProvider `json:"provider"`
	CorrelationID string                `json:"correlation_id"`
	ClientSecret  string                `json:"client_secret,omitempty"`
}

// DonationInitiate opens a pending donation. Works for guests; when the
// request carries a valid token the donation is attached to that user.
func DonationInitiate(svc donations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "donation service unavailable"))
			return
		}

		var payload initiateDonationPayload
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		input, err := payload.toInput()
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if raw := middleware.UserIDFromContext(ctx); raw != "" {
			if userID, err := uuid.Parse(raw); err == nil {
				input.DonorUserID = &userID
			}
		}

		donation, err := svc.Initiate(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newDonationView(donation))
	}
}

// DonationIssueHandle asks the payment provider for a checkout handle and
// moves the donation from pending to processing.
func DonationIssueHandle(svc donations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "donation service unavailable"))
			return
		}
		donationID, err := validators.PathUUID(chi.URLParam(r, "donationID"), "donationID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var payload issueHandlePayload
		if r.ContentLength > 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
		}

		donation, handle, err := svc.IssueHandle(ctx, donationID, payload.SourceID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"donation": newDonationView(donation),
			"handle": handleView{
				Provider:      handle.Provider,
				CorrelationID: handle.CorrelationID,
				ClientSecret:  handle.ClientSecret,
			},
		})
	}
}

// DonationGet returns the current state of one donation.
func DonationGet(svc donations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "donation service unavailable"))
			return
		}
		donationID, err := validators.PathUUID(chi.URLParam(r, "donationID"), "donationID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		donation, err := svc.GetDonation(ctx, donationID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newDonationView(donation))
	}
}

// DonationListMine lists the authenticated donor's own donations.
func DonationListMine(svc donations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "donation service unavailable"))
			return
		}
		userID, err := uuid.Parse(middleware.UserIDFromContext(ctx))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		rows, meta, err := svc.ListByDonor(ctx, userID, params)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		views := make([]donationView, 0, len(rows))
		for i := range rows {
			views = append(views, newDonationView(&rows[i]))
		}
		responses.WriteSuccess(w, map[string]any{"donations": views, "pagination": meta})
	}
}

// DonationListForGoal is the public supporter feed for a goal page:
// completed donations only, most recent first, reduced to the fields a
// visitor may see.
func DonationListForGoal(svc donations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "donation service unavailable"))
			return
		}
		goalID, err := validators.PathUUID(chi.URLParam(r, "goalID"), "goalID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		completed := enums.DonationStatusCompleted
		rows, meta, err := svc.ListDonations(ctx, donations.ListFilter{
			FundingGoalID: &goalID,
			Status:        &completed,
		}, params)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		views := make([]feedDonationView, 0, len(rows))
		for i := range rows {
			donation := &rows[i]
			item := feedDonationView{
				DisplayName: donation.DisplayName(),
				Amount:      donation.Amount.StringFixed(2),
				Message:     donation.Message,
				ProcessedAt: donation.ProcessedAt,
			}
			if donation.TierApplied {
				item.TierTitle = donation.TierTitle
			}
			views = append(views, item)
		}
		responses.WriteSuccess(w, map[string]any{"donations": views, "pagination": meta})
	}
}

func (p initiateDonationPayload) toInput() (donations.InitiateInput, error) {
	goalID, err := uuid.Parse(p.FundingGoalID)
	if err != nil {
		return donations.InitiateInput{}, pkgerrors.New(pkgerrors.CodeValidation, "funding_goal_id must be a uuid")
	}
	amount, err := parseAmount(p.Amount, "amount")
	if err != nil {
		return donations.InitiateInput{}, err
	}

	input := donations.InitiateInput{
		FundingGoalID: goalID,
		DonorName:     p.DonorName,
		DonorEmail:    p.DonorEmail,
		IsAnonymous:   p.IsAnonymous,
		Message:       p.Message,
		Amount:        amount,
		Provider:      enums.PaymentProvider(p.Provider),
	}
	if p.RewardTierID != nil {
		tierID, err := uuid.Parse(*p.RewardTierID)
		if err != nil {
			return donations.InitiateInput{}, pkgerrors.New(pkgerrors.CodeValidation, "reward_tier_id must be a uuid")
		}
		input.RewardTierID = &tierID
	}
	return input, nil
}
