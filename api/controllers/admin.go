package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dreamsuncharted/funding-backend/api/responses"
	"github.com/dreamsuncharted/funding-backend/api/validators"
	"github.com/dreamsuncharted/funding-backend/internal/donations"
	"github.com/dreamsuncharted/funding-backend/internal/funding"
	"github.com/dreamsuncharted/funding-backend/internal/reconcile"
	"github.com/dreamsuncharted/funding-backend/pkg/enums"
	pkgerrors "github.com/dreamsuncharted/funding-backend/pkg/errors"
	"github.com/dreamsuncharted/funding-backend/pkg/logger"
)

type adminRefundPayload struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// donationReconciler settles synthesized refund events against the ledger.
type donationReconciler interface {
	Process(ctx context.Context, event reconcile.ProviderEvent) error
}

// AdminGoalList lists funding goals across all creators for the back
// office, with the same filter set as the public listing.
func AdminGoalList(svc funding.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "funding service unavailable"))
			return
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		filter, err := goalFilterFromQuery(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		goals, meta, err := svc.ListGoals(ctx, filter, params)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		views := make([]goalView, 0, len(goals))
		for i := range goals {
			views = append(views, newGoalView(&goals[i]))
		}
		responses.WriteSuccess(w, map[string]any{"goals": views, "pagination": meta})
	}
}

// AdminDonationList lists donations across all goals with filters.
func AdminDonationList(svc donations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "donation service unavailable"))
			return
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		filter, err := donationFilterFromQuery(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		rows, meta, err := svc.ListDonations(ctx, filter, params)
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

// AdminDonationRefund records a provider-side refund for a completed
// donation. The refund itself is issued in the provider dashboard; this
// endpoint reconciles the ledger without waiting for the webhook.
func AdminDonationRefund(donationSvc donations.Service, reconciler donationReconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if donationSvc == nil || reconciler == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "refund service unavailable"))
			return
		}
		donationID, err := validators.PathUUID(chi.URLParam(r, "donationID"), "donationID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var payload adminRefundPayload
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		donation, err := donationSvc.GetDonation(ctx, donationID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if donation.Status != enums.DonationStatusCompleted {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeStateConflict, "only completed donations can be refunded"))
			return
		}
		if donation.CorrelationID == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeStateConflict, "donation has no provider reference"))
			return
		}

		event := reconcile.ProviderEvent{
			EventID:       "admin_refund_" + uuid.NewString(),
			Provider:      donation.Provider,
			Outcome:       reconcile.OutcomeRefunded,
			CorrelationID: *donation.CorrelationID,
			RefundReason:  payload.Reason,
			OccurredAt:    time.Now().UTC(),
		}
		if err := reconciler.Process(ctx, event); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		refunded, err := donationSvc.GetDonation(ctx, donationID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newDonationView(refunded))
	}
}

func donationFilterFromQuery(r *http.Request) (donations.ListFilter, error) {
	var filter donations.ListFilter

	goalID, err := validators.ParseQueryUUID(r, "funding_goal_id")
	if err != nil {
		return filter, err
	}
	filter.FundingGoalID = goalID

	donorID, err := validators.ParseQueryUUID(r, "donor_user_id")
	if err != nil {
		return filter, err
	}
	filter.DonorUserID = donorID

	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := enums.ParseDonationStatus(raw)
		if err != nil {
			return filter, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter")
		}
		filter.Status = &status
	}
	if raw := r.URL.Query().Get("provider"); raw != "" {
		provider, err := enums.ParsePaymentProvider(raw)
		if err != nil {
			return filter, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid provider filter")
		}
		filter.Provider = &provider
	}
	return filter, nil
}
