package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dreamsuncharted/funding-backend/api/middleware"
	"github.com/dreamsuncharted/funding-backend/api/responses"
	"github.com/dreamsuncharted/funding-backend/api/validators"
	"github.com/dreamsuncharted/funding-backend/internal/funding"
	"github.com/dreamsuncharted/funding-backend/pkg/enums"
	pkgerrors "github.com/dreamsuncharted/funding-backend/pkg/errors"
	"github.com/dreamsuncharted/funding-backend/pkg/logger"
)

type tierPayload struct {
	Amount      string `json:"amount" validate:"required"`
	Title       string `json:"title" validate:"required,max=120"`
	Description string `json:"description" validate:"max=1000"`
	MaxBackers  *int   `json:"max_backers"`
}

type createGoalPayload struct {
	ContentID    *string       `json:"content_id" validate:"omitempty,uuid"`
	SeriesID     *string       `json:"series_id" validate:"omitempty,uuid"`
	FundingType  string        `json:"funding_type" validate:"required"`
	Title        string        `json:"title" validate:"required,max=200"`
	Description  string        `json:"description" validate:"max=5000"`
	TargetAmount string        `json:"target_amount" validate:"required"`
	Currency     string        `json:"currency"`
	Deadline     *time.Time    `json:"deadline"`
	RewardTiers  []tierPayload `json:"reward_tiers" validate:"dive"`
}

type updateGoalPayload struct {
	Title         *string    `json:"title" validate:"omitempty,max=200"`
	Description   *string    `json:"description" validate:"omitempty,max=5000"`
	TargetAmount  *string    `json:"target_amount"`
	Deadline      *time.Time `json:"deadline"`
	ClearDeadline bool       `json:"clear_deadline"`
}

type setGoalStatusPayload struct {
	Status string `json:"status" validate:"required,oneof=active paused cancelled"`
}

// GoalCreate opens a funding goal for the authenticated creator.
func GoalCreate(svc funding.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "funding service unavailable"))
			return
		}
		actor, ok := middleware.ActorFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}

		var payload createGoalPayload
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		input, err := payload.toInput()
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		goal, err := svc.CreateGoal(ctx, actor, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newGoalView(goal))
	}
}

// GoalUpdate edits an open goal.
func GoalUpdate(svc funding.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "funding service unavailable"))
			return
		}
		actor, ok := middleware.ActorFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}
		goalID, err := validators.PathUUID(chi.URLParam(r, "goalID"), "goalID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var payload updateGoalPayload
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		input := funding.UpdateGoalInput{
			Title:         payload.Title,
			Description:   payload.Description,
			Deadline:      payload.Deadline,
			ClearDeadline: payload.ClearDeadline,
		}
		if payload.TargetAmount != nil {
			target, err := parseAmount(*payload.TargetAmount, "target_amount")
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			input.TargetAmount = &target
		}

		goal, err := svc.UpdateGoal(ctx, actor, goalID, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newGoalView(goal))
	}
}

// GoalSetStatus pauses, resumes or cancels a goal.
func GoalSetStatus(svc funding.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "funding service unavailable"))
			return
		}
		actor, ok := middleware.ActorFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}
		goalID, err := validators.PathUUID(chi.URLParam(r, "goalID"), "goalID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var payload setGoalStatusPayload
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		goal, err := svc.SetGoalStatus(ctx, actor, goalID, enums.FundingGoalStatus(payload.Status))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newGoalView(goal))
	}
}

// GoalDelete removes a goal that has not raised anything.
func GoalDelete(svc funding.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "funding service unavailable"))
			return
		}
		actor, ok := middleware.ActorFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}
		goalID, err := validators.PathUUID(chi.URLParam(r, "goalID"), "goalID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if err := svc.DeleteGoal(ctx, actor, goalID); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, nil)
	}
}

// GoalGet returns a single goal with its tiers.
func GoalGet(svc funding.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "funding service unavailable"))
			return
		}
		goalID, err := validators.PathUUID(chi.URLParam(r, "goalID"), "goalID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		goal, err := svc.GetGoal(ctx, goalID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newGoalView(goal))
	}
}

// GoalSnapshot returns the public goal page read model.
func GoalSnapshot(svc funding.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "funding service unavailable"))
			return
		}
		goalID, err := validators.PathUUID(chi.URLParam(r, "goalID"), "goalID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		snapshot, err := svc.GetSnapshot(ctx, goalID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newSnapshotView(snapshot))
	}
}

// GoalList lists goals filtered by creator, series, status or type.
func GoalList(svc funding.Service, logg *logger.Logger) http.HandlerFunc {
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

func goalFilterFromQuery(r *http.Request) (funding.ListFilter, error) {
	var filter funding.ListFilter

	creatorID, err := validators.ParseQueryUUID(r, "creator_id")
	if err != nil {
		return filter, err
	}
	filter.CreatorUserID = creatorID

	seriesID, err := validators.ParseQueryUUID(r, "series_id")
	if err != nil {
		return filter, err
	}
	filter.SeriesID = seriesID

	if raw := r.URL.Query().Get("status"); raw != "" {
		status := enums.FundingGoalStatus(raw)
		if !status.IsValid() {
			return filter, pkgerrors.New(pkgerrors.CodeValidation, "invalid status filter")
		}
		filter.Status = &status
	}
	if raw := r.URL.Query().Get("funding_type"); raw != "" {
		fundingType, err := enums.ParseFundingType(raw)
		if err != nil {
			return filter, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid funding type filter")
		}
		filter.FundingType = &fundingType
	}
	return filter, nil
}

func (p createGoalPayload) toInput() (funding.CreateGoalInput, error) {
	target, err := parseAmount(p.TargetAmount, "target_amount")
	if err != nil {
		return funding.CreateGoalInput{}, err
	}

	input := funding.CreateGoalInput{
		FundingType:  enums.FundingType(p.FundingType),
		Title:        p.Title,
		Description:  p.Description,
		TargetAmount: target,
		Currency:     enums.Currency(p.Currency),
		Deadline:     p.Deadline,
	}

	if p.ContentID != nil {
		id, err := uuid.Parse(*p.ContentID)
		if err != nil {
			return funding.CreateGoalInput{}, pkgerrors.New(pkgerrors.CodeValidation, "content_id must be a uuid")
		}
		input.ContentID = &id
	}
	if p.SeriesID != nil {
		id, err := uuid.Parse(*p.SeriesID)
		if err != nil {
			return funding.CreateGoalInput{}, pkgerrors.New(pkgerrors.CodeValidation, "series_id must be a uuid")
		}
		input.SeriesID = &id
	}

	for _, tier := range p.RewardTiers {
		amount, err := parseAmount(tier.Amount, "reward_tiers.amount")
		if err != nil {
			return funding.CreateGoalInput{}, err
		}
		input.RewardTiers = append(input.RewardTiers, funding.TierInput{
			Amount:      amount,
			Title:       tier.Title,
			Description: tier.Description,
			MaxBackers:  tier.MaxBackers,
		})
	}
	return input, nil
}

func parseAmount(raw, field string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, pkgerrors.New(pkgerrors.CodeValidation, field+" must be a decimal amount")
	}
	return amount, nil
}
