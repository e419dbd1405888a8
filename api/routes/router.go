package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dreamsuncharted/funding-backend/api/controllers"
	webhookcontrollers "github.com/dreamsuncharted/funding-backend/api/controllers/webhooks"
	"github.com/dreamsuncharted/funding-backend/api/middleware"
	"github.com/dreamsuncharted/funding-backend/internal/donations"
	"github.com/dreamsuncharted/funding-backend/internal/funding"
	"github.com/dreamsuncharted/funding-backend/internal/reconcile"
	"github.com/dreamsuncharted/funding-backend/pkg/config"
	"github.com/dreamsuncharted/funding-backend/pkg/logger"
	"github.com/dreamsuncharted/funding-backend/pkg/square"
	"github.com/dreamsuncharted/funding-backend/pkg/stripe"
)

// Deps bundles everything the router wires into handlers.
type Deps struct {
	Config          *config.Config
	Logger          *logger.Logger
	Readiness       map[string]controllers.Pinger
	FundingService  funding.Service
	DonationService donations.Service
	Reconciler      *reconcile.Service
	StripeClient    *stripe.Client
	SquareClient    *square.Client
	MetricsHandler  http.Handler
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.Readiness))
	})
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(deps.Reconciler, deps.StripeClient, logg))
		r.Post("/square", webhookcontrollers.SquareWebhook(deps.Reconciler, deps.SquareClient, logg))
	})

	// Public surface: goal pages and donation checkout. Donations accept an
	// optional token so logged-in supporters get attributed.
	r.Route("/api/v1/goals", func(r chi.Router) {
		r.Get("/", controllers.GoalList(deps.FundingService, logg))
		r.Get("/{goalID}", controllers.GoalGet(deps.FundingService, logg))
		r.Get("/{goalID}/snapshot", controllers.GoalSnapshot(deps.FundingService, logg))
		r.Get("/{goalID}/donations", controllers.DonationListForGoal(deps.DonationService, logg))
	})
	r.Route("/api/v1/donations", func(r chi.Router) {
		r.With(middleware.OptionalAuth(cfg.JWT, logg)).Post("/", controllers.DonationInitiate(deps.DonationService, logg))
		r.Post("/{donationID}/handle", controllers.DonationIssueHandle(deps.DonationService, logg))
		r.Get("/{donationID}", controllers.DonationGet(deps.DonationService, logg))
	})

	r.Route("/api/v1/me", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Get("/donations", controllers.DonationListMine(deps.DonationService, logg))
	})

	r.Route("/api/v1/creator", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireCreator(logg))
		r.Route("/goals", func(r chi.Router) {
			r.Post("/", controllers.GoalCreate(deps.FundingService, logg))
			r.Patch("/{goalID}", controllers.GoalUpdate(deps.FundingService, logg))
			r.Post("/{goalID}/status", controllers.GoalSetStatus(deps.FundingService, logg))
			r.Delete("/{goalID}", controllers.GoalDelete(deps.FundingService, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireAdmin(logg))
		r.Route("/donations", func(r chi.Router) {
			r.Get("/", controllers.AdminDonationList(deps.DonationService, logg))
			r.Post("/{donationID}/refund", controllers.AdminDonationRefund(deps.DonationService, deps.Reconciler, logg))
		})
		r.Get("/funding/goals", controllers.AdminGoalList(deps.FundingService, logg))
	})

	return r
}
