package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dreamsuncharted/funding-backend/api/controllers"
	"github.com/dreamsuncharted/funding-backend/api/routes"
	"github.com/dreamsuncharted/funding-backend/internal/donations"
	"github.com/dreamsuncharted/funding-backend/internal/funding"
	"github.com/dreamsuncharted/funding-backend/internal/providers"
	"github.com/dreamsuncharted/funding-backend/internal/reconcile"
	"github.com/dreamsuncharted/funding-backend/pkg/config"
	"github.com/dreamsuncharted/funding-backend/pkg/content"
	"github.com/dreamsuncharted/funding-backend/pkg/db"
	"github.com/dreamsuncharted/funding-backend/pkg/logger"
	"github.com/dreamsuncharted/funding-backend/pkg/metrics"
	"github.com/dreamsuncharted/funding-backend/pkg/migrate"
	"github.com/dreamsuncharted/funding-backend/pkg/outbox"
	"github.com/dreamsuncharted/funding-backend/pkg/redis"
	"github.com/dreamsuncharted/funding-backend/pkg/square"
	"github.com/dreamsuncharted/funding-backend/pkg/stripe"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	promRegistry := prometheus.NewRegistry()
	reconMetrics := metrics.NewReconcileMetrics(promRegistry)

	var adapters []providers.Adapter
	var stripeClient *stripe.Client
	if cfg.Stripe.APIKey != "" {
		stripeClient, err = stripe.NewClient(context.Background(), cfg.Stripe, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to initialize stripe", err)
			os.Exit(1)
		}
		stripeAdapter, err := providers.NewStripeAdapter(stripeClient)
		if err != nil {
			logg.Error(context.Background(), "failed to wire stripe adapter", err)
			os.Exit(1)
		}
		adapters = append(adapters, stripeAdapter)
	}
	var squareClient *square.Client
	if cfg.Square.AccessToken != "" {
		squareClient, err = square.NewClient(context.Background(), cfg.Square, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to initialize square", err)
			os.Exit(1)
		}
		squareAdapter, err := providers.NewSquareAdapter(squareClient)
		if err != nil {
			logg.Error(context.Background(), "failed to wire square adapter", err)
			os.Exit(1)
		}
		adapters = append(adapters, squareAdapter)
	}
	if len(adapters) == 0 {
		logg.Error(context.Background(), "no payment provider configured", nil)
		os.Exit(1)
	}
	providerRegistry := providers.NewRegistry(adapters...)

	var ownership content.Resolver
	if cfg.Content.BaseURL != "" {
		contentClient, err := content.NewClient(cfg.Content)
		if err != nil {
			logg.Error(context.Background(), "failed to initialize content client", err)
			os.Exit(1)
		}
		ownership = contentClient
	} else {
		logg.Warn(context.Background(), "content service not configured, ownership checks disabled")
	}

	fundingRepo := funding.NewRepository(dbClient.DB())
	donationRepo := donations.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	aggregator, err := funding.NewAggregator(fundingRepo, cfg.Funding.RefundAdjustsGoal)
	if err != nil {
		logg.Error(context.Background(), "failed to create aggregator", err)
		os.Exit(1)
	}
	fundingService, err := funding.NewService(fundingRepo, donationRepo, ownership, cfg.Funding.RecentDonationsLimit)
	if err != nil {
		logg.Error(context.Background(), "failed to create funding service", err)
		os.Exit(1)
	}
	donationService, err := donations.NewService(donationRepo, fundingRepo, providerRegistry, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create donation service", err)
		os.Exit(1)
	}
	reconciler, err := reconcile.NewService(
		dbClient,
		donationRepo,
		fundingRepo,
		aggregator,
		outboxService,
		redisClient,
		reconMetrics,
		logg,
		reconcile.Options{
			MaxRetries: cfg.Funding.AggregateMaxRetries,
			DedupeTTL:  cfg.Funding.WebhookDedupeTTL,
		},
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create reconcile service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Deps{
			Config: cfg,
			Logger: logg,
			Readiness: map[string]controllers.Pinger{
				"postgres": dbClient,
				"redis":    redisClient,
			},
			FundingService:  fundingService,
			DonationService: donationService,
			Reconciler:      reconciler,
			StripeClient:    stripeClient,
			SquareClient:    squareClient,
			MetricsHandler:  promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}),
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
