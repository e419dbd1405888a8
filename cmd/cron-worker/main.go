package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dreamsuncharted/funding-backend/internal/cron"
	"github.com/dreamsuncharted/funding-backend/internal/donations"
	"github.com/dreamsuncharted/funding-backend/pkg/config"
	"github.com/dreamsuncharted/funding-backend/pkg/db"
	"github.com/dreamsuncharted/funding-backend/pkg/logger"
	"github.com/dreamsuncharted/funding-backend/pkg/metrics"
	"github.com/dreamsuncharted/funding-backend/pkg/migrate"
	"github.com/dreamsuncharted/funding-backend/pkg/outbox"
	"github.com/dreamsuncharted/funding-backend/pkg/redis"
)

const lockKeyFormat = "du:cron-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	if err := run(cfg, logg); err != nil {
		logg.Error(context.Background(), "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logg *logger.Logger) error {
	bootCtx := context.Background()

	dbClient, err := db.New(bootCtx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrapping database: %w", err)
	}
	defer closeQuietly(logg, "database", dbClient.Close)

	if err := migrate.MaybeRunDev(bootCtx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("running dev migrations: %w", err)
	}

	redisClient, err := redis.New(bootCtx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("bootstrapping redis: %w", err)
	}
	defer closeQuietly(logg, "redis", redisClient.Close)

	service, err := buildService(cfg, logg, dbClient, redisClient)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})

	logg.Info(ctx, "starting cron worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
	return nil
}

func buildService(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client) (*cron.Service, error) {
	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), 0)
	if err != nil {
		return nil, fmt.Errorf("creating cron lock: %w", err)
	}

	outboxRepo := outbox.NewRepository(dbClient.DB())

	sweeper, err := cron.NewStaleDonationJob(cron.StaleDonationJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: donations.NewRepository(dbClient.DB()),
		Outbox:     outbox.NewService(outboxRepo, logg),
		PendingTTL: cfg.Funding.PendingDonationTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating donation sweeper: %w", err)
	}

	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		Repository: outboxRepo,
	})
	if err != nil {
		return nil, fmt.Errorf("creating outbox retention job: %w", err)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(sweeper, retention),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		return nil, fmt.Errorf("creating cron service: %w", err)
	}
	return service, nil
}

func closeQuietly(logg *logger.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(context.Background(), "error closing "+name, err)
	}
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
