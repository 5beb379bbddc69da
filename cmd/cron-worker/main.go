package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/medrun-backend/internal/bootstrap"
	"github.com/angelmondragon/medrun-backend/internal/cron"
	"github.com/angelmondragon/medrun-backend/pkg/config"
	"github.com/angelmondragon/medrun-backend/pkg/db"
	"github.com/angelmondragon/medrun-backend/pkg/instance"
	"github.com/angelmondragon/medrun-backend/pkg/logger"
	"github.com/angelmondragon/medrun-backend/pkg/metrics"
	"github.com/angelmondragon/medrun-backend/pkg/migrate"
	"github.com/angelmondragon/medrun-backend/pkg/redis"
)

const serviceKind = "cron-worker"

func main() {
	only := flag.String("job", "", "run the named job once under the lock, then exit")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: serviceKind})
	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = serviceKind

	logg = logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"instance":    instance.ID(),
		"serviceKind": serviceKind,
		"schedule":    cfg.Cron.Schedule,
	})

	if err := run(ctx, cfg, logg, *only); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger, only string) error {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()
	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return err
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	services, err := bootstrap.NewServices(ctx, cfg, logg, dbClient, prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("wire services: %w", err)
	}
	registry, err := buildRegistry(cfg, logg, services)
	if err != nil {
		return err
	}
	lock, err := cron.NewRedisLock(redisClient, "cron-worker:"+envOrLocal(cfg.App.Env), cfg.Cron.LockTTL)
	if err != nil {
		return err
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewSchedulerMetrics(prometheus.DefaultRegisterer),
		Schedule: cfg.Cron.Schedule,
	})
	if err != nil {
		return err
	}

	if only != "" {
		return service.RunJob(ctx, only)
	}
	logg.Info(logg.WithField(ctx, "jobs", registry.Names()), "starting cron worker")
	return service.Run(ctx)
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, services *bootstrap.Services) (*cron.Registry, error) {
	orderTTL, err := cron.NewOrderTTLJob(cron.OrderTTLJobParams{
		Logger:     logg,
		Orders:     services.Orders,
		Payments:   services.Payments,
		PendingTTL: cfg.Orders.PendingTTL,
	})
	if err != nil {
		return nil, err
	}
	reconcile, err := cron.NewPaymentReconcileJob(cron.PaymentReconcileJobParams{
		Logger:   logg,
		Payments: services.Payments,
		Grace:    cfg.Payments.GatewayTimeout,
	})
	if err != nil {
		return nil, err
	}
	offers, err := cron.NewOfferTimeoutJob(cron.OfferTimeoutJobParams{
		Logger:     logg,
		Deliveries: services.Deliveries,
		OfferTTL:   cfg.Delivery.OfferTTL,
	})
	if err != nil {
		return nil, err
	}
	inbox, err := cron.NewNotificationCleanupJob(cron.NotificationCleanupJobParams{
		Logger:     logg,
		Repository: services.NotificationsRepo,
		Retention:  cfg.Cron.NotificationRetentionDays,
	})
	if err != nil {
		return nil, err
	}
	outboxRetention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		Repository: services.Outbox,
		Retention:  cfg.Cron.OutboxRetentionDays,
	})
	if err != nil {
		return nil, err
	}
	return cron.NewRegistry(orderTTL, reconcile, offers, inbox, outboxRetention)
}

func envOrLocal(env string) string {
	if env == "" {
		return "local"
	}
	return env
}
