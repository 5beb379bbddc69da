package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/medrun-backend/api/routes"
	"github.com/angelmondragon/medrun-backend/internal/bootstrap"
	"github.com/angelmondragon/medrun-backend/pkg/config"
	"github.com/angelmondragon/medrun-backend/pkg/db"
	"github.com/angelmondragon/medrun-backend/pkg/logger"
	"github.com/angelmondragon/medrun-backend/pkg/migrate"
	"github.com/angelmondragon/medrun-backend/pkg/redis"
)

const (
	serviceKind     = "api"
	shutdownTimeout = 15 * time.Second
)

func main() {
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
		"env":      cfg.App.Env,
		"provider": cfg.Payments.Provider,
	})

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server shut down")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer closeLogged(logg, "database", dbClient.Close)

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return err
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer closeLogged(logg, "redis", redisClient.Close)

	services, err := bootstrap.NewServices(ctx, cfg, logg, dbClient, prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("wiring services: %w", err)
	}

	server := &http.Server{
		Addr: listenAddr(cfg),
		Handler: routes.NewRouter(cfg, logg,
			routes.Probes{"postgres": dbClient, "redis": redisClient},
			redisClient,
			prometheus.DefaultGatherer,
			routes.Services{
				Orders:        services.Orders,
				Payments:      services.Payments,
				Deliveries:    services.Deliveries,
				Inventory:     services.Inventory,
				Cart:          services.Cart,
				Notifications: services.Notifications,
			},
		),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return serve(logg.WithField(ctx, "addr", server.Addr), logg, server)
}

// serve blocks until ctx is cancelled, then drains in-flight requests.
func serve(ctx context.Context, logg *logger.Logger, server *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		logg.Info(ctx, "api server listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logg.Info(ctx, "shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// listenAddr prefers PORT, which Cloud Run and Heroku inject.
func listenAddr(cfg *config.Config) string {
	if port := os.Getenv("PORT"); port != "" {
		return ":" + port
	}
	return ":" + cfg.App.Port
}

func closeLogged(logg *logger.Logger, what string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(context.Background(), "error closing "+what, err)
	}
}
