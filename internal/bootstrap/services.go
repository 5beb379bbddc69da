// Package bootstrap assembles the domain service graph shared by the binaries.
package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/medrun-backend/internal/cart"
	"github.com/angelmondragon/medrun-backend/internal/deliveries"
	"github.com/angelmondragon/medrun-backend/internal/inventory"
	"github.com/angelmondragon/medrun-backend/internal/notifications"
	"github.com/angelmondragon/medrun-backend/internal/orders"
	"github.com/angelmondragon/medrun-backend/internal/payments"
	"github.com/angelmondragon/medrun-backend/pkg/config"
	"github.com/angelmondragon/medrun-backend/pkg/db"
	"github.com/angelmondragon/medrun-backend/pkg/logger"
	"github.com/angelmondragon/medrun-backend/pkg/metrics"
	"github.com/angelmondragon/medrun-backend/pkg/outbox"
	"github.com/angelmondragon/medrun-backend/pkg/square"
)

// Services is the wired domain layer.
type Services struct {
	Orders            orders.Service
	Payments          payments.Service
	Deliveries        deliveries.Service
	Inventory         inventory.Service
	Cart              cart.Service
	Notifications     notifications.Service
	NotificationsRepo notifications.Repository
	Outbox            *outbox.Repository
}

// NewServices wires repositories, the outbox emitter and the payment gateway into
// the five lifecycle services. reg may be nil to skip lifecycle metrics.
func NewServices(ctx context.Context, cfg *config.Config, logg *logger.Logger, dbClient *db.Client, reg prometheus.Registerer) (*Services, error) {
	if cfg == nil || dbClient == nil {
		return nil, fmt.Errorf("config and database client required")
	}
	conn := dbClient.DB()

	var lifecycle *metrics.LifecycleMetrics
	if reg != nil {
		lifecycle = metrics.NewLifecycleMetrics(reg)
	}

	outboxRepo := outbox.NewRepository(conn)
	emitter := outbox.NewService(outboxRepo, logg)

	inventorySvc, err := inventory.NewService(inventory.NewRepository(conn), emitter, logg)
	if err != nil {
		return nil, fmt.Errorf("inventory service: %w", err)
	}

	ordersSvc, err := orders.NewService(orders.NewRepository(conn), dbClient, inventorySvc, emitter, orders.Config{
		Currency: cfg.Payments.Currency,
		Metrics:  lifecycle,
		Logger:   logg,
	})
	if err != nil {
		return nil, fmt.Errorf("orders service: %w", err)
	}

	gateway, err := NewGateway(ctx, cfg, logg)
	if err != nil {
		return nil, err
	}
	paymentsSvc, err := payments.NewService(payments.NewRepository(conn), dbClient, ordersSvc, gateway, emitter, payments.Config{
		GatewayTimeout: cfg.Payments.GatewayTimeout,
		Metrics:        lifecycle,
		Logger:         logg,
	})
	if err != nil {
		return nil, fmt.Errorf("payments service: %w", err)
	}

	deliveriesSvc, err := deliveries.NewService(deliveries.NewRepository(conn), dbClient, ordersSvc, paymentsSvc, emitter, deliveries.Config{
		Metrics: lifecycle,
		Logger:  logg,
	})
	if err != nil {
		return nil, fmt.Errorf("deliveries service: %w", err)
	}

	cartSvc, err := cart.NewService(cart.NewRepository(conn), dbClient, inventorySvc, ordersSvc, logg)
	if err != nil {
		return nil, fmt.Errorf("cart service: %w", err)
	}

	notificationsRepo := notifications.NewRepository(conn)
	notificationsSvc, err := notifications.NewService(notificationsRepo)
	if err != nil {
		return nil, fmt.Errorf("notifications service: %w", err)
	}

	return &Services{
		Orders:            ordersSvc,
		Payments:          paymentsSvc,
		Deliveries:        deliveriesSvc,
		Inventory:         inventorySvc,
		Cart:              cartSvc,
		Notifications:     notificationsSvc,
		NotificationsRepo: notificationsRepo,
		Outbox:            outboxRepo,
	}, nil
}

// NewGateway selects the payment provider named by MEDRUN_PAYMENTS_PROVIDER.
func NewGateway(ctx context.Context, cfg *config.Config, logg *logger.Logger) (payments.Gateway, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Payments.Provider)) {
	case config.PaymentsProviderSquare:
		client, err := square.NewClient(ctx, cfg.Square, logg)
		if err != nil {
			return nil, fmt.Errorf("square client: %w", err)
		}
		return payments.NewSquareGateway(client)
	case config.PaymentsProviderSandbox, "":
		return payments.NewSandboxGateway(), nil
	default:
		return nil, fmt.Errorf("unknown payments provider %q", cfg.Payments.Provider)
	}
}
