package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/medrun-backend/api/controllers"
	cartcontrollers "github.com/angelmondragon/medrun-backend/api/controllers/cart"
	deliverycontrollers "github.com/angelmondragon/medrun-backend/api/controllers/deliveries"
	inventorycontrollers "github.com/angelmondragon/medrun-backend/api/controllers/inventory"
	ordercontrollers "github.com/angelmondragon/medrun-backend/api/controllers/orders"
	paymentcontrollers "github.com/angelmondragon/medrun-backend/api/controllers/payments"
	"github.com/angelmondragon/medrun-backend/api/middleware"
	"github.com/angelmondragon/medrun-backend/internal/cart"
	"github.com/angelmondragon/medrun-backend/internal/deliveries"
	"github.com/angelmondragon/medrun-backend/internal/inventory"
	"github.com/angelmondragon/medrun-backend/internal/notifications"
	"github.com/angelmondragon/medrun-backend/internal/orders"
	"github.com/angelmondragon/medrun-backend/internal/payments"
	"github.com/angelmondragon/medrun-backend/pkg/config"
	"github.com/angelmondragon/medrun-backend/pkg/enums"
	"github.com/angelmondragon/medrun-backend/pkg/logger"
	"github.com/angelmondragon/medrun-backend/pkg/redis"
)

// Services are the domain services the HTTP surface exposes.
type Services struct {
	Orders        orders.Service
	Payments      payments.Service
	Deliveries    deliveries.Service
	Inventory     inventory.Service
	Cart          cart.Service
	Notifications notifications.Service
}

type rateLimitStore interface {
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	RateLimitKey(policy, subject string) string
}

// Probes are pinged by /health/ready, keyed by dependency name.
type Probes map[string]controllers.Pinger

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	probes Probes,
	redisClient *redis.Client,
	gatherer prometheus.Gatherer,
	svc Services,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	var (
		idempotencyStore redis.IdempotencyStore
		rateStore        rateLimitStore
	)
	if redisClient != nil {
		idempotencyStore = redisClient
		rateStore = redisClient
	}
	paymentPolicy := middleware.NewRateLimitPolicy("payments", cfg.RateLimit.Window, cfg.RateLimit.PaymentLimit)
	checkoutPolicy := middleware.NewRateLimitPolicy("checkout", cfg.RateLimit.Window, cfg.RateLimit.CheckoutLimit)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, probes, logg))
	})
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	buyer := middleware.RequireRole(logg, enums.ActorRoleBuyer)
	buyerOrAdmin := middleware.RequireRole(logg, enums.ActorRoleBuyer, enums.ActorRoleAdmin)
	facilityOrAdmin := middleware.RequireRole(logg, enums.ActorRoleFacility, enums.ActorRoleAdmin)
	cancellers := middleware.RequireRole(logg, enums.ActorRoleBuyer, enums.ActorRoleFacility, enums.ActorRoleAdmin)
	agent := middleware.RequireRole(logg, enums.ActorRoleAgent)
	agentOrAdmin := middleware.RequireRole(logg, enums.ActorRoleAgent, enums.ActorRoleAdmin)
	failers := middleware.RequireRole(logg, enums.ActorRoleAgent, enums.ActorRoleFacility, enums.ActorRoleAdmin)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(idempotencyStore, logg))

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", ordercontrollers.List(svc.Orders, logg))
			r.With(buyerOrAdmin).Post("/", ordercontrollers.Create(svc.Orders, logg))
			r.Route("/{orderId}", func(r chi.Router) {
				r.Get("/", ordercontrollers.Detail(svc.Orders, logg))
				r.With(facilityOrAdmin).Post("/advance", ordercontrollers.Advance(svc.Orders, logg))
				r.With(cancellers).Post("/cancel", ordercontrollers.Cancel(svc.Orders, logg))
				r.With(buyerOrAdmin, middleware.RateLimit(paymentPolicy, rateStore, logg)).
					Post("/payments", paymentcontrollers.Process(svc.Payments, logg))
				r.Get("/payment", paymentcontrollers.ForOrder(svc.Payments, logg))
				r.Get("/delivery", deliverycontrollers.ForOrder(svc.Deliveries, logg))
				r.With(facilityOrAdmin).Post("/delivery/offer", deliverycontrollers.Offer(svc.Deliveries, logg))
			})
		})

		r.Route("/payments/{paymentId}", func(r chi.Router) {
			r.Get("/", paymentcontrollers.Detail(svc.Payments, logg))
			r.With(facilityOrAdmin).Post("/refund", paymentcontrollers.Refund(svc.Payments, logg))
		})

		r.Route("/deliveries", func(r chi.Router) {
			r.With(agentOrAdmin).Get("/available", deliverycontrollers.Available(svc.Deliveries, logg))
			r.With(agent).Get("/mine", deliverycontrollers.Mine(svc.Deliveries, logg))
			r.Route("/{deliveryId}", func(r chi.Router) {
				r.Get("/", deliverycontrollers.Detail(svc.Deliveries, logg))
				r.With(agent).Post("/accept", deliverycontrollers.Accept(svc.Deliveries, logg))
				r.With(agent).Post("/status", deliverycontrollers.UpdateStatus(svc.Deliveries, logg))
				r.With(agent).Post("/location", deliverycontrollers.UpdateLocation(svc.Deliveries, logg))
				r.With(failers).Post("/fail", deliverycontrollers.Fail(svc.Deliveries, logg))
			})
		})

		r.Route("/inventory/items", func(r chi.Router) {
			r.With(facilityOrAdmin).Post("/", inventorycontrollers.CreateItem(svc.Inventory, logg))
			r.Get("/{itemId}", inventorycontrollers.Detail(svc.Inventory, logg))
			r.With(facilityOrAdmin).Post("/{itemId}/restock", inventorycontrollers.Restock(svc.Inventory, logg))
		})

		r.Route("/cart", func(r chi.Router) {
			r.Use(buyer)
			r.Get("/", cartcontrollers.Get(svc.Cart, logg))
			r.Delete("/", cartcontrollers.Clear(svc.Cart, logg))
			r.Put("/items/{stockItemId}", cartcontrollers.PutItem(svc.Cart, logg))
			r.Delete("/items/{stockItemId}", cartcontrollers.RemoveItem(svc.Cart, logg))
			r.With(middleware.RateLimit(checkoutPolicy, rateStore, logg)).
				Post("/checkout", cartcontrollers.Checkout(svc.Cart, logg))
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(svc.Notifications, logg))
			r.Post("/read-all", controllers.MarkAllNotificationsRead(svc.Notifications, logg))
			r.Post("/{notificationId}/read", controllers.MarkNotificationRead(svc.Notifications, logg))
		})
	})

	return r
}
