package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/medrun-backend/internal/inventory"
	"github.com/angelmondragon/medrun-backend/pkg/auth"
	"github.com/angelmondragon/medrun-backend/pkg/db/models"
	"github.com/angelmondragon/medrun-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/medrun-backend/pkg/errors"
	"github.com/angelmondragon/medrun-backend/pkg/logger"
	"github.com/angelmondragon/medrun-backend/pkg/metrics"
	"github.com/angelmondragon/medrun-backend/pkg/outbox"
	"github.com/angelmondragon/medrun-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/medrun-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service is the order state machine.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Order, error)
	Get(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*models.Order, error)
	GetTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error)
	List(ctx context.Context, actor auth.Actor, status *enums.OrderStatus, params pagination.Params) (pagination.Page[models.Order], error)
	OnPaymentSettled(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason string) (*models.Order, error)
	OnPaymentFailed(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason string) (*models.Order, error)
	Advance(ctx context.Context, actor auth.Actor, orderID uuid.UUID, target enums.OrderStatus) (*models.Order, error)
	AdvanceTx(ctx context.Context, tx *gorm.DB, actor auth.Actor, orderID uuid.UUID, target enums.OrderStatus) (*models.Order, error)
	Cancel(ctx context.Context, actor auth.Actor, orderID uuid.UUID, reason string) (*models.Order, error)
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	UseCashSettler(settler CashSettler)
}

// CashSettler collects the pending cash payment of an order that reached delivered.
// It runs inside the delivering transaction and must be idempotent.
type CashSettler interface {
	CompleteCashPayment(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Payment, error)
}

type service struct {
	repo      Repository
	tx        txRunner
	inventory inventory.Service
	outbox    outbox.Emitter
	currency  string
	cash      CashSettler
	metrics   *metrics.LifecycleMetrics
	logg      *logger.Logger
}

// Config holds the optional collaborators of the order service.
type Config struct {
	Currency string
	Metrics  *metrics.LifecycleMetrics
	Logger   *logger.Logger
}

// NewService builds the order state machine with the required dependencies.
func NewService(repo Repository, tx txRunner, inv inventory.Service, emitter outbox.Emitter, cfg Config) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if inv == nil {
		return nil, fmt.Errorf("inventory service required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	currency := strings.ToUpper(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = "USD"
	}
	return &service{
		repo:      repo,
		tx:        tx,
		inventory: inv,
		outbox:    emitter,
		currency:  currency,
		metrics:   cfg.Metrics,
		logg:      cfg.Logger,
	}, nil
}

// UseCashSettler is called once while wiring, before the service handles traffic.
func (s *service) UseCashSettler(settler CashSettler) {
	s.cash = settler
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Order, error) {
	if input.BuyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer id required")
	}
	if input.FacilityID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "facility id required")
	}
	if !input.Actor.Privileged() && !(input.Actor.Role == enums.ActorRoleBuyer && input.Actor.UserID == input.BuyerID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "orders can only be placed by the buyer")
	}
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order must contain at least one item")
	}
	if err := input.Address.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid delivery address")
	}

	lines := make([]inventory.Line, 0, len(input.Items))
	for _, item := range input.Items {
		lines = append(lines, inventory.Line{StockItemID: item.StockItemID, Qty: item.Qty})
	}
	merged, err := inventory.MergeLines(lines)
	if err != nil {
		return nil, err
	}
	if err := s.checkCatalog(ctx, input, merged); err != nil {
		return nil, err
	}

	orderID := uuid.New()
	var created *models.Order
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		reserved, err := s.inventory.Reserve(ctx, tx, orderID, merged)
		if err != nil {
			return err
		}
		byID := make(map[uuid.UUID]models.StockItem, len(reserved))
		for _, item := range reserved {
			byID[item.ID] = item
		}

		order := &models.Order{
			ID:              orderID,
			BuyerID:         input.BuyerID,
			FacilityID:      input.FacilityID,
			Status:          enums.OrderStatusPending,
			Currency:        s.currency,
			DeliveryAddress: input.Address,
			PrescriptionID:  input.PrescriptionID,
		}
		for _, line := range merged {
			item := byID[line.StockItemID]
			price := item.UnitPrice.Round(2)
			order.Items = append(order.Items, models.OrderItem{
				OrderID:     orderID,
				StockItemID: item.ID,
				Name:        item.Name,
				Qty:         line.Qty,
				UnitPrice:   price,
				Subtotal:    price.Mul(decimal.NewFromInt(int64(line.Qty))),
			})
		}
		order.Total = order.ItemsTotal()

		if err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         input.Actor.Ref(),
			Data: payloads.OrderCreatedEvent{
				OrderID:    order.ID,
				BuyerID:    order.BuyerID,
				FacilityID: order.FacilityID,
				Total:      order.Total,
				ItemCount:  len(order.Items),
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order_created")
		}
		created = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logTransition(ctx, created.ID, "", enums.OrderStatusPending, "order placed")
	return created, nil
}

// checkCatalog enforces the same-facility rule and prescription requirement before any stock moves.
func (s *service) checkCatalog(ctx context.Context, input CreateInput, lines []inventory.Line) error {
	ids := make([]uuid.UUID, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.StockItemID)
	}
	items, err := s.inventory.GetMany(ctx, ids)
	if err != nil {
		return err
	}
	var foreign []uuid.UUID
	needsPrescription := false
	for _, id := range ids {
		item, ok := items[id]
		if !ok {
			return pkgerrors.New(pkgerrors.CodeNotFound, "stock item not found").
				WithDetails(map[string]any{"stock_item_id": id})
		}
		if item.FacilityID != input.FacilityID {
			foreign = append(foreign, id)
		}
		if item.RequiresPrescription {
			needsPrescription = true
		}
	}
	if len(foreign) > 0 {
		return pkgerrors.New(pkgerrors.CodeCrossFacilityCart, "all items must come from the same facility").
			WithDetails(map[string]any{"facility_id": input.FacilityID, "stock_item_ids": foreign})
	}
	if needsPrescription && input.PrescriptionID == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "prescription required for one or more items")
	}
	return nil
}

func (s *service) Get(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.load(ctx, s.repo, orderID)
	if err != nil {
		return nil, err
	}
	if !canView(actor, order) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order not visible to caller")
	}
	return order, nil
}

func (s *service) GetTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error) {
	return s.load(ctx, s.repo.WithTx(tx), orderID)
}

func (s *service) List(ctx context.Context, actor auth.Actor, status *enums.OrderStatus, params pagination.Params) (pagination.Page[models.Order], error) {
	filter := ListFilter{Status: status}
	switch {
	case actor.IsAdmin():
	case actor.Role == enums.ActorRoleBuyer:
		buyer := actor.UserID
		filter.BuyerID = &buyer
	case actor.Role == enums.ActorRoleFacility && actor.FacilityID != nil:
		facility := *actor.FacilityID
		filter.FacilityID = &facility
	default:
		return pagination.Page[models.Order]{}, pkgerrors.New(pkgerrors.CodeForbidden, "orders list not available for role")
	}
	if status != nil && !status.IsValid() {
		return pagination.Page[models.Order]{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid status filter")
	}

	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return pagination.Page[models.Order]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	rows, err := s.repo.List(ctx, filter, params)
	if err != nil {
		return pagination.Page[models.Order]{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	return pagination.BuildPage(rows, params.Limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	}), nil
}

func (s *service) OnPaymentSettled(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason string) (*models.Order, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	repo := s.repo.WithTx(tx)
	order, err := s.load(ctx, repo, orderID)
	if err != nil {
		return nil, err
	}
	switch order.Status {
	case enums.OrderStatusConfirmed, enums.OrderStatusReady, enums.OrderStatusOutForDelivery, enums.OrderStatusDelivered:
		return order, nil
	case enums.OrderStatusPending:
	default:
		return nil, invalidTransition(order.Status, enums.OrderStatusConfirmed)
	}

	if err := s.inventory.Commit(ctx, tx, order.ID); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return s.transition(ctx, tx, auth.SystemActor(), order, enums.OrderStatusConfirmed, reason, map[string]any{"confirmed_at": now})
}

func (s *service) OnPaymentFailed(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason string) (*models.Order, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	repo := s.repo.WithTx(tx)
	order, err := s.load(ctx, repo, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == enums.OrderStatusFailed {
		return order, nil
	}
	if !CanTransition(order.Status, enums.OrderStatusFailed) {
		return nil, invalidTransition(order.Status, enums.OrderStatusFailed)
	}

	if err := s.inventory.Release(ctx, tx, order.ID); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return s.transition(ctx, tx, auth.SystemActor(), order, enums.OrderStatusFailed, reason, map[string]any{"failed_at": now})
}

func (s *service) Advance(ctx context.Context, actor auth.Actor, orderID uuid.UUID, target enums.OrderStatus) (*models.Order, error) {
	var updated *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.AdvanceTx(ctx, tx, actor, orderID, target)
		if err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *service) AdvanceTx(ctx context.Context, tx *gorm.DB, actor auth.Actor, orderID uuid.UUID, target enums.OrderStatus) (*models.Order, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if !target.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid target status")
	}
	order, err := s.load(ctx, s.repo.WithTx(tx), orderID)
	if err != nil {
		return nil, err
	}
	if !actor.Privileged() && !actor.OwnsFacility(order.FacilityID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the fulfilling facility or an admin can advance the order")
	}
	if !isForwardStep(target) || !CanTransition(order.Status, target) {
		return nil, invalidTransition(order.Status, target)
	}
	if err := s.checkDeliveryHandoff(ctx, tx, actor, order, target); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	updates := map[string]any{}
	switch target {
	case enums.OrderStatusReady:
		updates["ready_at"] = now
	case enums.OrderStatusOutForDelivery:
		updates["dispatched_at"] = now
	case enums.OrderStatusDelivered:
		updates["delivered_at"] = now
	}
	updated, err := s.transition(ctx, tx, actor, order, target, "", updates)
	if err != nil {
		return nil, err
	}
	if target == enums.OrderStatusDelivered && s.cash != nil {
		if _, err := s.cash.CompleteCashPayment(ctx, tx, order.ID); err != nil {
			return nil, err
		}
	}
	return updated, nil
}

// checkDeliveryHandoff stops staff from dispatching or delivering an order an agent
// delivery is still working on. The delivery engine moves those orders as the system actor.
func (s *service) checkDeliveryHandoff(ctx context.Context, tx *gorm.DB, actor auth.Actor, order *models.Order, target enums.OrderStatus) error {
	if actor.IsSystem() || (target != enums.OrderStatusOutForDelivery && target != enums.OrderStatusDelivered) {
		return nil
	}
	live, err := s.repo.WithTx(tx).FindLiveDelivery(ctx, order.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load delivery assignment")
	}
	if live == nil {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeInvalidTransition, "order is managed by its delivery assignment").
		WithDetails(map[string]any{"from": order.Status, "to": target, "assignment_id": live.ID, "delivery_status": live.Status})
}

func (s *service) Cancel(ctx context.Context, actor auth.Actor, orderID uuid.UUID, reason string) (*models.Order, error) {
	var updated *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.load(ctx, s.repo.WithTx(tx), orderID)
		if err != nil {
			return err
		}
		if !canCancel(actor, order) {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the buyer, the facility or an admin can cancel")
		}
		if !cancellable(order.Status) {
			return invalidTransition(order.Status, enums.OrderStatusCancelled)
		}

		if err := s.inventory.Release(ctx, tx, order.ID); err != nil {
			return err
		}
		if order.Status == enums.OrderStatusConfirmed {
			if err := s.inventory.ReturnCommitted(ctx, tx, order.ID); err != nil {
				return err
			}
		}

		role := actor.Role
		updates := map[string]any{
			"cancelled_at": time.Now().UTC(),
			"cancelled_by": role,
		}
		if trimmed := strings.TrimSpace(reason); trimmed != "" {
			updates["cancel_reason"] = trimmed
		}
		updated, err = s.transition(ctx, tx, actor, order, enums.OrderStatusCancelled, reason, updates)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *service) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = pagination.MaxLimit
	}
	orders, err := s.repo.FindPendingBefore(ctx, cutoff, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list pending orders")
	}
	return orders, nil
}

// transition applies the status CAS, emits the matching event and returns the reloaded order.
// A lost CAS means another writer moved the order first; nothing is mutated.
func (s *service) transition(
	ctx context.Context,
	tx *gorm.DB,
	actor auth.Actor,
	order *models.Order,
	to enums.OrderStatus,
	reason string,
	updates map[string]any,
) (*models.Order, error) {
	from := order.Status
	repo := s.repo.WithTx(tx)
	ok, err := repo.TransitionStatus(ctx, order.ID, from, to, updates)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition, "order changed concurrently").
			WithDetails(map[string]any{"from": from, "to": to})
	}

	event := outbox.DomainEvent{
		EventType:     eventTypeFor(to),
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actor.Ref(),
		Data: payloads.OrderStatusEvent{
			OrderID:    order.ID,
			BuyerID:    order.BuyerID,
			FacilityID: order.FacilityID,
			From:       from,
			To:         to,
			ActorRole:  actor.Role,
			Reason:     strings.TrimSpace(reason),
			OccurredAt: time.Now().UTC(),
		},
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order event")
	}

	updated, err := s.load(ctx, repo, order.ID)
	if err != nil {
		return nil, err
	}
	s.metrics.OrderTransition(string(from), string(to))
	s.logTransition(ctx, order.ID, from, to, "order transitioned")
	return updated, nil
}

func (s *service) load(ctx context.Context, repo Repository, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := repo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func (s *service) logTransition(ctx context.Context, orderID uuid.UUID, from, to enums.OrderStatus, msg string) {
	if s.logg == nil {
		return
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"order_id": orderID.String(),
		"from":     string(from),
		"to":       string(to),
	})
	s.logg.Info(ctx, msg)
}

func eventTypeFor(to enums.OrderStatus) enums.OutboxEventType {
	switch to {
	case enums.OrderStatusConfirmed:
		return enums.EventOrderConfirmed
	case enums.OrderStatusCancelled:
		return enums.EventOrderCancelled
	case enums.OrderStatusFailed:
		return enums.EventOrderFailed
	default:
		return enums.EventOrderStatusChanged
	}
}

func invalidTransition(from, to enums.OrderStatus) error {
	return pkgerrors.New(pkgerrors.CodeInvalidTransition, fmt.Sprintf("order cannot move from %s to %s", from, to)).
		WithDetails(map[string]any{"from": from, "to": to})
}

func canView(actor auth.Actor, order *models.Order) bool {
	if actor.Privileged() {
		return true
	}
	switch actor.Role {
	case enums.ActorRoleBuyer:
		return actor.UserID == order.BuyerID
	case enums.ActorRoleFacility:
		return actor.OwnsFacility(order.FacilityID)
	}
	return false
}

func canCancel(actor auth.Actor, order *models.Order) bool {
	return canView(actor, order)
}
