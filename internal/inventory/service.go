package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/medrun-backend/pkg/auth"
	"github.com/angelmondragon/medrun-backend/pkg/db/models"
	"github.com/angelmondragon/medrun-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/medrun-backend/pkg/errors"
	"github.com/angelmondragon/medrun-backend/pkg/logger"
	"github.com/angelmondragon/medrun-backend/pkg/outbox"
	"github.com/angelmondragon/medrun-backend/pkg/outbox/payloads"
)

// Line is one requested quantity of a stock item.
type Line struct {
	StockItemID uuid.UUID
	Qty         int
}

// Shortage describes a line that could not be reserved.
type Shortage struct {
	StockItemID uuid.UUID `json:"stock_item_id"`
	Requested   int       `json:"requested"`
	Available   int       `json:"available"`
}

// CreateItemInput registers a new stock-bearing item for a facility.
type CreateItemInput struct {
	FacilityID           uuid.UUID
	SKU                  string
	Name                 string
	UnitPrice            decimal.Decimal
	AvailableQty         int
	ReorderThreshold     int
	RequiresPrescription bool
}

// Service is the inventory ledger. Reserve, Release, Commit and ReturnCommitted run inside
// the caller's transaction so stock moves commit or roll back with the order change.
type Service interface {
	Reserve(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, lines []Line) ([]models.StockItem, error)
	Release(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error
	Commit(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error
	ReturnCommitted(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error
	CreateItem(ctx context.Context, actor auth.Actor, input CreateItemInput) (*models.StockItem, error)
	Restock(ctx context.Context, actor auth.Actor, itemID uuid.UUID, qty int) (*models.StockItem, error)
	Get(ctx context.Context, itemID uuid.UUID) (*models.StockItem, error)
	GetMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.StockItem, error)
}

type service struct {
	repo   Repository
	outbox outbox.Emitter
	logg   *logger.Logger
}

// NewService wires the inventory ledger.
func NewService(repo Repository, emitter outbox.Emitter, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	return &service{repo: repo, outbox: emitter, logg: logg}, nil
}

// MergeLines sums duplicate items and orders the result by item id so concurrent
// reservations lock rows in the same order.
func MergeLines(lines []Line) ([]Line, error) {
	totals := make(map[uuid.UUID]int, len(lines))
	for _, line := range lines {
		if line.StockItemID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "stock item id required")
		}
		if line.Qty <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive").
				WithDetails(map[string]any{"stock_item_id": line.StockItemID})
		}
		totals[line.StockItemID] += line.Qty
	}
	merged := make([]Line, 0, len(totals))
	for id, qty := range totals {
		merged = append(merged, Line{StockItemID: id, Qty: qty})
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].StockItemID.String() < merged[j].StockItemID.String()
	})
	return merged, nil
}

func (s *service) Reserve(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, lines []Line) ([]models.StockItem, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required for reservation")
	}
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if len(lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one line required")
	}
	merged, err := MergeLines(lines)
	if err != nil {
		return nil, err
	}

	repo := s.repo.WithTx(tx)
	var shortages []Shortage
	for _, line := range merged {
		ok, err := repo.Reserve(ctx, line.StockItemID, line.Qty)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve stock")
		}
		if ok {
			continue
		}
		item, err := repo.FindItem(ctx, line.StockItemID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, pkgerrors.New(pkgerrors.CodeNotFound, "stock item not found").
					WithDetails(map[string]any{"stock_item_id": line.StockItemID})
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load stock item")
		}
		shortages = append(shortages, Shortage{
			StockItemID: line.StockItemID,
			Requested:   line.Qty,
			Available:   item.AvailableQty,
		})
	}
	if len(shortages) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock").
			WithDetails(map[string]any{"shortages": shortages})
	}

	reservations := make([]models.StockReservation, 0, len(merged))
	for _, line := range merged {
		reservations = append(reservations, models.StockReservation{
			OrderID:     orderID,
			StockItemID: line.StockItemID,
			Qty:         line.Qty,
			Status:      enums.ReservationStatusReserved,
		})
	}
	if err := repo.CreateReservations(ctx, reservations); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record reservations")
	}

	ids := make([]uuid.UUID, 0, len(merged))
	for _, line := range merged {
		ids = append(ids, line.StockItemID)
	}
	items, err := repo.FindItems(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload stock items")
	}
	for _, item := range items {
		if !item.IsLow() {
			continue
		}
		if err := s.emitStockLow(ctx, tx, item); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (s *service) Release(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	return s.settle(ctx, tx, orderID, enums.ReservationStatusReserved, enums.ReservationStatusReleased,
		func(repo Repository, r models.StockReservation) (bool, error) {
			return repo.Release(ctx, r.StockItemID, r.Qty)
		})
}

func (s *service) Commit(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	return s.settle(ctx, tx, orderID, enums.ReservationStatusReserved, enums.ReservationStatusCommitted,
		func(repo Repository, r models.StockReservation) (bool, error) {
			return repo.Commit(ctx, r.StockItemID, r.Qty)
		})
}

func (s *service) ReturnCommitted(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	return s.settle(ctx, tx, orderID, enums.ReservationStatusCommitted, enums.ReservationStatusReleased,
		func(repo Repository, r models.StockReservation) (bool, error) {
			return repo.Return(ctx, r.StockItemID, r.Qty)
		})
}

// settle moves every reservation of the order in status from to status to and applies the
// matching counter change. Reservations already past from are skipped, which makes retries no-ops.
func (s *service) settle(
	ctx context.Context,
	tx *gorm.DB,
	orderID uuid.UUID,
	from, to enums.ReservationStatus,
	apply func(Repository, models.StockReservation) (bool, error),
) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required for stock settlement")
	}
	repo := s.repo.WithTx(tx)
	reservations, err := repo.FindReservations(ctx, orderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load reservations")
	}
	for _, reservation := range reservations {
		if reservation.Status != from {
			continue
		}
		moved, err := repo.TransitionReservation(ctx, reservation.ID, from, to)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update reservation")
		}
		if !moved {
			continue
		}
		ok, err := apply(repo, reservation)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "adjust stock")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "stock counters out of sync with reservation").
				WithDetails(map[string]any{"reservation_id": reservation.ID, "stock_item_id": reservation.StockItemID})
		}
	}
	if s.logg != nil {
		ctx = s.logg.WithFields(ctx, map[string]any{"order_id": orderID.String(), "from": from, "to": to})
		s.logg.Debug(ctx, "reservations settled")
	}
	return nil
}

func (s *service) CreateItem(ctx context.Context, actor auth.Actor, input CreateItemInput) (*models.StockItem, error) {
	if !actor.IsAdmin() && !actor.OwnsFacility(input.FacilityID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the facility or an admin can add stock")
	}
	if input.FacilityID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "facility id required")
	}
	input.SKU = strings.TrimSpace(input.SKU)
	input.Name = strings.TrimSpace(input.Name)
	if input.SKU == "" || input.Name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sku and name are required")
	}
	if input.UnitPrice.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unit price must not be negative")
	}
	if input.AvailableQty < 0 || input.ReorderThreshold < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantities must not be negative")
	}

	item := &models.StockItem{
		FacilityID:           input.FacilityID,
		SKU:                  input.SKU,
		Name:                 input.Name,
		UnitPrice:            input.UnitPrice.Round(2),
		AvailableQty:         input.AvailableQty,
		ReorderThreshold:     input.ReorderThreshold,
		RequiresPrescription: input.RequiresPrescription,
	}
	if err := s.repo.CreateItem(ctx, item); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create stock item")
	}
	return item, nil
}

func (s *service) Restock(ctx context.Context, actor auth.Actor, itemID uuid.UUID, qty int) (*models.StockItem, error) {
	if qty <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "restock quantity must be positive")
	}
	item, err := s.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !actor.OwnsFacility(item.FacilityID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the owning facility or an admin can restock")
	}
	ok, err := s.repo.Restock(ctx, itemID, qty)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "restock")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "stock item not found")
	}
	if s.logg != nil {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{"stock_item_id": itemID.String(), "qty": qty}), "stock restocked")
	}
	return s.Get(ctx, itemID)
}

func (s *service) Get(ctx context.Context, itemID uuid.UUID) (*models.StockItem, error) {
	if itemID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stock item id required")
	}
	item, err := s.repo.FindItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "stock item not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load stock item")
	}
	return item, nil
}

func (s *service) GetMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.StockItem, error) {
	items, err := s.repo.FindItems(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load stock items")
	}
	out := make(map[uuid.UUID]models.StockItem, len(items))
	for _, item := range items {
		out[item.ID] = item
	}
	return out, nil
}

func (s *service) emitStockLow(ctx context.Context, tx *gorm.DB, item models.StockItem) error {
	facility := item.FacilityID
	event := outbox.DomainEvent{
		EventType:     enums.EventStockLow,
		AggregateType: enums.AggregateStockItem,
		AggregateID:   item.ID,
		Actor:         &outbox.ActorRef{Role: enums.ActorRoleSystem, FacilityID: &facility},
		Data: payloads.StockLowEvent{
			StockItemID:      item.ID,
			FacilityID:       item.FacilityID,
			Name:             item.Name,
			AvailableQty:     item.AvailableQty,
			ReorderThreshold: item.ReorderThreshold,
		},
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit stock_low")
	}
	return nil
}
