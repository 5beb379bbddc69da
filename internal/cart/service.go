package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/medrun-backend/internal/orders"
	"github.com/angelmondragon/medrun-backend/pkg/auth"
	"github.com/angelmondragon/medrun-backend/pkg/db/models"
	"github.com/angelmondragon/medrun-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/medrun-backend/pkg/errors"
	"github.com/angelmondragon/medrun-backend/pkg/logger"
	"github.com/angelmondragon/medrun-backend/pkg/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type stockReader interface {
	Get(ctx context.Context, itemID uuid.UUID) (*models.StockItem, error)
	GetMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.StockItem, error)
}

type orderCreator interface {
	Create(ctx context.Context, input orders.CreateInput) (*models.Order, error)
}

// Service exposes the buyer's server-side draft order.
type Service interface {
	Get(ctx context.Context, actor auth.Actor) (*View, error)
	PutItem(ctx context.Context, actor auth.Actor, stockItemID uuid.UUID, qty int) (*View, error)
	RemoveItem(ctx context.Context, actor auth.Actor, stockItemID uuid.UUID) (*View, error)
	Clear(ctx context.Context, actor auth.Actor) error
	Checkout(ctx context.Context, actor auth.Actor, input CheckoutInput) (*models.Order, error)
}

// View is the cart annotated with live stock and pricing.
type View struct {
	CartID     *uuid.UUID      `json:"cart_id,omitempty"`
	FacilityID *uuid.UUID      `json:"facility_id,omitempty"`
	Lines      []Line          `json:"lines"`
	Subtotal   decimal.Decimal `json:"subtotal"`
}

// Line is one cart entry. Available is false when stock dropped below Qty since it was added.
type Line struct {
	StockItemID          uuid.UUID       `json:"stock_item_id"`
	Name                 string          `json:"name"`
	SKU                  string          `json:"sku"`
	Qty                  int             `json:"qty"`
	UnitPrice            decimal.Decimal `json:"unit_price"`
	LineTotal            decimal.Decimal `json:"line_total"`
	AvailableQty         int             `json:"available_qty"`
	Available            bool            `json:"available"`
	RequiresPrescription bool            `json:"requires_prescription"`
}

// CheckoutInput is what the cart cannot supply on its own.
type CheckoutInput struct {
	Address        types.DeliveryAddress
	PrescriptionID *uuid.UUID
}

type service struct {
	repo   Repository
	tx     txRunner
	stock  stockReader
	orders orderCreator
	logg   *logger.Logger
}

// NewService builds a cart service backed by the provided stack.
func NewService(repo Repository, tx txRunner, stock stockReader, orderSvc orderCreator, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if stock == nil {
		return nil, fmt.Errorf("stock reader required")
	}
	if orderSvc == nil {
		return nil, fmt.Errorf("order service required")
	}
	return &service{
		repo:   repo,
		tx:     tx,
		stock:  stock,
		orders: orderSvc,
		logg:   logg,
	}, nil
}

func requireBuyer(actor auth.Actor) error {
	if actor.Role != enums.ActorRoleBuyer {
		return pkgerrors.New(pkgerrors.CodeForbidden, "only buyers have a cart")
	}
	if actor.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "user id required")
	}
	return nil
}

func (s *service) Get(ctx context.Context, actor auth.Actor) (*View, error) {
	if err := requireBuyer(actor); err != nil {
		return nil, err
	}
	cart, err := s.repo.FindByBuyer(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &View{Lines: []Line{}, Subtotal: decimal.Zero}, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	return s.view(ctx, cart)
}

// PutItem sets the quantity for one stock item. Stock is checked but not reserved;
// reservation happens at checkout.
func (s *service) PutItem(ctx context.Context, actor auth.Actor, stockItemID uuid.UUID, qty int) (*View, error) {
	if err := requireBuyer(actor); err != nil {
		return nil, err
	}
	if stockItemID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stock item id required")
	}
	if qty <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "qty must be greater than zero")
	}

	item, err := s.stock.Get(ctx, stockItemID)
	if err != nil {
		return nil, err
	}
	if qty > item.AvailableQty {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientStock, "selected quantity no longer available").
			WithDetails(map[string]any{
				"stock_item_id": item.ID,
				"requested_qty": qty,
				"available_qty": item.AvailableQty,
			})
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		cart, err := s.loadOrCreate(ctx, repo, actor.UserID)
		if err != nil {
			return err
		}
		if len(cart.Items) > 0 && cart.FacilityID != nil && *cart.FacilityID != item.FacilityID {
			return pkgerrors.New(pkgerrors.CodeCrossFacilityCart, "cart already holds items from another facility").
				WithDetails(map[string]any{
					"cart_facility_id": *cart.FacilityID,
					"item_facility_id": item.FacilityID,
				})
		}
		if cart.FacilityID == nil || *cart.FacilityID != item.FacilityID {
			facilityID := item.FacilityID
			if err := repo.SetFacility(ctx, cart.ID, &facilityID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "pin cart facility")
			}
		}
		if err := repo.UpsertItem(ctx, cart.ID, item.ID, qty); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save cart item")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, actor)
}

func (s *service) RemoveItem(ctx context.Context, actor auth.Actor, stockItemID uuid.UUID) (*View, error) {
	if err := requireBuyer(actor); err != nil {
		return nil, err
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		cart, err := repo.FindByBuyer(ctx, actor.UserID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
		}
		removed, err := repo.DeleteItem(ctx, cart.ID, stockItemID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "remove cart item")
		}
		if !removed {
			return pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")
		}
		if onlyLine(cart, stockItemID) {
			if err := repo.SetFacility(ctx, cart.ID, nil); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "unpin cart facility")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, actor)
}

func (s *service) Clear(ctx context.Context, actor auth.Actor) error {
	if err := requireBuyer(actor); err != nil {
		return err
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.clear(ctx, s.repo.WithTx(tx), actor.UserID)
	})
}

// Checkout turns the cart into a pending order, then empties it.
// Order creation re-validates stock and facility rules atomically.
func (s *service) Checkout(ctx context.Context, actor auth.Actor, input CheckoutInput) (*models.Order, error) {
	if err := requireBuyer(actor); err != nil {
		return nil, err
	}
	cart, err := s.repo.FindByBuyer(ctx, actor.UserID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	if cart == nil || len(cart.Items) == 0 || cart.FacilityID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}

	items := make([]orders.ItemInput, 0, len(cart.Items))
	for _, line := range cart.Items {
		items = append(items, orders.ItemInput{StockItemID: line.StockItemID, Qty: line.Qty})
	}
	order, err := s.orders.Create(ctx, orders.CreateInput{
		Actor:          actor,
		BuyerID:        actor.UserID,
		FacilityID:     *cart.FacilityID,
		Items:          items,
		Address:        input.Address,
		PrescriptionID: input.PrescriptionID,
	})
	if err != nil {
		return nil, err
	}

	clearErr := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.clear(ctx, s.repo.WithTx(tx), actor.UserID)
	})
	if clearErr != nil && s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"order_id": order.ID.String(),
			"buyer_id": actor.UserID.String(),
		})
		s.logg.Error(logCtx, "failed to clear cart after checkout", clearErr)
	}
	return order, nil
}

func (s *service) clear(ctx context.Context, repo Repository, buyerID uuid.UUID) error {
	cart, err := repo.FindByBuyer(ctx, buyerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	if err := repo.DeleteItems(ctx, cart.ID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear cart")
	}
	if err := repo.SetFacility(ctx, cart.ID, nil); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "unpin cart facility")
	}
	return nil
}

func (s *service) loadOrCreate(ctx context.Context, repo Repository, buyerID uuid.UUID) (*models.Cart, error) {
	cart, err := repo.FindByBuyer(ctx, buyerID)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	cart = &models.Cart{BuyerID: buyerID}
	if err := repo.Create(ctx, cart); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create cart")
	}
	return cart, nil
}

// onlyLine reports whether stockItemID is the cart's single line.
func onlyLine(cart *models.Cart, stockItemID uuid.UUID) bool {
	return len(cart.Items) == 1 && cart.Items[0].StockItemID == stockItemID
}

func (s *service) view(ctx context.Context, cart *models.Cart) (*View, error) {
	cartID := cart.ID
	out := &View{
		CartID:     &cartID,
		FacilityID: cart.FacilityID,
		Lines:      make([]Line, 0, len(cart.Items)),
		Subtotal:   decimal.Zero,
	}
	if len(cart.Items) == 0 {
		return out, nil
	}

	ids := make([]uuid.UUID, 0, len(cart.Items))
	for _, line := range cart.Items {
		ids = append(ids, line.StockItemID)
	}
	stock, err := s.stock.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	for _, line := range cart.Items {
		item, ok := stock[line.StockItemID]
		entry := Line{StockItemID: line.StockItemID, Qty: line.Qty}
		if ok {
			entry.Name = item.Name
			entry.SKU = item.SKU
			entry.UnitPrice = item.UnitPrice
			entry.LineTotal = item.UnitPrice.Mul(decimal.NewFromInt(int64(line.Qty)))
			entry.AvailableQty = item.AvailableQty
			entry.Available = line.Qty <= item.AvailableQty
			entry.RequiresPrescription = item.RequiresPrescription
			out.Subtotal = out.Subtotal.Add(entry.LineTotal)
		}
		out.Lines = append(out.Lines, entry)
	}
	return out, nil
}
