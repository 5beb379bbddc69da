package cart

import (
	"context"
	"time"

	"github.com/angelmondragon/medrun-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository exposes persistence operations for buyer carts.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByBuyer(ctx context.Context, buyerID uuid.UUID) (*models.Cart, error)
	Create(ctx context.Context, cart *models.Cart) error
	SetFacility(ctx context.Context, cartID uuid.UUID, facilityID *uuid.UUID) error
	UpsertItem(ctx context.Context, cartID, stockItemID uuid.UUID, qty int) error
	DeleteItem(ctx context.Context, cartID, stockItemID uuid.UUID) (bool, error)
	DeleteItems(ctx context.Context, cartID uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository constructs a cart repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// WithTx binds the repository to a transaction.
func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// FindByBuyer loads the buyer's cart with its lines in insertion order.
func (r *repository) FindByBuyer(ctx context.Context, buyerID uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, id ASC")
		}).
		Where("buyer_id = ?", buyerID).
		First(&cart).Error
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

func (r *repository) Create(ctx context.Context, cart *models.Cart) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(cart).Error
}

// SetFacility pins the cart to a facility; nil unpins it.
func (r *repository) SetFacility(ctx context.Context, cartID uuid.UUID, facilityID *uuid.UUID) error {
	var value any
	if facilityID != nil {
		value = *facilityID
	}
	return r.db.WithContext(ctx).
		Model(&models.Cart{}).
		Where("id = ?", cartID).
		Updates(map[string]any{
			"facility_id": value,
			"updated_at":  time.Now().UTC(),
		}).Error
}

// UpsertItem sets the quantity of a line, inserting it when absent.
func (r *repository) UpsertItem(ctx context.Context, cartID, stockItemID uuid.UUID, qty int) error {
	item := models.CartItem{CartID: cartID, StockItemID: stockItemID, Qty: qty}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "cart_id"}, {Name: "stock_item_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"qty", "updated_at"}),
		}).
		Create(&item).Error
}

func (r *repository) DeleteItem(ctx context.Context, cartID, stockItemID uuid.UUID) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("cart_id = ? AND stock_item_id = ?", cartID, stockItemID).
		Delete(&models.CartItem{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) DeleteItems(ctx context.Context, cartID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("cart_id = ?", cartID).
		Delete(&models.CartItem{}).Error
}
