package inventory

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/medrun-backend/pkg/db/models"
	"github.com/angelmondragon/medrun-backend/pkg/enums"
)

// Repository manages stock items and their per-order reservations.
// Counter mutations are single conditional UPDATEs; callers never read-then-write stock.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateItem(ctx context.Context, item *models.StockItem) error
	FindItem(ctx context.Context, id uuid.UUID) (*models.StockItem, error)
	FindItems(ctx context.Context, ids []uuid.UUID) ([]models.StockItem, error)
	Reserve(ctx context.Context, id uuid.UUID, qty int) (bool, error)
	Release(ctx context.Context, id uuid.UUID, qty int) (bool, error)
	Commit(ctx context.Context, id uuid.UUID, qty int) (bool, error)
	Return(ctx context.Context, id uuid.UUID, qty int) (bool, error)
	Restock(ctx context.Context, id uuid.UUID, qty int) (bool, error)
	CreateReservations(ctx context.Context, reservations []models.StockReservation) error
	FindReservations(ctx context.Context, orderID uuid.UUID) ([]models.StockReservation, error)
	TransitionReservation(ctx context.Context, id uuid.UUID, from, to enums.ReservationStatus) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an inventory repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateItem(ctx context.Context, item *models.StockItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}

func (r *repository) FindItem(ctx context.Context, id uuid.UUID) (*models.StockItem, error) {
	var item models.StockItem
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repository) FindItems(ctx context.Context, ids []uuid.UUID) ([]models.StockItem, error) {
	var items []models.StockItem
	if len(ids) == 0 {
		return items, nil
	}
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) Reserve(ctx context.Context, id uuid.UUID, qty int) (bool, error) {
	return r.adjust(ctx, "id = ? AND available_qty >= ?", []any{id, qty}, map[string]any{
		"available_qty": gorm.Expr("available_qty - ?", qty),
		"reserved_qty":  gorm.Expr("reserved_qty + ?", qty),
	})
}

func (r *repository) Release(ctx context.Context, id uuid.UUID, qty int) (bool, error) {
	return r.adjust(ctx, "id = ? AND reserved_qty >= ?", []any{id, qty}, map[string]any{
		"available_qty": gorm.Expr("available_qty + ?", qty),
		"reserved_qty":  gorm.Expr("reserved_qty - ?", qty),
	})
}

func (r *repository) Commit(ctx context.Context, id uuid.UUID, qty int) (bool, error) {
	return r.adjust(ctx, "id = ? AND reserved_qty >= ?", []any{id, qty}, map[string]any{
		"reserved_qty": gorm.Expr("reserved_qty - ?", qty),
	})
}

func (r *repository) Return(ctx context.Context, id uuid.UUID, qty int) (bool, error) {
	return r.adjust(ctx, "id = ?", []any{id}, map[string]any{
		"available_qty": gorm.Expr("available_qty + ?", qty),
	})
}

func (r *repository) Restock(ctx context.Context, id uuid.UUID, qty int) (bool, error) {
	return r.adjust(ctx, "id = ?", []any{id}, map[string]any{
		"available_qty": gorm.Expr("available_qty + ?", qty),
	})
}

func (r *repository) adjust(ctx context.Context, where string, args []any, updates map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.StockItem{}).
		Where(where, args...).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) CreateReservations(ctx context.Context, reservations []models.StockReservation) error {
	if len(reservations) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&reservations).Error
}

func (r *repository) FindReservations(ctx context.Context, orderID uuid.UUID) ([]models.StockReservation, error) {
	var reservations []models.StockReservation
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("stock_item_id ASC").
		Find(&reservations).Error; err != nil {
		return nil, err
	}
	return reservations, nil
}

func (r *repository) TransitionReservation(ctx context.Context, id uuid.UUID, from, to enums.ReservationStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.StockReservation{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{"status": to})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
