package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/medrun-backend/pkg/enums"
)

// StockReservation is the ledger entry holding Qty units of one item for one order.
type StockReservation struct {
	ID          uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	OrderID     uuid.UUID               `gorm:"column:order_id;type:uuid;not null;index"`
	StockItemID uuid.UUID               `gorm:"column:stock_item_id;type:uuid;not null"`
	Qty         int                     `gorm:"column:qty;not null"`
	Status      enums.ReservationStatus `gorm:"column:status;type:text;not null"`
	CreatedAt   time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (r *StockReservation) BeforeCreate(*gorm.DB) error {
	ensureID(&r.ID)
	return nil
}
