package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Cart is the buyer's single server-side draft. FacilityID is pinned by the first line.
type Cart struct {
	ID         uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	BuyerID    uuid.UUID  `gorm:"column:buyer_id;type:uuid;not null;uniqueIndex"`
	FacilityID *uuid.UUID `gorm:"column:facility_id;type:uuid"`
	Items      []CartItem `gorm:"foreignKey:CartID"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *Cart) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}

type CartItem struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	CartID      uuid.UUID `gorm:"column:cart_id;type:uuid;not null;uniqueIndex:cart_items_cart_stock_uq"`
	StockItemID uuid.UUID `gorm:"column:stock_item_id;type:uuid;not null;uniqueIndex:cart_items_cart_stock_uq"`
	Qty         int       `gorm:"column:qty;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (i *CartItem) BeforeCreate(*gorm.DB) error {
	ensureID(&i.ID)
	return nil
}
