package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// StockItem is a sellable medicine line held by one facility.
// AvailableQty is what can still be reserved; ReservedQty is held by open orders.
type StockItem struct {
	ID                   uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	FacilityID           uuid.UUID       `gorm:"column:facility_id;type:uuid;not null;index"`
	SKU                  string          `gorm:"column:sku;type:text;not null"`
	Name                 string          `gorm:"column:name;type:text;not null"`
	UnitPrice            decimal.Decimal `gorm:"column:unit_price;type:numeric(12,2);not null"`
	AvailableQty         int             `gorm:"column:available_qty;not null;default:0"`
	ReservedQty          int             `gorm:"column:reserved_qty;not null;default:0"`
	ReorderThreshold     int             `gorm:"column:reorder_threshold;not null;default:0"`
	RequiresPrescription bool            `gorm:"column:requires_prescription;not null;default:false"`
	CreatedAt            time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *StockItem) BeforeCreate(*gorm.DB) error {
	ensureID(&s.ID)
	return nil
}

// IsLow reports whether available stock is at or below the reorder threshold.
func (s StockItem) IsLow() bool {
	return s.AvailableQty <= s.ReorderThreshold
}
