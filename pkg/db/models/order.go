package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/medrun-backend/pkg/enums"
	"github.com/angelmondragon/medrun-backend/pkg/types"
)

// Order is a buyer's purchase from a single facility. Rows are never deleted.
type Order struct {
	ID              uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	BuyerID         uuid.UUID             `gorm:"column:buyer_id;type:uuid;not null;index"`
	FacilityID      uuid.UUID             `gorm:"column:facility_id;type:uuid;not null;index"`
	Status          enums.OrderStatus     `gorm:"column:status;type:text;not null"`
	Total           decimal.Decimal       `gorm:"column:total;type:numeric(12,2);not null"`
	Currency        string                `gorm:"column:currency;type:text;not null"`
	DeliveryAddress types.DeliveryAddress `gorm:"column:delivery_address;type:jsonb;not null"`
	PrescriptionID  *uuid.UUID            `gorm:"column:prescription_id;type:uuid"`
	CancelledBy     *enums.ActorRole      `gorm:"column:cancelled_by;type:text"`
	CancelReason    *string               `gorm:"column:cancel_reason;type:text"`
	ConfirmedAt     *time.Time            `gorm:"column:confirmed_at"`
	ReadyAt         *time.Time            `gorm:"column:ready_at"`
	DispatchedAt    *time.Time            `gorm:"column:dispatched_at"`
	DeliveredAt     *time.Time            `gorm:"column:delivered_at"`
	CancelledAt     *time.Time            `gorm:"column:cancelled_at"`
	FailedAt        *time.Time            `gorm:"column:failed_at"`
	Items           []OrderItem           `gorm:"foreignKey:OrderID"`
	CreatedAt       time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	return nil
}

// ItemsTotal sums line subtotals.
func (o Order) ItemsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.Subtotal)
	}
	return total
}
