package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/medrun-backend/pkg/enums"
)

// Payment is one settlement attempt for an order. At most one non-failed row per order.
type Payment struct {
	ID             uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	OrderID        uuid.UUID           `gorm:"column:order_id;type:uuid;not null;index"`
	Method         enums.PaymentMethod `gorm:"column:method;type:text;not null"`
	Status         enums.PaymentStatus `gorm:"column:status;type:text;not null"`
	Amount         decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency       string              `gorm:"column:currency;type:text;not null"`
	IdempotencyKey string              `gorm:"column:idempotency_key;type:text;not null"`
	Provider       string              `gorm:"column:provider;type:text;not null"`
	ProviderRef    *string             `gorm:"column:provider_ref;type:text"`
	PayerPhone     *string             `gorm:"column:payer_phone;type:text"`
	FailureReason  *string             `gorm:"column:failure_reason;type:text"`
	RefundReason   *string             `gorm:"column:refund_reason;type:text"`
	RefundRef      *string             `gorm:"column:refund_ref;type:text"`
	CompletedAt    *time.Time          `gorm:"column:completed_at"`
	FailedAt       *time.Time          `gorm:"column:failed_at"`
	RefundedAt     *time.Time          `gorm:"column:refunded_at"`
	CreatedAt      time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Payment) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}
