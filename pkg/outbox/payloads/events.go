package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/medrun-backend/pkg/enums"
)

// OrderCreatedEvent is emitted once an order is persisted with its reservation.
type OrderCreatedEvent struct {
	OrderID    uuid.UUID       `json:"order_id"`
	BuyerID    uuid.UUID       `json:"buyer_id"`
	FacilityID uuid.UUID       `json:"facility_id"`
	Total      decimal.Decimal `json:"total"`
	ItemCount  int             `json:"item_count"`
}

// OrderStatusEvent carries every order transition after creation
// (order_confirmed, order_status_changed, order_cancelled, order_failed).
type OrderStatusEvent struct {
	OrderID    uuid.UUID         `json:"order_id"`
	BuyerID    uuid.UUID         `json:"buyer_id"`
	FacilityID uuid.UUID         `json:"facility_id"`
	From       enums.OrderStatus `json:"from"`
	To         enums.OrderStatus `json:"to"`
	ActorRole  enums.ActorRole   `json:"actor_role,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// PaymentEvent is emitted when a payment reaches completed, failed or refunded.
type PaymentEvent struct {
	PaymentID  uuid.UUID           `json:"payment_id"`
	OrderID    uuid.UUID           `json:"order_id"`
	BuyerID    uuid.UUID           `json:"buyer_id"`
	FacilityID uuid.UUID           `json:"facility_id"`
	Method     enums.PaymentMethod `json:"method"`
	Status     enums.PaymentStatus `json:"status"`
	Amount     decimal.Decimal     `json:"amount"`
	Reason     string              `json:"reason,omitempty"`
}

// StockLowEvent is emitted when available stock drops to the reorder threshold.
type StockLowEvent struct {
	StockItemID      uuid.UUID `json:"stock_item_id"`
	FacilityID       uuid.UUID `json:"facility_id"`
	Name             string    `json:"name"`
	AvailableQty     int       `json:"available_qty"`
	ReorderThreshold int       `json:"reorder_threshold"`
}

// DeliveryEvent carries every delivery assignment transition.
type DeliveryEvent struct {
	AssignmentID uuid.UUID            `json:"assignment_id"`
	OrderID      uuid.UUID            `json:"order_id"`
	FacilityID   uuid.UUID            `json:"facility_id"`
	BuyerID      uuid.UUID            `json:"buyer_id"`
	AgentID      *uuid.UUID           `json:"agent_id,omitempty"`
	From         enums.DeliveryStatus `json:"from,omitempty"`
	To           enums.DeliveryStatus `json:"to"`
	Reason       string               `json:"reason,omitempty"`
	Lat          *float64             `json:"lat,omitempty"`
	Lng          *float64             `json:"lng,omitempty"`
}
