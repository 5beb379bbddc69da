// Package dto holds the JSON shapes returned by the HTTP API.
package dto

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/medrun-backend/pkg/db/models"
	"github.com/angelmondragon/medrun-backend/pkg/enums"
	"github.com/angelmondragon/medrun-backend/pkg/pagination"
	"github.com/angelmondragon/medrun-backend/pkg/types"
)

type OrderItem struct {
	ID          uuid.UUID       `json:"id"`
	StockItemID uuid.UUID       `json:"stock_item_id"`
	Name        string          `json:"name"`
	Qty         int             `json:"qty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

type Order struct {
	ID              uuid.UUID             `json:"id"`
	BuyerID         uuid.UUID             `json:"buyer_id"`
	FacilityID      uuid.UUID             `json:"facility_id"`
	Status          enums.OrderStatus     `json:"status"`
	Total           decimal.Decimal       `json:"total"`
	Currency        string                `json:"currency"`
	DeliveryAddress types.DeliveryAddress `json:"delivery_address"`
	PrescriptionID  *uuid.UUID            `json:"prescription_id,omitempty"`
	CancelledBy     *enums.ActorRole      `json:"cancelled_by,omitempty"`
	CancelReason    *string               `json:"cancel_reason,omitempty"`
	Items           []OrderItem           `json:"items"`
	ConfirmedAt     *time.Time            `json:"confirmed_at,omitempty"`
	ReadyAt         *time.Time            `json:"ready_at,omitempty"`
	DispatchedAt    *time.Time            `json:"dispatched_at,omitempty"`
	DeliveredAt     *time.Time            `json:"delivered_at,omitempty"`
	CancelledAt     *time.Time            `json:"cancelled_at,omitempty"`
	FailedAt        *time.Time            `json:"failed_at,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

func NewOrder(order *models.Order) Order {
	items := make([]OrderItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, OrderItem{
			ID:          item.ID,
			StockItemID: item.StockItemID,
			Name:        item.Name,
			Qty:         item.Qty,
			UnitPrice:   item.UnitPrice,
			Subtotal:    item.Subtotal,
		})
	}
	return Order{
		ID:              order.ID,
		BuyerID:         order.BuyerID,
		FacilityID:      order.FacilityID,
		Status:          order.Status,
		Total:           order.Total,
		Currency:        order.Currency,
		DeliveryAddress: order.DeliveryAddress,
		PrescriptionID:  order.PrescriptionID,
		CancelledBy:     order.CancelledBy,
		CancelReason:    order.CancelReason,
		Items:           items,
		ConfirmedAt:     order.ConfirmedAt,
		ReadyAt:         order.ReadyAt,
		DispatchedAt:    order.DispatchedAt,
		DeliveredAt:     order.DeliveredAt,
		CancelledAt:     order.CancelledAt,
		FailedAt:        order.FailedAt,
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
	}
}

type Payment struct {
	ID            uuid.UUID           `json:"id"`
	OrderID       uuid.UUID           `json:"order_id"`
	Method        enums.PaymentMethod `json:"method"`
	Status        enums.PaymentStatus `json:"status"`
	Amount        decimal.Decimal     `json:"amount"`
	Currency      string              `json:"currency"`
	Provider      string              `json:"provider"`
	ProviderRef   *string             `json:"provider_ref,omitempty"`
	FailureReason *string             `json:"failure_reason,omitempty"`
	RefundReason  *string             `json:"refund_reason,omitempty"`
	CompletedAt   *time.Time          `json:"completed_at,omitempty"`
	FailedAt      *time.Time          `json:"failed_at,omitempty"`
	RefundedAt    *time.Time          `json:"refunded_at,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// NewPayment omits the payer phone and idempotency key.
func NewPayment(payment *models.Payment) Payment {
	return Payment{
		ID:            payment.ID,
		OrderID:       payment.OrderID,
		Method:        payment.Method,
		Status:        payment.Status,
		Amount:        payment.Amount,
		Currency:      payment.Currency,
		Provider:      payment.Provider,
		ProviderRef:   payment.ProviderRef,
		FailureReason: payment.FailureReason,
		RefundReason:  payment.RefundReason,
		CompletedAt:   payment.CompletedAt,
		FailedAt:      payment.FailedAt,
		RefundedAt:    payment.RefundedAt,
		CreatedAt:     payment.CreatedAt,
		UpdatedAt:     payment.UpdatedAt,
	}
}

type Location struct {
	Lat       float64    `json:"lat"`
	Lng       float64    `json:"lng"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

type Delivery struct {
	ID            uuid.UUID            `json:"id"`
	OrderID       uuid.UUID            `json:"order_id"`
	FacilityID    uuid.UUID            `json:"facility_id"`
	BuyerID       uuid.UUID            `json:"buyer_id"`
	AgentID       *uuid.UUID           `json:"agent_id,omitempty"`
	Status        enums.DeliveryStatus `json:"status"`
	FailureReason *string              `json:"failure_reason,omitempty"`
	LastLocation  *Location            `json:"last_location,omitempty"`
	OfferedAt     time.Time            `json:"offered_at"`
	AssignedAt    *time.Time           `json:"assigned_at,omitempty"`
	PickedUpAt    *time.Time           `json:"picked_up_at,omitempty"`
	InTransitAt   *time.Time           `json:"in_transit_at,omitempty"`
	DeliveredAt   *time.Time           `json:"delivered_at,omitempty"`
	FailedAt      *time.Time           `json:"failed_at,omitempty"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

func NewDelivery(assignment *models.DeliveryAssignment) Delivery {
	out := Delivery{
		ID:            assignment.ID,
		OrderID:       assignment.OrderID,
		FacilityID:    assignment.FacilityID,
		BuyerID:       assignment.BuyerID,
		AgentID:       assignment.AgentID,
		Status:        assignment.Status,
		FailureReason: assignment.FailureReason,
		OfferedAt:     assignment.OfferedAt,
		AssignedAt:    assignment.AssignedAt,
		PickedUpAt:    assignment.PickedUpAt,
		InTransitAt:   assignment.InTransitAt,
		DeliveredAt:   assignment.DeliveredAt,
		FailedAt:      assignment.FailedAt,
		UpdatedAt:     assignment.UpdatedAt,
	}
	if assignment.LastLat != nil && assignment.LastLng != nil {
		out.LastLocation = &Location{
			Lat:       *assignment.LastLat,
			Lng:       *assignment.LastLng,
			UpdatedAt: assignment.LocationUpdatedAt,
		}
	}
	return out
}

type StockItem struct {
	ID                   uuid.UUID       `json:"id"`
	FacilityID           uuid.UUID       `json:"facility_id"`
	SKU                  string          `json:"sku"`
	Name                 string          `json:"name"`
	UnitPrice            decimal.Decimal `json:"unit_price"`
	AvailableQty         int             `json:"available_qty"`
	ReservedQty          int             `json:"reserved_qty"`
	ReorderThreshold     int             `json:"reorder_threshold"`
	RequiresPrescription bool            `json:"requires_prescription"`
	Low                  bool            `json:"low"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

func NewStockItem(item *models.StockItem) StockItem {
	return StockItem{
		ID:                   item.ID,
		FacilityID:           item.FacilityID,
		SKU:                  item.SKU,
		Name:                 item.Name,
		UnitPrice:            item.UnitPrice,
		AvailableQty:         item.AvailableQty,
		ReservedQty:          item.ReservedQty,
		ReorderThreshold:     item.ReorderThreshold,
		RequiresPrescription: item.RequiresPrescription,
		Low:                  item.IsLow(),
		UpdatedAt:            item.UpdatedAt,
	}
}

type Notification struct {
	ID        uuid.UUID              `json:"id"`
	Type      enums.NotificationType `json:"type"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Link      *string                `json:"link,omitempty"`
	Read      bool                   `json:"read"`
	ReadAt    *time.Time             `json:"read_at,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

func NewNotification(n *models.Notification) Notification {
	return Notification{
		ID:        n.ID,
		Type:      n.Type,
		Title:     n.Title,
		Message:   n.Message,
		Link:      n.Link,
		Read:      n.ReadAt != nil,
		ReadAt:    n.ReadAt,
		CreatedAt: n.CreatedAt,
	}
}

// MapPage converts every item of a page, keeping the cursor.
func MapPage[T any, R any](page pagination.Page[T], fn func(*T) R) pagination.Page[R] {
	items := make([]R, 0, len(page.Items))
	for i := range page.Items {
		items = append(items, fn(&page.Items[i]))
	}
	return pagination.Page[R]{Items: items, NextCursor: page.NextCursor}
}
