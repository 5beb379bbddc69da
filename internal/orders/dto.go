package orders

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/medrun-backend/pkg/auth"
	"github.com/angelmondragon/medrun-backend/pkg/enums"
	"github.com/angelmondragon/medrun-backend/pkg/types"
)

// ItemInput is one requested line of a new order.
type ItemInput struct {
	StockItemID uuid.UUID `json:"stock_item_id" validate:"required"`
	Qty         int       `json:"qty" validate:"required,gt=0"`
}

// CreateInput carries everything createOrder needs.
type CreateInput struct {
	Actor          auth.Actor
	BuyerID        uuid.UUID
	FacilityID     uuid.UUID
	Items          []ItemInput
	Address        types.DeliveryAddress
	PrescriptionID *uuid.UUID
}

// ListFilter narrows order listings. Scope fields are derived from the caller.
type ListFilter struct {
	BuyerID    *uuid.UUID
	FacilityID *uuid.UUID
	Status     *enums.OrderStatus
}
