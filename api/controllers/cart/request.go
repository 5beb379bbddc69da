package cart

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/medrun-backend/pkg/types"
)

type putItemRequest struct {
	Qty int `json:"qty" validate:"required,gt=0,lte=1000"`
}

type checkoutRequest struct {
	DeliveryAddress types.DeliveryAddress `json:"delivery_address" validate:"required"`
	PrescriptionID  *uuid.UUID            `json:"prescription_id"`
}
