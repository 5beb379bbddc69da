package inventory

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/medrun-backend/api/controllers/actorcontext"
	"github.com/angelmondragon/medrun-backend/api/controllers/dto"
	"github.com/angelmondragon/medrun-backend/api/responses"
	"github.com/angelmondragon/medrun-backend/api/validators"
	internalinventory "github.com/angelmondragon/medrun-backend/internal/inventory"
	pkgerrors "github.com/angelmondragon/medrun-backend/pkg/errors"
	"github.com/angelmondragon/medrun-backend/pkg/logger"
)

type createItemRequest struct {
	FacilityID           *uuid.UUID      `json:"facility_id"`
	SKU                  string          `json:"sku" validate:"required,max=64"`
	Name                 string          `json:"name" validate:"required,max=200"`
	UnitPrice            decimal.Decimal `json:"unit_price"`
	AvailableQty         int             `json:"available_qty" validate:"gte=0"`
	ReorderThreshold     int             `json:"reorder_threshold" validate:"gte=0"`
	RequiresPrescription bool            `json:"requires_prescription"`
}

type restockRequest struct {
	Qty int `json:"qty" validate:"required,gt=0"`
}

// CreateItem adds a stock item to the caller's facility. Admins name the facility explicitly.
func CreateItem(svc internalinventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "inventory service unavailable"))
			return
		}
		actor, err := actorcontext.Resolve(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload createItemRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !payload.UnitPrice.IsPositive() {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "unit_price must be positive").
				WithDetails(map[string]string{"unit_price": "must be greater than 0"}))
			return
		}

		facilityID := payload.FacilityID
		if facilityID == nil {
			facilityID = actor.FacilityID
		}
		if facilityID == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "facility_id required"))
			return
		}

		item, err := svc.CreateItem(r.Context(), actor, internalinventory.CreateItemInput{
			FacilityID:           *facilityID,
			SKU:                  strings.TrimSpace(payload.SKU),
			Name:                 strings.TrimSpace(payload.Name),
			UnitPrice:            payload.UnitPrice,
			AvailableQty:         payload.AvailableQty,
			ReorderThreshold:     payload.ReorderThreshold,
			RequiresPrescription: payload.RequiresPrescription,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, dto.NewStockItem(item))
	}
}

func Restock(svc internalinventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "inventory service unavailable"))
			return
		}
		actor, err := actorcontext.Resolve(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		itemID, err := validators.ParseUUIDParam(r, "itemId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload restockRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		item, err := svc.Restock(r.Context(), actor, itemID, payload.Qty)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.NewStockItem(item))
	}
}

// Detail is readable by any authenticated caller so buyers can see price and availability.
func Detail(svc internalinventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "inventory service unavailable"))
			return
		}
		if _, err := actorcontext.Resolve(r); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		itemID, err := validators.ParseUUIDParam(r, "itemId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		item, err := svc.Get(r.Context(), itemID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.NewStockItem(item))
	}
}
