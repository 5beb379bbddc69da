package deliveries

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/medrun-backend/api/controllers/actorcontext"
	"github.com/angelmondragon/medrun-backend/api/controllers/dto"
	"github.com/angelmondragon/medrun-backend/api/responses"
	"github.com/angelmondragon/medrun-backend/api/validators"
	internaldeliveries "github.com/angelmondragon/medrun-backend/internal/deliveries"
	"github.com/angelmondragon/medrun-backend/pkg/auth"
	"github.com/angelmondragon/medrun-backend/pkg/db/models"
	"github.com/angelmondragon/medrun-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/medrun-backend/pkg/errors"
	"github.com/angelmondragon/medrun-backend/pkg/logger"
	"github.com/angelmondragon/medrun-backend/pkg/pagination"
)

type statusRequest struct {
	Status string   `json:"status" validate:"required"`
	Lat    *float64 `json:"lat" validate:"omitempty,latitude"`
	Lng    *float64 `json:"lng" validate:"omitempty,longitude"`
	Reason string   `json:"reason"`
}

type locationRequest struct {
	Lat *float64 `json:"lat" validate:"required,latitude"`
	Lng *float64 `json:"lng" validate:"required,longitude"`
}

type failRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type assignmentAction func(r *http.Request, actor auth.Actor, id uuid.UUID) (*models.DeliveryAssignment, error)

// handleAssignment runs the shared resolve/parse/respond steps around action.
func handleAssignment(svc internaldeliveries.Service, logg *logger.Logger, param string, action assignmentAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "deliveries service unavailable"))
			return
		}
		actor, err := actorcontext.Resolve(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := validators.ParseUUIDParam(r, param)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		assignment, err := action(r, actor, id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.NewDelivery(assignment))
	}
}

// Offer publishes a ready order to the agent pool.
func Offer(svc internaldeliveries.Service, logg *logger.Logger) http.HandlerFunc {
	return handleAssignment(svc, logg, "orderId", func(r *http.Request, actor auth.Actor, orderID uuid.UUID) (*models.DeliveryAssignment, error) {
		return svc.Offer(r.Context(), actor, orderID)
	})
}

func ForOrder(svc internaldeliveries.Service, logg *logger.Logger) http.HandlerFunc {
	return handleAssignment(svc, logg, "orderId", func(r *http.Request, actor auth.Actor, orderID uuid.UUID) (*models.DeliveryAssignment, error) {
		return svc.GetForOrder(r.Context(), actor, orderID)
	})
}

func Detail(svc internaldeliveries.Service, logg *logger.Logger) http.HandlerFunc {
	return handleAssignment(svc, logg, "deliveryId", func(r *http.Request, actor auth.Actor, id uuid.UUID) (*models.DeliveryAssignment, error) {
		return svc.Get(r.Context(), actor, id)
	})
}

// Accept claims an open offer. Exactly one agent wins a race; the rest get ALREADY_ASSIGNED.
func Accept(svc internaldeliveries.Service, logg *logger.Logger) http.HandlerFunc {
	return handleAssignment(svc, logg, "deliveryId", func(r *http.Request, actor auth.Actor, id uuid.UUID) (*models.DeliveryAssignment, error) {
		return svc.Accept(r.Context(), actor, id)
	})
}

func UpdateStatus(svc internaldeliveries.Service, logg *logger.Logger) http.HandlerFunc {
	return handleAssignment(svc, logg, "deliveryId", func(r *http.Request, actor auth.Actor, id uuid.UUID) (*models.DeliveryAssignment, error) {
		var payload statusRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			return nil, err
		}
		status, err := enums.ParseDeliveryStatus(strings.TrimSpace(payload.Status))
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid delivery status")
		}
		return svc.UpdateStatus(r.Context(), actor, id, internaldeliveries.StatusUpdate{
			Status: status,
			Lat:    payload.Lat,
			Lng:    payload.Lng,
			Reason: validators.SanitizeString(payload.Reason, validators.MaxReasonLength),
		})
	})
}

func UpdateLocation(svc internaldeliveries.Service, logg *logger.Logger) http.HandlerFunc {
	return handleAssignment(svc, logg, "deliveryId", func(r *http.Request, actor auth.Actor, id uuid.UUID) (*models.DeliveryAssignment, error) {
		var payload locationRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			return nil, err
		}
		return svc.UpdateLocation(r.Context(), actor, id, *payload.Lat, *payload.Lng)
	})
}

func Fail(svc internaldeliveries.Service, logg *logger.Logger) http.HandlerFunc {
	return handleAssignment(svc, logg, "deliveryId", func(r *http.Request, actor auth.Actor, id uuid.UUID) (*models.DeliveryAssignment, error) {
		var payload failRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			return nil, err
		}
		reason := validators.SanitizeString(payload.Reason, validators.MaxReasonLength)
		if reason == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "failure reason required")
		}
		return svc.Fail(r.Context(), actor, id, reason)
	})
}

type pageLoader func(r *http.Request, actor auth.Actor, params pagination.Params) (pagination.Page[models.DeliveryAssignment], error)

func handlePage(svc internaldeliveries.Service, logg *logger.Logger, load pageLoader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "deliveries service unavailable"))
			return
		}
		actor, err := actorcontext.Resolve(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := load(r, actor, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.MapPage(page, dto.NewDelivery))
	}
}

// Available lists open offers, oldest first.
func Available(svc internaldeliveries.Service, logg *logger.Logger) http.HandlerFunc {
	return handlePage(svc, logg, func(r *http.Request, actor auth.Actor, params pagination.Params) (pagination.Page[models.DeliveryAssignment], error) {
		return svc.ListAvailable(r.Context(), actor, params)
	})
}

// Mine lists the calling agent's assignments.
func Mine(svc internaldeliveries.Service, logg *logger.Logger) http.HandlerFunc {
	return handlePage(svc, logg, func(r *http.Request, actor auth.Actor, params pagination.Params) (pagination.Page[models.DeliveryAssignment], error) {
		return svc.ListMine(r.Context(), actor, params)
	})
}
