package deliveries

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/medrun-backend/pkg/auth"
	"github.com/angelmondragon/medrun-backend/pkg/db"
	"github.com/angelmondragon/medrun-backend/pkg/db/models"
	"github.com/angelmondragon/medrun-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/medrun-backend/pkg/errors"
	"github.com/angelmondragon/medrun-backend/pkg/logger"
	"github.com/angelmondragon/medrun-backend/pkg/metrics"
	"github.com/angelmondragon/medrun-backend/pkg/outbox"
	"github.com/angelmondragon/medrun-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/medrun-backend/pkg/pagination"
)

const (
	ReasonOfferExpired   = "offer_expired"
	ReasonOrderCancelled = "order_cancelled"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type orderFlow interface {
	Get(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*models.Order, error)
	GetTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error)
	AdvanceTx(ctx context.Context, tx *gorm.DB, actor auth.Actor, orderID uuid.UUID, target enums.OrderStatus) (*models.Order, error)
}

type cashSettler interface {
	CompleteCashPayment(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Payment, error)
}

// StatusUpdate moves an assignment one step forward, optionally with the agent's position.
type StatusUpdate struct {
	Status enums.DeliveryStatus
	Lat    *float64
	Lng    *float64
	Reason string
}

// Service is the delivery assignment engine.
type Service interface {
	Offer(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*models.DeliveryAssignment, error)
	ListAvailable(ctx context.Context, actor auth.Actor, params pagination.Params) (pagination.Page[models.DeliveryAssignment], error)
	ListMine(ctx context.Context, actor auth.Actor, params pagination.Params) (pagination.Page[models.DeliveryAssignment], error)
	Get(ctx context.Context, actor auth.Actor, assignmentID uuid.UUID) (*models.DeliveryAssignment, error)
	GetForOrder(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*models.DeliveryAssignment, error)
	Accept(ctx context.Context, actor auth.Actor, assignmentID uuid.UUID) (*models.DeliveryAssignment, error)
	UpdateStatus(ctx context.Context, actor auth.Actor, assignmentID uuid.UUID, update StatusUpdate) (*models.DeliveryAssignment, error)
	UpdateLocation(ctx context.Context, actor auth.Actor, assignmentID uuid.UUID, lat, lng float64) (*models.DeliveryAssignment, error)
	Fail(ctx context.Context, actor auth.Actor, assignmentID uuid.UUID, reason string) (*models.DeliveryAssignment, error)
	FailActiveForOrder(ctx context.Context, orderID uuid.UUID, reason string) (*models.DeliveryAssignment, error)
	ExpireOffers(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// Config holds the optional collaborators of the delivery service.
type Config struct {
	Metrics *metrics.LifecycleMetrics
	Logger  *logger.Logger
}

type service struct {
	repo     Repository
	tx       txRunner
	orders   orderFlow
	payments cashSettler
	outbox   outbox.Emitter
	metrics  *metrics.LifecycleMetrics
	logg     *logger.Logger
}

func NewService(repo Repository, tx txRunner, orders orderFlow, payments cashSettler, emitter outbox.Emitter, cfg Config) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("deliveries repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	if payments == nil {
		return nil, fmt.Errorf("payments service required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	return &service{
		repo:     repo,
		tx:       tx,
		orders:   orders,
		payments: payments,
		outbox:   emitter,
		metrics:  cfg.Metrics,
		logg:     cfg.Logger,
	}, nil
}

// Offer opens a delivery for the order. It returns the live assignment when one exists,
// so repeated offers are harmless; after a failure a fresh assignment is created.
func (s *service) Offer(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*models.DeliveryAssignment, error) {
	var offered *models.DeliveryAssignment
	created := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.orders.GetTx(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if !actor.Privileged() && !actor.OwnsFacility(order.FacilityID) {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the facility or an admin can offer a delivery")
		}
		repo := s.repo.WithTx(tx)
		existing, err := repo.FindActiveByOrder(ctx, order.ID)
		switch {
		case err == nil:
			offered = existing
			return nil
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load active assignment")
		}
		if !offerableOrder(order.Status) {
			return pkgerrors.New(pkgerrors.CodeInvalidTransition, "order is not ready for delivery").
				WithDetails(map[string]any{"order_status": order.Status})
		}

		assignment := &models.DeliveryAssignment{
			OrderID:    order.ID,
			FacilityID: order.FacilityID,
			BuyerID:    order.BuyerID,
			Status:     enums.DeliveryStatusPending,
			OfferedAt:  time.Now().UTC(),
		}
		if err := repo.Create(ctx, assignment); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.New(pkgerrors.CodeConflict, "delivery already offered for order")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create assignment")
		}
		if err := s.emit(ctx, tx, actor, enums.EventDeliveryOffered, assignment, "", ""); err != nil {
			return err
		}
		offered = assignment
		created = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if created {
		s.metrics.DeliveryTransition(string(enums.DeliveryStatusPending))
		s.logAssignment(ctx, offered, "delivery offered")
	}
	return offered, nil
}

func (s *service) ListAvailable(ctx context.Context, actor auth.Actor, params pagination.Params) (pagination.Page[models.DeliveryAssignment], error) {
	if actor.Role != enums.ActorRoleAgent && !actor.Privileged() {
		return pagination.Page[models.DeliveryAssignment]{}, pkgerrors.New(pkgerrors.CodeForbidden, "only agents can browse deliveries")
	}
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return pagination.Page[models.DeliveryAssignment]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListAvailable(ctx, params)
	if err != nil {
		return pagination.Page[models.DeliveryAssignment]{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list available deliveries")
	}
	return pagination.BuildPage(rows, params.Limit, assignmentCursor), nil
}

func (s *service) ListMine(ctx context.Context, actor auth.Actor, params pagination.Params) (pagination.Page[models.DeliveryAssignment], error) {
	if actor.Role != enums.ActorRoleAgent {
		return pagination.Page[models.DeliveryAssignment]{}, pkgerrors.New(pkgerrors.CodeForbidden, "only agents have assignments")
	}
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return pagination.Page[models.DeliveryAssignment]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListByAgent(ctx, actor.UserID, params)
	if err != nil {
		return pagination.Page[models.DeliveryAssignment]{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list assignments")
	}
	return pagination.BuildPage(rows, params.Limit, assignmentCursor), nil
}

func (s *service) Get(ctx context.Context, actor auth.Actor, assignmentID uuid.UUID) (*models.DeliveryAssignment, error) {
	assignment, err := s.load(ctx, s.repo, assignmentID)
	if err != nil {
		return nil, err
	}
	if !canView(actor, assignment) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "assignment not visible to caller")
	}
	return assignment, nil
}

func (s *service) GetForOrder(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*models.DeliveryAssignment, error) {
	if _, err := s.orders.Get(ctx, actor, orderID); err != nil {
		return nil, err
	}
	assignment, err := s.repo.FindActiveByOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no active delivery for order")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load assignment")
	}
	return assignment, nil
}

// Accept claims an open offer for the calling agent. Exactly one concurrent caller wins;
// the others get ALREADY_ASSIGNED.
func (s *service) Accept(ctx context.Context, actor auth.Actor, assignmentID uuid.UUID) (*models.DeliveryAssignment, error) {
	if actor.Role != enums.ActorRoleAgent || actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only agents can accept deliveries")
	}
	if assignmentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "assignment id required")
	}

	var accepted *models.DeliveryAssignment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ok, err := repo.Accept(ctx, assignmentID, actor.UserID, time.Now().UTC())
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "accept assignment")
		}
		current, err := s.load(ctx, repo, assignmentID)
		if err != nil {
			return err
		}
		if !ok {
			if current.Status == enums.DeliveryStatusFailed {
				return invalidTransition(current.Status, enums.DeliveryStatusAssigned)
			}
			return pkgerrors.New(pkgerrors.CodeAlreadyAssigned, "delivery already accepted by another agent").
				WithDetails(map[string]any{"assignment_id": current.ID, "status": current.Status})
		}
		order, err := s.orders.GetTx(ctx, tx, current.OrderID)
		if err != nil {
			return err
		}
		if !offerableOrder(order.Status) {
			return pkgerrors.New(pkgerrors.CodeInvalidTransition, "order is no longer open for delivery").
				WithDetails(map[string]any{"assignment_id": current.ID, "order_status": order.Status})
		}
		if err := s.emit(ctx, tx, actor, enums.EventDeliveryAssigned, current, enums.DeliveryStatusPending, ""); err != nil {
			return err
		}
		accepted = current
		return nil
	})
	if err != nil {
		if pkgerrors.Is(err, pkgerrors.CodeAlreadyAssigned) {
			s.metrics.AcceptConflict()
		}
		return nil, err
	}
	s.metrics.DeliveryTransition(string(enums.DeliveryStatusAssigned))
	s.logAssignment(ctx, accepted, "delivery accepted")
	return accepted, nil
}

// UpdateStatus advances an assignment by one step. Pickup moves the order out for delivery;
// delivery completes the order and collects a cash payment in the same transaction.
func (s *service) UpdateStatus(ctx context.Context, actor auth.Actor, assignmentID uuid.UUID, update StatusUpdate) (*models.DeliveryAssignment, error) {
	if update.Status == enums.DeliveryStatusFailed {
		return s.Fail(ctx, actor, assignmentID, update.Reason)
	}
	if !update.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid delivery status")
	}
	if err := validateLocation(update.Lat, update.Lng); err != nil {
		return nil, err
	}

	var updated *models.DeliveryAssignment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := s.load(ctx, repo, assignmentID)
		if err != nil {
			return err
		}
		if !actor.Privileged() && !isAssignedAgent(actor, current) {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the assigned agent can update the delivery")
		}
		from := current.Status
		if from == enums.DeliveryStatusPending || !CanTransition(from, update.Status) {
			return invalidTransition(from, update.Status)
		}

		now := time.Now().UTC()
		updates := map[string]any{timestampColumn(update.Status): now}
		if update.Lat != nil && update.Lng != nil {
			updates["last_lat"] = *update.Lat
			updates["last_lng"] = *update.Lng
			updates["location_updated_at"] = now
		}
		ok, err := repo.Transition(ctx, current.ID, from, update.Status, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update assignment status")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeInvalidTransition, "assignment changed concurrently").
				WithDetails(map[string]any{"from": from, "to": update.Status})
		}

		switch update.Status {
		case enums.DeliveryStatusPickedUp:
			if err := s.advanceOrderTo(ctx, tx, current.OrderID, enums.OrderStatusOutForDelivery); err != nil {
				return err
			}
		case enums.DeliveryStatusDelivered:
			if err := s.advanceOrderTo(ctx, tx, current.OrderID, enums.OrderStatusDelivered); err != nil {
				return err
			}
			if _, err := s.payments.CompleteCashPayment(ctx, tx, current.OrderID); err != nil {
				return err
			}
		}

		reloaded, err := s.load(ctx, repo, current.ID)
		if err != nil {
			return err
		}
		if err := s.emit(ctx, tx, actor, enums.EventDeliveryStatusChanged, reloaded, from, ""); err != nil {
			return err
		}
		updated = reloaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.DeliveryTransition(string(updated.Status))
	s.logAssignment(ctx, updated, "delivery status updated")
	return updated, nil
}

// advanceOrderTo walks the order forward until it reaches target.
// An agent picking up a confirmed order implies the facility had it ready.
func (s *service) advanceOrderTo(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, target enums.OrderStatus) error {
	path := []enums.OrderStatus{enums.OrderStatusReady, enums.OrderStatusOutForDelivery, enums.OrderStatusDelivered}
	order, err := s.orders.GetTx(ctx, tx, orderID)
	if err != nil {
		return err
	}
	current := order.Status
	for _, step := range path {
		if current == target {
			return nil
		}
		if rank(current) >= rank(step) {
			continue
		}
		advanced, err := s.orders.AdvanceTx(ctx, tx, auth.SystemActor(), orderID, step)
		if err != nil {
			return err
		}
		current = advanced.Status
		if step == target {
			return nil
		}
	}
	if current != target {
		return pkgerrors.New(pkgerrors.CodeInvalidTransition, "order cannot follow delivery progress").
			WithDetails(map[string]any{"order_status": current, "target": target})
	}
	return nil
}

func (s *service) UpdateLocation(ctx context.Context, actor auth.Actor, assignmentID uuid.UUID, lat, lng float64) (*models.DeliveryAssignment, error) {
	if err := validateLocation(&lat, &lng); err != nil {
		return nil, err
	}
	if actor.Role != enums.ActorRoleAgent {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the assigned agent can report location")
	}
	current, err := s.load(ctx, s.repo, assignmentID)
	if err != nil {
		return nil, err
	}
	if !isAssignedAgent(actor, current) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the assigned agent can report location")
	}
	ok, err := s.repo.UpdateLocation(ctx, assignmentID, actor.UserID, lat, lng, time.Now().UTC())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update location")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition, "assignment is no longer live").
			WithDetails(map[string]any{"status": current.Status})
	}
	return s.load(ctx, s.repo, assignmentID)
}

// Fail ends an assignment. The order keeps its status and nothing is re-offered.
func (s *service) Fail(ctx context.Context, actor auth.Actor, assignmentID uuid.UUID, reason string) (*models.DeliveryAssignment, error) {
	var failed *models.DeliveryAssignment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := s.load(ctx, repo, assignmentID)
		if err != nil {
			return err
		}
		if !canFail(actor, current) {
			return pkgerrors.New(pkgerrors.CodeForbidden, "caller cannot fail this delivery")
		}
		failed, err = s.failTx(ctx, tx, actor, current, reason)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.metrics.DeliveryTransition(string(enums.DeliveryStatusFailed))
	s.logAssignment(ctx, failed, "delivery failed")
	return failed, nil
}

func (s *service) failTx(ctx context.Context, tx *gorm.DB, actor auth.Actor, current *models.DeliveryAssignment, reason string) (*models.DeliveryAssignment, error) {
	from := current.Status
	if !CanTransition(from, enums.DeliveryStatusFailed) {
		return nil, invalidTransition(from, enums.DeliveryStatusFailed)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unspecified"
	}
	repo := s.repo.WithTx(tx)
	ok, err := repo.Transition(ctx, current.ID, from, enums.DeliveryStatusFailed, map[string]any{
		"failed_at":      time.Now().UTC(),
		"failure_reason": reason,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fail assignment")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition, "assignment changed concurrently").
			WithDetails(map[string]any{"from": from, "to": enums.DeliveryStatusFailed})
	}
	reloaded, err := s.load(ctx, repo, current.ID)
	if err != nil {
		return nil, err
	}
	if err := s.emit(ctx, tx, actor, enums.EventDeliveryFailed, reloaded, from, reason); err != nil {
		return nil, err
	}
	return reloaded, nil
}

// FailActiveForOrder fails the live assignment of an order that can no longer be delivered.
func (s *service) FailActiveForOrder(ctx context.Context, orderID uuid.UUID, reason string) (*models.DeliveryAssignment, error) {
	var failed *models.DeliveryAssignment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		current, err := s.repo.WithTx(tx).FindActiveByOrder(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load active assignment")
		}
		if current.Status.IsTerminal() {
			return nil
		}
		failed, err = s.failTx(ctx, tx, auth.SystemActor(), current, reason)
		return err
	})
	if err != nil {
		return nil, err
	}
	if failed != nil {
		s.metrics.DeliveryTransition(string(enums.DeliveryStatusFailed))
		s.logAssignment(ctx, failed, "delivery failed for closed order")
	}
	return failed, nil
}

// ExpireOffers fails open offers nobody accepted before cutoff.
// An accept racing with expiry wins or loses on the same status compare-and-set.
func (s *service) ExpireOffers(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	rows, err := s.repo.FindExpiredOffers(ctx, cutoff, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list expired offers")
	}
	expired := 0
	var errs error
	for i := range rows {
		row := rows[i]
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			_, err := s.failTx(ctx, tx, auth.SystemActor(), &row, ReasonOfferExpired)
			return err
		})
		if err != nil {
			if pkgerrors.Is(err, pkgerrors.CodeInvalidTransition) {
				continue
			}
			errs = multierr.Append(errs, fmt.Errorf("expire offer %s: %w", row.ID, err))
			continue
		}
		expired++
		s.metrics.DeliveryTransition(string(enums.DeliveryStatusFailed))
	}
	return expired, errs
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, actor auth.Actor, eventType enums.OutboxEventType, a *models.DeliveryAssignment, from enums.DeliveryStatus, reason string) error {
	event := outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateDelivery,
		AggregateID:   a.ID,
		Actor:         actor.Ref(),
		Data: payloads.DeliveryEvent{
			AssignmentID: a.ID,
			OrderID:      a.OrderID,
			FacilityID:   a.FacilityID,
			BuyerID:      a.BuyerID,
			AgentID:      a.AgentID,
			From:         from,
			To:           a.Status,
			Reason:       reason,
			Lat:          a.LastLat,
			Lng:          a.LastLng,
		},
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit "+string(eventType))
	}
	return nil
}

func (s *service) load(ctx context.Context, repo Repository, id uuid.UUID) (*models.DeliveryAssignment, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "assignment id required")
	}
	assignment, err := repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "delivery assignment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load assignment")
	}
	return assignment, nil
}

func (s *service) logAssignment(ctx context.Context, a *models.DeliveryAssignment, msg string) {
	if s.logg == nil || a == nil {
		return
	}
	fields := map[string]any{
		"assignment_id": a.ID.String(),
		"order_id":      a.OrderID.String(),
		"status":        string(a.Status),
	}
	if a.AgentID != nil {
		fields["agent_id"] = a.AgentID.String()
	}
	s.logg.Info(s.logg.WithFields(ctx, fields), msg)
}

func assignmentCursor(a models.DeliveryAssignment) pagination.Cursor {
	return pagination.Cursor{CreatedAt: a.CreatedAt, ID: a.ID}
}

func invalidTransition(from, to enums.DeliveryStatus) error {
	return pkgerrors.New(pkgerrors.CodeInvalidTransition, fmt.Sprintf("delivery cannot move from %s to %s", from, to)).
		WithDetails(map[string]any{"from": from, "to": to})
}

func validateLocation(lat, lng *float64) error {
	if (lat == nil) != (lng == nil) {
		return pkgerrors.New(pkgerrors.CodeValidation, "lat and lng must be provided together")
	}
	if lat == nil {
		return nil
	}
	if *lat < -90 || *lat > 90 || *lng < -180 || *lng > 180 {
		return pkgerrors.New(pkgerrors.CodeValidation, "location out of range")
	}
	return nil
}

func rank(status enums.OrderStatus) int {
	switch status {
	case enums.OrderStatusConfirmed:
		return 1
	case enums.OrderStatusReady:
		return 2
	case enums.OrderStatusOutForDelivery:
		return 3
	case enums.OrderStatusDelivered:
		return 4
	}
	return 0
}

func isAssignedAgent(actor auth.Actor, a *models.DeliveryAssignment) bool {
	return actor.Role == enums.ActorRoleAgent && a.AgentID != nil && *a.AgentID == actor.UserID
}

func canView(actor auth.Actor, a *models.DeliveryAssignment) bool {
	switch {
	case actor.Privileged():
		return true
	case actor.Role == enums.ActorRoleAgent:
		return isAssignedAgent(actor, a) || (a.AgentID == nil && a.Status == enums.DeliveryStatusPending)
	case actor.Role == enums.ActorRoleBuyer:
		return actor.UserID == a.BuyerID
	case actor.Role == enums.ActorRoleFacility:
		return actor.OwnsFacility(a.FacilityID)
	}
	return false
}

func canFail(actor auth.Actor, a *models.DeliveryAssignment) bool {
	return actor.Privileged() || isAssignedAgent(actor, a) || actor.OwnsFacility(a.FacilityID)
}
