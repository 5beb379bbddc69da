package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/medrun-backend/internal/orders"
	"github.com/angelmondragon/medrun-backend/pkg/auth"
	"github.com/angelmondragon/medrun-backend/pkg/db"
	"github.com/angelmondragon/medrun-backend/pkg/db/models"
	"github.com/angelmondragon/medrun-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/medrun-backend/pkg/errors"
	"github.com/angelmondragon/medrun-backend/pkg/logger"
	"github.com/angelmondragon/medrun-backend/pkg/metrics"
	"github.com/angelmondragon/medrun-backend/pkg/outbox"
	"github.com/angelmondragon/medrun-backend/pkg/outbox/payloads"
)

const (
	defaultGatewayTimeout = 15 * time.Second

	reasonCashOnDelivery = "cash_on_delivery"
	reasonGatewayTimeout = "gateway_timeout"
	reasonUnresolved     = "gateway_unresolved"
	reasonOrderCancelled = "order_cancelled"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// orderLifecycle is the part of the order state machine payments drive.
type orderLifecycle interface {
	Get(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*models.Order, error)
	GetTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error)
	OnPaymentSettled(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason string) (*models.Order, error)
	OnPaymentFailed(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason string) (*models.Order, error)
}

// ProcessInput starts settlement of a pending order.
// A nil Amount means the caller accepts the order total.
type ProcessInput struct {
	Actor          auth.Actor
	OrderID        uuid.UUID
	Method         enums.PaymentMethod
	Amount         *decimal.Decimal
	PayerPhone     string
	SourceID       string
	IdempotencyKey string
}

// ReconcileResult summarizes one reconciliation sweep.
type ReconcileResult struct {
	Checked   int
	Completed int
	Failed    int
}

// Service is the payment orchestrator.
type Service interface {
	Process(ctx context.Context, input ProcessInput) (*models.Payment, error)
	Get(ctx context.Context, actor auth.Actor, paymentID uuid.UUID) (*models.Payment, error)
	GetForOrder(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*models.Payment, error)
	Refund(ctx context.Context, actor auth.Actor, paymentID uuid.UUID, reason string) (*models.Payment, error)
	CompleteCashPayment(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Payment, error)
	OnOrderCancelled(ctx context.Context, orderID uuid.UUID, reason string) (*models.Payment, error)
	ReconcileStale(ctx context.Context, cutoff time.Time, limit int) (ReconcileResult, error)
}

// Config holds the optional collaborators of the payment service.
type Config struct {
	GatewayTimeout time.Duration
	Metrics        *metrics.LifecycleMetrics
	Logger         *logger.Logger
}

type service struct {
	repo    Repository
	tx      txRunner
	orders  orderLifecycle
	gateway Gateway
	outbox  outbox.Emitter
	timeout time.Duration
	metrics *metrics.LifecycleMetrics
	logg    *logger.Logger
}

func NewService(repo Repository, tx txRunner, orderFlow orderLifecycle, gateway Gateway, emitter outbox.Emitter, cfg Config) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if orderFlow == nil {
		return nil, fmt.Errorf("orders service required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	timeout := cfg.GatewayTimeout
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}
	svc := &service{
		repo:    repo,
		tx:      tx,
		orders:  orderFlow,
		gateway: gateway,
		outbox:  emitter,
		timeout: timeout,
		metrics: cfg.Metrics,
		logg:    cfg.Logger,
	}
	// An order reaching delivered by any path collects its cash payment through svc.
	if binder, ok := orderFlow.(interface{ UseCashSettler(orders.CashSettler) }); ok {
		binder.UseCashSettler(svc)
	}
	return svc, nil
}

func (s *service) Process(ctx context.Context, input ProcessInput) (*models.Payment, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if !input.Method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported payment method")
	}
	phone := strings.TrimSpace(input.PayerPhone)
	if input.Method == enums.PaymentMethodMobileMoney && phone == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "phone number required for mobile money")
	}

	var payment *models.Payment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.orders.GetTx(ctx, tx, input.OrderID)
		if err != nil {
			return err
		}
		if !input.Actor.Privileged() && !(input.Actor.Role == enums.ActorRoleBuyer && input.Actor.UserID == order.BuyerID) {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the buyer can pay for the order")
		}

		repo := s.repo.WithTx(tx)
		existing, err := repo.FindActiveByOrder(ctx, order.ID)
		switch {
		case err == nil:
			return duplicatePayment(existing)
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load active payment")
		}

		if input.Amount != nil && !input.Amount.Equal(order.Total) {
			return pkgerrors.New(pkgerrors.CodeAmountMismatch, "payment amount does not match order total").
				WithDetails(map[string]any{"expected": order.Total.StringFixed(2), "received": input.Amount.String()})
		}
		if order.Status != enums.OrderStatusPending {
			return pkgerrors.New(pkgerrors.CodeInvalidTransition, "payment can only be initiated for pending orders").
				WithDetails(map[string]any{"order_status": order.Status})
		}

		key := strings.TrimSpace(input.IdempotencyKey)
		if key == "" {
			key = "pay_" + uuid.NewString()
		}
		provider := string(enums.PaymentMethodCash)
		if input.Method.UsesGateway() {
			provider = s.gateway.Name()
		}
		row := &models.Payment{
			OrderID:        order.ID,
			Method:         input.Method,
			Status:         enums.PaymentStatusPending,
			Amount:         order.Total,
			Currency:       order.Currency,
			IdempotencyKey: key,
			Provider:       provider,
		}
		if phone != "" {
			row.PayerPhone = &phone
		}
		if err := repo.Create(ctx, row); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.New(pkgerrors.CodeDuplicatePayment, "order already has an active payment")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment")
		}

		if input.Method == enums.PaymentMethodCash {
			if _, err := s.orders.OnPaymentSettled(ctx, tx, order.ID, reasonCashOnDelivery); err != nil {
				return err
			}
		}
		payment = row
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logPayment(ctx, payment, "payment initiated")
	if !payment.Method.UsesGateway() {
		return payment, nil
	}
	return s.charge(ctx, input, payment)
}

// charge calls the gateway under the configured deadline and records the outcome.
// Any unresolved call fails the payment and releases the order's stock.
func (s *service) charge(ctx context.Context, input ProcessInput, payment *models.Payment) (*models.Payment, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	result, err := s.gateway.Charge(callCtx, ChargeRequest{
		PaymentID:      payment.ID,
		OrderID:        payment.OrderID,
		Method:         payment.Method,
		Amount:         payment.Amount,
		Currency:       payment.Currency,
		SourceID:       input.SourceID,
		PayerPhone:     stringValue(payment.PayerPhone),
		IdempotencyKey: payment.IdempotencyKey,
	})
	cancel()

	// The outcome must be recorded even when the caller has gone away.
	persistCtx := context.WithoutCancel(ctx)
	if err != nil {
		code, timedOut := classifyGatewayError(err)
		reason := "gateway_error"
		switch {
		case timedOut:
			reason = reasonGatewayTimeout
			s.metrics.GatewayTimeout()
		case code == pkgerrors.CodePaymentDeclined:
			reason = "declined"
		}
		failed, ferr := s.fail(persistCtx, payment.ID, "", reason)
		if ferr != nil {
			return nil, ferr
		}
		return nil, pkgerrors.Wrap(code, err, "payment not completed").
			WithDetails(map[string]any{"payment_id": failed.ID, "reason": reason})
	}

	switch result.Status {
	case GatewayApproved:
		return s.settle(persistCtx, payment.ID, result.ProviderRef)
	case GatewayDeclined:
		reason := result.Reason
		if reason == "" {
			reason = "declined"
		}
		failed, ferr := s.fail(persistCtx, payment.ID, result.ProviderRef, reason)
		if ferr != nil {
			return nil, ferr
		}
		return nil, pkgerrors.New(pkgerrors.CodePaymentDeclined, "payment declined").
			WithDetails(map[string]any{"payment_id": failed.ID, "reason": reason})
	default:
		if result.ProviderRef != "" {
			if err := s.repo.SetProviderRef(persistCtx, payment.ID, result.ProviderRef); err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store provider reference")
			}
			payment.ProviderRef = &result.ProviderRef
		}
		s.logPayment(ctx, payment, "payment awaiting gateway confirmation")
		return payment, nil
	}
}

// settle completes a pending payment and confirms its order. When the order closed
// or the payment was voided while the gateway call was in flight, the charge is reversed.
func (s *service) settle(ctx context.Context, paymentID uuid.UUID, providerRef string) (*models.Payment, error) {
	var (
		settled  *models.Payment
		orphaned bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		now := time.Now().UTC()
		updates := map[string]any{"completed_at": now}
		if providerRef != "" {
			updates["provider_ref"] = providerRef
		}
		ok, err := repo.Transition(ctx, paymentID, enums.PaymentStatusPending, enums.PaymentStatusCompleted, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete payment")
		}
		current, err := s.load(ctx, repo, paymentID)
		if err != nil {
			return err
		}
		settled = current
		if !ok {
			orphaned = current.Status != enums.PaymentStatusCompleted
			return nil
		}

		order, err := s.orders.OnPaymentSettled(ctx, tx, current.OrderID, "payment_completed")
		if err != nil {
			if !pkgerrors.Is(err, pkgerrors.CodeInvalidTransition) {
				return err
			}
			// Order closed while the gateway call was in flight.
			orphaned = true
			order, err = s.orders.GetTx(ctx, tx, current.OrderID)
			if err != nil {
				return err
			}
		}
		return s.emit(ctx, tx, enums.EventPaymentCompleted, current, order, "")
	})
	if err != nil {
		return nil, err
	}

	if orphaned {
		return s.reverseOrphan(ctx, settled, providerRef)
	}
	s.metrics.PaymentOutcome(string(settled.Method), string(enums.PaymentStatusCompleted))
	s.logPayment(ctx, settled, "payment completed")
	return settled, nil
}

func (s *service) reverseOrphan(ctx context.Context, payment *models.Payment, providerRef string) (*models.Payment, error) {
	if payment.Status == enums.PaymentStatusCompleted {
		refunded, err := s.refund(ctx, auth.SystemActor(), payment, "order closed before settlement")
		if err != nil {
			return nil, err
		}
		payment = refunded
	} else if providerRef != "" {
		_, err := s.gateway.Refund(ctx, RefundRequest{
			ProviderRef:    providerRef,
			Amount:         payment.Amount,
			Currency:       payment.Currency,
			Reason:         "payment voided before settlement",
			IdempotencyKey: "refund_" + payment.ID.String(),
		})
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reverse voided charge")
		}
	}
	if s.logg != nil {
		s.logg.Warn(s.logg.WithField(ctx, "payment_id", payment.ID.String()), "charge reversed after order closed")
	}
	return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition, "order closed before payment settled").
		WithDetails(map[string]any{"payment_id": payment.ID, "payment_status": payment.Status})
}

// fail marks a pending payment failed and fails its order, releasing stock.
// A cancelled order keeps its status; the payment is still recorded as failed.
func (s *service) fail(ctx context.Context, paymentID uuid.UUID, providerRef, reason string) (*models.Payment, error) {
	var failed *models.Payment
	changed := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		updates := map[string]any{
			"failed_at":      time.Now().UTC(),
			"failure_reason": reason,
		}
		if providerRef != "" {
			updates["provider_ref"] = providerRef
		}
		ok, err := repo.Transition(ctx, paymentID, enums.PaymentStatusPending, enums.PaymentStatusFailed, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fail payment")
		}
		current, err := s.load(ctx, repo, paymentID)
		if err != nil {
			return err
		}
		failed = current
		if !ok {
			return nil
		}
		changed = true

		order, err := s.orders.OnPaymentFailed(ctx, tx, current.OrderID, reason)
		if err != nil {
			if !pkgerrors.Is(err, pkgerrors.CodeInvalidTransition) {
				return err
			}
			order, err = s.orders.GetTx(ctx, tx, current.OrderID)
			if err != nil {
				return err
			}
		}
		return s.emit(ctx, tx, enums.EventPaymentFailed, current, order, reason)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.metrics.PaymentOutcome(string(failed.Method), string(enums.PaymentStatusFailed))
		s.logPayment(ctx, failed, "payment failed")
	}
	return failed, nil
}

func (s *service) Get(ctx context.Context, actor auth.Actor, paymentID uuid.UUID) (*models.Payment, error) {
	payment, err := s.load(ctx, s.repo, paymentID)
	if err != nil {
		return nil, err
	}
	if _, err := s.orders.Get(ctx, actor, payment.OrderID); err != nil {
		return nil, err
	}
	return payment, nil
}

func (s *service) GetForOrder(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*models.Payment, error) {
	if _, err := s.orders.Get(ctx, actor, orderID); err != nil {
		return nil, err
	}
	payment, err := s.repo.FindActiveByOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no active payment for order")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	return payment, nil
}

// Refund reverses a completed payment. Stock is never touched.
func (s *service) Refund(ctx context.Context, actor auth.Actor, paymentID uuid.UUID, reason string) (*models.Payment, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund reason required")
	}
	payment, err := s.load(ctx, s.repo, paymentID)
	if err != nil {
		return nil, err
	}
	order, err := s.orders.Get(ctx, actor, payment.OrderID)
	if err != nil {
		return nil, err
	}
	if !actor.Privileged() && !actor.OwnsFacility(order.FacilityID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the facility or an admin can refund")
	}
	return s.refund(ctx, actor, payment, reason)
}

func (s *service) refund(ctx context.Context, actor auth.Actor, payment *models.Payment, reason string) (*models.Payment, error) {
	if payment.Status != enums.PaymentStatusCompleted {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition, "only completed payments can be refunded").
			WithDetails(map[string]any{"from": payment.Status, "to": enums.PaymentStatusRefunded})
	}

	updates := map[string]any{
		"refunded_at":   time.Now().UTC(),
		"refund_reason": reason,
	}
	if payment.Method.UsesGateway() && payment.ProviderRef != nil {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		result, err := s.gateway.Refund(callCtx, RefundRequest{
			ProviderRef:    *payment.ProviderRef,
			Amount:         payment.Amount,
			Currency:       payment.Currency,
			Reason:         reason,
			IdempotencyKey: "refund_" + payment.ID.String(),
		})
		cancel()
		if err != nil {
			code, timedOut := classifyGatewayError(err)
			if timedOut {
				s.metrics.GatewayTimeout()
			}
			if code == pkgerrors.CodeValidation {
				code = pkgerrors.CodeDependency
			}
			return nil, pkgerrors.Wrap(code, err, "gateway refund failed").
				WithDetails(map[string]any{"payment_id": payment.ID})
		}
		if result.RefundRef != "" {
			updates["refund_ref"] = result.RefundRef
		}
	}

	var refunded *models.Payment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ok, err := repo.Transition(ctx, payment.ID, enums.PaymentStatusCompleted, enums.PaymentStatusRefunded, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "refund payment")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeInvalidTransition, "payment changed concurrently")
		}
		current, err := s.load(ctx, repo, payment.ID)
		if err != nil {
			return err
		}
		order, err := s.orders.GetTx(ctx, tx, current.OrderID)
		if err != nil {
			return err
		}
		refunded = current
		return s.emitAs(ctx, tx, actor, enums.EventPaymentRefunded, current, order, reason)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.PaymentOutcome(string(refunded.Method), string(enums.PaymentStatusRefunded))
	s.logPayment(ctx, refunded, "payment refunded")
	return refunded, nil
}

// CompleteCashPayment settles the pending cash payment of a delivered order inside tx.
// Non-cash or already settled payments are returned unchanged.
func (s *service) CompleteCashPayment(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Payment, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	repo := s.repo.WithTx(tx)
	payment, err := repo.FindActiveByOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	if payment.Method != enums.PaymentMethodCash || payment.Status != enums.PaymentStatusPending {
		return payment, nil
	}

	ok, err := repo.Transition(ctx, payment.ID, enums.PaymentStatusPending, enums.PaymentStatusCompleted, map[string]any{
		"completed_at": time.Now().UTC(),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete cash payment")
	}
	current, err := s.load(ctx, repo, payment.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return current, nil
	}
	order, err := s.orders.GetTx(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if err := s.emit(ctx, tx, enums.EventPaymentCompleted, current, order, "cash_collected"); err != nil {
		return nil, err
	}
	s.metrics.PaymentOutcome(string(current.Method), string(enums.PaymentStatusCompleted))
	s.logPayment(ctx, current, "cash payment collected")
	return current, nil
}

// OnOrderCancelled voids the pending payment of a cancelled order.
// Completed payments are left for an explicit refund.
func (s *service) OnOrderCancelled(ctx context.Context, orderID uuid.UUID, reason string) (*models.Payment, error) {
	var voided *models.Payment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		payment, err := repo.FindActiveByOrder(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
		}
		if payment.Status.Settled() {
			if payment.Status == enums.PaymentStatusCompleted && s.logg != nil {
				s.logg.Warn(s.logg.WithField(ctx, "payment_id", payment.ID.String()), "completed payment on cancelled order awaits refund")
			}
			return nil
		}
		if strings.TrimSpace(reason) == "" {
			reason = reasonOrderCancelled
		}
		ok, err := repo.Transition(ctx, payment.ID, enums.PaymentStatusPending, enums.PaymentStatusFailed, map[string]any{
			"failed_at":      time.Now().UTC(),
			"failure_reason": reason,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "void payment")
		}
		if !ok {
			return nil
		}
		current, err := s.load(ctx, repo, payment.ID)
		if err != nil {
			return err
		}
		order, err := s.orders.GetTx(ctx, tx, orderID)
		if err != nil {
			return err
		}
		voided = current
		return s.emit(ctx, tx, enums.EventPaymentFailed, current, order, reason)
	})
	if err != nil {
		return nil, err
	}
	if voided != nil {
		s.metrics.PaymentOutcome(string(voided.Method), string(enums.PaymentStatusFailed))
		s.logPayment(ctx, voided, "payment voided")
	}
	return voided, nil
}

// ReconcileStale resolves gateway payments that stayed pending past cutoff.
// Anything the gateway cannot confirm as approved is failed.
func (s *service) ReconcileStale(ctx context.Context, cutoff time.Time, limit int) (ReconcileResult, error) {
	var result ReconcileResult
	rows, err := s.repo.FindStalePending(ctx, cutoff, limit)
	if err != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stale payments")
	}

	var errs error
	for _, row := range rows {
		result.Checked++
		status, ref := s.verify(ctx, row)
		switch status {
		case GatewayApproved:
			if _, err := s.settle(ctx, row.ID, ref); err != nil {
				if !pkgerrors.Is(err, pkgerrors.CodeInvalidTransition) {
					errs = multierr.Append(errs, fmt.Errorf("settle payment %s: %w", row.ID, err))
				}
				continue
			}
			result.Completed++
		default:
			reason := reasonUnresolved
			if status == GatewayDeclined {
				reason = "declined"
			}
			if _, err := s.fail(ctx, row.ID, ref, reason); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("fail payment %s: %w", row.ID, err))
				continue
			}
			result.Failed++
		}
	}
	return result, errs
}

func (s *service) verify(ctx context.Context, payment models.Payment) (GatewayStatus, string) {
	ref := stringValue(payment.ProviderRef)
	if ref == "" {
		return GatewayPending, ""
	}
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	result, err := s.gateway.Verify(callCtx, ref)
	if err != nil {
		if s.logg != nil {
			s.logg.Warn(s.logg.WithField(ctx, "payment_id", payment.ID.String()), "gateway verify failed: "+err.Error())
		}
		return GatewayPending, ref
	}
	return result.Status, ref
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, payment *models.Payment, order *models.Order, reason string) error {
	return s.emitAs(ctx, tx, auth.SystemActor(), eventType, payment, order, reason)
}

func (s *service) emitAs(ctx context.Context, tx *gorm.DB, actor auth.Actor, eventType enums.OutboxEventType, payment *models.Payment, order *models.Order, reason string) error {
	event := outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Actor:         actor.Ref(),
		Data: payloads.PaymentEvent{
			PaymentID:  payment.ID,
			OrderID:    payment.OrderID,
			BuyerID:    order.BuyerID,
			FacilityID: order.FacilityID,
			Method:     payment.Method,
			Status:     payment.Status,
			Amount:     payment.Amount,
			Reason:     reason,
		},
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit "+string(eventType))
	}
	return nil
}

func (s *service) load(ctx context.Context, repo Repository, paymentID uuid.UUID) (*models.Payment, error) {
	if paymentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id required")
	}
	payment, err := repo.FindByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	return payment, nil
}

func (s *service) logPayment(ctx context.Context, payment *models.Payment, msg string) {
	if s.logg == nil || payment == nil {
		return
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"payment_id": payment.ID.String(),
		"order_id":   payment.OrderID.String(),
		"method":     string(payment.Method),
		"status":     string(payment.Status),
	})
	s.logg.Info(ctx, msg)
}

func duplicatePayment(existing *models.Payment) error {
	return pkgerrors.New(pkgerrors.CodeDuplicatePayment, "order already has an active payment").
		WithDetails(map[string]any{"payment_id": existing.ID, "status": existing.Status})
}

func stringValue(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
