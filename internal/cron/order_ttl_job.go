package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/medrun-backend/pkg/auth"
	"github.com/angelmondragon/medrun-backend/pkg/db/models"
	"github.com/angelmondragon/medrun-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/medrun-backend/pkg/errors"
	"github.com/angelmondragon/medrun-backend/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

const (
	defaultPendingTTL    = 30 * time.Minute
	defaultJobBatchSize  = 200
	reasonPendingExpired = "pending_ttl_expired"
)

// OrderTTLJobParams configure the pending order expiry job.
type OrderTTLJobParams struct {
	Logger     *logger.Logger
	Orders     pendingOrders
	Payments   activePaymentLookup
	PendingTTL time.Duration
	BatchSize  int
}

type pendingOrders interface {
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	Cancel(ctx context.Context, actor auth.Actor, orderID uuid.UUID, reason string) (*models.Order, error)
}

type activePaymentLookup interface {
	GetForOrder(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*models.Payment, error)
}

// NewOrderTTLJob builds the job that cancels orders left unpaid past the TTL,
// which releases their reserved stock.
func NewOrderTTLJob(params OrderTTLJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments service required")
	}
	ttl := params.PendingTTL
	if ttl <= 0 {
		ttl = defaultPendingTTL
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultJobBatchSize
	}
	return &orderTTLJob{
		logg:     params.Logger,
		orders:   params.Orders,
		payments: params.Payments,
		ttl:      ttl,
		batch:    batch,
		now:      time.Now,
	}, nil
}

type orderTTLJob struct {
	logg     *logger.Logger
	orders   pendingOrders
	payments activePaymentLookup
	ttl      time.Duration
	batch    int
	now      func() time.Time
}

func (j *orderTTLJob) Name() string { return "pending-order-ttl" }

func (j *orderTTLJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.ttl)
	pending, err := j.orders.ListPendingBefore(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("list pending orders: %w", err)
	}

	system := auth.SystemActor()
	var (
		errs      error
		cancelled int
		skipped   int
	)
	for _, order := range pending {
		orderCtx := j.logg.WithField(ctx, "order_id", order.ID.String())

		// A gateway charge still in flight belongs to payment-reconcile.
		payment, err := j.payments.GetForOrder(ctx, system, order.ID)
		switch {
		case err == nil && payment.Status == enums.PaymentStatusPending && payment.Method.UsesGateway():
			skipped++
			continue
		case err != nil && !pkgerrors.Is(err, pkgerrors.CodeNotFound):
			errs = multierr.Append(errs, fmt.Errorf("order %s: payment lookup: %w", order.ID, err))
			continue
		}

		if _, err := j.orders.Cancel(ctx, system, order.ID, reasonPendingExpired); err != nil {
			if pkgerrors.Is(err, pkgerrors.CodeInvalidTransition) {
				j.logg.Info(orderCtx, "order left pending before expiry")
				skipped++
				continue
			}
			errs = multierr.Append(errs, fmt.Errorf("order %s: cancel: %w", order.ID, err))
			continue
		}
		cancelled++
		j.logg.Info(orderCtx, "expired pending order cancelled")
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":    cutoff,
		"scanned":   len(pending),
		"cancelled": cancelled,
		"skipped":   skipped,
	})
	j.logg.Info(logCtx, "pending order sweep complete")
	return errs
}
