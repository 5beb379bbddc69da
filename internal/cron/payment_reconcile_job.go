package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/medrun-backend/internal/payments"
	"github.com/angelmondragon/medrun-backend/pkg/logger"
)

const defaultReconcileGrace = 15 * time.Second

// PaymentReconcileJobParams configure the stale gateway payment job.
type PaymentReconcileJobParams struct {
	Logger    *logger.Logger
	Payments  stalePaymentReconciler
	Grace     time.Duration
	BatchSize int
}

type stalePaymentReconciler interface {
	ReconcileStale(ctx context.Context, cutoff time.Time, limit int) (payments.ReconcileResult, error)
}

// NewPaymentReconcileJob builds the job that resolves gateway payments left pending
// longer than Grace. Anything the gateway cannot confirm is failed.
func NewPaymentReconcileJob(params PaymentReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments service required")
	}
	grace := params.Grace
	if grace <= 0 {
		grace = defaultReconcileGrace
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultJobBatchSize
	}
	return &paymentReconcileJob{
		logg:     params.Logger,
		payments: params.Payments,
		grace:    grace,
		batch:    batch,
		now:      time.Now,
	}, nil
}

type paymentReconcileJob struct {
	logg     *logger.Logger
	payments stalePaymentReconciler
	grace    time.Duration
	batch    int
	now      func() time.Time
}

func (j *paymentReconcileJob) Name() string { return "payment-reconcile" }

func (j *paymentReconcileJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.grace)
	result, err := j.payments.ReconcileStale(ctx, cutoff, j.batch)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":    cutoff,
		"checked":   result.Checked,
		"completed": result.Completed,
		"failed":    result.Failed,
	})
	if err != nil {
		return fmt.Errorf("reconcile payments: %w", err)
	}
	j.logg.Info(logCtx, "payment reconciliation complete")
	return nil
}
