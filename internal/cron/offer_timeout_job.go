package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/medrun-backend/pkg/logger"
)

const defaultOfferTTL = 20 * time.Minute

// OfferTimeoutJobParams configure the delivery offer expiry job.
type OfferTimeoutJobParams struct {
	Logger     *logger.Logger
	Deliveries offerExpirer
	OfferTTL   time.Duration
	BatchSize  int
}

type offerExpirer interface {
	ExpireOffers(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// NewOfferTimeoutJob builds the job that fails delivery offers no agent accepted in time.
// Expired orders stay put; re-offering is a facility decision.
func NewOfferTimeoutJob(params OfferTimeoutJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Deliveries == nil {
		return nil, fmt.Errorf("deliveries service required")
	}
	ttl := params.OfferTTL
	if ttl <= 0 {
		ttl = defaultOfferTTL
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultJobBatchSize
	}
	return &offerTimeoutJob{
		logg:       params.Logger,
		deliveries: params.Deliveries,
		ttl:        ttl,
		batch:      batch,
		now:        time.Now,
	}, nil
}

type offerTimeoutJob struct {
	logg       *logger.Logger
	deliveries offerExpirer
	ttl        time.Duration
	batch      int
	now        func() time.Time
}

func (j *offerTimeoutJob) Name() string { return "delivery-offer-timeout" }

func (j *offerTimeoutJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.ttl)
	expired, err := j.deliveries.ExpireOffers(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("expire offers: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":  cutoff,
		"expired": expired,
	})
	j.logg.Info(logCtx, "delivery offer sweep complete")
	return nil
}
