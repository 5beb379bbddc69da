package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/medrun-backend/internal/deliveries"
	"github.com/angelmondragon/medrun-backend/pkg/auth"
	"github.com/angelmondragon/medrun-backend/pkg/db/models"
	"github.com/angelmondragon/medrun-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/medrun-backend/pkg/errors"
	"github.com/angelmondragon/medrun-backend/pkg/logger"
	"github.com/angelmondragon/medrun-backend/pkg/outbox"
	"github.com/angelmondragon/medrun-backend/pkg/outbox/payloads"
)

type fakeDeliveries struct {
	offered    []uuid.UUID
	offerActor auth.Actor
	offerErr   error
	failed     []uuid.UUID
	failReason string
	failErr    error
}

func (f *fakeDeliveries) Offer(_ context.Context, actor auth.Actor, orderID uuid.UUID) (*models.DeliveryAssignment, error) {
	f.offerActor = actor
	if f.offerErr != nil {
		return nil, f.offerErr
	}
	f.offered = append(f.offered, orderID)
	return &models.DeliveryAssignment{ID: uuid.New(), OrderID: orderID}, nil
}

func (f *fakeDeliveries) FailActiveForOrder(_ context.Context, orderID uuid.UUID, reason string) (*models.DeliveryAssignment, error) {
	if f.failErr != nil {
		return nil, f.failErr
	}
	f.failed = append(f.failed, orderID)
	f.failReason = reason
	return nil, nil
}

type fakePayments struct {
	voided []uuid.UUID
	reason string
	err    error
}

func (f *fakePayments) OnOrderCancelled(_ context.Context, orderID uuid.UUID, reason string) (*models.Payment, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.voided = append(f.voided, orderID)
	f.reason = reason
	return &models.Payment{ID: uuid.New(), OrderID: orderID}, nil
}

type fakeManager struct {
	processed map[uuid.UUID]bool
	deleted   []uuid.UUID
}

func (f *fakeManager) Once(ctx context.Context, _ string, eventID uuid.UUID, fn func(context.Context) error) (bool, error) {
	if f.processed == nil {
		f.processed = map[uuid.UUID]bool{}
	}
	if f.processed[eventID] {
		return false, nil
	}
	f.processed[eventID] = true
	if err := fn(ctx); err != nil {
		delete(f.processed, eventID)
		f.deleted = append(f.deleted, eventID)
		return true, err
	}
	return true, nil
}

func newConsumer(d *fakeDeliveries, p *fakePayments, m *fakeManager) *Consumer {
	return &Consumer{
		deliveries: d,
		payments:   p,
		manager:    m,
		logg:       logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	}
}

func statusEnvelope(t *testing.T, orderID uuid.UUID, to enums.OrderStatus, reason string) outbox.PayloadEnvelope {
	t.Helper()
	data, err := json.Marshal(payloads.OrderStatusEvent{
		OrderID:    orderID,
		BuyerID:    uuid.New(),
		FacilityID: uuid.New(),
		To:         to,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	return outbox.PayloadEnvelope{Version: 1, EventID: uuid.NewString(), OccurredAt: time.Now().UTC(), Data: data}
}

func TestReadyOrderIsOfferedOnce(t *testing.T) {
	d, p, m := &fakeDeliveries{}, &fakePayments{}, &fakeManager{}
	consumer := newConsumer(d, p, m)
	orderID := uuid.New()
	envelope := statusEnvelope(t, orderID, enums.OrderStatusReady, "")

	require.NoError(t, consumer.Process(context.Background(), enums.EventOrderStatusChanged, envelope))
	require.NoError(t, consumer.Process(context.Background(), enums.EventOrderStatusChanged, envelope))

	require.Equal(t, []uuid.UUID{orderID}, d.offered)
	require.True(t, d.offerActor.IsSystem())
	require.Empty(t, p.voided)
}

func TestOtherStatusChangesAreIgnored(t *testing.T) {
	d, p, m := &fakeDeliveries{}, &fakePayments{}, &fakeManager{}
	consumer := newConsumer(d, p, m)

	envelope := statusEnvelope(t, uuid.New(), enums.OrderStatusOutForDelivery, "")
	require.NoError(t, consumer.Process(context.Background(), enums.EventOrderStatusChanged, envelope))
	require.NoError(t, consumer.Process(context.Background(), enums.EventPaymentCompleted, envelope))

	require.Empty(t, d.offered)
	require.Empty(t, m.processed)
}

func TestOfferOnStaleOrderIsDropped(t *testing.T) {
	d := &fakeDeliveries{offerErr: pkgerrors.New(pkgerrors.CodeInvalidTransition, "order is not ready for delivery")}
	consumer := newConsumer(d, &fakePayments{}, &fakeManager{})

	envelope := statusEnvelope(t, uuid.New(), enums.OrderStatusReady, "")
	require.NoError(t, consumer.Process(context.Background(), enums.EventOrderStatusChanged, envelope))
}

func TestCancelledOrderVoidsPaymentAndFailsDelivery(t *testing.T) {
	d, p, m := &fakeDeliveries{}, &fakePayments{}, &fakeManager{}
	consumer := newConsumer(d, p, m)
	orderID := uuid.New()

	envelope := statusEnvelope(t, orderID, enums.OrderStatusCancelled, "buyer_request")
	require.NoError(t, consumer.Process(context.Background(), enums.EventOrderCancelled, envelope))

	require.Equal(t, []uuid.UUID{orderID}, p.voided)
	require.Equal(t, "buyer_request", p.reason)
	require.Equal(t, []uuid.UUID{orderID}, d.failed)
	require.Equal(t, deliveries.ReasonOrderCancelled, d.failReason)
}

func TestFailureClearsMarkerForRedelivery(t *testing.T) {
	d := &fakeDeliveries{failErr: errors.New("db down")}
	p := &fakePayments{}
	m := &fakeManager{}
	consumer := newConsumer(d, p, m)

	envelope := statusEnvelope(t, uuid.New(), enums.OrderStatusCancelled, "")
	err := consumer.Process(context.Background(), enums.EventOrderCancelled, envelope)
	require.Error(t, err)
	require.Len(t, m.deleted, 1)
	require.Len(t, p.voided, 1, "payment void still attempted when the delivery step fails")

	d.failErr = nil
	require.NoError(t, consumer.Process(context.Background(), enums.EventOrderCancelled, envelope))
	require.Len(t, d.failed, 1)
}
