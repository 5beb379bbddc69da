package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/angelmondragon/medrun-backend/internal/deliveries"
	"github.com/angelmondragon/medrun-backend/pkg/auth"
	"github.com/angelmondragon/medrun-backend/pkg/db/models"
	"github.com/angelmondragon/medrun-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/medrun-backend/pkg/errors"
	"github.com/angelmondragon/medrun-backend/pkg/logger"
	"github.com/angelmondragon/medrun-backend/pkg/outbox"
	"github.com/angelmondragon/medrun-backend/pkg/outbox/payloads"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

const lifecycleConsumerName = "lifecycle"

type deliveryOfferer interface {
	Offer(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*models.DeliveryAssignment, error)
	FailActiveForOrder(ctx context.Context, orderID uuid.UUID, reason string) (*models.DeliveryAssignment, error)
}

type paymentVoider interface {
	OnOrderCancelled(ctx context.Context, orderID uuid.UUID, reason string) (*models.Payment, error)
}

type idempotencyChecker interface {
	Once(ctx context.Context, consumer string, eventID uuid.UUID, fn func(context.Context) error) (bool, error)
}

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

// Consumer reacts to order transitions that require follow-up in other aggregates:
// a ready order is offered to couriers, a cancelled order voids its pending payment
// and fails its open delivery.
type Consumer struct {
	subscription receiver
	deliveries   deliveryOfferer
	payments     paymentVoider
	manager      idempotencyChecker
	logg         *logger.Logger
}

// NewConsumer builds the lifecycle consumer.
func NewConsumer(subscription *pubsub.Subscriber, deliveries deliveryOfferer, payments paymentVoider, manager idempotencyChecker, logg *logger.Logger) (*Consumer, error) {
	if subscription == nil {
		return nil, errors.New("lifecycle subscription is required")
	}
	if deliveries == nil {
		return nil, errors.New("deliveries service is required")
	}
	if payments == nil {
		return nil, errors.New("payments service is required")
	}
	if manager == nil {
		return nil, errors.New("idempotency manager is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Consumer{
		subscription: subscription,
		deliveries:   deliveries,
		payments:     payments,
		manager:      manager,
		logg:         logg,
	}, nil
}

// Run starts consuming lifecycle messages until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.subscription.Receive(ctx, func(innerCtx context.Context, msg *pubsub.Message) {
		eventType := enums.OutboxEventType(msg.Attributes["event_type"])
		envelope, err := outbox.DecodeEnvelope(msg.Data)
		if err != nil {
			c.logg.Error(c.logg.WithField(innerCtx, "message_id", msg.ID), "invalid lifecycle envelope", err)
			msg.Ack()
			return
		}
		if err := c.Process(innerCtx, eventType, envelope); err != nil {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// Process handles one decoded event. A returned error means the event should be redelivered.
func (c *Consumer) Process(ctx context.Context, eventType enums.OutboxEventType, envelope outbox.PayloadEnvelope) error {
	if eventType != enums.EventOrderStatusChanged && eventType != enums.EventOrderCancelled {
		return nil
	}
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"event_id":   envelope.EventID,
		"event_type": string(eventType),
		"consumer":   lifecycleConsumerName,
	})

	var event payloads.OrderStatusEvent
	if err := json.Unmarshal(envelope.Data, &event); err != nil {
		c.logg.Error(logCtx, "failed to decode order status payload", err)
		return nil
	}
	if eventType == enums.EventOrderStatusChanged && event.To != enums.OrderStatusReady {
		return nil
	}

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Warn(logCtx, "invalid event id")
		return nil
	}

	logCtx = c.logg.WithField(logCtx, "order_id", event.OrderID.String())
	handle := c.offer
	if eventType == enums.EventOrderCancelled {
		handle = c.closeOut
	}
	ran, err := c.manager.Once(logCtx, lifecycleConsumerName, eventID, func(ctx context.Context) error {
		return handle(ctx, event)
	})
	switch {
	case err != nil:
		c.logg.Error(logCtx, "lifecycle handling failed", err)
		return err
	case !ran:
		c.logg.Info(logCtx, "event already processed")
	}
	return nil
}

func (c *Consumer) offer(ctx context.Context, event payloads.OrderStatusEvent) error {
	assignment, err := c.deliveries.Offer(ctx, auth.SystemActor(), event.OrderID)
	if err != nil {
		// The order moved on (cancelled or already delivered) before the offer ran.
		if pkgerrors.Is(err, pkgerrors.CodeInvalidTransition) || pkgerrors.Is(err, pkgerrors.CodeNotFound) {
			c.logg.Warn(ctx, "order no longer offerable")
			return nil
		}
		return err
	}
	c.logg.Info(c.logg.WithField(ctx, "assignment_id", assignment.ID.String()), "delivery offered")
	return nil
}

func (c *Consumer) closeOut(ctx context.Context, event payloads.OrderStatusEvent) error {
	var errs error
	if payment, err := c.payments.OnOrderCancelled(ctx, event.OrderID, event.Reason); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("void payment: %w", err))
	} else if payment != nil {
		c.logg.Info(c.logg.WithField(ctx, "payment_id", payment.ID.String()), "pending payment voided")
	}
	if assignment, err := c.deliveries.FailActiveForOrder(ctx, event.OrderID, deliveries.ReasonOrderCancelled); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("fail delivery: %w", err))
	} else if assignment != nil {
		c.logg.Info(c.logg.WithField(ctx, "assignment_id", assignment.ID.String()), "open delivery failed")
	}
	return errs
}
