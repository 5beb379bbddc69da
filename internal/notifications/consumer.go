package notifications

import (
	"context"
	"errors"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/medrun-backend/pkg/db/models"
	"github.com/angelmondragon/medrun-backend/pkg/enums"
	"github.com/angelmondragon/medrun-backend/pkg/logger"
	"github.com/angelmondragon/medrun-backend/pkg/outbox"
)

const notificationsConsumer = "notifications"

type writer interface {
	CreateMany(ctx context.Context, rows []models.Notification) (int64, error)
}

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

type deduper interface {
	Once(ctx context.Context, consumer string, eventID uuid.UUID, fn func(context.Context) error) (bool, error)
}

// Consumer writes inbox rows for committed domain events. It only sees
// events after their transaction committed; a failed write is retried by
// redelivery.
type Consumer struct {
	repo         writer
	dispatcher   *Dispatcher
	subscription receiver
	dedupe       deduper
	logg         *logger.Logger
}

func NewConsumer(repo writer, dispatcher *Dispatcher, subscription *pubsub.Subscriber, dedupe deduper, logg *logger.Logger) (*Consumer, error) {
	switch {
	case repo == nil:
		return nil, errors.New("notifications repository required")
	case dispatcher == nil:
		return nil, errors.New("dispatcher required")
	case subscription == nil:
		return nil, errors.New("notification subscription required")
	case dedupe == nil:
		return nil, errors.New("idempotency manager required")
	case logg == nil:
		return nil, errors.New("logger required")
	}
	return &Consumer{
		repo:         repo,
		dispatcher:   dispatcher,
		subscription: subscription,
		dedupe:       dedupe,
		logg:         logg,
	}, nil
}

// Run receives until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.handle(ctx, msg).redeliver {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type outcome struct {
	redeliver bool
	created   int64
}

// handle never asks for redelivery of a message that cannot succeed later:
// unknown event types and undecodable bodies are acked and logged.
func (c *Consumer) handle(ctx context.Context, msg *pubsub.Message) outcome {
	eventType := enums.OutboxEventType(msg.Attributes["event_type"])
	if !c.dispatcher.Handles(eventType) {
		return outcome{}
	}
	ctx = c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": string(eventType),
		"consumer":   notificationsConsumer,
	})

	envelope, err := outbox.DecodeEnvelope(msg.Data)
	if err != nil {
		c.logg.Error(ctx, "notification event dropped", err)
		return outcome{}
	}
	ctx = c.logg.WithField(ctx, "event_id", envelope.EventID)

	rows, err := c.dispatcher.Compose(eventType, envelope)
	if err != nil {
		c.logg.Error(ctx, "notification event dropped", err)
		return outcome{}
	}

	var created int64
	ran, err := c.dedupe.Once(ctx, notificationsConsumer, uuid.MustParse(envelope.EventID), func(ctx context.Context) (err error) {
		created, err = c.repo.CreateMany(ctx, rows)
		return err
	})
	switch {
	case err != nil:
		c.logg.Error(ctx, "notifications not stored, will retry", err)
		return outcome{redeliver: true}
	case !ran:
		c.logg.Info(ctx, "event already processed")
		return outcome{}
	}
	c.logg.Info(c.logg.WithField(ctx, "notifications_created", created), "notifications stored")
	return outcome{created: created}
}
