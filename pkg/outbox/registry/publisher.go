// Package registry maps outbox event types to their aggregate, topic and
// payload schema, and validates rows before they are published.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/medrun-backend/pkg/config"
	"github.com/angelmondragon/medrun-backend/pkg/db/models"
	"github.com/angelmondragon/medrun-backend/pkg/enums"
	"github.com/angelmondragon/medrun-backend/pkg/outbox"
	"github.com/angelmondragon/medrun-backend/pkg/outbox/payloads"
)

type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() any
}

// ResolvedEvent is an outbox row with its envelope and typed payload decoded.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// NonRetryableError marks a row that can never be published as stored.
type NonRetryableError struct {
	Err error
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

func reject(format string, args ...any) error {
	return NewNonRetryableError(fmt.Errorf(format, args...))
}

type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// family declares that every listed event type carries payload T and
// belongs to aggregate.
type family struct {
	aggregate enums.OutboxAggregateType
	factory   func() any
	types     []enums.OutboxEventType
}

func payloadOf[T any](aggregate enums.OutboxAggregateType, types ...enums.OutboxEventType) family {
	return family{aggregate: aggregate, factory: func() any { return new(T) }, types: types}
}

var families = []family{
	payloadOf[payloads.OrderCreatedEvent](enums.AggregateOrder, enums.EventOrderCreated),
	payloadOf[payloads.OrderStatusEvent](enums.AggregateOrder,
		enums.EventOrderConfirmed, enums.EventOrderStatusChanged, enums.EventOrderCancelled, enums.EventOrderFailed),
	payloadOf[payloads.PaymentEvent](enums.AggregatePayment,
		enums.EventPaymentCompleted, enums.EventPaymentFailed, enums.EventPaymentRefunded),
	payloadOf[payloads.StockLowEvent](enums.AggregateStockItem, enums.EventStockLow),
	payloadOf[payloads.DeliveryEvent](enums.AggregateDelivery,
		enums.EventDeliveryOffered, enums.EventDeliveryAssigned, enums.EventDeliveryStatusChanged, enums.EventDeliveryFailed),
}

// NewEventRegistry routes every event to the domain topic. Subscribers
// filter on the event_type attribute.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.DomainTopic == "" {
		return nil, errors.New("domain topic is required")
	}
	r := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor)}
	for _, f := range families {
		for _, eventType := range f.types {
			if _, dup := r.entries[eventType]; dup {
				return nil, fmt.Errorf("event type %s declared twice", eventType)
			}
			r.entries[eventType] = EventDescriptor{
				EventType:      eventType,
				AggregateType:  f.aggregate,
				Topic:          cfg.DomainTopic,
				PayloadFactory: f.factory,
			}
		}
	}
	return r, nil
}

// Resolve checks the row against its descriptor and decodes the payload.
// Every failure is a NonRetryableError.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	switch {
	case !ok:
		return nil, reject("unsupported event type %s", event.EventType)
	case desc.AggregateType != event.AggregateType:
		return nil, reject("aggregate mismatch: %s belongs to %s, row has %s", event.EventType, desc.AggregateType, event.AggregateType)
	case event.AggregateID == uuid.Nil:
		return nil, reject("missing aggregate_id")
	}

	envelope, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, NewNonRetryableError(err)
	}
	if !envelope.HasData() {
		return nil, reject("payload missing for %s", event.EventType)
	}
	payload := desc.PayloadFactory()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, reject("decode %s payload: %w", event.EventType, err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
