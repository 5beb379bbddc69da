package registry

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/medrun-backend/pkg/config"
	"github.com/angelmondragon/medrun-backend/pkg/db/models"
	"github.com/angelmondragon/medrun-backend/pkg/enums"
	"github.com/angelmondragon/medrun-backend/pkg/outbox"
	"github.com/angelmondragon/medrun-backend/pkg/outbox/payloads"
)

func newTestEventRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.PubSubConfig{DomainTopic: "domain-topic"})
	require.NoError(t, err)
	return reg
}

func envelopeBody(t *testing.T, data any) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	body, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    outbox.EnvelopeVersion,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       raw,
	})
	require.NoError(t, err)
	return body
}

func TestResolveDecodesTypedPayload(t *testing.T) {
	reg := newTestEventRegistry(t)
	assignmentID, agentID := uuid.New(), uuid.New()

	resolved, err := reg.Resolve(models.OutboxEvent{
		EventType:     enums.EventDeliveryAssigned,
		AggregateType: enums.AggregateDelivery,
		AggregateID:   assignmentID,
		Payload: envelopeBody(t, payloads.DeliveryEvent{
			AssignmentID: assignmentID,
			OrderID:      uuid.New(),
			AgentID:      &agentID,
			From:         enums.DeliveryStatusPending,
			To:           enums.DeliveryStatusAssigned,
		}),
	})
	require.NoError(t, err)

	assert.Equal(t, "domain-topic", resolved.Descriptor.Topic)
	assert.NotEmpty(t, resolved.Envelope.EventID)
	payload, ok := resolved.Payload.(*payloads.DeliveryEvent)
	require.True(t, ok, "payload type %T", resolved.Payload)
	require.NotNil(t, payload.AgentID)
	assert.Equal(t, agentID, *payload.AgentID)
}

func TestEveryEventTypeIsRoutable(t *testing.T) {
	reg := newTestEventRegistry(t)
	for _, raw := range []string{
		"order_created", "order_confirmed", "order_status_changed", "order_cancelled", "order_failed",
		"payment_completed", "payment_failed", "payment_refunded", "stock_low",
		"delivery_offered", "delivery_assigned", "delivery_status_changed", "delivery_failed",
	} {
		eventType, err := enums.ParseOutboxEventType(raw)
		require.NoError(t, err)
		desc, ok := reg.entries[eventType]
		require.True(t, ok, raw)
		assert.True(t, desc.AggregateType.IsValid(), raw)
	}
}

func TestResolveRejectsBadRows(t *testing.T) {
	reg := newTestEventRegistry(t)
	orderID := uuid.New()

	cases := map[string]models.OutboxEvent{
		"unknown type": {
			EventType: "legacy_event", AggregateType: enums.AggregateOrder, AggregateID: orderID,
			Payload: envelopeBody(t, map[string]string{"reason": "none"}),
		},
		"aggregate mismatch": {
			EventType: enums.EventStockLow, AggregateType: enums.AggregateOrder, AggregateID: orderID,
			Payload: envelopeBody(t, map[string]string{"name": "x"}),
		},
		"nil aggregate": {
			EventType: enums.EventOrderCreated, AggregateType: enums.AggregateOrder,
			Payload: envelopeBody(t, map[string]string{}),
		},
		"null data": {
			EventType: enums.EventOrderCreated, AggregateType: enums.AggregateOrder, AggregateID: orderID,
			Payload: envelopeBody(t, nil),
		},
		"not an envelope": {
			EventType: enums.EventOrderCreated, AggregateType: enums.AggregateOrder, AggregateID: orderID,
			Payload: []byte(`not-json`),
		},
	}
	for name, event := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := reg.Resolve(event)
			var nonRetryable NonRetryableError
			assert.ErrorAs(t, err, &nonRetryable)
		})
	}
}

func TestNewEventRegistryRequiresTopic(t *testing.T) {
	_, err := NewEventRegistry(config.PubSubConfig{})
	assert.EqualError(t, err, "domain topic is required")
}
