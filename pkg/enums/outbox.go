package enums

// OutboxAggregateType is outbox_events.aggregate_type; it doubles as the
// aggregate_type routing attribute on published messages.
type OutboxAggregateType string

const (
	AggregateOrder     OutboxAggregateType = "order"
	AggregatePayment   OutboxAggregateType = "payment"
	AggregateDelivery  OutboxAggregateType = "delivery_assignment"
	AggregateStockItem OutboxAggregateType = "stock_item"
)

var aggregateTypes = newSet("aggregate type", AggregateOrder, AggregatePayment, AggregateDelivery, AggregateStockItem)

func (a OutboxAggregateType) IsValid() bool { return aggregateTypes.has(a) }

func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	return aggregateTypes.parse(value)
}

// OutboxEventType is outbox_events.event_type.
type OutboxEventType string

// Order lifecycle.
const (
	EventOrderCreated       OutboxEventType = "order_created"
	EventOrderConfirmed     OutboxEventType = "order_confirmed"
	EventOrderStatusChanged OutboxEventType = "order_status_changed"
	EventOrderCancelled     OutboxEventType = "order_cancelled"
	EventOrderFailed        OutboxEventType = "order_failed"
)

// Payments and stock.
const (
	EventPaymentCompleted OutboxEventType = "payment_completed"
	EventPaymentFailed    OutboxEventType = "payment_failed"
	EventPaymentRefunded  OutboxEventType = "payment_refunded"
	EventStockLow         OutboxEventType = "stock_low"
)

// Delivery assignment.
const (
	EventDeliveryOffered       OutboxEventType = "delivery_offered"
	EventDeliveryAssigned      OutboxEventType = "delivery_assigned"
	EventDeliveryStatusChanged OutboxEventType = "delivery_status_changed"
	EventDeliveryFailed        OutboxEventType = "delivery_failed"
)

var eventTypes = newSet("event type",
	EventOrderCreated, EventOrderConfirmed, EventOrderStatusChanged, EventOrderCancelled, EventOrderFailed,
	EventPaymentCompleted, EventPaymentFailed, EventPaymentRefunded, EventStockLow,
	EventDeliveryOffered, EventDeliveryAssigned, EventDeliveryStatusChanged, EventDeliveryFailed,
)

func (e OutboxEventType) IsValid() bool { return eventTypes.has(e) }

func ParseOutboxEventType(value string) (OutboxEventType, error) { return eventTypes.parse(value) }
