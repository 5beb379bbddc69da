package notifications

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/angelmondragon/medrun-backend/pkg/db/models"
	"github.com/angelmondragon/medrun-backend/pkg/enums"
	"github.com/angelmondragon/medrun-backend/pkg/outbox"
	"github.com/angelmondragon/medrun-backend/pkg/outbox/payloads"
	"github.com/google/uuid"
)

// Dispatcher turns committed domain events into inbox rows for every affected party.
// It holds no state; the same event always yields the same recipients.
type Dispatcher struct{}

// NewDispatcher builds a Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Handles reports whether eventType produces notifications.
func (d *Dispatcher) Handles(eventType enums.OutboxEventType) bool {
	switch eventType {
	case enums.EventOrderCreated,
		enums.EventOrderConfirmed,
		enums.EventOrderStatusChanged,
		enums.EventOrderCancelled,
		enums.EventOrderFailed,
		enums.EventPaymentCompleted,
		enums.EventPaymentFailed,
		enums.EventPaymentRefunded,
		enums.EventStockLow,
		enums.EventDeliveryOffered,
		enums.EventDeliveryAssigned,
		enums.EventDeliveryStatusChanged,
		enums.EventDeliveryFailed:
		return true
	default:
		return false
	}
}

// Compose builds the notifications for one event. Every row carries the event id
// so redelivery of the same event cannot create duplicates.
func (d *Dispatcher) Compose(eventType enums.OutboxEventType, envelope outbox.PayloadEnvelope) ([]models.Notification, error) {
	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		return nil, fmt.Errorf("invalid event id: %w", err)
	}

	var drafts []draft
	switch eventType {
	case enums.EventOrderCreated:
		var p payloads.OrderCreatedEvent
		if err := json.Unmarshal(envelope.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", eventType, err)
		}
		drafts = orderCreatedDrafts(p)
	case enums.EventOrderConfirmed, enums.EventOrderStatusChanged, enums.EventOrderCancelled, enums.EventOrderFailed:
		var p payloads.OrderStatusEvent
		if err := json.Unmarshal(envelope.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", eventType, err)
		}
		drafts = orderStatusDrafts(p)
	case enums.EventPaymentCompleted, enums.EventPaymentFailed, enums.EventPaymentRefunded:
		var p payloads.PaymentEvent
		if err := json.Unmarshal(envelope.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", eventType, err)
		}
		drafts = paymentDrafts(eventType, p)
	case enums.EventStockLow:
		var p payloads.StockLowEvent
		if err := json.Unmarshal(envelope.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", eventType, err)
		}
		drafts = stockLowDrafts(p)
	case enums.EventDeliveryOffered, enums.EventDeliveryAssigned, enums.EventDeliveryStatusChanged, enums.EventDeliveryFailed:
		var p payloads.DeliveryEvent
		if err := json.Unmarshal(envelope.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", eventType, err)
		}
		drafts = deliveryDrafts(eventType, p)
	default:
		return nil, nil
	}

	rows := make([]models.Notification, 0, len(drafts))
	for _, dr := range drafts {
		if dr.recipient.ID == uuid.Nil {
			continue
		}
		id := eventID
		row := models.Notification{
			RecipientID:   dr.recipient.ID,
			RecipientRole: dr.recipient.Role,
			Type:          dr.kind,
			Title:         dr.title,
			Message:       dr.message,
			EventID:       &id,
		}
		if dr.link != "" {
			link := dr.link
			row.Link = &link
		}
		rows = append(rows, row)
	}
	return rows, nil
}

type draft struct {
	recipient Recipient
	kind      enums.NotificationType
	title     string
	message   string
	link      string
}

func buyer(id uuid.UUID) Recipient    { return Recipient{ID: id, Role: enums.ActorRoleBuyer} }
func facility(id uuid.UUID) Recipient { return Recipient{ID: id, Role: enums.ActorRoleFacility} }
func agent(id uuid.UUID) Recipient    { return Recipient{ID: id, Role: enums.ActorRoleAgent} }

func orderLink(id uuid.UUID) string    { return "/orders/" + id.String() }
func deliveryLink(id uuid.UUID) string { return "/deliveries/" + id.String() }

func shortID(id uuid.UUID) string {
	return strings.ToUpper(id.String()[:8])
}

func withReason(message, reason string) string {
	if reason == "" {
		return message
	}
	return fmt.Sprintf("%s Reason: %s", message, reason)
}

func orderCreatedDrafts(p payloads.OrderCreatedEvent) []draft {
	link := orderLink(p.OrderID)
	ref := shortID(p.OrderID)
	return []draft{
		{
			recipient: buyer(p.BuyerID),
			kind:      enums.NotificationTypeOrderUpdate,
			title:     "Order placed",
			message:   fmt.Sprintf("Order %s is awaiting payment. Total %s.", ref, p.Total.StringFixed(2)),
			link:      link,
		},
		{
			recipient: facility(p.FacilityID),
			kind:      enums.NotificationTypeOrderUpdate,
			title:     "New order",
			message:   fmt.Sprintf("Order %s with %d item(s) was placed and is awaiting payment.", ref, p.ItemCount),
			link:      link,
		},
	}
}

func orderStatusDrafts(p payloads.OrderStatusEvent) []draft {
	link := orderLink(p.OrderID)
	ref := shortID(p.OrderID)
	note := func(r Recipient, title, message string) draft {
		return draft{recipient: r, kind: enums.NotificationTypeOrderUpdate, title: title, message: message, link: link}
	}

	switch p.To {
	case enums.OrderStatusConfirmed:
		return []draft{
			note(buyer(p.BuyerID), "Order confirmed", fmt.Sprintf("Order %s is confirmed.", ref)),
			note(facility(p.FacilityID), "Order ready to prepare", fmt.Sprintf("Order %s is confirmed and can be prepared.", ref)),
		}
	case enums.OrderStatusReady:
		return []draft{note(buyer(p.BuyerID), "Order ready", fmt.Sprintf("Order %s is packed and waiting for a courier.", ref))}
	case enums.OrderStatusOutForDelivery:
		return []draft{note(buyer(p.BuyerID), "Out for delivery", fmt.Sprintf("Order %s is on its way.", ref))}
	case enums.OrderStatusDelivered:
		return []draft{
			note(buyer(p.BuyerID), "Order delivered", fmt.Sprintf("Order %s was delivered.", ref)),
			note(facility(p.FacilityID), "Order delivered", fmt.Sprintf("Order %s was delivered to the buyer.", ref)),
		}
	case enums.OrderStatusCancelled:
		msg := withReason(fmt.Sprintf("Order %s was cancelled.", ref), p.Reason)
		return []draft{
			note(buyer(p.BuyerID), "Order cancelled", msg),
			note(facility(p.FacilityID), "Order cancelled", msg),
		}
	case enums.OrderStatusFailed:
		return []draft{note(buyer(p.BuyerID), "Order failed", withReason(fmt.Sprintf("Order %s could not be completed.", ref), p.Reason))}
	default:
		return nil
	}
}

func paymentDrafts(eventType enums.OutboxEventType, p payloads.PaymentEvent) []draft {
	link := orderLink(p.OrderID)
	ref := shortID(p.OrderID)
	amount := p.Amount.StringFixed(2)
	note := func(r Recipient, title, message string) draft {
		return draft{recipient: r, kind: enums.NotificationTypePaymentUpdate, title: title, message: message, link: link}
	}

	switch eventType {
	case enums.EventPaymentCompleted:
		return []draft{
			note(buyer(p.BuyerID), "Payment received", fmt.Sprintf("Payment of %s for order %s was received.", amount, ref)),
			note(facility(p.FacilityID), "Payment received", fmt.Sprintf("Order %s was paid (%s, %s).", ref, p.Method, amount)),
		}
	case enums.EventPaymentFailed:
		return []draft{
			note(buyer(p.BuyerID), "Payment failed", withReason(fmt.Sprintf("Payment for order %s did not go through.", ref), p.Reason)),
		}
	case enums.EventPaymentRefunded:
		return []draft{
			note(buyer(p.BuyerID), "Payment refunded", withReason(fmt.Sprintf("%s was refunded for order %s.", amount, ref), p.Reason)),
			note(facility(p.FacilityID), "Payment refunded", fmt.Sprintf("Payment for order %s was refunded.", ref)),
		}
	default:
		return nil
	}
}

func stockLowDrafts(p payloads.StockLowEvent) []draft {
	return []draft{{
		recipient: facility(p.FacilityID),
		kind:      enums.NotificationTypeStockAlert,
		title:     "Low stock",
		message: fmt.Sprintf("%s is down to %d unit(s) (reorder at %d).",
			p.Name, p.AvailableQty, p.ReorderThreshold),
		link: "/inventory/items/" + p.StockItemID.String(),
	}}
}

func deliveryDrafts(eventType enums.OutboxEventType, p payloads.DeliveryEvent) []draft {
	link := deliveryLink(p.AssignmentID)
	ref := shortID(p.OrderID)
	note := func(r Recipient, title, message string) draft {
		return draft{recipient: r, kind: enums.NotificationTypeDeliveryUpdate, title: title, message: message, link: link}
	}

	switch eventType {
	case enums.EventDeliveryOffered:
		return []draft{{
			recipient: facility(p.FacilityID),
			kind:      enums.NotificationTypeDeliveryOffer,
			title:     "Delivery offered",
			message:   fmt.Sprintf("Order %s is listed for couriers.", ref),
			link:      link,
		}}
	case enums.EventDeliveryAssigned:
		out := []draft{
			note(buyer(p.BuyerID), "Courier assigned", fmt.Sprintf("A courier accepted order %s.", ref)),
			note(facility(p.FacilityID), "Courier assigned", fmt.Sprintf("A courier will pick up order %s.", ref)),
		}
		if p.AgentID != nil {
			out = append(out, note(agent(*p.AgentID), "Delivery accepted", fmt.Sprintf("You accepted order %s.", ref)))
		}
		return out
	case enums.EventDeliveryStatusChanged:
		switch p.To {
		case enums.DeliveryStatusPickedUp:
			return []draft{
				note(buyer(p.BuyerID), "Order picked up", fmt.Sprintf("The courier collected order %s.", ref)),
				note(facility(p.FacilityID), "Order picked up", fmt.Sprintf("Order %s left the pharmacy.", ref)),
			}
		case enums.DeliveryStatusInTransit:
			return []draft{note(buyer(p.BuyerID), "Courier on the way", fmt.Sprintf("Order %s is in transit.", ref))}
		case enums.DeliveryStatusDelivered:
			return []draft{note(facility(p.FacilityID), "Delivery completed", fmt.Sprintf("Order %s was handed to the buyer.", ref))}
		default:
			return nil
		}
	case enums.EventDeliveryFailed:
		msg := withReason(fmt.Sprintf("Delivery for order %s failed.", ref), p.Reason)
		out := []draft{
			note(buyer(p.BuyerID), "Delivery failed", msg),
			note(facility(p.FacilityID), "Delivery failed", msg+" Re-offer it when ready."),
		}
		if p.AgentID != nil {
			out = append(out, note(agent(*p.AgentID), "Delivery failed", msg))
		}
		return out
	default:
		return nil
	}
}
