package deliveries

import "github.com/angelmondragon/medrun-backend/pkg/enums"

// nextStep is the single forward move allowed from each live status.
var nextStep = map[enums.DeliveryStatus]enums.DeliveryStatus{
	enums.DeliveryStatusPending:   enums.DeliveryStatusAssigned,
	enums.DeliveryStatusAssigned:  enums.DeliveryStatusPickedUp,
	enums.DeliveryStatusPickedUp:  enums.DeliveryStatusInTransit,
	enums.DeliveryStatusInTransit: enums.DeliveryStatusDelivered,
}

// CanTransition reports whether an assignment may move from -> to.
// Failed is reachable from every non-terminal status.
func CanTransition(from, to enums.DeliveryStatus) bool {
	if from.IsTerminal() {
		return false
	}
	if to == enums.DeliveryStatusFailed {
		return true
	}
	return nextStep[from] == to
}

// offerableOrder lists order statuses that may carry an open delivery offer.
func offerableOrder(status enums.OrderStatus) bool {
	switch status {
	case enums.OrderStatusConfirmed, enums.OrderStatusReady, enums.OrderStatusOutForDelivery:
		return true
	}
	return false
}

func timestampColumn(status enums.DeliveryStatus) string {
	switch status {
	case enums.DeliveryStatusAssigned:
		return "assigned_at"
	case enums.DeliveryStatusPickedUp:
		return "picked_up_at"
	case enums.DeliveryStatusInTransit:
		return "in_transit_at"
	case enums.DeliveryStatusDelivered:
		return "delivered_at"
	case enums.DeliveryStatusFailed:
		return "failed_at"
	}
	return ""
}
