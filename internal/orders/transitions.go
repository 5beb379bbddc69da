package orders

import "github.com/angelmondragon/medrun-backend/pkg/enums"

var transitions = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusPending:        {enums.OrderStatusConfirmed, enums.OrderStatusCancelled, enums.OrderStatusFailed},
	enums.OrderStatusConfirmed:      {enums.OrderStatusReady, enums.OrderStatusCancelled},
	enums.OrderStatusReady:          {enums.OrderStatusOutForDelivery},
	enums.OrderStatusOutForDelivery: {enums.OrderStatusDelivered},
}

// CanTransition reports whether the order lifecycle allows from -> to.
func CanTransition(from, to enums.OrderStatus) bool {
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// isForwardStep reports whether target is reachable through Advance (fulfilment progress only).
func isForwardStep(target enums.OrderStatus) bool {
	switch target {
	case enums.OrderStatusReady, enums.OrderStatusOutForDelivery, enums.OrderStatusDelivered:
		return true
	}
	return false
}

func cancellable(status enums.OrderStatus) bool {
	return CanTransition(status, enums.OrderStatusCancelled)
}
