package enums

// DeliveryStatus tracks a delivery assignment. Pending means offered and unassigned.
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusAssigned  DeliveryStatus = "assigned"
	DeliveryStatusPickedUp  DeliveryStatus = "picked_up"
	DeliveryStatusInTransit DeliveryStatus = "in_transit"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

var deliveryStatuses = newSet("delivery status",
	DeliveryStatusPending,
	DeliveryStatusAssigned,
	DeliveryStatusPickedUp,
	DeliveryStatusInTransit,
	DeliveryStatusDelivered,
	DeliveryStatusFailed,
)

func (s DeliveryStatus) String() string { return string(s) }

func (s DeliveryStatus) IsValid() bool { return deliveryStatuses.has(s) }

func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliveryStatusDelivered || s == DeliveryStatusFailed
}

func ParseDeliveryStatus(value string) (DeliveryStatus, error) {
	return deliveryStatuses.parse(value)
}
