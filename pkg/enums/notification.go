package enums

// NotificationType is stored on notifications.type and drives inbox filtering.
type NotificationType string

const (
	NotificationTypeOrderUpdate    NotificationType = "order_update"
	NotificationTypePaymentUpdate  NotificationType = "payment_update"
	NotificationTypeDeliveryUpdate NotificationType = "delivery_update"
	NotificationTypeDeliveryOffer  NotificationType = "delivery_offer"
	NotificationTypeStockAlert     NotificationType = "stock_alert"
)

var notificationTypes = newSet("notification type",
	NotificationTypeOrderUpdate,
	NotificationTypePaymentUpdate,
	NotificationTypeDeliveryUpdate,
	NotificationTypeDeliveryOffer,
	NotificationTypeStockAlert,
)

func (n NotificationType) IsValid() bool { return notificationTypes.has(n) }

func ParseNotificationType(value string) (NotificationType, error) {
	return notificationTypes.parse(value)
}
