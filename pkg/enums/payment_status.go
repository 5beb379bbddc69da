package enums

// PaymentStatus is pending until the gateway or the collecting agent settles
// it. Refunded is only reachable from completed.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

var paymentStatuses = newSet("payment status",
	PaymentStatusPending, PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusRefunded)

func (p PaymentStatus) String() string { return string(p) }

func (p PaymentStatus) IsValid() bool { return paymentStatuses.has(p) }

// Settled reports whether the payment left pending.
func (p PaymentStatus) Settled() bool { return p != PaymentStatusPending && p.IsValid() }

func ParsePaymentStatus(value string) (PaymentStatus, error) {
	return paymentStatuses.parse(value)
}
