package enums

// PaymentMethod enumerates how a buyer settles an order.
type PaymentMethod string

const (
	PaymentMethodMobileMoney PaymentMethod = "mobile_money"
	PaymentMethodCard        PaymentMethod = "card"
	PaymentMethodCash        PaymentMethod = "cash"
)

var paymentMethods = newSet("payment method", PaymentMethodMobileMoney, PaymentMethodCard, PaymentMethodCash)

func (m PaymentMethod) String() string { return string(m) }

func (m PaymentMethod) IsValid() bool { return paymentMethods.has(m) }

// UsesGateway reports whether the method settles through the external gateway.
func (m PaymentMethod) UsesGateway() bool {
	return m == PaymentMethodMobileMoney || m == PaymentMethodCard
}

func ParsePaymentMethod(value string) (PaymentMethod, error) { return paymentMethods.parse(value) }
