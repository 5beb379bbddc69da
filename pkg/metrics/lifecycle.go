package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

const unknownLabel = "unknown"

// LifecycleMetrics counts committed order, payment and delivery transitions.
// A nil *LifecycleMetrics is a valid no-op.
type LifecycleMetrics struct {
	orderTransitions    *prometheus.CounterVec
	paymentOutcomes     *prometheus.CounterVec
	deliveryTransitions *prometheus.CounterVec
	acceptConflicts     prometheus.Counter
	gatewayTimeouts     prometheus.Counter
}

func NewLifecycleMetrics(reg prometheus.Registerer) *LifecycleMetrics {
	if reg == nil {
		return nil
	}
	m := &LifecycleMetrics{
		orderTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "transitions_total",
			Help:      "Committed order status transitions.",
		}, []string{"from", "to"}),
		paymentOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "outcomes_total",
			Help:      "Payments reaching a settled, failed or refunded state.",
		}, []string{"method", "status"}),
		deliveryTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deliveries",
			Name:      "transitions_total",
			Help:      "Committed delivery assignment transitions.",
		}, []string{"to"}),
		acceptConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deliveries",
			Name:      "accept_conflicts_total",
			Help:      "Accept attempts that lost the race for an assignment.",
		}),
		gatewayTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "gateway_timeouts_total",
			Help:      "Gateway calls that exceeded the configured deadline.",
		}),
	}
	reg.MustRegister(m.orderTransitions, m.paymentOutcomes, m.deliveryTransitions, m.acceptConflicts, m.gatewayTimeouts)
	return m
}

func (m *LifecycleMetrics) OrderTransition(from, to string) {
	if m == nil {
		return
	}
	m.orderTransitions.WithLabelValues(normalizeLabel(from), normalizeLabel(to)).Inc()
}

func (m *LifecycleMetrics) PaymentOutcome(method, status string) {
	if m == nil {
		return
	}
	m.paymentOutcomes.WithLabelValues(normalizeLabel(method), normalizeLabel(status)).Inc()
}

func (m *LifecycleMetrics) DeliveryTransition(to string) {
	if m == nil {
		return
	}
	m.deliveryTransitions.WithLabelValues(normalizeLabel(to)).Inc()
}

func (m *LifecycleMetrics) AcceptConflict() {
	if m == nil {
		return
	}
	m.acceptConflicts.Inc()
}

func (m *LifecycleMetrics) GatewayTimeout() {
	if m == nil {
		return
	}
	m.gatewayTimeouts.Inc()
}

// normalizeLabel keeps label values lower-case and never empty.
func normalizeLabel(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return unknownLabel
	}
	return value
}
