package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all prometheus metrics
type Metrics struct {
	BookingsCreated        *prometheus.CounterVec
	BookingConflicts       *prometheus.CounterVec
	WebhookEvents          *prometheus.CounterVec
	LoyaltyPointsCredited  *prometheus.CounterVec
	LoyaltyCreditFailures  prometheus.Counter
	BookingsExpired        prometheus.Counter
	Inconsistencies        *prometheus.CounterVec
	PaymentGatewayDuration prometheus.Histogram
}

// NewMetrics creates new prometheus metrics registered on reg
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		BookingsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_created_total",
			Help:      "The total number of pending bookings created",
		}, []string{"vertical"}),
		BookingConflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_conflicts_total",
			Help:      "The total number of booking attempts rejected for an overlapping window",
		}, []string{"vertical"}),
		WebhookEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "The total number of webhook deliveries by event and outcome",
		}, []string{"event", "outcome"}),
		LoyaltyPointsCredited: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loyalty_points_credited_total",
			Help:      "The total number of loyalty points credited",
		}, []string{"vertical"}),
		LoyaltyCreditFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loyalty_credit_failures_total",
			Help:      "The total number of loyalty credits that failed after settlement",
		}),
		BookingsExpired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_expired_total",
			Help:      "The total number of pending bookings expired by the reaper",
		}),
		Inconsistencies: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inconsistencies_total",
			Help:      "The total number of states flagged for manual reconciliation",
		}, []string{"kind"}),
		PaymentGatewayDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "payment_gateway_duration_seconds",
			Help:      "Time taken to create payment intents",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// The helpers below accept a nil receiver so metrics stay optional.

func (m *Metrics) BookingCreated(vertical string) {
	if m == nil {
		return
	}
	m.BookingsCreated.WithLabelValues(vertical).Inc()
}

func (m *Metrics) BookingConflict(vertical string) {
	if m == nil {
		return
	}
	m.BookingConflicts.WithLabelValues(vertical).Inc()
}

func (m *Metrics) WebhookEvent(event, outcome string) {
	if m == nil {
		return
	}
	if event == "" {
		event = "unknown"
	}
	m.WebhookEvents.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) PointsCredited(vertical string, points int64) {
	if m == nil || points <= 0 {
		return
	}
	m.LoyaltyPointsCredited.WithLabelValues(vertical).Add(float64(points))
}

func (m *Metrics) LoyaltyCreditFailed() {
	if m == nil {
		return
	}
	m.LoyaltyCreditFailures.Inc()
}

func (m *Metrics) Expired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BookingsExpired.Add(float64(n))
}

func (m *Metrics) Inconsistency(kind string) {
	if m == nil {
		return
	}
	m.Inconsistencies.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveGateway(start time.Time) {
	if m == nil {
		return
	}
	m.PaymentGatewayDuration.Observe(time.Since(start).Seconds())
}
