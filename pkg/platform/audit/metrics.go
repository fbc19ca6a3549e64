package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics observes audit persistence.
type Metrics struct {
	EventsAppended  *prometheus.CounterVec
	PersistFailures *prometheus.CounterVec
	PersistDuration prometheus.Histogram
}

// NewMetrics registers audit metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsAppended: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "paycore_audit_records_appended_total",
			Help: "Audit records durably appended, by event type",
		}, []string{"event_type"}),
		PersistFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "paycore_audit_persist_failures_total",
			Help: "Audit appends that failed after retries, by event type",
		}, []string{"event_type"}),
		PersistDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "paycore_audit_persist_duration_seconds",
			Help:    "Duration of audit appends including retries",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
	}
}

func (m *Metrics) IncEventsAppended(eventType EventType) {
	m.EventsAppended.WithLabelValues(string(eventType)).Inc()
}

func (m *Metrics) IncPersistFailures(eventType EventType) {
	m.PersistFailures.WithLabelValues(string(eventType)).Inc()
}

func (m *Metrics) ObservePersistDuration(seconds float64) {
	m.PersistDuration.Observe(seconds)
}
