package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var durationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// Metrics provides observability for salary mutations.
// Tracks update outcomes, lock contention and batch progress.
type Metrics struct {
	Updates          *prometheus.CounterVec
	UpdateDuration   prometheus.Histogram
	LockWaitDuration prometheus.Histogram
	BatchItems       *prometheus.CounterVec
	BatchDuration    prometheus.Histogram
}

// New registers the salary metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Updates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "paycore_salary_updates_total",
			Help: "Salary update transactions by outcome",
		}, []string{"outcome"}),
		UpdateDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "paycore_salary_update_duration_seconds",
			Help:    "Duration of a salary update transaction including audit writes",
			Buckets: durationBuckets,
		}),
		LockWaitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "paycore_salary_lock_wait_duration_seconds",
			Help:    "Time spent acquiring the employee row lock",
			Buckets: durationBuckets,
		}),
		BatchItems: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "paycore_salary_batch_items_total",
			Help: "Employees processed by batch raises, by outcome",
		}, []string{"outcome"}),
		BatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "paycore_salary_batch_duration_seconds",
			Help:    "Duration of a whole batch raise",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}),
	}
}

// IncUpdate records one finished update with its outcome label.
func (m *Metrics) IncUpdate(outcome string) {
	m.Updates.WithLabelValues(outcome).Inc()
}

// ObserveUpdate records the duration of an update.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveUpdate(start time.Time) {
	m.UpdateDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) ObserveLockWait(start time.Time) {
	m.LockWaitDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) AddBatchItems(outcome string, n int) {
	m.BatchItems.WithLabelValues(outcome).Add(float64(n))
}

func (m *Metrics) ObserveBatch(start time.Time) {
	m.BatchDuration.Observe(time.Since(start).Seconds())
}
