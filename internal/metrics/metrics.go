// Package metrics exposes Prometheus instruments for commission executions.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/icm/internal/commission"
)

const namespace = "icm"

// Metrics groups the execution instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	executions    *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	participants  prometheus.Histogram
	commission    *prometheus.CounterVec
	recordsSeen   prometheus.Counter
	publishErrors prometheus.Counter
}

// New creates the instruments and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Commission executions by mode and final status.",
		}, []string{"mode", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Wall time of commission executions.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2, 5, 10, 30},
		}, []string{"mode"}),
		participants: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_participants",
			Help:      "Participants per completed execution.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		commission: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commission_total",
			Help:      "Sum of computed commission by currency and mode.",
		}, []string{"currency", "mode"}),
		recordsSeen: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_records_total",
			Help:      "Transaction records fetched from sources.",
		}),
		publishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_errors_total",
			Help:      "Execution events that could not be published.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.executions, m.duration, m.participants, m.commission, m.recordsSeen, m.publishErrors,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}
	return m, nil
}

// ObserveExecution records the outcome of one execution.
func (m *Metrics) ObserveExecution(res commission.Result, elapsed time.Duration) {
	if m == nil {
		return
	}
	mode := string(res.Mode)
	m.executions.WithLabelValues(mode, string(res.Status)).Inc()
	m.duration.WithLabelValues(mode).Observe(elapsed.Seconds())
	if res.Status != commission.StatusCompleted {
		return
	}
	m.participants.Observe(float64(len(res.ParticipantResults)))
	if total := res.TotalCommission.InexactFloat64(); total > 0 {
		m.commission.WithLabelValues(res.Currency, mode).Add(total)
	}
}

// ObserveRecords counts fetched records.
func (m *Metrics) ObserveRecords(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.recordsSeen.Add(float64(n))
}

// PublishFailed counts an event that could not be published.
func (m *Metrics) PublishFailed() {
	if m == nil {
		return
	}
	m.publishErrors.Inc()
}
