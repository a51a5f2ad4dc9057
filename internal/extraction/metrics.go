package extraction

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts pipeline runs. A nil *Metrics records nothing.
type Metrics struct {
	runs        *prometheus.CounterVec
	escalations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

// NewMetrics registers the pipeline collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taxdesk",
			Subsystem: "extraction",
			Name:      "runs_total",
			Help:      "Extraction pipeline runs by category, final method and outcome.",
		}, []string{"category", "method", "outcome"}),
		escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taxdesk",
			Subsystem: "extraction",
			Name:      "escalations_total",
			Help:      "Fallback tiers entered after an earlier tier was rejected or skipped.",
		}, []string{"category", "method"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "taxdesk",
			Subsystem: "extraction",
			Name:      "duration_seconds",
			Help:      "Wall time of successful pipeline runs.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		}, []string{"method"}),
	}
	if reg != nil {
		reg.MustRegister(m.runs, m.escalations, m.duration)
	}
	return m
}

func (m *Metrics) observeRun(category, method, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(category, method, outcome).Inc()
	if outcome == "ok" {
		m.duration.WithLabelValues(method).Observe(seconds)
	}
}

func (m *Metrics) observeEscalation(category, method string) {
	if m == nil {
		return
	}
	m.escalations.WithLabelValues(category, method).Inc()
}
