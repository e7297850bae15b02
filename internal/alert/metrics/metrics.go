package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the alert lifecycle.
type Metrics struct {
	// Alerts raised, by type and severity
	Raised *prometheus.CounterVec

	// Creation attempts deduplicated against an existing open alert
	Deduplicated prometheus.Counter

	// Lifecycle transitions, by resulting status
	Transitions *prometheus.CounterVec

	// Transition attempts lost to a concurrent closer
	TransitionConflicts prometheus.Counter
}

// New creates a Metrics instance with all alert metrics registered.
func New() *Metrics {
	return &Metrics{
		Raised: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nightwatch_alerts_raised_total",
			Help: "Total anomaly alerts raised, by type and severity",
		}, []string{"type", "severity"}),

		Deduplicated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "nightwatch_alerts_deduplicated_total",
			Help: "Total alert creations suppressed by an existing open alert",
		}),

		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nightwatch_alerts_transitions_total",
			Help: "Total alert lifecycle transitions, by resulting status",
		}, []string{"status"}),

		TransitionConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "nightwatch_alerts_transition_conflicts_total",
			Help: "Total alert transitions lost to a concurrent closer",
		}),
	}
}

// IncrementRaised records a raised alert.
func (m *Metrics) IncrementRaised(alertType, severity string) {
	if m != nil {
		m.Raised.WithLabelValues(alertType, severity).Inc()
	}
}

// IncrementDeduplicated records a creation suppressed by dedup.
func (m *Metrics) IncrementDeduplicated() {
	if m != nil {
		m.Deduplicated.Inc()
	}
}

// IncrementTransition records a lifecycle transition.
func (m *Metrics) IncrementTransition(status string) {
	if m != nil {
		m.Transitions.WithLabelValues(status).Inc()
	}
}

// IncrementConflict records a transition lost to a concurrent closer.
func (m *Metrics) IncrementConflict() {
	if m != nil {
		m.TransitionConflicts.Inc()
	}
}
