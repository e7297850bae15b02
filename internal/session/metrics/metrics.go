package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the session lifecycle.
type Metrics struct {
	// Sessions started
	Starts prometheus.Counter

	// Start attempts rejected because the booth was occupied
	BoothConflicts prometheus.Counter

	// Sessions reaching a terminal state, by state
	Closures *prometheus.CounterVec

	// Reconciliation outcomes at close, by severity band
	Reconciliations *prometheus.CounterVec
}

// New creates a Metrics instance with all session metrics registered.
func New() *Metrics {
	return &Metrics{
		Starts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "nightwatch_sessions_started_total",
			Help: "Total VIP sessions started",
		}),

		BoothConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "nightwatch_sessions_booth_conflicts_total",
			Help: "Total session starts rejected because the booth was occupied",
		}),

		Closures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nightwatch_sessions_terminal_total",
			Help: "Total sessions reaching a terminal state, by state",
		}, []string{"state"}),

		Reconciliations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nightwatch_sessions_reconciliations_total",
			Help: "Total close-time reconciliations by severity band",
		}, []string{"severity"}),
	}
}

// IncrementStart records a started session.
func (m *Metrics) IncrementStart() {
	if m != nil {
		m.Starts.Inc()
	}
}

// IncrementBoothConflict records a start lost to booth occupancy.
func (m *Metrics) IncrementBoothConflict() {
	if m != nil {
		m.BoothConflicts.Inc()
	}
}

// IncrementTerminal records a session reaching a terminal state.
func (m *Metrics) IncrementTerminal(state string) {
	if m != nil {
		m.Closures.WithLabelValues(state).Inc()
	}
}

// IncrementReconciliation records a close-time reconciliation outcome.
func (m *Metrics) IncrementReconciliation(severity string) {
	if m != nil {
		m.Reconciliations.WithLabelValues(severity).Inc()
	}
}
