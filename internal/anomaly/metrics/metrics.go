package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the anomaly detector.
type Metrics struct {
	// Session inspections by verdict ("clean", "alerted")
	Inspections *prometheus.CounterVec

	// Flagged actions recorded into the rolling window
	FlaggedActions prometheus.Counter

	// Rolling-window threshold breaches
	WindowBreaches prometheus.Counter

	// Completed background rescans
	Rescans prometheus.Counter
}

// New creates a Metrics instance with all detector metrics registered.
func New() *Metrics {
	return &Metrics{
		Inspections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nightwatch_anomaly_inspections_total",
			Help: "Total session inspections by verdict",
		}, []string{"verdict"}),

		FlaggedActions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "nightwatch_anomaly_flagged_actions_total",
			Help: "Total flagged actions recorded into the rolling window",
		}),

		WindowBreaches: promauto.NewCounter(prometheus.CounterOpts{
			Name: "nightwatch_anomaly_window_breaches_total",
			Help: "Total rolling-window flagged-action threshold breaches",
		}),

		Rescans: promauto.NewCounter(prometheus.CounterOpts{
			Name: "nightwatch_anomaly_rescans_total",
			Help: "Total completed background ledger rescans",
		}),
	}
}

// IncrementInspection records a session inspection verdict.
func (m *Metrics) IncrementInspection(verdict string) {
	if m != nil {
		m.Inspections.WithLabelValues(verdict).Inc()
	}
}

// IncrementFlaggedAction records a flagged action entering the window.
func (m *Metrics) IncrementFlaggedAction() {
	if m != nil {
		m.FlaggedActions.Inc()
	}
}

// IncrementWindowBreach records a threshold breach.
func (m *Metrics) IncrementWindowBreach() {
	if m != nil {
		m.WindowBreaches.Inc()
	}
}

// IncrementRescan records a completed rescan.
func (m *Metrics) IncrementRescan() {
	if m != nil {
		m.Rescans.Inc()
	}
}
