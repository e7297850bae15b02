package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the audit ledger.
type Metrics struct {
	// Appended entries by action
	Appends *prometheus.CounterVec

	// Optimistic-concurrency losers on the chain tail
	AppendConflicts prometheus.Counter

	// Chain verification runs by outcome ("valid", "broken")
	Verifications *prometheus.CounterVec

	// Tenants currently halted after a failed verification
	HaltedTenants prometheus.Gauge
}

// New creates a Metrics instance with all ledger metrics registered.
func New() *Metrics {
	return &Metrics{
		Appends: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nightwatch_ledger_appends_total",
			Help: "Total ledger entries appended by action",
		}, []string{"action"}),

		AppendConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "nightwatch_ledger_append_conflicts_total",
			Help: "Total appends rejected because another writer advanced the chain tail",
		}),

		Verifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nightwatch_ledger_verifications_total",
			Help: "Total chain verification runs by outcome",
		}, []string{"outcome"}),

		HaltedTenants: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "nightwatch_ledger_halted_tenants",
			Help: "Number of tenants with ledger writes halted",
		}),
	}
}

// IncrementAppend records a successful append.
func (m *Metrics) IncrementAppend(action string) {
	if m != nil {
		m.Appends.WithLabelValues(action).Inc()
	}
}

// IncrementConflict records an append lost to a concurrent writer.
func (m *Metrics) IncrementConflict() {
	if m != nil {
		m.AppendConflicts.Inc()
	}
}

// IncrementVerification records a verification run outcome.
func (m *Metrics) IncrementVerification(outcome string) {
	if m != nil {
		m.Verifications.WithLabelValues(outcome).Inc()
	}
}

// SetHalted records the current halted-tenant count delta.
func (m *Metrics) AddHalted(delta float64) {
	if m != nil {
		m.HaltedTenants.Add(delta)
	}
}
