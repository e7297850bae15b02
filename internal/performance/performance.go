// Package performance aggregates a staff member's session history into an
// auditable scorecard. Read-only: it never writes to the ledger and never
// blocks the session or alert paths.
package performance

import (
	"time"

	"nightwatch/internal/session"
	id "nightwatch/pkg/domain"
)

// Band is the staff classification. The thresholds are documented
// constants so an operator can always reconstruct why someone was flagged.
type Band string

const (
	BandExcellent Band = "excellent"
	BandGood      Band = "good"
	BandWatch     Band = "watch"
	BandConcern   Band = "concern"
)

// Trend describes how the variance moved across the window.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDeclining Trend = "declining"
)

// Classification thresholds. avgVariancePercent is the mean per-session
// variance relative to the manual count; flaggedIncidentCount counts alerts
// naming the staff member as related actor.
const (
	excellentMaxVariancePct = 2.0
	goodMaxVariancePct      = 5.0
	watchMaxVariancePct     = 10.0

	excellentMaxIncidents = 0
	goodMaxIncidents      = 1
	watchMaxIncidents     = 3
)

// trendHysteresis is the dead band, in songs, around "no change" so a
// fraction of a song never flips the trend verdict.
const trendHysteresis = 0.5

// Report is the aggregated scorecard for one staff member and window.
type Report struct {
	StaffID     id.StaffID `json:"staff_id"`
	WindowStart time.Time  `json:"window_start"`
	WindowEnd   time.Time  `json:"window_end"`

	SessionCount          int     `json:"session_count"`
	AvgVariancePercent    float64 `json:"avg_variance_percent"`
	VarianceTrend         Trend   `json:"variance_trend"`
	CollectionRatePercent float64 `json:"collection_rate_percent"`
	FlaggedIncidentCount  int     `json:"flagged_incident_count"`

	Classification Band `json:"classification"`
}

// variancePercent is a session's variance relative to its manual count, or
// zero when no count was recorded.
func variancePercent(sess *session.VipSession) float64 {
	if sess.Variance == nil || sess.ManualCount == 0 {
		return 0
	}
	return float64(*sess.Variance) / float64(sess.ManualCount) * 100
}

// avgVariancePercent is the mean variancePercent over the sessions.
func avgVariancePercent(sessions []*session.VipSession) float64 {
	if len(sessions) == 0 {
		return 0
	}
	var sum float64
	for _, sess := range sessions {
		sum += variancePercent(sess)
	}
	return sum / float64(len(sessions))
}

// varianceTrend compares the mean variance, in songs, of the most recent
// third of sessions against the earliest third. Sessions must be ordered
// oldest first. Fewer than three sessions cannot form two thirds and read
// as stable.
func varianceTrend(sessions []*session.VipSession) Trend {
	third := len(sessions) / 3
	if third == 0 {
		return TrendStable
	}

	earliest := meanVariance(sessions[:third])
	recent := meanVariance(sessions[len(sessions)-third:])
	switch {
	case recent-earliest > trendHysteresis:
		return TrendDeclining
	case earliest-recent > trendHysteresis:
		return TrendImproving
	default:
		return TrendStable
	}
}

func meanVariance(sessions []*session.VipSession) float64 {
	var sum float64
	for _, sess := range sessions {
		if sess.Variance != nil {
			sum += float64(*sess.Variance)
		}
	}
	return sum / float64(len(sessions))
}

// classify maps the aggregates to a band. Total: every input lands
// somewhere, and a worse variance or more incidents never yields a better
// band.
func classify(avgVariancePct float64, flaggedIncidents int) Band {
	switch {
	case avgVariancePct <= excellentMaxVariancePct && flaggedIncidents <= excellentMaxIncidents:
		return BandExcellent
	case avgVariancePct <= goodMaxVariancePct && flaggedIncidents <= goodMaxIncidents:
		return BandGood
	case avgVariancePct <= watchMaxVariancePct || flaggedIncidents <= watchMaxIncidents:
		return BandWatch
	default:
		return BandConcern
	}
}
