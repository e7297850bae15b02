// Package reconcile compares independently-sourced song counts for a VIP
// session and classifies the discrepancy.
//
// The time-based estimate is the trust anchor: it is derived from the wall
// clock, which no operator can inflate. The DJ sync count, when the DJ
// subsystem was online, is a second independent signal; the reported
// variance is the worse of the two so a discrepancy against either signal
// is never masked by agreement with the other.
package reconcile

import "time"

// Severity classifies a session's count variance.
type Severity string

const (
	SeverityMatch       Severity = "MATCH"
	SeverityMinor       Severity = "MINOR"
	SeveritySignificant Severity = "SIGNIFICANT"
	SeverityCritical    Severity = "CRITICAL"
)

// Tolerances are the severity band boundaries in absolute song counts.
// These are tenant-configurable defaults reconstructed from operator
// guidance, not fixed law.
type Tolerances struct {
	MatchMax       int // variance <= MatchMax        -> MATCH
	MinorMax       int // variance <= MinorMax        -> MINOR
	SignificantMax int // variance <= SignificantMax  -> SIGNIFICANT, else CRITICAL
}

// DefaultTolerances returns the stock bands: 2 / 5 / 8 songs.
func DefaultTolerances() Tolerances {
	return Tolerances{MatchMax: 2, MinorMax: 5, SignificantMax: 8}
}

// Input carries the three count signals for one closed session.
type Input struct {
	Manual  int
	DJSync  *int // nil when the DJ subsystem was offline
	Elapsed time.Duration
}

// Result is the reconciliation outcome stored on the session.
type Result struct {
	ByTime   int      `json:"by_time"`
	Variance int      `json:"variance"`
	Severity Severity `json:"severity"`
	Flagged  bool     `json:"flagged"`
}

// ByTimeCount derives the time-based estimate: floor(elapsed / avg song
// duration). Sessions shorter than one song yield zero; the variance is
// still computed normally so very short sessions cannot hide inflation.
func ByTimeCount(elapsed, avgSongDuration time.Duration) int {
	if avgSongDuration <= 0 {
		return 0
	}
	return int(elapsed / avgSongDuration)
}

// Reconcile computes the reported variance and its severity band.
// variance = |manual - byTime|, or the larger of that and |manual - djSync|
// when a DJ count is present.
func Reconcile(in Input, avgSongDuration time.Duration, tol Tolerances) Result {
	byTime := ByTimeCount(in.Elapsed, avgSongDuration)

	variance := abs(in.Manual - byTime)
	if in.DJSync != nil {
		if dj := abs(in.Manual - *in.DJSync); dj > variance {
			variance = dj
		}
	}

	sev := Classify(variance, tol)
	return Result{
		ByTime:   byTime,
		Variance: variance,
		Severity: sev,
		Flagged:  sev == SeveritySignificant || sev == SeverityCritical,
	}
}

// Classify maps a variance to its severity band. Total and monotonic: a
// larger variance never yields a lower band.
func Classify(variance int, tol Tolerances) Severity {
	switch {
	case variance <= tol.MatchMax:
		return SeverityMatch
	case variance <= tol.MinorMax:
		return SeverityMinor
	case variance <= tol.SignificantMax:
		return SeveritySignificant
	default:
		return SeverityCritical
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
