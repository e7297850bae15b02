package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func intPtr(n int) *int { return &n }

func TestReconcile_MatchWithinTolerance(t *testing.T) {
	// manual=8, elapsed=1800s, avg=210s -> byTime=8, variance=0
	res := Reconcile(Input{Manual: 8, Elapsed: 1800 * time.Second}, 210*time.Second, DefaultTolerances())

	assert.Equal(t, 8, res.ByTime)
	assert.Equal(t, 0, res.Variance)
	assert.Equal(t, SeverityMatch, res.Severity)
	assert.False(t, res.Flagged)
}

func TestReconcile_TakesWorseOfTwoVariances(t *testing.T) {
	// manual=18, djSync=15, elapsed=7200s, avg=600s -> byTime=12
	// variance = max(|18-12|, |18-15|) = 6 -> SIGNIFICANT
	res := Reconcile(Input{Manual: 18, DJSync: intPtr(15), Elapsed: 7200 * time.Second}, 600*time.Second, DefaultTolerances())

	assert.Equal(t, 12, res.ByTime)
	assert.Equal(t, 6, res.Variance)
	assert.Equal(t, SeveritySignificant, res.Severity)
	assert.True(t, res.Flagged)
}

func TestReconcile_DJSyncWorseThanByTime(t *testing.T) {
	// byTime agrees, djSync disagrees badly; the DJ variance must win.
	res := Reconcile(Input{Manual: 10, DJSync: intPtr(1), Elapsed: 2100 * time.Second}, 210*time.Second, DefaultTolerances())

	assert.Equal(t, 10, res.ByTime)
	assert.Equal(t, 9, res.Variance)
	assert.Equal(t, SeverityCritical, res.Severity)
	assert.True(t, res.Flagged)
}

func TestReconcile_ShortSessionNotSpecialCased(t *testing.T) {
	// elapsed < one song -> byTime=0; variance computed normally.
	res := Reconcile(Input{Manual: 4, Elapsed: 90 * time.Second}, 210*time.Second, DefaultTolerances())

	assert.Equal(t, 0, res.ByTime)
	assert.Equal(t, 4, res.Variance)
	assert.Equal(t, SeverityMinor, res.Severity)
}

func TestClassify_Bands(t *testing.T) {
	tol := DefaultTolerances()
	cases := []struct {
		variance int
		want     Severity
	}{
		{0, SeverityMatch},
		{2, SeverityMatch},
		{3, SeverityMinor},
		{5, SeverityMinor},
		{6, SeveritySignificant},
		{8, SeveritySignificant},
		{9, SeverityCritical},
		{100, SeverityCritical},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.variance, tol), "variance=%d", tc.variance)
	}
}

// Larger variance must never yield a lower-severity band.
func TestClassify_Monotonic(t *testing.T) {
	tol := DefaultTolerances()
	rank := map[Severity]int{
		SeverityMatch:       0,
		SeverityMinor:       1,
		SeveritySignificant: 2,
		SeverityCritical:    3,
	}
	prev := 0
	for v := 0; v <= 50; v++ {
		r := rank[Classify(v, tol)]
		if r < prev {
			t.Fatalf("severity rank decreased at variance %d", v)
		}
		prev = r
	}
}

func TestByTimeCount_ZeroAvgDuration(t *testing.T) {
	assert.Equal(t, 0, ByTimeCount(time.Hour, 0))
}
