package performance

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nightwatch/internal/alert"
	"nightwatch/internal/reconcile"
	"nightwatch/internal/session"
	id "nightwatch/pkg/domain"
	dErrors "nightwatch/pkg/domain-errors"
	"nightwatch/pkg/requestcontext"
)

type fakeSessions struct {
	sessions    []*session.VipSession
	gotOpenedBy id.StaffID
}

func (f *fakeSessions) List(ctx context.Context, filter session.ListFilter) ([]*session.VipSession, error) {
	f.gotOpenedBy = filter.OpenedBy
	return f.sessions, nil
}

type fakeAlerts struct {
	alerts []*alert.AnomalyAlert
}

func (f *fakeAlerts) List(ctx context.Context, filter alert.ListFilter) ([]*alert.AnomalyAlert, error) {
	return f.alerts, nil
}

func reconciledSession(staffID id.StaffID, manual, variance int, startedAt time.Time) *session.VipSession {
	sev := reconcile.SeverityMatch
	return &session.VipSession{
		ID:          id.NewSessionID(),
		TenantID:    id.TenantID(uuid.New()),
		OpenedBy:    staffID,
		State:       session.StateVerified,
		StartedAt:   startedAt,
		ManualCount: manual,
		Variance:    &variance,
		Severity:    &sev,
	}
}

func testCtx(tenantID id.TenantID, at time.Time) context.Context {
	ctx := requestcontext.WithTenantID(context.Background(), tenantID)
	return requestcontext.WithTime(ctx, at)
}

func TestReport(t *testing.T) {
	staffID := id.StaffID(uuid.New())
	tenantID := id.TenantID(uuid.New())
	base := time.Date(2024, 6, 1, 20, 0, 0, 0, time.UTC)

	sessions := &fakeSessions{sessions: []*session.VipSession{
		reconciledSession(staffID, 10, 0, base),
		reconciledSession(staffID, 10, 1, base.Add(time.Hour)),
		reconciledSession(staffID, 20, 1, base.Add(2*time.Hour)),
	}}
	svc := NewService(sessions, &fakeAlerts{}, slog.New(slog.DiscardHandler))

	report, err := svc.Report(testCtx(tenantID, base.Add(3*time.Hour)), staffID, 24*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, staffID, sessions.gotOpenedBy)
	assert.Equal(t, 3, report.SessionCount)
	// (0% + 10% + 5%) / 3 = 5%.
	assert.InDelta(t, 5.0, report.AvgVariancePercent, 0.001)
	assert.Equal(t, 0, report.FlaggedIncidentCount)
	assert.Equal(t, BandGood, report.Classification)
	assert.Equal(t, 100.0, report.CollectionRatePercent)
	assert.Equal(t, base.Add(3*time.Hour), report.WindowEnd)
}

func TestReport_EmptyWindow(t *testing.T) {
	staffID := id.StaffID(uuid.New())
	svc := NewService(&fakeSessions{}, &fakeAlerts{}, slog.New(slog.DiscardHandler))

	report, err := svc.Report(testCtx(id.TenantID(uuid.New()), time.Now()), staffID, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, report.SessionCount)
	assert.Equal(t, 0.0, report.AvgVariancePercent)
	assert.Equal(t, TrendStable, report.VarianceTrend)
	assert.Equal(t, BandExcellent, report.Classification)
}

func TestReport_RequiresTenant(t *testing.T) {
	svc := NewService(&fakeSessions{}, &fakeAlerts{}, slog.New(slog.DiscardHandler))
	_, err := svc.Report(context.Background(), id.StaffID(uuid.New()), time.Hour)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestVariancePercent_ZeroManualCount(t *testing.T) {
	staffID := id.StaffID(uuid.New())
	sess := reconciledSession(staffID, 0, 8, time.Now())
	assert.Equal(t, 0.0, variancePercent(sess))
}

func TestVarianceTrend(t *testing.T) {
	staffID := id.StaffID(uuid.New())
	base := time.Now()

	build := func(variances ...int) []*session.VipSession {
		out := make([]*session.VipSession, len(variances))
		for i, v := range variances {
			out[i] = reconciledSession(staffID, 10, v, base.Add(time.Duration(i)*time.Hour))
		}
		return out
	}

	assert.Equal(t, TrendDeclining, varianceTrend(build(0, 0, 1, 2, 5, 6)))
	assert.Equal(t, TrendImproving, varianceTrend(build(6, 5, 2, 1, 0, 0)))
	assert.Equal(t, TrendStable, varianceTrend(build(2, 2, 2, 2, 2, 2)))
	// Inside the half-song dead band.
	assert.Equal(t, TrendStable, varianceTrend(build(2, 2, 2, 2, 2, 2, 2, 3)))
	// Too few sessions to form thirds.
	assert.Equal(t, TrendStable, varianceTrend(build(0, 9)))
	assert.Equal(t, TrendStable, varianceTrend(nil))
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name      string
		avgPct    float64
		incidents int
		want      Band
	}{
		{"spotless", 1.0, 0, BandExcellent},
		{"low variance but one incident", 1.0, 1, BandGood},
		{"good variance", 4.0, 0, BandGood},
		{"watch by variance", 8.0, 2, BandWatch},
		{"watch by incidents alone", 25.0, 2, BandWatch},
		{"watch by variance alone", 9.0, 10, BandWatch},
		{"concern", 15.0, 5, BandConcern},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, classify(tc.avgPct, tc.incidents))
		})
	}
}

// A better input never yields a worse band.
func TestClassifyMonotonic(t *testing.T) {
	rank := map[Band]int{BandExcellent: 0, BandGood: 1, BandWatch: 2, BandConcern: 3}
	variances := []float64{0, 1, 2, 3, 5, 8, 10, 15, 50}
	incidents := []int{0, 1, 2, 3, 4, 10}

	for _, inc := range incidents {
		for i := 1; i < len(variances); i++ {
			lower := classify(variances[i-1], inc)
			higher := classify(variances[i], inc)
			assert.LessOrEqual(t, rank[lower], rank[higher],
				"variance %v -> %v with %d incidents", variances[i-1], variances[i], inc)
		}
	}
	for _, pct := range variances {
		for i := 1; i < len(incidents); i++ {
			fewer := classify(pct, incidents[i-1])
			more := classify(pct, incidents[i])
			assert.LessOrEqual(t, rank[fewer], rank[more],
				"incidents %d -> %d at %v%%", incidents[i-1], incidents[i], pct)
		}
	}
}
