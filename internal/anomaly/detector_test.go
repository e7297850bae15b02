package anomaly

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nightwatch/internal/alert"
	"nightwatch/internal/ledger"
	"nightwatch/internal/reconcile"
	"nightwatch/internal/session"
	id "nightwatch/pkg/domain"
	"nightwatch/pkg/platform/tx"
	"nightwatch/pkg/requestcontext"
)

type fixture struct {
	detector  *Detector
	alertSvc  *alert.Service
	ledgerSvc *ledger.Service
	tenantID  id.TenantID
	staffID   id.StaffID
	baseTime  time.Time
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	f := &fixture{
		tenantID: id.TenantID(uuid.New()),
		staffID:  id.StaffID(uuid.New()),
		baseTime: time.Date(2024, 6, 2, 1, 0, 0, 0, time.UTC),
	}
	f.ledgerSvc = ledger.NewService(ledger.NewInMemoryStore(), logger)
	f.alertSvc = alert.NewService(alert.NewInMemoryStore(), f.ledgerSvc, tx.NewMemoryRunner(), logger)
	f.detector = New(f.alertSvc, f.ledgerSvc, NewMemoryWindowStore(), logger, opts...)
	return f
}

func (f *fixture) ctx(offset time.Duration) context.Context {
	ctx := requestcontext.WithTenantID(context.Background(), f.tenantID)
	ctx = requestcontext.WithActor(ctx, f.staffID, id.RoleManager)
	return requestcontext.WithTime(ctx, f.baseTime.Add(offset))
}

func (f *fixture) closedSession(severity reconcile.Severity, variance int) *session.VipSession {
	ended := f.baseTime.Add(30 * time.Minute)
	byTime := 8
	return &session.VipSession{
		ID:          id.NewSessionID(),
		TenantID:    f.tenantID,
		BoothID:     id.BoothID(uuid.New()),
		DancerID:    id.DancerID(uuid.New()),
		OpenedBy:    f.staffID,
		State:       session.StatePendingConfirmation,
		StartedAt:   f.baseTime,
		EndedAt:     &ended,
		ManualCount: byTime + variance,
		ByTimeCount: &byTime,
		Variance:    &variance,
		Severity:    &severity,
		Flagged:     severity == reconcile.SeveritySignificant || severity == reconcile.SeverityCritical,
	}
}

func (f *fixture) openAlerts(t *testing.T) []*alert.AnomalyAlert {
	t.Helper()
	alerts, err := f.alertSvc.List(f.ctx(0), alert.ListFilter{Status: alert.StatusPending})
	require.NoError(t, err)
	return alerts
}

func TestInspectSession_FlaggedRaisesCountMismatch(t *testing.T) {
	f := newFixture(t)
	sess := f.closedSession(reconcile.SeveritySignificant, 6)

	f.detector.InspectSession(f.ctx(0), sess)

	alerts := f.openAlerts(t)
	require.Len(t, alerts, 1)
	assert.Equal(t, alert.TypeCountMismatch, alerts[0].Type)
	assert.Equal(t, alert.SeverityHigh, alerts[0].Severity)
	assert.Equal(t, sess.ID.String(), alerts[0].RelatedEntityID)
	require.NotNil(t, alerts[0].RelatedActorID)
	assert.Equal(t, f.staffID, *alerts[0].RelatedActorID)
}

func TestInspectSession_CriticalSeverityMapsUp(t *testing.T) {
	f := newFixture(t)
	f.detector.InspectSession(f.ctx(0), f.closedSession(reconcile.SeverityCritical, 12))

	alerts := f.openAlerts(t)
	require.Len(t, alerts, 1)
	assert.Equal(t, alert.SeverityCritical, alerts[0].Severity)
}

func TestInspectSession_CleanSessionRaisesNothing(t *testing.T) {
	f := newFixture(t)
	f.detector.InspectSession(f.ctx(0), f.closedSession(reconcile.SeverityMatch, 1))
	assert.Empty(t, f.openAlerts(t))
}

func TestInspectSession_Idempotent(t *testing.T) {
	f := newFixture(t)
	sess := f.closedSession(reconcile.SeverityCritical, 12)

	for i := 0; i < 3; i++ {
		f.detector.InspectSession(f.ctx(time.Duration(i)*time.Minute), sess)
	}
	assert.Len(t, f.openAlerts(t), 1)
}

func TestInspectSession_DisputedRaisesMediumMismatch(t *testing.T) {
	f := newFixture(t)
	sess := f.closedSession(reconcile.SeverityMatch, 1)
	sess.State = session.StateDisputed
	sess.DisputeReason = "customer counted five songs"

	f.detector.InspectSession(f.ctx(0), sess)

	alerts := f.openAlerts(t)
	require.Len(t, alerts, 1)
	assert.Equal(t, alert.TypeCountMismatch, alerts[0].Type)
	assert.Equal(t, alert.SeverityMedium, alerts[0].Severity)
}

func TestInspectSession_ZeroManualCountRaisesRevenueAnomaly(t *testing.T) {
	f := newFixture(t)
	sess := f.closedSession(reconcile.SeverityCritical, 8)
	sess.ManualCount = 0

	f.detector.InspectSession(f.ctx(0), sess)

	types := map[alert.Type]bool{}
	for _, a := range f.openAlerts(t) {
		types[a.Type] = true
	}
	assert.True(t, types[alert.TypeRevenueAnomaly])
}

func TestInspectSession_OverlongSessionRaisesTimeAnomaly(t *testing.T) {
	f := newFixture(t, WithMaxSessionDuration(time.Hour))
	sess := f.closedSession(reconcile.SeverityMatch, 0)
	ended := f.baseTime.Add(90 * time.Minute)
	sess.EndedAt = &ended

	f.detector.InspectSession(f.ctx(0), sess)

	alerts := f.openAlerts(t)
	require.Len(t, alerts, 1)
	assert.Equal(t, alert.TypeTimeAnomaly, alerts[0].Type)
}

func (f *fixture) flaggedEntry(action ledger.Action, offset time.Duration) *ledger.Entry {
	return &ledger.Entry{
		TenantID:   f.tenantID,
		At:         f.baseTime.Add(offset),
		ActorID:    f.staffID,
		ActorRole:  id.RoleManager,
		Action:     action,
		EntityType: "vip_session",
		EntityID:   uuid.NewString(),
	}
}

func TestObserveEntry_ThresholdBreachRaisesAccessViolation(t *testing.T) {
	f := newFixture(t, WithFlaggedActionRule(3, 24*time.Hour))

	f.detector.ObserveEntry(f.ctx(0), f.flaggedEntry(ledger.ActionOverride, 0))
	f.detector.ObserveEntry(f.ctx(time.Hour), f.flaggedEntry(ledger.ActionVoid, time.Hour))
	assert.Empty(t, f.openAlerts(t))

	f.detector.ObserveEntry(f.ctx(2*time.Hour), f.flaggedEntry(ledger.ActionDelete, 2*time.Hour))

	alerts := f.openAlerts(t)
	require.Len(t, alerts, 1)
	assert.Equal(t, alert.TypeAccessViolation, alerts[0].Type)
	assert.Equal(t, alert.SeverityHigh, alerts[0].Severity)
	assert.Equal(t, f.staffID.String(), alerts[0].RelatedEntityID)
}

func TestObserveEntry_WindowExpiryResetsCount(t *testing.T) {
	f := newFixture(t, WithFlaggedActionRule(3, time.Hour))

	f.detector.ObserveEntry(f.ctx(0), f.flaggedEntry(ledger.ActionOverride, 0))
	f.detector.ObserveEntry(f.ctx(10*time.Minute), f.flaggedEntry(ledger.ActionOverride, 10*time.Minute))
	// Third action lands after the first two have aged out.
	f.detector.ObserveEntry(f.ctx(2*time.Hour), f.flaggedEntry(ledger.ActionOverride, 2*time.Hour))

	assert.Empty(t, f.openAlerts(t))
}

func TestObserveEntry_IgnoresRoutineActions(t *testing.T) {
	f := newFixture(t, WithFlaggedActionRule(1, time.Hour))

	f.detector.ObserveEntry(f.ctx(0), f.flaggedEntry(ledger.ActionSessionStart, 0))
	f.detector.ObserveEntry(f.ctx(0), f.flaggedEntry(ledger.ActionSessionClose, 0))
	assert.Empty(t, f.openAlerts(t))
}

func TestObserveEntry_ManualCountDecreaseIsFlagged(t *testing.T) {
	f := newFixture(t, WithFlaggedActionRule(1, time.Hour))

	increase := f.flaggedEntry(ledger.ActionManualCountUpdate, 0)
	increase.PreviousValue = []byte(`{"state":"ACTIVE","manual_count":3}`)
	increase.NewValue = []byte(`{"state":"ACTIVE","manual_count":5}`)
	f.detector.ObserveEntry(f.ctx(0), increase)
	assert.Empty(t, f.openAlerts(t))

	decrease := f.flaggedEntry(ledger.ActionManualCountUpdate, time.Minute)
	decrease.PreviousValue = []byte(`{"state":"ACTIVE","manual_count":5}`)
	decrease.NewValue = []byte(`{"state":"ACTIVE","manual_count":2}`)
	f.detector.ObserveEntry(f.ctx(time.Minute), decrease)

	alerts := f.openAlerts(t)
	require.Len(t, alerts, 1)
	assert.Equal(t, alert.TypeAccessViolation, alerts[0].Type)
}

func TestOnChainHalt_RaisesCriticalAlert(t *testing.T) {
	f := newFixture(t)

	f.detector.OnChainHalt(f.ctx(0), ledger.Halt{
		TenantID:    f.tenantID,
		BrokenAtSeq: 42,
		HaltedAt:    f.baseTime,
	})

	alerts := f.openAlerts(t)
	require.Len(t, alerts, 1)
	assert.Equal(t, alert.TypePatternAnomaly, alerts[0].Type)
	assert.Equal(t, alert.SeverityCritical, alerts[0].Severity)
	assert.Equal(t, "ledger", alerts[0].RelatedEntityType)
}

// The rescan rebuilds the rule from the ledger itself, so alerts missed by
// the live path (restart, post-commit failure) are still raised, and
// rerunning never duplicates them.
func TestRescan_RederivesFromLedgerHistory(t *testing.T) {
	f := newFixture(t, WithFlaggedActionRule(3, 24*time.Hour))

	for i := 0; i < 3; i++ {
		_, err := f.ledgerSvc.Append(f.ctx(time.Duration(i)*time.Minute), ledger.Draft{
			TenantID:   f.tenantID,
			ActorID:    f.staffID,
			ActorRole:  id.RoleManager,
			Action:     ledger.ActionVoid,
			EntityType: "vip_session",
			EntityID:   uuid.NewString(),
		})
		require.NoError(t, err)
	}
	// The live path never saw these entries; only tenant registration did.
	f.detector.markTenant(f.tenantID)

	f.detector.Rescan(f.ctx(10 * time.Minute))
	alerts := f.openAlerts(t)
	require.Len(t, alerts, 1)
	assert.Equal(t, alert.TypeAccessViolation, alerts[0].Type)

	f.detector.Rescan(f.ctx(20 * time.Minute))
	assert.Len(t, f.openAlerts(t), 1)
}
