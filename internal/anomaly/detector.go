package anomaly

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"nightwatch/internal/alert"
	"nightwatch/internal/anomaly/metrics"
	"nightwatch/internal/ledger"
	"nightwatch/internal/reconcile"
	"nightwatch/internal/session"
	id "nightwatch/pkg/domain"
	"nightwatch/pkg/requestcontext"
)

const (
	defaultFlaggedActionThreshold = 3
	defaultFlaggedActionWindow    = 24 * time.Hour
	defaultMaxSessionDuration     = 4 * time.Hour
)

// Alerter raises alerts. Satisfied by the alert service; creation is
// idempotent per open (entity, type).
type Alerter interface {
	Raise(ctx context.Context, draft alert.Draft) (*alert.AnomalyAlert, bool, error)
}

// Ledger is the read surface the background rescan uses.
type Ledger interface {
	List(ctx context.Context, filter ledger.ListFilter) ([]*ledger.Entry, error)
}

// Detector maps reconciliation outcomes and ledger activity to alerts.
// Alerts are derived state: every failure here is logged and swallowed,
// and the rescan re-derives anything missed.
type Detector struct {
	alerts  Alerter
	ledger  Ledger
	windows WindowStore
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	threshold     int
	window        time.Duration
	maxSessionDur time.Duration

	mu      sync.Mutex
	tenants map[id.TenantID]struct{}
}

// Option configures the detector.
type Option func(*Detector)

// WithMetrics attaches prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Detector) { d.metrics = m }
}

// WithFlaggedActionRule overrides the rolling-window rule: an actor
// accumulating threshold flagged actions within window trips an
// ACCESS_VIOLATION alert.
func WithFlaggedActionRule(threshold int, window time.Duration) Option {
	return func(d *Detector) {
		if threshold > 0 {
			d.threshold = threshold
		}
		if window > 0 {
			d.window = window
		}
	}
}

// WithMaxSessionDuration overrides the duration beyond which a closed
// session raises a TIME_ANOMALY.
func WithMaxSessionDuration(limit time.Duration) Option {
	return func(d *Detector) {
		if limit > 0 {
			d.maxSessionDur = limit
		}
	}
}

// New constructs the detector.
func New(alerts Alerter, ledgerReader Ledger, windows WindowStore, logger *slog.Logger, opts ...Option) *Detector {
	d := &Detector{
		alerts:        alerts,
		ledger:        ledgerReader,
		windows:       windows,
		logger:        logger,
		tracer:        otel.Tracer("nightwatch/internal/anomaly"),
		threshold:     defaultFlaggedActionThreshold,
		window:        defaultFlaggedActionWindow,
		maxSessionDur: defaultMaxSessionDuration,
		tenants:       make(map[id.TenantID]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// InspectSession examines a closed or terminal session. Rerunning on the
// same session is a no-op thanks to the open-alert dedup in the alert
// store.
func (d *Detector) InspectSession(ctx context.Context, sess *session.VipSession) {
	ctx, span := d.tracer.Start(ctx, "anomaly.InspectSession")
	defer span.End()
	d.markTenant(sess.TenantID)

	alerted := false
	if sess.Flagged || sess.State == session.StateDisputed {
		alerted = d.raise(ctx, countMismatchDraft(sess)) || alerted
	}
	if sess.EndedAt != nil && sess.ManualCount == 0 && sess.EndedAt.After(sess.StartedAt) {
		alerted = d.raise(ctx, alert.Draft{
			TenantID:          sess.TenantID,
			Type:              alert.TypeRevenueAnomaly,
			Severity:          alert.SeverityMedium,
			RelatedEntityType: "vip_session",
			RelatedEntityID:   sess.ID.String(),
			RelatedActorID:    &sess.OpenedBy,
			Details: map[string]any{
				"reason":           "zero manual count for a non-empty session",
				"duration_seconds": int(sess.EndedAt.Sub(sess.StartedAt).Seconds()),
			},
		}) || alerted
	}
	if sess.EndedAt != nil && sess.EndedAt.Sub(sess.StartedAt) > d.maxSessionDur {
		alerted = d.raise(ctx, alert.Draft{
			TenantID:          sess.TenantID,
			Type:              alert.TypeTimeAnomaly,
			Severity:          alert.SeverityMedium,
			RelatedEntityType: "vip_session",
			RelatedEntityID:   sess.ID.String(),
			RelatedActorID:    &sess.OpenedBy,
			Details: map[string]any{
				"reason":           "session exceeded the maximum plausible duration",
				"duration_seconds": int(sess.EndedAt.Sub(sess.StartedAt).Seconds()),
				"max_seconds":      int(d.maxSessionDur.Seconds()),
			},
		}) || alerted
	}

	if alerted {
		d.metrics.IncrementInspection("alerted")
	} else {
		d.metrics.IncrementInspection("clean")
	}
}

// ObserveEntry feeds an appended ledger entry to the rolling-window rule.
func (d *Detector) ObserveEntry(ctx context.Context, entry *ledger.Entry) {
	if !isFlaggedEntry(entry) || entry.ActorID == id.SystemStaffID {
		return
	}
	ctx, span := d.tracer.Start(ctx, "anomaly.ObserveEntry")
	defer span.End()
	d.markTenant(entry.TenantID)
	d.metrics.IncrementFlaggedAction()

	count, err := d.windows.Record(ctx, entry.TenantID, entry.ActorID, entry.At, d.window)
	if err != nil {
		d.logger.ErrorContext(ctx, "failed to record flagged action",
			"tenant_id", entry.TenantID,
			"actor_id", entry.ActorID,
			"error", err,
		)
		return
	}
	if count >= d.threshold {
		d.metrics.IncrementWindowBreach()
		d.raise(ctx, accessViolationDraft(entry.TenantID, entry.ActorID, count, d.window))
	}
}

// OnChainHalt escalates a failed chain verification as a critical alert.
// Wired as the ledger's halt listener.
func (d *Detector) OnChainHalt(ctx context.Context, halt ledger.Halt) {
	d.markTenant(halt.TenantID)
	d.raise(ctx, alert.Draft{
		TenantID:          halt.TenantID,
		Type:              alert.TypePatternAnomaly,
		Severity:          alert.SeverityCritical,
		RelatedEntityType: "ledger",
		RelatedEntityID:   halt.TenantID.String(),
		Details: map[string]any{
			"reason":        "audit chain verification failed; possible tampering",
			"broken_at_seq": halt.BrokenAtSeq,
		},
	})
}

// Run drives the periodic rescan until ctx is done. The rescan re-derives
// the stateful rule from recent ledger history, catching anything lost to
// process restarts or post-commit failures.
func (d *Detector) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.Rescan(ctx)
		}
	}
}

// Rescan replays the flagged-action rule over recent ledger history for
// every tenant seen since startup. Counting is done directly against the
// ledger so a rescan never double-feeds the window store.
func (d *Detector) Rescan(ctx context.Context) {
	ctx, span := d.tracer.Start(ctx, "anomaly.Rescan")
	defer span.End()

	for _, tenantID := range d.knownTenants() {
		d.rescanTenant(ctx, tenantID)
	}
	d.metrics.IncrementRescan()
}

func (d *Detector) rescanTenant(ctx context.Context, tenantID id.TenantID) {
	now := requestcontext.Now(ctx).UTC()
	entries, err := d.ledger.List(ctx, ledger.ListFilter{
		TenantID: tenantID,
		From:     now.Add(-d.window),
	})
	if err != nil {
		d.logger.ErrorContext(ctx, "rescan failed to read ledger",
			"tenant_id", tenantID,
			"error", err,
		)
		return
	}

	counts := make(map[id.StaffID]int)
	for _, entry := range entries {
		if isFlaggedEntry(entry) && entry.ActorID != id.SystemStaffID {
			counts[entry.ActorID]++
		}
	}
	for actorID, count := range counts {
		if count >= d.threshold {
			d.raise(ctx, accessViolationDraft(tenantID, actorID, count, d.window))
		}
	}
}

// raise reports whether a new alert was created.
func (d *Detector) raise(ctx context.Context, draft alert.Draft) bool {
	_, created, err := d.alerts.Raise(ctx, draft)
	if err != nil {
		d.logger.ErrorContext(ctx, "failed to raise alert",
			"tenant_id", draft.TenantID,
			"type", draft.Type,
			"error", err,
		)
		return false
	}
	return created
}

func (d *Detector) markTenant(tenantID id.TenantID) {
	d.mu.Lock()
	d.tenants[tenantID] = struct{}{}
	d.mu.Unlock()
}

func (d *Detector) knownTenants() []id.TenantID {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]id.TenantID, 0, len(d.tenants))
	for tenantID := range d.tenants {
		out = append(out, tenantID)
	}
	return out
}

// isFlaggedEntry reports whether the entry counts toward the rolling
// window: a privileged action category, or a downward manual count
// correction.
func isFlaggedEntry(entry *ledger.Entry) bool {
	if ledger.IsFlaggedAction(entry.Action) {
		return true
	}
	if entry.Action != ledger.ActionManualCountUpdate {
		return false
	}
	var prev, next struct {
		ManualCount int `json:"manual_count"`
	}
	if json.Unmarshal(entry.PreviousValue, &prev) != nil || json.Unmarshal(entry.NewValue, &next) != nil {
		return false
	}
	return next.ManualCount < prev.ManualCount
}

func countMismatchDraft(sess *session.VipSession) alert.Draft {
	severity := alert.SeverityMedium
	if sess.Severity != nil {
		switch *sess.Severity {
		case reconcile.SeveritySignificant:
			severity = alert.SeverityHigh
		case reconcile.SeverityCritical:
			severity = alert.SeverityCritical
		}
	}

	details := map[string]any{
		"manual_count": sess.ManualCount,
		"state":        sess.State,
	}
	if sess.ByTimeCount != nil {
		details["by_time_count"] = *sess.ByTimeCount
	}
	if sess.DJSyncCount != nil {
		details["dj_sync_count"] = *sess.DJSyncCount
	}
	if sess.Variance != nil {
		details["variance"] = *sess.Variance
	}
	if sess.DisputeReason != "" {
		details["dispute_reason"] = sess.DisputeReason
	}

	return alert.Draft{
		TenantID:          sess.TenantID,
		Type:              alert.TypeCountMismatch,
		Severity:          severity,
		RelatedEntityType: "vip_session",
		RelatedEntityID:   sess.ID.String(),
		RelatedActorID:    &sess.OpenedBy,
		Details:           details,
	}
}

func accessViolationDraft(tenantID id.TenantID, actorID id.StaffID, count int, window time.Duration) alert.Draft {
	return alert.Draft{
		TenantID:          tenantID,
		Type:              alert.TypeAccessViolation,
		Severity:          alert.SeverityHigh,
		RelatedEntityType: "staff",
		RelatedEntityID:   actorID.String(),
		RelatedActorID:    &actorID,
		Details: map[string]any{
			"flagged_action_count": count,
			"window_seconds":       int(window.Seconds()),
		},
	}
}
