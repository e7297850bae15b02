package performance

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"nightwatch/internal/alert"
	"nightwatch/internal/session"
	id "nightwatch/pkg/domain"
	dErrors "nightwatch/pkg/domain-errors"
	"nightwatch/pkg/requestcontext"
)

// defaultWindow is used when the caller does not bound the report.
const defaultWindow = 30 * 24 * time.Hour

// SessionSource reads the staff member's authored sessions. Satisfied by
// the session service.
type SessionSource interface {
	List(ctx context.Context, filter session.ListFilter) ([]*session.VipSession, error)
}

// AlertSource reads alerts naming the staff member. Satisfied by the alert
// service.
type AlertSource interface {
	List(ctx context.Context, filter alert.ListFilter) ([]*alert.AnomalyAlert, error)
}

// ShiftSource reports the fraction of owed bar fees actually collected
// over a window, as a percentage. Owned by the shift-management subsystem;
// a fixed source stands in when it is not wired.
type ShiftSource interface {
	CollectionRate(ctx context.Context, tenantID id.TenantID, staffID id.StaffID, from, to time.Time) (float64, error)
}

// FixedShiftSource returns the same collection rate for everyone. Used
// until shift management exposes real totals.
type FixedShiftSource struct {
	RatePercent float64
}

func (s FixedShiftSource) CollectionRate(ctx context.Context, tenantID id.TenantID, staffID id.StaffID, from, to time.Time) (float64, error) {
	return s.RatePercent, nil
}

// Service computes employee performance reports. Sources are read in
// parallel; nothing here takes locks that writers contend on.
type Service struct {
	sessions SessionSource
	alerts   AlertSource
	shifts   ShiftSource
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Option configures the service.
type Option func(*Service)

// WithShiftSource attaches a real shift-management source.
func WithShiftSource(src ShiftSource) Option {
	return func(s *Service) { s.shifts = src }
}

// NewService constructs the performance service.
func NewService(sessions SessionSource, alerts AlertSource, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		sessions: sessions,
		alerts:   alerts,
		shifts:   FixedShiftSource{RatePercent: 100},
		logger:   logger,
		tracer:   otel.Tracer("nightwatch/internal/performance"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Report aggregates the staff member's sessions, alerts, and shift totals
// over the window ending now.
func (s *Service) Report(ctx context.Context, staffID id.StaffID, window time.Duration) (*Report, error) {
	ctx, span := s.tracer.Start(ctx, "performance.Report")
	defer span.End()

	tenantID := requestcontext.TenantID(ctx)
	if tenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "tenant context required")
	}
	if staffID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "staff_id is required")
	}
	if window <= 0 {
		window = defaultWindow
	}

	end := requestcontext.Now(ctx).UTC()
	start := end.Add(-window)

	var (
		sessions       []*session.VipSession
		incidents      []*alert.AnomalyAlert
		collectionRate float64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sessions, err = s.sessions.List(gctx, session.ListFilter{
			TenantID: tenantID,
			OpenedBy: staffID,
			From:     start,
			To:       end,
		})
		return err
	})
	g.Go(func() error {
		var err error
		incidents, err = s.alerts.List(gctx, alert.ListFilter{
			TenantID:       tenantID,
			RelatedActorID: staffID,
			From:           start,
			To:             end,
		})
		return err
	})
	g.Go(func() error {
		var err error
		collectionRate, err = s.shifts.CollectionRate(gctx, tenantID, staffID, start, end)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to aggregate performance sources")
	}

	// Only sessions that went through reconciliation carry a variance.
	reconciled := sessions[:0:0]
	for _, sess := range sessions {
		if sess.Variance != nil {
			reconciled = append(reconciled, sess)
		}
	}

	avgPct := avgVariancePercent(reconciled)
	report := &Report{
		StaffID:               staffID,
		WindowStart:           start,
		WindowEnd:             end,
		SessionCount:          len(reconciled),
		AvgVariancePercent:    avgPct,
		VarianceTrend:         varianceTrend(reconciled),
		CollectionRatePercent: collectionRate,
		FlaggedIncidentCount:  len(incidents),
		Classification:        classify(avgPct, len(incidents)),
	}

	s.logger.InfoContext(ctx, "performance report generated",
		"staff_id", staffID,
		"session_count", report.SessionCount,
		"avg_variance_percent", report.AvgVariancePercent,
		"classification", report.Classification,
	)
	return report, nil
}
