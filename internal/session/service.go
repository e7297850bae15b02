package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"nightwatch/internal/ledger"
	"nightwatch/internal/reconcile"
	"nightwatch/internal/session/metrics"
	id "nightwatch/pkg/domain"
	dErrors "nightwatch/pkg/domain-errors"
	"nightwatch/pkg/platform/sentinel"
	"nightwatch/pkg/platform/tx"
	"nightwatch/pkg/requestcontext"
)

// defaultAvgSongDuration is the stock average song length used for the
// time-based count estimate when the tenant has not configured one.
const defaultAvgSongDuration = 210 * time.Second

// Detector receives post-commit notifications. Alerts are derived state:
// detector failures are logged inside the detector and never roll back the
// session, and a periodic rescan can re-derive anything missed.
type Detector interface {
	// InspectSession examines a closed or terminal session for anomalies.
	InspectSession(ctx context.Context, sess *VipSession)
	// ObserveEntry feeds an appended ledger entry to the stateful
	// flagged-action rule.
	ObserveEntry(ctx context.Context, entry *ledger.Entry)
}

// Service drives the session state machine. Every mutation and its ledger
// entry run in one Runner unit so the chain and the session row never
// disagree.
type Service struct {
	store    Store
	ledger   *ledger.Service
	runner   tx.Runner
	logger   *slog.Logger
	metrics  *metrics.Metrics
	detector Detector
	tracer   trace.Tracer

	tolerances reconcile.Tolerances
	avgSong    time.Duration
}

// Option configures the service.
type Option func(*Service)

// WithMetrics attaches prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithDetector attaches the anomaly detector for post-commit inspection.
func WithDetector(d Detector) Option {
	return func(s *Service) { s.detector = d }
}

// WithTolerances overrides the severity band boundaries.
func WithTolerances(tol reconcile.Tolerances) Option {
	return func(s *Service) { s.tolerances = tol }
}

// WithAvgSongDuration overrides the average song length used for the
// time-based estimate.
func WithAvgSongDuration(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.avgSong = d
		}
	}
}

// NewService constructs the session service.
func NewService(store Store, ledgerSvc *ledger.Service, runner tx.Runner, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:      store,
		ledger:     ledgerSvc,
		runner:     runner,
		logger:     logger,
		tracer:     otel.Tracer("nightwatch/internal/session"),
		tolerances: reconcile.DefaultTolerances(),
		avgSong:    defaultAvgSongDuration,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens a session in ACTIVE and appends VIP_SESSION_START. Fails
// BoothOccupied when the booth already holds an active session.
func (s *Service) Start(ctx context.Context, boothID id.BoothID, dancerID id.DancerID) (*VipSession, error) {
	ctx, span := s.tracer.Start(ctx, "session.Start")
	defer span.End()

	tenantID := requestcontext.TenantID(ctx)
	actorID := requestcontext.ActorID(ctx)
	switch {
	case tenantID.IsNil():
		return nil, dErrors.New(dErrors.CodeUnauthorized, "tenant context required")
	case actorID.IsNil():
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	case boothID.IsNil():
		return nil, dErrors.New(dErrors.CodeValidation, "booth_id is required")
	case dancerID.IsNil():
		return nil, dErrors.New(dErrors.CodeValidation, "dancer_id is required")
	}

	now := requestcontext.Now(ctx).UTC()
	sess := &VipSession{
		ID:        id.NewSessionID(),
		TenantID:  tenantID,
		BoothID:   boothID,
		DancerID:  dancerID,
		OpenedBy:  actorID,
		State:     StateActive,
		StartedAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var entry *ledger.Entry
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Insert(ctx, sess); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				s.metrics.IncrementBoothConflict()
				return dErrors.Newf(dErrors.CodeBoothOccupied, "booth %s already has an active session", boothID)
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create session")
		}
		var err error
		entry, err = s.ledger.Append(ctx, s.draft(ctx, sess, ledger.ActionSessionStart, nil, snapshot(sess)))
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncrementStart()
	s.logger.InfoContext(ctx, "session started",
		"session_id", sess.ID,
		"booth_id", boothID,
		"dancer_id", dancerID,
	)
	s.notify(ctx, nil, entry)
	return sess, nil
}

// UpdateManualCount sets the operator tally. Legal only in ACTIVE.
// Downward corrections are legal and land on the ledger with both values
// so the flagged-action rule can see them.
func (s *Service) UpdateManualCount(ctx context.Context, sessionID id.SessionID, newCount int) (*VipSession, error) {
	ctx, span := s.tracer.Start(ctx, "session.UpdateManualCount")
	defer span.End()

	if newCount < 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "manual count cannot be negative")
	}

	var sess *VipSession
	var entry *ledger.Entry
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		sess, err = s.get(ctx, sessionID)
		if err != nil {
			return err
		}
		if sess.State != StateActive {
			return dErrors.Newf(dErrors.CodeInvalidTransition, "cannot update count in state %s", sess.State)
		}

		prev := snapshot(sess)
		sess.ManualCount = newCount
		sess.UpdatedAt = requestcontext.Now(ctx).UTC()
		if err := s.store.Update(ctx, sess); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update session")
		}
		entry, err = s.ledger.Append(ctx, s.draft(ctx, sess, ledger.ActionManualCountUpdate, prev, snapshot(sess)))
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, nil, entry)
	return sess, nil
}

// Close ends counting: ACTIVE to PENDING_CONFIRMATION. The reconciliation
// snapshot (byTime, variance, severity, flagged) is computed here and
// frozen on the session; the billing count is not chosen until confirm.
func (s *Service) Close(ctx context.Context, sessionID id.SessionID, finalManualCount int, djSyncCount *int) (*VipSession, error) {
	ctx, span := s.tracer.Start(ctx, "session.Close")
	defer span.End()

	if finalManualCount < 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "manual count cannot be negative")
	}
	if djSyncCount != nil && *djSyncCount < 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "dj sync count cannot be negative")
	}

	var sess *VipSession
	var entry *ledger.Entry
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		sess, err = s.get(ctx, sessionID)
		if err != nil {
			return err
		}
		if sess.State != StateActive {
			return dErrors.Newf(dErrors.CodeInvalidTransition, "cannot close session in state %s", sess.State)
		}

		prev := snapshot(sess)
		now := requestcontext.Now(ctx).UTC()
		sess.ManualCount = finalManualCount
		sess.DJSyncCount = djSyncCount
		sess.EndedAt = &now

		result := reconcile.Reconcile(reconcile.Input{
			Manual:  sess.ManualCount,
			DJSync:  sess.DJSyncCount,
			Elapsed: sess.Duration(now),
		}, s.avgSong, s.tolerances)
		sess.ByTimeCount = &result.ByTime
		sess.Variance = &result.Variance
		sess.Severity = &result.Severity
		sess.Flagged = result.Flagged

		sess.State = StatePendingConfirmation
		sess.UpdatedAt = now
		if err := s.store.Update(ctx, sess); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to close session")
		}
		entry, err = s.ledger.Append(ctx, s.draft(ctx, sess, ledger.ActionSessionClose, prev, snapshot(sess)))
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncrementReconciliation(string(*sess.Severity))
	s.logger.InfoContext(ctx, "session closed",
		"session_id", sess.ID,
		"manual_count", sess.ManualCount,
		"by_time_count", *sess.ByTimeCount,
		"variance", *sess.Variance,
		"severity", *sess.Severity,
	)
	s.notify(ctx, sess, entry)
	return sess, nil
}

// Confirm resolves a PENDING_CONFIRMATION session to its terminal state.
// An out-of-tolerance reconciliation takes precedence: the session lands in
// MISMATCH even when the customer confirmed, because confirmation settles
// the billing dispute, not the integrity question. Otherwise confirmed
// sessions become VERIFIED with finalCount = manual, and unconfirmed ones
// become DISPUTED with a required reason.
func (s *Service) Confirm(ctx context.Context, sessionID id.SessionID, confirmed bool, disputeReason string) (*VipSession, error) {
	ctx, span := s.tracer.Start(ctx, "session.Confirm")
	defer span.End()

	var sess *VipSession
	var entry *ledger.Entry
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		sess, err = s.get(ctx, sessionID)
		if err != nil {
			return err
		}
		if sess.State != StatePendingConfirmation {
			return dErrors.Newf(dErrors.CodeInvalidTransition, "cannot confirm session in state %s", sess.State)
		}

		prev := snapshot(sess)
		action := ledger.ActionSessionVerified
		switch {
		case sess.Flagged:
			sess.State = StateMismatch
			action = ledger.ActionSessionMismatch
		case confirmed:
			sess.State = StateVerified
			final := sess.ManualCount
			sess.FinalCount = &final
		default:
			if disputeReason == "" {
				return dErrors.New(dErrors.CodeValidation, "dispute_reason is required when the customer does not confirm")
			}
			sess.State = StateDisputed
			sess.DisputeReason = disputeReason
			action = ledger.ActionSessionDisputed
		}
		sess.CustomerConfirmed = &confirmed
		sess.UpdatedAt = requestcontext.Now(ctx).UTC()

		if err := s.store.Update(ctx, sess); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to confirm session")
		}
		entry, err = s.ledger.Append(ctx, s.draft(ctx, sess, action, prev, snapshot(sess)))
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncrementTerminal(string(sess.State))
	s.logger.InfoContext(ctx, "session resolved",
		"session_id", sess.ID,
		"state", sess.State,
		"customer_confirmed", confirmed,
	)
	if sess.State == StateMismatch || sess.State == StateDisputed {
		s.notify(ctx, sess, entry)
	} else {
		s.notify(ctx, nil, entry)
	}
	return sess, nil
}

// Get returns one session scoped to the caller's tenant.
func (s *Service) Get(ctx context.Context, sessionID id.SessionID) (*VipSession, error) {
	return s.get(ctx, sessionID)
}

// List returns sessions matching the filter within the caller's tenant.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]*VipSession, error) {
	if filter.TenantID.IsNil() {
		filter.TenantID = requestcontext.TenantID(ctx)
	}
	if filter.TenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "tenant_id is required")
	}
	sessions, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list sessions")
	}
	return sessions, nil
}

func (s *Service) get(ctx context.Context, sessionID id.SessionID) (*VipSession, error) {
	tenantID := requestcontext.TenantID(ctx)
	if tenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "tenant context required")
	}
	if sessionID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "session_id is required")
	}
	sess, err := s.store.Get(ctx, tenantID, sessionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "session not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load session")
	}
	return sess, nil
}

func (s *Service) draft(ctx context.Context, sess *VipSession, action ledger.Action, prev any, next any) ledger.Draft {
	return ledger.Draft{
		TenantID:      sess.TenantID,
		ActorID:       requestcontext.ActorID(ctx),
		ActorRole:     requestcontext.ActorRole(ctx),
		ActorIP:       requestcontext.ClientIP(ctx),
		ActorDevice:   requestcontext.ActorDevice(ctx),
		Action:        action,
		EntityType:    "vip_session",
		EntityID:      sess.ID.String(),
		PreviousValue: mustJSON(prev),
		NewValue:      mustJSON(next),
	}
}

// notify runs post-commit detector hooks. Both arguments are optional.
func (s *Service) notify(ctx context.Context, sess *VipSession, entry *ledger.Entry) {
	if s.detector == nil {
		return
	}
	if entry != nil {
		s.detector.ObserveEntry(ctx, entry)
	}
	if sess != nil {
		s.detector.InspectSession(ctx, sess)
	}
}

func mustJSON(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
