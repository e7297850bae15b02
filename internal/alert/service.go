package alert

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"nightwatch/internal/alert/metrics"
	"nightwatch/internal/ledger"
	id "nightwatch/pkg/domain"
	dErrors "nightwatch/pkg/domain-errors"
	"nightwatch/pkg/platform/sentinel"
	"nightwatch/pkg/platform/tx"
	"nightwatch/pkg/requestcontext"
)

// Service drives the alert lifecycle. Every transition and its ledger
// entry run in one Runner unit; the status guard in the store gives
// concurrent closers exactly one winner.
type Service struct {
	store   Store
	ledger  *ledger.Service
	runner  tx.Runner
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// Option configures the service.
type Option func(*Service)

// WithMetrics attaches prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService constructs the alert service.
func NewService(store Store, ledgerSvc *ledger.Service, runner tx.Runner, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		ledger: ledgerSvc,
		runner: runner,
		logger: logger,
		tracer: otel.Tracer("nightwatch/internal/alert"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (d Draft) validate() error {
	switch {
	case d.TenantID.IsNil():
		return dErrors.New(dErrors.CodeValidation, "tenant_id is required")
	case d.Type == "":
		return dErrors.New(dErrors.CodeValidation, "alert type is required")
	case d.Severity == "":
		return dErrors.New(dErrors.CodeValidation, "severity is required")
	case d.RelatedEntityType == "" || d.RelatedEntityID == "":
		return dErrors.New(dErrors.CodeValidation, "related entity reference is required")
	}
	return nil
}

// Raise creates a PENDING alert unless an open alert already covers the
// same (entity, type), in which case it reports created=false. Idempotent
// by design: the detector may inspect the same session any number of
// times.
func (s *Service) Raise(ctx context.Context, draft Draft) (*AnomalyAlert, bool, error) {
	ctx, span := s.tracer.Start(ctx, "alert.Raise")
	defer span.End()

	if err := draft.validate(); err != nil {
		return nil, false, err
	}

	now := requestcontext.Now(ctx).UTC()
	a := &AnomalyAlert{
		ID:                id.NewAlertID(),
		TenantID:          draft.TenantID,
		Type:              draft.Type,
		Severity:          draft.Severity,
		Status:            StatusPending,
		RelatedEntityType: draft.RelatedEntityType,
		RelatedEntityID:   draft.RelatedEntityID,
		RelatedActorID:    draft.RelatedActorID,
		Details:           mustJSON(draft.Details),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Insert(ctx, a); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return err
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create alert")
		}
		_, err := s.ledger.Append(ctx, s.draft(ctx, a, ledger.ActionAlertCreated, nil, snapshot(a)))
		return err
	})
	if err != nil {
		// A chain-tail conflict from the ledger also unwraps to ErrConflict;
		// only the store's dedup guard means an open alert already exists.
		if errors.Is(err, sentinel.ErrConflict) && !dErrors.HasCode(err, dErrors.CodeConcurrentWrite) {
			s.metrics.IncrementDeduplicated()
			return nil, false, nil
		}
		return nil, false, err
	}

	s.metrics.IncrementRaised(string(a.Type), string(a.Severity))
	s.logger.InfoContext(ctx, "anomaly alert raised",
		"alert_id", a.ID,
		"type", a.Type,
		"severity", a.Severity,
		"related_entity_type", a.RelatedEntityType,
		"related_entity_id", a.RelatedEntityID,
	)
	return a, true, nil
}

// Investigate acknowledges a PENDING alert.
func (s *Service) Investigate(ctx context.Context, alertID id.AlertID) (*AnomalyAlert, error) {
	ctx, span := s.tracer.Start(ctx, "alert.Investigate")
	defer span.End()

	return s.transition(ctx, alertID, ledger.ActionAlertAcknowledged,
		[]Status{StatusPending},
		func(a *AnomalyAlert) error {
			a.Status = StatusAcknowledged
			return nil
		})
}

// Resolve closes an alert with a manager's verdict. The resolution text is
// the audit record of what was found; it cannot be empty.
func (s *Service) Resolve(ctx context.Context, alertID id.AlertID, resolution string) (*AnomalyAlert, error) {
	ctx, span := s.tracer.Start(ctx, "alert.Resolve")
	defer span.End()

	if resolution == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "resolution is required")
	}
	return s.transition(ctx, alertID, ledger.ActionAlertResolved,
		[]Status{StatusPending, StatusAcknowledged},
		func(a *AnomalyAlert) error {
			actorID := requestcontext.ActorID(ctx)
			now := requestcontext.Now(ctx).UTC()
			a.Status = StatusResolved
			a.Resolution = resolution
			a.ResolvedBy = &actorID
			a.ResolvedAt = &now
			return nil
		})
}

// Dismiss closes an alert as not actionable. The reason is optional but
// recorded when present.
func (s *Service) Dismiss(ctx context.Context, alertID id.AlertID, reason string) (*AnomalyAlert, error) {
	ctx, span := s.tracer.Start(ctx, "alert.Dismiss")
	defer span.End()

	return s.transition(ctx, alertID, ledger.ActionAlertDismissed,
		[]Status{StatusPending, StatusAcknowledged},
		func(a *AnomalyAlert) error {
			actorID := requestcontext.ActorID(ctx)
			now := requestcontext.Now(ctx).UTC()
			a.Status = StatusDismissed
			a.DismissReason = reason
			a.ResolvedBy = &actorID
			a.ResolvedAt = &now
			return nil
		})
}

// Get returns one alert scoped to the caller's tenant.
func (s *Service) Get(ctx context.Context, alertID id.AlertID) (*AnomalyAlert, error) {
	return s.get(ctx, alertID)
}

// List returns alerts matching the filter within the caller's tenant.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]*AnomalyAlert, error) {
	if filter.TenantID.IsNil() {
		filter.TenantID = requestcontext.TenantID(ctx)
	}
	if filter.TenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "tenant_id is required")
	}
	alerts, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list alerts")
	}
	return alerts, nil
}

func (s *Service) transition(ctx context.Context, alertID id.AlertID, action ledger.Action, legalFrom []Status, mutate func(*AnomalyAlert) error) (*AnomalyAlert, error) {
	if requestcontext.ActorID(ctx).IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}

	var a *AnomalyAlert
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		a, err = s.get(ctx, alertID)
		if err != nil {
			return err
		}
		if err := s.checkFrom(a.Status, legalFrom); err != nil {
			return err
		}

		prevStatus := a.Status
		prev := snapshot(a)
		if err := mutate(a); err != nil {
			return err
		}
		a.UpdatedAt = requestcontext.Now(ctx).UTC()

		if err := s.store.UpdateGuarded(ctx, a, prevStatus); err != nil {
			return err
		}
		_, err = s.ledger.Append(ctx, s.draft(ctx, a, action, prev, snapshot(a)))
		return err
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) && !dErrors.HasCode(err, dErrors.CodeConcurrentWrite) {
			// Lost the status race; reload to name the loser's error.
			s.metrics.IncrementConflict()
			current, getErr := s.get(ctx, alertID)
			if getErr == nil && !current.Status.IsTerminal() {
				return nil, dErrors.Newf(dErrors.CodeInvalidTransition, "alert moved to %s concurrently", current.Status)
			}
			return nil, dErrors.New(dErrors.CodeAlertClosed, "alert was closed by another manager")
		}
		return nil, err
	}

	s.metrics.IncrementTransition(string(a.Status))
	s.logger.InfoContext(ctx, "alert transitioned",
		"alert_id", a.ID,
		"status", a.Status,
		"actor_id", requestcontext.ActorID(ctx),
	)
	return a, nil
}

func (s *Service) checkFrom(current Status, legalFrom []Status) error {
	for _, from := range legalFrom {
		if current == from {
			return nil
		}
	}
	if current.IsTerminal() {
		return dErrors.Newf(dErrors.CodeAlertClosed, "alert is already %s", current)
	}
	return dErrors.Newf(dErrors.CodeInvalidTransition, "transition not allowed from %s", current)
}

func (s *Service) get(ctx context.Context, alertID id.AlertID) (*AnomalyAlert, error) {
	tenantID := requestcontext.TenantID(ctx)
	if tenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "tenant context required")
	}
	if alertID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "alert_id is required")
	}
	a, err := s.store.Get(ctx, tenantID, alertID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "alert not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load alert")
	}
	return a, nil
}

func (s *Service) draft(ctx context.Context, a *AnomalyAlert, action ledger.Action, prev any, next any) ledger.Draft {
	actorID := requestcontext.ActorID(ctx)
	actorRole := requestcontext.ActorRole(ctx)
	if actorID.IsNil() {
		// Detector-raised alerts from background work carry the system
		// identity.
		actorID = id.SystemStaffID
		actorRole = id.RoleSystem
	}
	return ledger.Draft{
		TenantID:      a.TenantID,
		ActorID:       actorID,
		ActorRole:     actorRole,
		ActorIP:       requestcontext.ClientIP(ctx),
		ActorDevice:   requestcontext.ActorDevice(ctx),
		Action:        action,
		EntityType:    "anomaly_alert",
		EntityID:      a.ID.String(),
		PreviousValue: mustJSON(prev),
		NewValue:      mustJSON(next),
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
