package alert

import (
	"context"

	id "nightwatch/pkg/domain"
)

// Store persists alerts. Implementations honor a transaction carried in
// ctx.
//
// Insert returns sentinel.ErrConflict when an open alert already exists
// for the same (entity type, entity id, alert type). UpdateGuarded applies
// the mutation only while the stored status is still fromStatus and
// returns sentinel.ErrConflict when the guard fails; this is the
// optimistic check that gives concurrent closers exactly one winner.
type Store interface {
	Insert(ctx context.Context, a *AnomalyAlert) error
	Get(ctx context.Context, tenantID id.TenantID, alertID id.AlertID) (*AnomalyAlert, error)
	UpdateGuarded(ctx context.Context, a *AnomalyAlert, fromStatus Status) error
	List(ctx context.Context, filter ListFilter) ([]*AnomalyAlert, error)
}
