package session

import (
	"context"

	id "nightwatch/pkg/domain"
)

// Store persists sessions. Implementations honor a transaction carried in
// ctx (SQL tx or in-memory journal) so a mutation and its ledger append
// commit or roll back together.
//
// Insert returns sentinel.ErrConflict when the booth already holds an
// active session. Get returns sentinel.ErrNotFound for unknown or
// cross-tenant ids. Update replaces the stored row by id.
type Store interface {
	Insert(ctx context.Context, sess *VipSession) error
	Get(ctx context.Context, tenantID id.TenantID, sessionID id.SessionID) (*VipSession, error)
	Update(ctx context.Context, sess *VipSession) error
	List(ctx context.Context, filter ListFilter) ([]*VipSession, error)
}
