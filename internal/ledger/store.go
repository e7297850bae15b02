package ledger

import (
	"context"

	id "nightwatch/pkg/domain"
)

// Store persists ledger entries and the per-tenant halt flag.
//
// Insert must enforce uniqueness of (tenant, sequence number) and return
// sentinel.ErrConflict (wrapped) when another writer already took the
// sequence, so the service can surface ConcurrentChainWrite. Implementations
// must honor a SQL transaction threaded through the context (pkg/platform/tx)
// so callers can make the append atomic with their own mutation.
type Store interface {
	// Tail returns the highest-sequence entry for the tenant, or nil if the
	// chain is empty.
	Tail(ctx context.Context, tenantID id.TenantID) (*Entry, error)

	// Insert persists a fully-populated entry.
	Insert(ctx context.Context, entry *Entry) error

	// List returns entries matching the filter, ordered by sequence number.
	List(ctx context.Context, filter ListFilter) ([]*Entry, error)

	// Range returns the tenant's entries with fromSeq <= seq <= toSeq
	// (toSeq 0 means unbounded), ordered by sequence number.
	Range(ctx context.Context, tenantID id.TenantID, fromSeq, toSeq uint64) ([]*Entry, error)

	// EntryBefore returns the entry with sequence number seq-1, or nil when
	// seq is 1.
	EntryBefore(ctx context.Context, tenantID id.TenantID, seq uint64) (*Entry, error)

	// Halted returns the active halt for the tenant, or nil.
	Halted(ctx context.Context, tenantID id.TenantID) (*Halt, error)

	// SetHalt records a halt. Idempotent: an existing active halt wins.
	SetHalt(ctx context.Context, halt Halt) error

	// ClearHalt marks the tenant's active halt as cleared.
	ClearHalt(ctx context.Context, tenantID id.TenantID, clearedBy id.StaffID) error
}
