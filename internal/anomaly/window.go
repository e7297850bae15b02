// Package anomaly turns reconciliation results and ledger activity into
// alerts. Per-session rules are pure; the flagged-action rule is stateful
// over a rolling per-actor window.
package anomaly

import (
	"context"
	"sync"
	"time"

	id "nightwatch/pkg/domain"
)

// WindowStore counts flagged actions per (tenant, actor) inside a rolling
// window. Record registers one event at the given time and returns how many
// events remain inside (at-window, at].
type WindowStore interface {
	Record(ctx context.Context, tenantID id.TenantID, actorID id.StaffID, at time.Time, window time.Duration) (int, error)
}

type windowKey struct {
	tenantID id.TenantID
	actorID  id.StaffID
}

// MemoryWindowStore keeps event times in memory. Development and tests
// only; process restarts forget the window, the periodic rescan backfills
// it from the ledger.
type MemoryWindowStore struct {
	mu     sync.Mutex
	events map[windowKey][]time.Time
}

// NewMemoryWindowStore creates an empty in-memory window store.
func NewMemoryWindowStore() *MemoryWindowStore {
	return &MemoryWindowStore{events: make(map[windowKey][]time.Time)}
}

func (s *MemoryWindowStore) Record(ctx context.Context, tenantID id.TenantID, actorID id.StaffID, at time.Time, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := windowKey{tenantID: tenantID, actorID: actorID}
	cutoff := at.Add(-window)

	kept := s.events[key][:0]
	for _, t := range s.events[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, at)
	s.events[key] = kept
	return len(kept), nil
}
