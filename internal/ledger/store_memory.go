package ledger

import (
	"context"
	"fmt"
	"sync"

	id "nightwatch/pkg/domain"
	"nightwatch/pkg/platform/sentinel"
	"nightwatch/pkg/platform/tx"
)

// InMemoryStore keeps per-tenant chains in memory. Development and tests
// only; the subsystem requires persisted storage in production.
type InMemoryStore struct {
	mu     sync.RWMutex
	chains map[id.TenantID][]*Entry
	halts  map[id.TenantID]*Halt
}

// NewInMemoryStore creates an empty in-memory ledger store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		chains: make(map[id.TenantID][]*Entry),
		halts:  make(map[id.TenantID]*Halt),
	}
}

func (s *InMemoryStore) Tail(ctx context.Context, tenantID id.TenantID) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.chains[tenantID]
	if len(chain) == 0 {
		return nil, nil
	}
	cp := *chain[len(chain)-1]
	return &cp, nil
}

func (s *InMemoryStore) Insert(ctx context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain := s.chains[entry.TenantID]
	var nextSeq uint64 = 1
	if len(chain) > 0 {
		nextSeq = chain[len(chain)-1].SequenceNumber + 1
	}
	if entry.SequenceNumber != nextSeq {
		return fmt.Errorf("insert ledger entry seq %d (tail %d): %w", entry.SequenceNumber, nextSeq-1, sentinel.ErrConflict)
	}
	cp := *entry
	s.chains[entry.TenantID] = append(chain, &cp)

	if j, ok := tx.JournalFrom(ctx); ok {
		tenantID, seq := entry.TenantID, entry.SequenceNumber
		j.OnRollback(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c := s.chains[tenantID]; len(c) > 0 && c[len(c)-1].SequenceNumber == seq {
				s.chains[tenantID] = c[:len(c)-1]
			}
		})
	}
	return nil
}

func (s *InMemoryStore) List(ctx context.Context, filter ListFilter) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Entry
	for _, e := range s.chains[filter.TenantID] {
		if !filter.From.IsZero() && e.At.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && e.At.After(filter.To) {
			continue
		}
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if !filter.ActorID.IsNil() && e.ActorID != filter.ActorID {
			continue
		}
		cp := *e
		matched = append(matched, &cp)
	}

	if filter.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[filter.Offset:]
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (s *InMemoryStore) Range(ctx context.Context, tenantID id.TenantID, fromSeq, toSeq uint64) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Entry
	for _, e := range s.chains[tenantID] {
		if e.SequenceNumber < fromSeq {
			continue
		}
		if toSeq > 0 && e.SequenceNumber > toSeq {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (s *InMemoryStore) EntryBefore(ctx context.Context, tenantID id.TenantID, seq uint64) (*Entry, error) {
	if seq <= 1 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.chains[tenantID] {
		if e.SequenceNumber == seq-1 {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) Halted(ctx context.Context, tenantID id.TenantID) (*Halt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	halt, ok := s.halts[tenantID]
	if !ok {
		return nil, nil
	}
	cp := *halt
	return &cp, nil
}

func (s *InMemoryStore) SetHalt(ctx context.Context, halt Halt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.halts[halt.TenantID]; exists {
		return nil
	}
	s.halts[halt.TenantID] = &halt
	return nil
}

func (s *InMemoryStore) ClearHalt(ctx context.Context, tenantID id.TenantID, clearedBy id.StaffID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.halts[tenantID]; !exists {
		return fmt.Errorf("clear halt: %w", sentinel.ErrNotFound)
	}
	delete(s.halts, tenantID)
	return nil
}

// Corrupt mutates the stored entry at seq in place. Test hook for
// tamper-detection coverage.
func (s *InMemoryStore) Corrupt(tenantID id.TenantID, seq uint64, mutate func(*Entry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.chains[tenantID] {
		if e.SequenceNumber == seq {
			mutate(e)
			return
		}
	}
}
