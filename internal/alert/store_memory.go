package alert

import (
	"context"
	"fmt"
	"sort"
	"sync"

	id "nightwatch/pkg/domain"
	"nightwatch/pkg/platform/sentinel"
	"nightwatch/pkg/platform/tx"
)

// dedupKey identifies the one open alert allowed per entity and type.
type dedupKey struct {
	tenantID   id.TenantID
	entityType string
	entityID   string
	alertType  Type
}

// InMemoryStore keeps alerts in memory. Development and tests only.
type InMemoryStore struct {
	mu     sync.RWMutex
	alerts map[id.AlertID]*AnomalyAlert
	open   map[dedupKey]id.AlertID
}

// NewInMemoryStore creates an empty in-memory alert store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		alerts: make(map[id.AlertID]*AnomalyAlert),
		open:   make(map[dedupKey]id.AlertID),
	}
}

func keyOf(a *AnomalyAlert) dedupKey {
	return dedupKey{
		tenantID:   a.TenantID,
		entityType: a.RelatedEntityType,
		entityID:   a.RelatedEntityID,
		alertType:  a.Type,
	}
}

func (s *InMemoryStore) Insert(ctx context.Context, a *AnomalyAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := keyOf(a)
	if _, exists := s.open[key]; exists {
		return fmt.Errorf("insert alert for %s %s: %w", a.RelatedEntityType, a.RelatedEntityID, sentinel.ErrConflict)
	}
	cp := *a
	s.alerts[a.ID] = &cp
	s.open[key] = a.ID

	if j, ok := tx.JournalFrom(ctx); ok {
		alertID := a.ID
		j.OnRollback(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.alerts, alertID)
			if s.open[key] == alertID {
				delete(s.open, key)
			}
		})
	}
	return nil
}

func (s *InMemoryStore) Get(ctx context.Context, tenantID id.TenantID, alertID id.AlertID) (*AnomalyAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[alertID]
	if !ok || a.TenantID != tenantID {
		return nil, fmt.Errorf("get alert %s: %w", alertID, sentinel.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (s *InMemoryStore) UpdateGuarded(ctx context.Context, a *AnomalyAlert, fromStatus Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.alerts[a.ID]
	if !ok || prev.TenantID != a.TenantID {
		return fmt.Errorf("update alert %s: %w", a.ID, sentinel.ErrNotFound)
	}
	if prev.Status != fromStatus {
		return fmt.Errorf("update alert %s from %s: %w", a.ID, fromStatus, sentinel.ErrConflict)
	}
	cp := *a
	s.alerts[a.ID] = &cp
	key := keyOf(prev)
	if !prev.Status.IsTerminal() && a.Status.IsTerminal() {
		delete(s.open, key)
	}

	if j, ok := tx.JournalFrom(ctx); ok {
		j.OnRollback(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.alerts[prev.ID] = prev
			if !prev.Status.IsTerminal() {
				s.open[key] = prev.ID
			}
		})
	}
	return nil
}

func (s *InMemoryStore) List(ctx context.Context, filter ListFilter) ([]*AnomalyAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*AnomalyAlert
	for _, a := range s.alerts {
		if a.TenantID != filter.TenantID {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		if filter.Severity != "" && a.Severity != filter.Severity {
			continue
		}
		if filter.Type != "" && a.Type != filter.Type {
			continue
		}
		if !filter.RelatedActorID.IsNil() &&
			(a.RelatedActorID == nil || *a.RelatedActorID != filter.RelatedActorID) {
			continue
		}
		if !filter.From.IsZero() && a.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && a.CreatedAt.After(filter.To) {
			continue
		}
		cp := *a
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	if filter.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[filter.Offset:]
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}
