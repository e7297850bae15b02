package session

import (
	"context"
	"fmt"
	"sort"
	"sync"

	id "nightwatch/pkg/domain"
	"nightwatch/pkg/platform/sentinel"
	"nightwatch/pkg/platform/tx"
)

// InMemoryStore keeps sessions in memory. Development and tests only.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[id.SessionID]*VipSession
	active   map[id.BoothID]id.SessionID
}

// NewInMemoryStore creates an empty in-memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[id.SessionID]*VipSession),
		active:   make(map[id.BoothID]id.SessionID),
	}
}

func (s *InMemoryStore) Insert(ctx context.Context, sess *VipSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, occupied := s.active[sess.BoothID]; occupied {
		return fmt.Errorf("insert session for booth %s: %w", sess.BoothID, sentinel.ErrConflict)
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	s.active[sess.BoothID] = sess.ID

	if j, ok := tx.JournalFrom(ctx); ok {
		sessionID, boothID := sess.ID, sess.BoothID
		j.OnRollback(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.sessions, sessionID)
			if s.active[boothID] == sessionID {
				delete(s.active, boothID)
			}
		})
	}
	return nil
}

func (s *InMemoryStore) Get(ctx context.Context, tenantID id.TenantID, sessionID id.SessionID) (*VipSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok || sess.TenantID != tenantID {
		return nil, fmt.Errorf("get session %s: %w", sessionID, sentinel.ErrNotFound)
	}
	cp := *sess
	return &cp, nil
}

func (s *InMemoryStore) Update(ctx context.Context, sess *VipSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.sessions[sess.ID]
	if !ok {
		return fmt.Errorf("update session %s: %w", sess.ID, sentinel.ErrNotFound)
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	if prev.State == StateActive && sess.State != StateActive {
		delete(s.active, sess.BoothID)
	}

	if j, ok := tx.JournalFrom(ctx); ok {
		j.OnRollback(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.sessions[prev.ID] = prev
			if prev.State == StateActive {
				s.active[prev.BoothID] = prev.ID
			}
		})
	}
	return nil
}

func (s *InMemoryStore) List(ctx context.Context, filter ListFilter) ([]*VipSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*VipSession
	for _, sess := range s.sessions {
		if sess.TenantID != filter.TenantID {
			continue
		}
		if !filter.OpenedBy.IsNil() && sess.OpenedBy != filter.OpenedBy {
			continue
		}
		if !filter.DancerID.IsNil() && sess.DancerID != filter.DancerID {
			continue
		}
		if !filter.From.IsZero() && sess.StartedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && sess.StartedAt.After(filter.To) {
			continue
		}
		if len(filter.States) > 0 && !containsState(filter.States, sess.State) {
			continue
		}
		cp := *sess
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].StartedAt.Before(matched[j].StartedAt)
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

func containsState(states []State, s State) bool {
	for _, candidate := range states {
		if candidate == s {
			return true
		}
	}
	return false
}
