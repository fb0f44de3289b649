package memory

import (
	"context"
	"fmt"
	"sync"

	audit "complyd/pkg/platform/audit"
	"complyd/pkg/platform/sentinel"
)

// InMemoryStore keeps each run's trail in append order. Events are never
// removed; a repeated event ID is rejected like the SQL stores reject it.
type InMemoryStore struct {
	mu     sync.RWMutex
	events map[string][]audit.Event
	seen   map[string]struct{}
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		events: make(map[string][]audit.Event),
		seen:   make(map[string]struct{}),
	}
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkIDs(event); err != nil {
		return err
	}
	s.insert(event)
	return nil
}

// AppendAll writes all events or none of them.
func (s *InMemoryStore) AppendAll(_ context.Context, events []audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkIDs(events...); err != nil {
		return err
	}
	for _, e := range events {
		s.insert(e)
	}
	return nil
}

func (s *InMemoryStore) checkIDs(events ...audit.Event) error {
	batch := make(map[string]struct{}, len(events))
	for _, e := range events {
		if e.ID == "" {
			continue
		}
		if _, dup := s.seen[e.ID]; dup {
			return fmt.Errorf("audit event %s: %w", e.ID, sentinel.ErrConflict)
		}
		if _, dup := batch[e.ID]; dup {
			return fmt.Errorf("audit event %s: %w", e.ID, sentinel.ErrConflict)
		}
		batch[e.ID] = struct{}{}
	}
	return nil
}

func (s *InMemoryStore) insert(e audit.Event) {
	if e.ID != "" {
		s.seen[e.ID] = struct{}{}
	}
	s.events[e.RunID] = append(s.events[e.RunID], e)
}

func (s *InMemoryStore) ListByRun(_ context.Context, runID string) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Event{}, s.events[runID]...), nil
}

// CountByKind is a test helper for asserting trail shape.
func (s *InMemoryStore) CountByKind(runID string, kind audit.Kind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.events[runID] {
		if e.Kind == kind {
			n++
		}
	}
	return n
}
