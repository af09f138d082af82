package swarm

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// InMemoryStateStore is a volatile StateStore implementation keeping swarm
// records in a process local map. It is safe for concurrent access and best
// suited for tests or ephemeral demo setups. Returned records are copies to
// prevent external mutation of internal state.
type InMemoryStateStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewInMemoryStateStore constructs an empty in-memory state store.
func NewInMemoryStateStore() *InMemoryStateStore {
	return &InMemoryStateStore{records: make(map[string]Record)}
}

// CreateSwarm stores the initial record for a swarm id.
func (s *InMemoryStateStore) CreateSwarm(_ context.Context, id string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[id]; exists {
		return fmt.Errorf("swarm %s already exists", id)
	}
	s.records[id] = rec
	return nil
}

// GetSwarm returns a copy of the record, or nil when the swarm is unknown.
func (s *InMemoryStateStore) GetSwarm(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// UpdateSwarmState transitions the persisted lifecycle state.
func (s *InMemoryStateStore) UpdateSwarmState(_ context.Context, id string, newState State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("swarm %s not found", id)
	}
	rec.State = newState
	rec.Updated = time.Now().UTC()
	s.records[id] = rec
	return nil
}
