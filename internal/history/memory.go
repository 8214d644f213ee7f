package history

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"callbot-platform/internal/calls"
)

// MemoryStore is an in-memory append-only history store for tests and
// local development.
type MemoryStore struct {
	mu          sync.Mutex
	entities    map[string]*Entity
	clock       func() time.Time
	initialised atomic.Bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entities: map[string]*Entity{}, clock: time.Now}
}

func (s *MemoryStore) Initialise(ctx context.Context) error {
	s.initialised.Store(true)
	return nil
}

func (s *MemoryStore) Initialised() bool { return s.initialised.Load() }

func (s *MemoryStore) AddToHistory(ctx context.Context, state *calls.CallState, raw json.RawMessage) error {
	id, err := requireCallID(state)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[id] = Append(s.entities[id], id, state, raw, s.clock())
	return nil
}

func (s *MemoryStore) GetHistory(ctx context.Context, state *calls.CallState) (*Entity, error) {
	id, err := requireCallID(state)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[id]
	if !ok {
		return nil, nil
	}
	return copyEntity(e), nil
}

func (s *MemoryStore) DeleteHistory(ctx context.Context, state *calls.CallState) error {
	id, err := requireCallID(state)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entities, id)
	return nil
}

func copyEntity(e *Entity) *Entity {
	out := *e
	out.StateHistory = make([]StateEntry, len(e.StateHistory))
	for i, se := range e.StateHistory {
		se.State = se.State.Clone()
		out.StateHistory[i] = se
	}
	out.NotificationsHistory = append([]NotificationEntry(nil), e.NotificationsHistory...)
	return &out
}
