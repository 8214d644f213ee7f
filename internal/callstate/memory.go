package callstate

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"callbot-platform/internal/calls"
)

// MemoryStore keeps call state in a map. Useful for tests and single-node
// development; nothing survives a restart.
type MemoryStore struct {
	mu          sync.RWMutex
	states      map[string]*calls.CallState
	initialised atomic.Bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: map[string]*calls.CallState{}}
}

func (s *MemoryStore) Initialise(ctx context.Context) error {
	s.initialised.Store(true)
	return nil
}

func (s *MemoryStore) Initialised() bool { return s.initialised.Load() }

func (s *MemoryStore) GetStateByCallID(ctx context.Context, callID string) (*calls.CallState, error) {
	if callID == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.states[callID].Clone(), nil
}

func (s *MemoryStore) AddOrUpdate(ctx context.Context, state *calls.CallState) error {
	id, err := requireCallID(state)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[id] = state.Clone()
	return nil
}

func (s *MemoryStore) RemoveCurrentCall(ctx context.Context, callID string) (bool, error) {
	if callID == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.states[callID]; !ok {
		return false, nil
	}
	delete(s.states, callID)
	return true, nil
}

// GetActiveCalls returns a snapshot ordered by call id.
func (s *MemoryStore) GetActiveCalls(ctx context.Context) ([]*calls.CallState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*calls.CallState, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, st.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CallID() < out[j].CallID() })
	return out, nil
}
