package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/qualitax/swap-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu     sync.RWMutex
	swaps  map[string]*model.Swap
	order  []string // insertion order for ListSwaps
	events []model.LifecycleEvent
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		swaps: make(map[string]*model.Swap),
	}
}

func (s *MemoryStore) CreateSwap(_ context.Context, sw *model.Swap) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.swaps[sw.ID]; exists {
		return fmt.Errorf("swap %s already exists", sw.ID)
	}

	// Store a copy to avoid external mutation.
	copy := *sw
	s.swaps[sw.ID] = &copy
	s.order = append(s.order, sw.ID)
	return nil
}

func (s *MemoryStore) GetSwap(_ context.Context, id string) (*model.Swap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sw, ok := s.swaps[id]
	if !ok {
		return nil, fmt.Errorf("swap %s not found", id)
	}
	copy := *sw
	return &copy, nil
}

func (s *MemoryStore) ListSwaps(_ context.Context) ([]model.Swap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	swaps := make([]model.Swap, 0, len(s.order))
	for _, id := range s.order {
		swaps = append(swaps, *s.swaps[id])
	}
	return swaps, nil
}

func (s *MemoryStore) CountSwaps(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order), nil
}

func (s *MemoryStore) UpdateTradeRecord(_ context.Context, swapID string, record model.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sw, ok := s.swaps[swapID]
	if !ok {
		return fmt.Errorf("swap %s not found", swapID)
	}
	sw.Record = record
	return nil
}

func (s *MemoryStore) InsertEvent(_ context.Context, event *model.LifecycleEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, *event)
	return nil
}

func (s *MemoryStore) GetEventsBySwap(_ context.Context, swapID string) ([]model.LifecycleEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LifecycleEvent
	for _, e := range s.events {
		if e.SwapID == swapID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetEventsByParty(_ context.Context, party string) ([]model.LifecycleEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LifecycleEvent
	for _, e := range s.events {
		if e.Party == party {
			result = append(result, e)
		}
	}
	return result, nil
}
