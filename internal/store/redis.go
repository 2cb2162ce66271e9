package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/qualitax/swap-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateSwap(ctx context.Context, sw *model.Swap) error {
	if err := s.primary.CreateSwap(ctx, sw); err != nil {
		return err
	}
	s.cacheSwap(ctx, sw)
	return nil
}

func (s *CachedStore) UpdateTradeRecord(ctx context.Context, swapID string, record model.TradeRecord) error {
	if err := s.primary.UpdateTradeRecord(ctx, swapID, record); err != nil {
		return err
	}
	// Invalidate cache; next read will re-populate.
	s.rdb.Del(ctx, swapKey(swapID))
	return nil
}

func (s *CachedStore) InsertEvent(ctx context.Context, event *model.LifecycleEvent) error {
	if err := s.primary.InsertEvent(ctx, event); err != nil {
		return err
	}
	// Invalidate the event cache for this swap.
	s.rdb.Del(ctx, eventsKey(event.SwapID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetSwap(ctx context.Context, id string) (*model.Swap, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, swapKey(id)).Bytes()
	if err == nil {
		var sw model.Swap
		if json.Unmarshal(data, &sw) == nil {
			return &sw, nil
		}
	}

	// Cache miss: read from primary.
	sw, err := s.primary.GetSwap(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheSwap(ctx, sw)
	return sw, nil
}

func (s *CachedStore) GetEventsBySwap(ctx context.Context, swapID string) ([]model.LifecycleEvent, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, eventsKey(swapID)).Bytes()
	if err == nil {
		var events []model.LifecycleEvent
		if json.Unmarshal(data, &events) == nil {
			return events, nil
		}
	}

	// Cache miss.
	events, err := s.primary.GetEventsBySwap(ctx, swapID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(events); err == nil {
		s.rdb.Set(ctx, eventsKey(swapID), data, s.ttl)
	}
	return events, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListSwaps(ctx context.Context) ([]model.Swap, error) {
	return s.primary.ListSwaps(ctx)
}

func (s *CachedStore) CountSwaps(ctx context.Context) (int, error) {
	return s.primary.CountSwaps(ctx)
}

func (s *CachedStore) GetEventsByParty(ctx context.Context, party string) ([]model.LifecycleEvent, error) {
	return s.primary.GetEventsByParty(ctx, party)
}

// --- Cache helpers ---

func (s *CachedStore) cacheSwap(ctx context.Context, sw *model.Swap) {
	if data, err := json.Marshal(sw); err == nil {
		s.rdb.Set(ctx, swapKey(sw.ID), data, s.ttl)
	}
}

func swapKey(id string) string     { return fmt.Sprintf("swap:%s", id) }
func eventsKey(id string) string   { return fmt.Sprintf("events:%s", id) }
