// Package store defines the persistence interface for the swap engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"

	"github.com/qualitax/swap-engine/internal/model"
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Swap instances ---

	// CreateSwap persists a new swap instance.
	CreateSwap(ctx context.Context, swap *model.Swap) error

	// GetSwap retrieves a swap by its ID.
	GetSwap(ctx context.Context, id string) (*model.Swap, error)

	// ListSwaps returns all swaps in creation order.
	ListSwaps(ctx context.Context) ([]model.Swap, error)

	// CountSwaps returns the number of registered swaps.
	CountSwaps(ctx context.Context) (int, error)

	// UpdateTradeRecord persists the trade-record snapshot after a
	// lifecycle transition.
	UpdateTradeRecord(ctx context.Context, swapID string, record model.TradeRecord) error

	// --- Immutable lifecycle event log ---

	// InsertEvent appends an immutable lifecycle event.
	InsertEvent(ctx context.Context, event *model.LifecycleEvent) error

	// GetEventsBySwap returns all lifecycle events for a swap.
	GetEventsBySwap(ctx context.Context, swapID string) ([]model.LifecycleEvent, error)

	// GetEventsByParty returns all lifecycle events triggered by a party.
	GetEventsByParty(ctx context.Context, party string) ([]model.LifecycleEvent, error)
}
