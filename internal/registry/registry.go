// Package registry is the factory for swap-engine instances. It creates
// engines from a construction-time configuration, keeps them in creation
// order queryable by count and index, and persists instance configs through
// the store. Instances share no mutable state with each other.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/qualitax/swap-engine/internal/engine"
	"github.com/qualitax/swap-engine/internal/model"
	"github.com/qualitax/swap-engine/internal/oracle"
	"github.com/qualitax/swap-engine/internal/risk"
	"github.com/qualitax/swap-engine/internal/settlement"
	"github.com/qualitax/swap-engine/internal/store"
)

var (
	ErrSwapNotFound   = errors.New("registry: swap not found")
	ErrIndexOutOfRange = errors.New("registry: index out of range")
)

// OracleFactory builds the oracle adapter for a new instance from its
// configuration.
type OracleFactory func(cfg model.SwapConfig) oracle.Adapter

// Registry deploys and tracks swap-engine instances.
type Registry struct {
	st         store.Store
	ledger     settlement.Ledger
	limiter    *risk.NotionalLimiter
	oracles    OracleFactory
	engineOpts []engine.Option

	mu      sync.RWMutex
	engines map[string]*engine.Engine
	order   []string
}

// New creates a registry. The engine options are applied to every instance
// it deploys.
func New(st store.Store, ledger settlement.Ledger, limiter *risk.NotionalLimiter, oracles OracleFactory, engineOpts ...engine.Option) *Registry {
	if oracles == nil {
		oracles = func(cfg model.SwapConfig) oracle.Adapter {
			return oracle.NewFixedAdapter(cfg.JobID)
		}
	}
	return &Registry{
		st:         st,
		ledger:     ledger,
		limiter:    limiter,
		oracles:    oracles,
		engineOpts: engineOpts,
		engines:    make(map[string]*engine.Engine),
	}
}

// Create deploys a new engine instance from the given configuration,
// enforcing notional limits for both named parties.
func (r *Registry) Create(ctx context.Context, cfg model.SwapConfig) (*engine.Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.limiter != nil {
		for _, party := range []string{cfg.FixedRatePayer, cfg.FloatingRatePayer} {
			if err := r.limiter.CheckLimit(cfg.NotionalAmount, r.notionalsForLocked(party)); err != nil {
				return nil, err
			}
		}
	}

	id := uuid.New().String()
	eng, err := engine.New(id, cfg, r.ledger, r.oracles(cfg), r.engineOpts...)
	if err != nil {
		return nil, err
	}

	sw := &model.Swap{
		ID:        id,
		Config:    cfg,
		Record:    eng.Record(),
		CreatedAt: time.Now().UTC(),
	}
	if err := r.st.CreateSwap(ctx, sw); err != nil {
		return nil, fmt.Errorf("persist swap: %w", err)
	}

	r.engines[id] = eng
	r.order = append(r.order, id)
	return eng, nil
}

// Get returns the engine with the given id.
func (r *Registry) Get(id string) (*engine.Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	eng, ok := r.engines[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSwapNotFound, id)
	}
	return eng, nil
}

// Count returns the number of deployed instances.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// ByIndex returns the i-th deployed instance in creation order.
func (r *Registry) ByIndex(i int) (*engine.Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if i < 0 || i >= len(r.order) {
		return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, i)
	}
	return r.engines[r.order[i]], nil
}

// List returns all deployed instances in creation order.
func (r *Registry) List() []*engine.Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()

	engines := make([]*engine.Engine, 0, len(r.order))
	for _, id := range r.order {
		engines = append(engines, r.engines[id])
	}
	return engines
}

// notionalsForLocked maps swap id to notional for every instance the party
// is named in. Caller holds the lock.
func (r *Registry) notionalsForLocked(party string) map[string]decimal.Decimal {
	notionals := make(map[string]decimal.Decimal)
	for id, eng := range r.engines {
		cfg := eng.Config()
		if cfg.FixedRatePayer == party || cfg.FloatingRatePayer == party {
			notionals[id] = cfg.NotionalAmount
		}
	}
	return notionals
}
