// Package risk enforces notional ceilings at swap-instance creation.
//
// Engine instances share no state, so a party can accumulate exposure by
// appearing in many instances. This package bounds both the notional of any
// single swap and a party's aggregate notional across every instance it is
// named in.
package risk

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrPerSwapLimitExceeded is returned when one swap's notional exceeds
	// the per-swap maximum.
	ErrPerSwapLimitExceeded = errors.New("risk: per-swap notional limit exceeded")

	// ErrAggregateLimitExceeded is returned when a party's total notional
	// across all instances would exceed the aggregate maximum.
	ErrAggregateLimitExceeded = errors.New("risk: aggregate notional limit exceeded")
)

// NotionalLimiter enforces per-swap and per-party aggregate notional limits.
type NotionalLimiter struct {
	// MaxPerSwap is the maximum notional of any single swap instance.
	MaxPerSwap decimal.Decimal

	// MaxAggregate is the maximum total notional a single party may carry
	// across all instances it appears in.
	MaxAggregate decimal.Decimal
}

// NewNotionalLimiter creates a limiter with the given per-swap and
// aggregate ceilings.
func NewNotionalLimiter(maxPerSwap, maxAggregate decimal.Decimal) *NotionalLimiter {
	return &NotionalLimiter{
		MaxPerSwap:   maxPerSwap,
		MaxAggregate: maxAggregate,
	}
}

// CheckLimit validates a new swap's notional against both ceilings.
//
// Parameters:
//   - notional: the proposed swap's notional amount
//   - existingNotionals: swap id → notional for instances the party is
//     already named in
//
// Returns nil if within limits, or an error describing the violation.
func (l *NotionalLimiter) CheckLimit(
	notional decimal.Decimal,
	existingNotionals map[string]decimal.Decimal,
) error {
	if notional.GreaterThan(l.MaxPerSwap) {
		return ErrPerSwapLimitExceeded
	}

	total := notional
	for _, n := range existingNotionals {
		total = total.Add(n)
	}
	if total.GreaterThan(l.MaxAggregate) {
		return ErrAggregateLimitExceeded
	}

	return nil
}
