// Package token implements the capped-supply ownership ledger of a swap
// engine instance. The full supply is minted once at construction, split
// evenly between the fixed-rate and floating-rate payers; any later mint that
// would push total supply past the cap fails and leaves the ledger unchanged.
package token

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

var (
	ErrNonPositiveAmount    = errors.New("token: amount must be positive")
	ErrInsufficientBalance  = errors.New("token: insufficient balance")
)

// SupplyExceededMaxSupplyError reports a mint that would breach the supply
// cap, naming both the attempted new total and the cap.
type SupplyExceededMaxSupplyError struct {
	Attempted decimal.Decimal
	Max       decimal.Decimal
}

func (e *SupplyExceededMaxSupplyError) Error() string {
	return fmt.Sprintf("token: supply exceeded max supply (attempted %s, max %s)",
		e.Attempted, e.Max)
}

// unitsPerPayer is the whole-unit allocation each rate payer receives at
// construction, before scaling.
var unitsPerPayer = decimal.NewFromInt(2)

// Ledger is a transferable balance ledger with a fixed supply cap.
type Ledger struct {
	name   string
	symbol string

	mu          sync.RWMutex
	balances    map[string]decimal.Decimal
	totalSupply decimal.Decimal
	maxSupply   decimal.Decimal
}

// NewLedger constructs the ledger and performs the one-time construction
// mint: maxSupply/2 to each rate payer. maxSupply is fixed from the scale
// parameter: two whole units per payer, scaled.
func NewLedger(name, symbol, fixedRatePayer, floatingRatePayer string, scale int64) *Ledger {
	perPayer := unitsPerPayer.Mul(decimal.NewFromInt(scale))
	l := &Ledger{
		name:      name,
		symbol:    symbol,
		balances:  make(map[string]decimal.Decimal),
		maxSupply: perPayer.Mul(decimal.NewFromInt(2)),
	}
	// Construction mint is the only path that reaches the cap.
	l.balances[fixedRatePayer] = perPayer
	l.balances[floatingRatePayer] = l.balances[floatingRatePayer].Add(perPayer)
	l.totalSupply = l.maxSupply
	return l
}

// Name returns the token name.
func (l *Ledger) Name() string { return l.name }

// Symbol returns the token symbol.
func (l *Ledger) Symbol() string { return l.symbol }

// MaxSupply returns the immutable supply cap.
func (l *Ledger) MaxSupply() decimal.Decimal { return l.maxSupply }

// TotalSupply returns the current minted supply.
func (l *Ledger) TotalSupply() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totalSupply
}

// BalanceOf returns a holder's balance.
func (l *Ledger) BalanceOf(holder string) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[holder]
}

// Mint issues new units to a holder. Fails with
// SupplyExceededMaxSupplyError when the new total would exceed the cap;
// total supply is unchanged on failure.
func (l *Ledger) Mint(to string, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrNonPositiveAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	attempted := l.totalSupply.Add(amount)
	if attempted.GreaterThan(l.maxSupply) {
		return &SupplyExceededMaxSupplyError{Attempted: attempted, Max: l.maxSupply}
	}

	l.balances[to] = l.balances[to].Add(amount)
	l.totalSupply = attempted
	return nil
}

// Transfer moves units between holders. Balances never go negative; total
// supply is conserved.
func (l *Ledger) Transfer(from, to string, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrNonPositiveAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.balances[from].LessThan(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s",
			ErrInsufficientBalance, from, l.balances[from], amount)
	}
	l.balances[from] = l.balances[from].Sub(amount)
	l.balances[to] = l.balances[to].Add(amount)
	return nil
}
