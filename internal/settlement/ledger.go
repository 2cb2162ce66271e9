// Package settlement defines the external settlement-asset ledger the margin
// escrow pulls collateral from. The engine only ever references this asset
// through allowance-based pulls; it never owns the ledger itself.
//
// MemoryLedger is the in-process implementation used in local mode and
// tests. A deployed instance would back the interface with the real asset
// ledger instead.
package settlement

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

var ErrNonPositiveAmount = errors.New("settlement: amount must be positive")

// InsufficientAllowanceError is returned by TransferFrom when the spender's
// allowance does not cover the requested amount. It passes through the
// escrow unchanged, naming the party, the current allowance, and the
// required amount.
type InsufficientAllowanceError struct {
	Party     string
	Allowance decimal.Decimal
	Required  decimal.Decimal
}

func (e *InsufficientAllowanceError) Error() string {
	return fmt.Sprintf("settlement: insufficient allowance from %s (allowance %s, required %s)",
		e.Party, e.Allowance, e.Required)
}

// InsufficientBalanceError is returned when a transfer exceeds the owner's
// balance.
type InsufficientBalanceError struct {
	Party    string
	Balance  decimal.Decimal
	Required decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("settlement: insufficient balance for %s (balance %s, required %s)",
		e.Party, e.Balance, e.Required)
}

// Ledger is the fungible settlement-asset contract surface the escrow
// depends on. Mint exists for test and local setup only.
type Ledger interface {
	BalanceOf(holder string) decimal.Decimal
	Approve(owner, spender string, amount decimal.Decimal) error
	Allowance(owner, spender string) decimal.Decimal
	Transfer(from, to string, amount decimal.Decimal) error
	TransferFrom(spender, from, to string, amount decimal.Decimal) error
	Mint(to string, amount decimal.Decimal) error
}

// MemoryLedger implements Ledger with in-memory maps.
type MemoryLedger struct {
	mu         sync.RWMutex
	balances   map[string]decimal.Decimal
	allowances map[string]map[string]decimal.Decimal // owner -> spender -> amount
}

// NewMemoryLedger creates an empty in-memory settlement ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances:   make(map[string]decimal.Decimal),
		allowances: make(map[string]map[string]decimal.Decimal),
	}
}

func (l *MemoryLedger) BalanceOf(holder string) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[holder]
}

func (l *MemoryLedger) Approve(owner, spender string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrNonPositiveAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.allowances[owner] == nil {
		l.allowances[owner] = make(map[string]decimal.Decimal)
	}
	l.allowances[owner][spender] = amount
	return nil
}

func (l *MemoryLedger) Allowance(owner, spender string) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.allowances[owner][spender]
}

func (l *MemoryLedger) Transfer(from, to string, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrNonPositiveAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(from, to, amount)
}

// TransferFrom is the owner-authorized pull: the spender moves funds out of
// the owner's balance within the approved allowance. Allowance and balance
// checks happen before any mutation; a failure leaves everything unchanged.
func (l *MemoryLedger) TransferFrom(spender, from, to string, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrNonPositiveAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	allowance := l.allowances[from][spender]
	if allowance.LessThan(amount) {
		return &InsufficientAllowanceError{Party: from, Allowance: allowance, Required: amount}
	}
	if err := l.move(from, to, amount); err != nil {
		return err
	}
	l.allowances[from][spender] = allowance.Sub(amount)
	return nil
}

func (l *MemoryLedger) Mint(to string, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrNonPositiveAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.balances[to] = l.balances[to].Add(amount)
	return nil
}

// move transfers balance between holders. Caller holds the lock.
func (l *MemoryLedger) move(from, to string, amount decimal.Decimal) error {
	if l.balances[from].LessThan(amount) {
		return &InsufficientBalanceError{Party: from, Balance: l.balances[from], Required: amount}
	}
	l.balances[from] = l.balances[from].Sub(amount)
	l.balances[to] = l.balances[to].Add(amount)
	return nil
}
