// Package escrow implements margin custody for one swap-engine instance.
//
// Each party must escrow marginBuffer + terminationFee before its side of
// the trade goes live. Funds are pulled from the external settlement ledger
// through an allowance-based TransferFrom into the engine's custody account.
// Core invariant: the custody account's settlement balance always equals the
// sum of live parties' escrowed amounts.
package escrow

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/qualitax/swap-engine/internal/model"
	"github.com/qualitax/swap-engine/internal/settlement"
)

var (
	ErrUnknownParty  = errors.New("escrow: party has no margin account")
	ErrAlreadyPosted = errors.New("escrow: margin already posted")
	ErrNothingPosted = errors.New("escrow: no margin posted")
)

// Escrow custodies both parties' margin for a single engine instance.
type Escrow struct {
	ledger  settlement.Ledger
	custody string // settlement-ledger account holding escrowed funds

	mu       sync.Mutex
	accounts map[string]model.MarginAccount
	posted   map[string]decimal.Decimal // party -> currently escrowed amount
}

// New creates the escrow with symmetric margin accounts for both parties.
// The requirements are fixed for the instance's lifetime.
func New(ledger settlement.Ledger, custody, fixedRatePayer, floatingRatePayer string, initialMargin, terminationFee decimal.Decimal) *Escrow {
	accounts := map[string]model.MarginAccount{
		fixedRatePayer: {
			Party:          fixedRatePayer,
			MarginBuffer:   initialMargin,
			TerminationFee: terminationFee,
		},
		floatingRatePayer: {
			Party:          floatingRatePayer,
			MarginBuffer:   initialMargin,
			TerminationFee: terminationFee,
		},
	}
	return &Escrow{
		ledger:   ledger,
		custody:  custody,
		accounts: accounts,
		posted:   make(map[string]decimal.Decimal),
	}
}

// MarginRequirement returns (marginBuffer, terminationFee) for a party.
func (e *Escrow) MarginRequirement(party string) (decimal.Decimal, decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	acct, ok := e.accounts[party]
	if !ok {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownParty, party)
	}
	return acct.MarginBuffer, acct.TerminationFee, nil
}

// PostMargin pulls exactly marginBuffer + terminationFee from the party into
// custody. Requires a pre-existing allowance of at least that amount on the
// settlement ledger; an insufficient allowance surfaces the ledger's error
// unchanged. A party cannot post twice for the same open trade.
func (e *Escrow) PostMargin(party string) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	acct, ok := e.accounts[party]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownParty, party)
	}
	if e.posted[party].IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrAlreadyPosted, party)
	}

	required := acct.Required()
	if err := e.ledger.TransferFrom(e.custody, party, e.custody, required); err != nil {
		return decimal.Zero, err
	}
	e.posted[party] = required
	return required, nil
}

// RefundMargin returns a party's full escrowed amount and zeroes its record.
func (e *Escrow) RefundMargin(party string) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.refundLocked(party)
}

func (e *Escrow) refundLocked(party string) (decimal.Decimal, error) {
	amount := e.posted[party]
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNothingPosted, party)
	}
	if err := e.ledger.Transfer(e.custody, party, amount); err != nil {
		return decimal.Zero, err
	}
	e.posted[party] = decimal.Zero
	return amount, nil
}

// TransferBetween moves settlement proceeds between the two parties' escrow
// records without leaving custody. The amount is capped at the payer's
// margin buffer; the termination fee portion is untouchable until
// termination or maturity. Returns the amount actually moved.
func (e *Escrow) TransferBetween(from, to string, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.IsNegative() {
		from, to = to, from
		amount = amount.Neg()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	fromAcct, ok := e.accounts[from]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownParty, from)
	}
	if _, ok := e.accounts[to]; !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownParty, to)
	}
	if !e.posted[from].IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNothingPosted, from)
	}

	if amount.GreaterThan(fromAcct.MarginBuffer) {
		amount = fromAcct.MarginBuffer
	}
	available := e.posted[from].Sub(fromAcct.TerminationFee)
	if amount.GreaterThan(available) {
		amount = available
	}
	if !amount.IsPositive() {
		return decimal.Zero, nil
	}

	e.posted[from] = e.posted[from].Sub(amount)
	e.posted[to] = e.posted[to].Add(amount)
	return amount, nil
}

// ForfeitFee moves the payer's termination fee to the counterparty's escrow
// record. Used when a party requests early termination; released to the
// counterparty with its refund.
func (e *Escrow) ForfeitFee(from, to string) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	fromAcct, ok := e.accounts[from]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownParty, from)
	}
	fee := fromAcct.TerminationFee
	if e.posted[from].LessThan(fee) {
		fee = e.posted[from]
	}
	if !fee.IsPositive() {
		return decimal.Zero, nil
	}

	e.posted[from] = e.posted[from].Sub(fee)
	e.posted[to] = e.posted[to].Add(fee)
	return fee, nil
}

// RefundAll returns every party's remaining escrow. Used on termination and
// maturity, the only points where termination fees leave custody.
func (e *Escrow) RefundAll() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for party := range e.accounts {
		if e.posted[party].IsPositive() {
			if _, err := e.refundLocked(party); err != nil {
				return err
			}
		}
	}
	return nil
}

// Posted returns the amount currently escrowed for a party.
func (e *Escrow) Posted(party string) decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.posted[party]
}

// TotalPosted returns the sum of all live escrow records. Must always equal
// the custody account's settlement balance.
func (e *Escrow) TotalPosted() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()

	total := decimal.Zero
	for _, amt := range e.posted {
		total = total.Add(amt)
	}
	return total
}

// CustodyBalance reads the custody account's balance on the settlement
// ledger, for invariant checks.
func (e *Escrow) CustodyBalance() decimal.Decimal {
	return e.ledger.BalanceOf(e.custody)
}
