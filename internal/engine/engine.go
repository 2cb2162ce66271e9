// Package engine implements the trade lifecycle state machine of one swap
// instance, together with the HTTP handlers that expose it.
//
// One instance owns exactly one mutable trade slot. Every operation is
// serialized behind the instance mutex and is all-or-nothing: validation and
// the margin pull happen before any record mutation, so a failed sub-step
// leaves no observable change.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/qualitax/swap-engine/internal/escrow"
	"github.com/qualitax/swap-engine/internal/model"
	"github.com/qualitax/swap-engine/internal/oracle"
	"github.com/qualitax/swap-engine/internal/settlement"
	"github.com/qualitax/swap-engine/internal/terms"
	"github.com/qualitax/swap-engine/internal/token"
	"github.com/qualitax/swap-engine/internal/valuation"
)

// DefaultConfirmationWindow is how long a proposal stays confirmable,
// measured from the moment of inception. The deadline is an exclusive upper
// bound: confirmation exactly at proposedAt + window already fails.
const DefaultConfirmationWindow = 3600 * time.Second

// Transition is the outcome of a successful lifecycle operation, consumed
// by the service layer for persistence, metrics, and broadcasting.
type Transition struct {
	Event  string
	Party  string
	State  model.TradeState
	Amount decimal.Decimal // escrow delta of this transition, zero if none
}

// Engine drives the lifecycle of a single bilaterally-negotiated swap.
type Engine struct {
	id      string
	cfg     model.SwapConfig
	tokens  *token.Ledger
	escrow  *escrow.Escrow
	adapter oracle.Adapter
	calc    *valuation.Calculator

	window time.Duration
	now    func() time.Time

	mu                   sync.Mutex
	record               model.TradeRecord
	pendingRequestID     string
	settledPeriods       int
	terminationRequester string
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithClock overrides the engine clock. Used by tests to exercise the
// confirmation deadline.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithConfirmationWindow overrides the confirmation window.
func WithConfirmationWindow(w time.Duration) Option {
	return func(e *Engine) { e.window = w }
}

// New constructs an engine instance from its immutable configuration,
// minting the full ownership-token supply split between the two rate payers
// and opening symmetric margin accounts against the settlement ledger.
func New(id string, cfg model.SwapConfig, ledger settlement.Ledger, adapter oracle.Adapter, opts ...Option) (*Engine, error) {
	if cfg.FixedRatePayer == "" || cfg.FloatingRatePayer == "" {
		return nil, fmt.Errorf("engine: both rate payers must be named")
	}
	if cfg.FixedRatePayer == cfg.FloatingRatePayer {
		return nil, fmt.Errorf("engine: rate payers must differ")
	}
	if cfg.Scale <= 0 {
		cfg.Scale = 1
	}

	calc, err := valuation.NewCalculator(
		cfg.NotionalAmount, cfg.SwapRate, cfg.Spread,
		cfg.RatesDecimals, cfg.DayCountBasis, cfg.SettlementFrequency,
	)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		id:      id,
		cfg:     cfg,
		tokens:  token.NewLedger(cfg.TokenName, cfg.TokenSymbol, cfg.FixedRatePayer, cfg.FloatingRatePayer, cfg.Scale),
		escrow:  escrow.New(ledger, custodyAccount(id), cfg.FixedRatePayer, cfg.FloatingRatePayer, cfg.InitialMargin, cfg.TerminationFee),
		adapter: adapter,
		calc:    calc,
		window:  DefaultConfirmationWindow,
		now:     time.Now,
		record:  model.TradeRecord{State: model.StateInactive},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// custodyAccount names the settlement-ledger account holding an instance's
// escrowed funds.
func custodyAccount(id string) string { return "swap:" + id }

// ID returns the instance id.
func (e *Engine) ID() string { return e.id }

// Config returns the immutable construction configuration.
func (e *Engine) Config() model.SwapConfig { return e.cfg }

// Tokens returns the instance's ownership-token ledger.
func (e *Engine) Tokens() *token.Ledger { return e.tokens }

// Escrow returns the instance's margin escrow.
func (e *Engine) Escrow() *escrow.Escrow { return e.escrow }

// CustodyAccount returns the settlement-ledger account escrow pulls into.
func (e *Engine) CustodyAccount() string { return custodyAccount(e.id) }

// Record returns a snapshot of the current trade record.
func (e *Engine) Record() model.TradeRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.record
}

// State returns the current trade state.
func (e *Engine) State() model.TradeState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.record.State
}

// counterpartyOf maps one rate payer to the other.
func (e *Engine) counterpartyOf(party string) string {
	if party == e.cfg.FixedRatePayer {
		return e.cfg.FloatingRatePayer
	}
	return e.cfg.FixedRatePayer
}

func (e *Engine) isParty(addr string) bool {
	return addr == e.cfg.FixedRatePayer || addr == e.cfg.FloatingRatePayer
}

// Incept proposes a trade. Only reachable from Inactive; the caller must be
// one of the two configured rate payers and must name the other as
// counterparty. The caller's margin is pulled before the record is written.
func (e *Engine) Incept(t model.TradeTerms) (*Transition, error) {
	if err := terms.Validate(t); err != nil {
		return nil, err
	}
	if !e.isParty(t.Party) || t.Counterparty != e.counterpartyOf(t.Party) {
		return nil, fmt.Errorf("%w: %s", ErrNotParty, t.Party)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.record.State != model.StateInactive {
		return nil, wrongState(e.record.State, model.StateInactive)
	}

	posted, err := e.escrow.PostMargin(t.Party)
	if err != nil {
		return nil, err
	}

	e.record = model.TradeRecord{
		State:       model.StateIncepted,
		Fingerprint: terms.Fingerprint(t),
		Initiator:   t.Party,
		ProposedAt:  e.now(),
	}
	return &Transition{
		Event:  model.EventTradeIncepted,
		Party:  t.Party,
		State:  model.StateIncepted,
		Amount: posted,
	}, nil
}

// Confirm accepts a pending proposal. Only reachable from Incepted, only
// within the confirmation window, and only with terms that exactly mirror
// the stored proposal: swapped roles, negated position and payment amount,
// identical data blobs. A wrong confirming address fails the same
// fingerprint comparison as inconsistent data.
func (e *Engine) Confirm(t model.TradeTerms) (*Transition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.record.State != model.StateIncepted {
		return nil, wrongState(e.record.State, model.StateIncepted)
	}

	deadline := e.record.ProposedAt.Add(e.window)
	if !e.now().Before(deadline) {
		return nil, ErrConfirmationExpired
	}

	if !terms.MatchesProposal(e.record.Fingerprint, t) {
		return nil, &InconsistentTradeDataError{
			ExpectedCounterparty: e.counterpartyOf(e.record.Initiator),
			SubmittedDigest:      terms.Fingerprint(t),
		}
	}

	posted, err := e.escrow.PostMargin(t.Party)
	if err != nil {
		return nil, err
	}

	e.record.State = model.StateConfirmed
	return &Transition{
		Event:  model.EventTradeConfirmed,
		Party:  t.Party,
		State:  model.StateConfirmed,
		Amount: posted,
	}, nil
}

// Cancel withdraws a non-confirmed proposal. Only the initiator may cancel,
// only from Incepted (explicitly including "not after confirmation"), and
// only by resubmitting the original terms. The initiator's escrow is
// refunded and the record reset to its zeroed form.
func (e *Engine) Cancel(t model.TradeTerms) (*Transition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.record.State != model.StateIncepted {
		return nil, wrongState(e.record.State, model.StateIncepted)
	}
	if t.Party != e.record.Initiator {
		return nil, fmt.Errorf("%w: %s", ErrNotInitiator, t.Party)
	}
	if terms.Fingerprint(t) != e.record.Fingerprint {
		return nil, &InconsistentTradeDataError{
			ExpectedCounterparty: e.counterpartyOf(e.record.Initiator),
			SubmittedDigest:      terms.Fingerprint(t),
		}
	}

	refunded, err := e.escrow.RefundMargin(t.Party)
	if err != nil {
		return nil, err
	}

	e.record.Reset()
	return &Transition{
		Event:  model.EventTradeCanceled,
		Party:  t.Party,
		State:  model.StateInactive,
		Amount: refunded.Neg(),
	}, nil
}

// InitiateValuation begins a settlement period by requesting the benchmark
// rate from the oracle. Reachable from Confirmed (first period) or Settled
// (subsequent periods).
func (e *Engine) InitiateValuation(ctx context.Context, party string) (*Transition, error) {
	if !e.isParty(party) {
		return nil, fmt.Errorf("%w: %s", ErrNotParty, party)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.record.State != model.StateConfirmed && e.record.State != model.StateSettled {
		return nil, wrongState(e.record.State, model.StateConfirmed, model.StateSettled)
	}

	requestID, err := e.adapter.RequestRate(ctx, e.cfg.JobID)
	if err != nil {
		return nil, err
	}

	e.pendingRequestID = requestID
	e.record.State = model.StateValuation
	return &Transition{
		Event: model.EventValuationBegun,
		Party: party,
		State: model.StateValuation,
	}, nil
}

// PendingRequestID returns the oracle request awaiting fulfillment, empty
// when none is pending.
func (e *Engine) PendingRequestID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pendingRequestID
}

// FulfillValuation settles the current period from an oracle response. The
// caller must be the configured oracle address and the fulfillment must
// echo the pending request id. The settlement amount moves between the
// parties' margin buffers inside custody, so escrow conservation holds
// across the transfer.
func (e *Engine) FulfillValuation(caller string, f oracle.Fulfillment) (*Transition, error) {
	if caller != e.cfg.OracleAddress {
		return nil, fmt.Errorf("%w: %s", ErrNotOracle, caller)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.record.State != model.StateValuation {
		return nil, wrongState(e.record.State, model.StateValuation)
	}
	if f.RequestID == "" || f.RequestID != e.pendingRequestID {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRequest, f.RequestID)
	}

	e.record.State = model.StateInTransfer

	// Positive amount: fixed-rate payer pays the floating-rate payer.
	amount := e.calc.SettlementAmount(f.Rate)
	moved, err := e.escrow.TransferBetween(e.cfg.FixedRatePayer, e.cfg.FloatingRatePayer, amount)
	if err != nil {
		// Transfer failures are structural (unknown party, nothing
		// posted) and unreachable from Valuation; surface them anyway.
		e.record.State = model.StateValuation
		return nil, err
	}

	e.pendingRequestID = ""
	e.settledPeriods++
	e.record.State = model.StateSettled
	return &Transition{
		Event:  model.EventTradeSettled,
		Party:  caller,
		State:  model.StateSettled,
		Amount: moved,
	}, nil
}

// SettledPeriods returns how many settlement periods have completed.
func (e *Engine) SettledPeriods() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settledPeriods
}

// RequestTermination opens the mutual-termination branch from Confirmed or
// Settled. The requester's termination fee will be forfeited to the
// counterparty once the counterparty confirms.
func (e *Engine) RequestTermination(party string) (*Transition, error) {
	if !e.isParty(party) {
		return nil, fmt.Errorf("%w: %s", ErrNotParty, party)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.record.State != model.StateConfirmed && e.record.State != model.StateSettled {
		return nil, wrongState(e.record.State, model.StateConfirmed, model.StateSettled)
	}

	e.terminationRequester = party
	e.record.State = model.StateInTermination
	return &Transition{
		Event: model.EventTerminationRequested,
		Party: party,
		State: model.StateInTermination,
	}, nil
}

// ConfirmTermination completes mutual termination. Only the non-requesting
// party may confirm. The requester forfeits its termination fee to the
// counterparty; all remaining escrow is refunded. Terminated is terminal.
func (e *Engine) ConfirmTermination(party string) (*Transition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.record.State != model.StateInTermination {
		return nil, wrongState(e.record.State, model.StateInTermination)
	}
	if party != e.counterpartyOf(e.terminationRequester) {
		return nil, fmt.Errorf("%w: %s", ErrNotParty, party)
	}

	if _, err := e.escrow.ForfeitFee(e.terminationRequester, party); err != nil {
		return nil, err
	}
	released := e.escrow.TotalPosted()
	if err := e.escrow.RefundAll(); err != nil {
		return nil, err
	}

	e.record.State = model.StateTerminated
	e.record.Fingerprint = ""
	return &Transition{
		Event:  model.EventTradeTerminated,
		Party:  party,
		State:  model.StateTerminated,
		Amount: released.Neg(),
	}, nil
}

// Mature closes a settled trade after the final settlement date. All
// escrowed amounts, termination fees included, return to their owners.
// Matured is terminal.
func (e *Engine) Mature(party string) (*Transition, error) {
	if !e.isParty(party) {
		return nil, fmt.Errorf("%w: %s", ErrNotParty, party)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.record.State != model.StateSettled {
		return nil, wrongState(e.record.State, model.StateSettled)
	}
	if e.now().Before(e.cfg.MaturityDate) {
		return nil, ErrNotMatured
	}

	released := e.escrow.TotalPosted()
	if err := e.escrow.RefundAll(); err != nil {
		return nil, err
	}

	e.record.State = model.StateMatured
	e.record.Fingerprint = ""
	return &Transition{
		Event:  model.EventTradeMatured,
		Party:  party,
		State:  model.StateMatured,
		Amount: released.Neg(),
	}, nil
}
