// Package model defines the core domain types shared across the swap engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeState enumerates the lifecycle states of the single trade slot held
// by one swap-engine instance.
type TradeState int

const (
	StateInactive TradeState = iota
	StateIncepted
	StateConfirmed
	StateValuation
	StateInTransfer
	StateSettled
	StateInTermination
	StateTerminated
	StateMatured
)

var stateNames = map[TradeState]string{
	StateInactive:      "Inactive",
	StateIncepted:      "Incepted",
	StateConfirmed:     "Confirmed",
	StateValuation:     "Valuation",
	StateInTransfer:    "InTransfer",
	StateSettled:       "Settled",
	StateInTermination: "InTermination",
	StateTerminated:    "Terminated",
	StateMatured:       "Matured",
}

func (s TradeState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "Unknown"
}

// Terminal reports whether no further transition may leave this state.
func (s TradeState) Terminal() bool {
	return s == StateTerminated || s == StateMatured
}

// TradeTerms carries the negotiated parameters of one proposal leg.
// A confirming party's terms must be the exact mirror of the proposer's:
// swapped party roles, negated position and payment amount, identical blobs.
type TradeTerms struct {
	Party          string          `json:"party"` // authenticated caller
	Counterparty   string          `json:"counterparty"`
	TradeData      string          `json:"trade_data"` // opaque blob
	Position       int             `json:"position"`   // +1 long / -1 short
	PaymentAmount  decimal.Decimal `json:"payment_amount"`
	SettlementData string          `json:"settlement_data"` // opaque blob
}

// Mirror returns the terms the counterparty is expected to submit on confirm.
func (t TradeTerms) Mirror() TradeTerms {
	return TradeTerms{
		Party:          t.Counterparty,
		Counterparty:   t.Party,
		TradeData:      t.TradeData,
		Position:       -t.Position,
		PaymentAmount:  t.PaymentAmount.Neg(),
		SettlementData: t.SettlementData,
	}
}

// TradeRecord is the single mutable trade slot of one engine instance.
// It stores a fingerprint of the proposed terms rather than the full struct.
type TradeRecord struct {
	State       TradeState `json:"state"`
	Fingerprint string     `json:"fingerprint"`
	Initiator   string     `json:"initiator"`
	ProposedAt  time.Time  `json:"proposed_at"`
}

// Reset returns the record to its zeroed, Inactive form.
func (r *TradeRecord) Reset() {
	*r = TradeRecord{State: StateInactive}
}

// MarginAccount holds one party's escrow requirement. Both components are
// fixed at construction; the escrowed amount while a trade is open equals
// MarginBuffer + TerminationFee.
type MarginAccount struct {
	Party          string          `json:"party"`
	MarginBuffer   decimal.Decimal `json:"margin_buffer"`
	TerminationFee decimal.Decimal `json:"termination_fee"`
}

// Required returns the total escrow a party must post.
func (a MarginAccount) Required() decimal.Decimal {
	return a.MarginBuffer.Add(a.TerminationFee)
}

// SwapConfig is the construction-time configuration of one engine instance.
// Immutable after construction: it fixes the token supply cap, the per-party
// margin requirement, and the settlement schedule.
type SwapConfig struct {
	TokenName           string          `json:"token_name"`
	TokenSymbol         string          `json:"token_symbol"`
	FixedRatePayer      string          `json:"fixed_rate_payer"`
	FloatingRatePayer   string          `json:"floating_rate_payer"`
	OracleAddress       string          `json:"oracle_address"`
	JobID               string          `json:"job_id"`
	RatesDecimals       int             `json:"rates_decimals"`
	DayCountBasis       int             `json:"day_count_basis"` // 0 = ACT/360
	SwapRate            decimal.Decimal `json:"swap_rate"`
	Spread              decimal.Decimal `json:"spread"`
	NotionalAmount      decimal.Decimal `json:"notional_amount"`
	SettlementFrequency int             `json:"settlement_frequency"` // days
	StartingDate        time.Time       `json:"starting_date"`
	MaturityDate        time.Time       `json:"maturity_date"`
	SettlementDates     []time.Time     `json:"settlement_dates"`
	InitialMargin       decimal.Decimal `json:"initial_margin"`
	TerminationFee      decimal.Decimal `json:"termination_fee"`
	Scale               int64           `json:"scale"`
}

// Swap is the persisted view of one engine instance: its immutable config
// plus the current trade-record snapshot.
type Swap struct {
	ID        string      `json:"id" db:"id"`
	Config    SwapConfig  `json:"config" db:"config"`
	Record    TradeRecord `json:"record" db:"record"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
}

// Lifecycle event types, one per successful transition.
const (
	EventTradeIncepted        = "TradeIncepted"
	EventTradeConfirmed       = "TradeConfirmed"
	EventTradeCanceled        = "TradeCanceled"
	EventValuationBegun       = "ValuationBegun"
	EventTradeSettled         = "TradeSettled"
	EventTerminationRequested = "TerminationRequested"
	EventTradeTerminated      = "TradeTerminated"
	EventTradeMatured         = "TradeMatured"
)

// LifecycleEvent is an immutable record of a successful state transition.
// Once created, these are never modified or deleted.
type LifecycleEvent struct {
	ID        string          `json:"id" db:"id"`
	SwapID    string          `json:"swap_id" db:"swap_id"`
	Type      string          `json:"type" db:"type"`
	Party     string          `json:"party" db:"party"`
	State     TradeState      `json:"state" db:"state"`
	Amount    decimal.Decimal `json:"amount" db:"amount"` // escrow delta, zero if none
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}
