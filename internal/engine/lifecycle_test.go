package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/qualitax/swap-engine/internal/engine"
	"github.com/qualitax/swap-engine/internal/model"
	"github.com/qualitax/swap-engine/internal/oracle"
	"github.com/qualitax/swap-engine/internal/settlement"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

const (
	partyA     = "party-a" // fixed-rate payer
	partyB     = "party-b" // floating-rate payer
	oracleAddr = "oracle-1"
	jobID      = "ca98366cc7314957b8c012c72f05aeeb"
)

func testConfig() model.SwapConfig {
	now := time.Now().UTC()
	return model.SwapConfig{
		TokenName:           "QualitaX Token",
		TokenSymbol:         "QTX",
		FixedRatePayer:      partyA,
		FloatingRatePayer:   partyB,
		OracleAddress:       oracleAddr,
		JobID:               jobID,
		RatesDecimals:       1,
		DayCountBasis:       0,
		SwapRate:            d(100),
		Spread:              decimal.Zero,
		NotionalAmount:      d(1000),
		SettlementFrequency: 360,
		StartingDate:        now,
		MaturityDate:        now.Add(36000 * time.Second),
		SettlementDates:     []time.Time{now.Add(2000 * time.Second), now.Add(4000 * time.Second)},
		InitialMargin:       d(100),
		TerminationFee:      d(100),
		Scale:               1,
	}
}

// testEnv creates an engine with funded, pre-approved parties and a
// controllable clock.
type testEnv struct {
	eng    *engine.Engine
	ledger *settlement.MemoryLedger
	now    time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		ledger: settlement.NewMemoryLedger(),
		now:    time.Now().UTC(),
	}

	eng, err := engine.New("swap-test", testConfig(), env.ledger,
		oracle.NewFixedAdapter(jobID),
		engine.WithClock(func() time.Time { return env.now }),
	)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	env.eng = eng

	for _, p := range []string{partyA, partyB} {
		env.ledger.Mint(p, d(200))
		env.ledger.Approve(p, eng.CustodyAccount(), d(200))
	}
	return env
}

func (env *testEnv) advance(dur time.Duration) {
	env.now = env.now.Add(dur)
}

func proposerTerms() model.TradeTerms {
	return model.TradeTerms{
		Party:          partyA,
		Counterparty:   partyB,
		TradeData:      "tradeData",
		Position:       1,
		PaymentAmount:  d(100),
		SettlementData: "settlementData",
	}
}

func confirmerTerms() model.TradeTerms {
	return model.TradeTerms{
		Party:          partyB,
		Counterparty:   partyA,
		TradeData:      "tradeData",
		Position:       -1,
		PaymentAmount:  d(-100),
		SettlementData: "settlementData",
	}
}

// checkConservation asserts custody balance == sum of live escrow records.
func checkConservation(t *testing.T, env *testEnv) {
	t.Helper()
	custody := env.eng.Escrow().CustodyBalance()
	posted := env.eng.Escrow().TotalPosted()
	if !custody.Equal(posted) {
		t.Fatalf("escrow conservation violated: custody %s, posted %s", custody, posted)
	}
}

// confirmTrade drives a fresh engine to Confirmed.
func confirmTrade(t *testing.T, env *testEnv) {
	t.Helper()
	if _, err := env.eng.Incept(proposerTerms()); err != nil {
		t.Fatalf("incept failed: %v", err)
	}
	if _, err := env.eng.Confirm(confirmerTerms()); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
}

// settleTrade drives a Confirmed engine through one valuation cycle.
func settleTrade(t *testing.T, env *testEnv, rate decimal.Decimal) {
	t.Helper()
	if _, err := env.eng.InitiateValuation(context.Background(), partyA); err != nil {
		t.Fatalf("valuation failed: %v", err)
	}
	_, err := env.eng.FulfillValuation(oracleAddr, oracle.Fulfillment{
		RequestID: env.eng.PendingRequestID(),
		Rate:      rate,
	})
	if err != nil {
		t.Fatalf("fulfill failed: %v", err)
	}
}

// --- Construction ---

func TestNew_TokenSupplySplit(t *testing.T) {
	env := newTestEnv(t)
	tokens := env.eng.Tokens()

	if !tokens.MaxSupply().Equal(d(4)) {
		t.Errorf("expected maxSupply 4, got %s", tokens.MaxSupply())
	}
	if !tokens.BalanceOf(partyA).Equal(d(2)) || !tokens.BalanceOf(partyB).Equal(d(2)) {
		t.Errorf("expected 2/2 split, got %s/%s",
			tokens.BalanceOf(partyA), tokens.BalanceOf(partyB))
	}
	if env.eng.State() != model.StateInactive {
		t.Errorf("expected initial state Inactive, got %s", env.eng.State())
	}
}

func TestNew_IdenticalPayersRejected(t *testing.T) {
	cfg := testConfig()
	cfg.FloatingRatePayer = cfg.FixedRatePayer
	_, err := engine.New("swap-bad", cfg, settlement.NewMemoryLedger(), oracle.NewFixedAdapter(jobID))
	if err == nil {
		t.Fatal("expected error for identical rate payers")
	}
}

// --- Incept ---

func TestIncept_DebitsMarginAndAdvances(t *testing.T) {
	env := newTestEnv(t)

	tr, err := env.eng.Incept(proposerTerms())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Event != model.EventTradeIncepted {
		t.Errorf("expected TradeIncepted, got %s", tr.Event)
	}
	if env.eng.State() != model.StateIncepted {
		t.Errorf("expected state Incepted, got %s", env.eng.State())
	}
	if !env.eng.Escrow().CustodyBalance().Equal(d(200)) {
		t.Errorf("expected custody 200 after incept, got %s",
			env.eng.Escrow().CustodyBalance())
	}
	record := env.eng.Record()
	if record.Initiator != partyA {
		t.Errorf("expected initiator %s, got %s", partyA, record.Initiator)
	}
	if record.Fingerprint == "" {
		t.Error("expected non-empty fingerprint")
	}
	checkConservation(t, env)
}

func TestIncept_SelfCounterpartyRejected(t *testing.T) {
	env := newTestEnv(t)
	terms := proposerTerms()
	terms.Counterparty = terms.Party

	if _, err := env.eng.Incept(terms); err == nil {
		t.Fatal("expected error when counterparty == party")
	}
	if env.eng.State() != model.StateInactive {
		t.Errorf("failed incept must not change state, got %s", env.eng.State())
	}
}

func TestIncept_StrangerRejected(t *testing.T) {
	env := newTestEnv(t)
	terms := proposerTerms()
	terms.Party = "stranger"
	terms.Counterparty = partyB

	if _, err := env.eng.Incept(terms); !errors.Is(err, engine.ErrNotParty) {
		t.Errorf("expected ErrNotParty, got %v", err)
	}
}

func TestIncept_InsufficientAllowance(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.Approve(partyA, env.eng.CustodyAccount(), d(150))

	_, err := env.eng.Incept(proposerTerms())
	var allowErr *settlement.InsufficientAllowanceError
	if !errors.As(err, &allowErr) {
		t.Fatalf("expected allowance error passed through, got %v", err)
	}
	// All-or-nothing: no record written, no funds moved.
	if env.eng.State() != model.StateInactive {
		t.Errorf("expected state Inactive, got %s", env.eng.State())
	}
	if !env.ledger.BalanceOf(partyA).Equal(d(200)) {
		t.Errorf("no funds should move on failure, balance %s", env.ledger.BalanceOf(partyA))
	}
}

func TestIncept_SecondProposalRejected(t *testing.T) {
	env := newTestEnv(t)
	env.eng.Incept(proposerTerms())

	_, err := env.eng.Incept(proposerTerms())
	var stateErr *engine.WrongTradeStateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected WrongTradeStateError, got %v", err)
	}
	if stateErr.Actual != model.StateIncepted {
		t.Errorf("expected actual state Incepted in error, got %s", stateErr.Actual)
	}
}

// --- Confirm ---

func TestConfirm_MirroredTermsAdvance(t *testing.T) {
	env := newTestEnv(t)
	env.eng.Incept(proposerTerms())

	tr, err := env.eng.Confirm(confirmerTerms())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Event != model.EventTradeConfirmed {
		t.Errorf("expected TradeConfirmed, got %s", tr.Event)
	}
	if env.eng.State() != model.StateConfirmed {
		t.Errorf("expected state Confirmed, got %s", env.eng.State())
	}
	if !env.eng.Escrow().CustodyBalance().Equal(d(400)) {
		t.Errorf("expected custody 400 after both margins, got %s",
			env.eng.Escrow().CustodyBalance())
	}
	checkConservation(t, env)
}

func TestConfirm_WithoutProposal(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.eng.Confirm(confirmerTerms())
	var stateErr *engine.WrongTradeStateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected WrongTradeStateError, got %v", err)
	}
}

func TestConfirm_MismatchedPosition(t *testing.T) {
	env := newTestEnv(t)
	env.eng.Incept(proposerTerms())

	terms := confirmerTerms()
	terms.Position = 1 // not negated

	_, err := env.eng.Confirm(terms)
	var mismatchErr *engine.InconsistentTradeDataError
	if !errors.As(err, &mismatchErr) {
		t.Fatalf("expected InconsistentTradeDataError, got %v", err)
	}
	if mismatchErr.ExpectedCounterparty != partyB {
		t.Errorf("error should name expected counterparty %s, got %s",
			partyB, mismatchErr.ExpectedCounterparty)
	}
	if env.eng.State() != model.StateIncepted {
		t.Errorf("failed confirm must leave state Incepted, got %s", env.eng.State())
	}
}

func TestConfirm_WrongAddress(t *testing.T) {
	env := newTestEnv(t)
	env.eng.Incept(proposerTerms())

	// The initiator attempting to confirm its own proposal fails the same
	// mirror comparison as inconsistent data.
	_, err := env.eng.Confirm(proposerTerms())
	var mismatchErr *engine.InconsistentTradeDataError
	if !errors.As(err, &mismatchErr) {
		t.Fatalf("expected InconsistentTradeDataError, got %v", err)
	}
}

func TestConfirm_DeadlineIsExclusive(t *testing.T) {
	env := newTestEnv(t)
	env.eng.Incept(proposerTerms())

	// Exactly at proposedAt + 3600s: already expired.
	env.advance(3600 * time.Second)

	_, err := env.eng.Confirm(confirmerTerms())
	if !errors.Is(err, engine.ErrConfirmationExpired) {
		t.Fatalf("expected ErrConfirmationExpired at deadline, got %v", err)
	}
}

func TestConfirm_JustBeforeDeadline(t *testing.T) {
	env := newTestEnv(t)
	env.eng.Incept(proposerTerms())

	env.advance(3599 * time.Second)

	if _, err := env.eng.Confirm(confirmerTerms()); err != nil {
		t.Fatalf("confirmation strictly before the deadline should succeed: %v", err)
	}
}

// --- Cancel ---

func TestCancel_RefundsAndResets(t *testing.T) {
	env := newTestEnv(t)
	env.eng.Incept(proposerTerms())

	tr, err := env.eng.Cancel(proposerTerms())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Event != model.EventTradeCanceled {
		t.Errorf("expected TradeCanceled, got %s", tr.Event)
	}
	if env.eng.State() != model.StateInactive {
		t.Errorf("expected state Inactive, got %s", env.eng.State())
	}
	// Refund restores the pre-proposal balance exactly.
	if !env.ledger.BalanceOf(partyA).Equal(d(200)) {
		t.Errorf("expected balance restored to 200, got %s", env.ledger.BalanceOf(partyA))
	}
	record := env.eng.Record()
	if record.Fingerprint != "" || record.Initiator != "" {
		t.Error("canceled record must be zeroed")
	}
	checkConservation(t, env)

	// The slot is reusable after cancellation.
	env.ledger.Approve(partyA, env.eng.CustodyAccount(), d(200))
	if _, err := env.eng.Incept(proposerTerms()); err != nil {
		t.Fatalf("re-incept after cancel should succeed: %v", err)
	}
}

func TestCancel_OnlyInitiator(t *testing.T) {
	env := newTestEnv(t)
	env.eng.Incept(proposerTerms())

	terms := proposerTerms()
	terms.Party = partyB
	if _, err := env.eng.Cancel(terms); !errors.Is(err, engine.ErrNotInitiator) {
		t.Errorf("expected ErrNotInitiator, got %v", err)
	}
}

func TestCancel_AfterConfirmationRejected(t *testing.T) {
	env := newTestEnv(t)
	confirmTrade(t, env)

	_, err := env.eng.Cancel(proposerTerms())
	var stateErr *engine.WrongTradeStateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected WrongTradeStateError after confirmation, got %v", err)
	}
	if stateErr.Actual != model.StateConfirmed {
		t.Errorf("expected actual state Confirmed in error, got %s", stateErr.Actual)
	}
}

// --- Valuation and settlement ---

func TestValuationCycle_SettlesAndConserves(t *testing.T) {
	env := newTestEnv(t)
	confirmTrade(t, env)

	tr, err := env.eng.InitiateValuation(context.Background(), partyA)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.State != model.StateValuation {
		t.Errorf("expected state Valuation, got %s", tr.State)
	}
	if env.eng.PendingRequestID() == "" {
		t.Fatal("expected pending oracle request")
	}

	// Benchmark 12.0% vs swap rate 10.0% on notional 1000: fixed payer
	// pays 20 to the floating payer inside custody.
	settled, err := env.eng.FulfillValuation(oracleAddr, oracle.Fulfillment{
		RequestID: env.eng.PendingRequestID(),
		Rate:      d(120),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.eng.State() != model.StateSettled {
		t.Errorf("expected state Settled, got %s", env.eng.State())
	}
	if !settled.Amount.Equal(d(20)) {
		t.Errorf("expected settlement amount 20, got %s", settled.Amount)
	}
	if !env.eng.Escrow().Posted(partyA).Equal(d(180)) {
		t.Errorf("fixed payer escrow should drop to 180, got %s",
			env.eng.Escrow().Posted(partyA))
	}
	if !env.eng.Escrow().Posted(partyB).Equal(d(220)) {
		t.Errorf("floating payer escrow should rise to 220, got %s",
			env.eng.Escrow().Posted(partyB))
	}
	// Custody unchanged: the transfer happened inside escrow.
	if !env.eng.Escrow().CustodyBalance().Equal(d(400)) {
		t.Errorf("custody must stay 400 across settlement, got %s",
			env.eng.Escrow().CustodyBalance())
	}
	checkConservation(t, env)
}

func TestFulfillValuation_WrongRequestID(t *testing.T) {
	env := newTestEnv(t)
	confirmTrade(t, env)
	env.eng.InitiateValuation(context.Background(), partyA)

	_, err := env.eng.FulfillValuation(oracleAddr, oracle.Fulfillment{
		RequestID: "bogus",
		Rate:      d(120),
	})
	if !errors.Is(err, engine.ErrUnknownRequest) {
		t.Errorf("expected ErrUnknownRequest, got %v", err)
	}
}

func TestFulfillValuation_WrongCaller(t *testing.T) {
	env := newTestEnv(t)
	confirmTrade(t, env)
	env.eng.InitiateValuation(context.Background(), partyA)

	_, err := env.eng.FulfillValuation(partyA, oracle.Fulfillment{
		RequestID: env.eng.PendingRequestID(),
		Rate:      d(120),
	})
	if !errors.Is(err, engine.ErrNotOracle) {
		t.Errorf("expected ErrNotOracle, got %v", err)
	}
}

func TestValuation_FromInactiveRejected(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.eng.InitiateValuation(context.Background(), partyA)
	var stateErr *engine.WrongTradeStateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected WrongTradeStateError, got %v", err)
	}
}

// --- Termination ---

func TestTermination_FeeForfeitedToCounterparty(t *testing.T) {
	env := newTestEnv(t)
	confirmTrade(t, env)

	if _, err := env.eng.RequestTermination(partyA); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.eng.State() != model.StateInTermination {
		t.Errorf("expected state InTermination, got %s", env.eng.State())
	}

	// Only the counterparty may confirm.
	if _, err := env.eng.ConfirmTermination(partyA); !errors.Is(err, engine.ErrNotParty) {
		t.Errorf("requester confirming its own termination should fail, got %v", err)
	}

	if _, err := env.eng.ConfirmTermination(partyB); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.eng.State() != model.StateTerminated {
		t.Errorf("expected state Terminated, got %s", env.eng.State())
	}
	// Requester loses its fee; counterparty gains it.
	if !env.ledger.BalanceOf(partyA).Equal(d(100)) {
		t.Errorf("expected requester balance 100, got %s", env.ledger.BalanceOf(partyA))
	}
	if !env.ledger.BalanceOf(partyB).Equal(d(300)) {
		t.Errorf("expected counterparty balance 300, got %s", env.ledger.BalanceOf(partyB))
	}
	if env.eng.Escrow().TotalPosted().IsPositive() {
		t.Error("escrow must be empty after termination")
	}
	checkConservation(t, env)
}

func TestTerminated_IsTerminal(t *testing.T) {
	env := newTestEnv(t)
	confirmTrade(t, env)
	env.eng.RequestTermination(partyA)
	env.eng.ConfirmTermination(partyB)

	if _, err := env.eng.Incept(proposerTerms()); err == nil {
		t.Error("no transition may leave Terminated")
	}
	if _, err := env.eng.InitiateValuation(context.Background(), partyA); err == nil {
		t.Error("no transition may leave Terminated")
	}
}

// --- Maturity ---

func TestMature_RefundsEverything(t *testing.T) {
	env := newTestEnv(t)
	confirmTrade(t, env)
	settleTrade(t, env, d(120))

	// Before the maturity date: rejected.
	if _, err := env.eng.Mature(partyA); !errors.Is(err, engine.ErrNotMatured) {
		t.Fatalf("expected ErrNotMatured before maturity date, got %v", err)
	}

	env.advance(40000 * time.Second)

	if _, err := env.eng.Mature(partyA); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.eng.State() != model.StateMatured {
		t.Errorf("expected state Matured, got %s", env.eng.State())
	}
	// Settlement moved 20 from A to B; full refund reflects that.
	if !env.ledger.BalanceOf(partyA).Equal(d(180)) {
		t.Errorf("expected party-a balance 180, got %s", env.ledger.BalanceOf(partyA))
	}
	if !env.ledger.BalanceOf(partyB).Equal(d(220)) {
		t.Errorf("expected party-b balance 220, got %s", env.ledger.BalanceOf(partyB))
	}
	checkConservation(t, env)

	if _, err := env.eng.Incept(proposerTerms()); err == nil {
		t.Error("no transition may leave Matured")
	}
}

// --- Reachability ---

func TestReachability_ConfirmedOnlyViaIncepted(t *testing.T) {
	env := newTestEnv(t)

	// Inactive -> Confirmed directly is impossible.
	if _, err := env.eng.Confirm(confirmerTerms()); err == nil {
		t.Fatal("Confirmed must only be reachable via Incepted")
	}

	// Inactive is reachable post-proposal only via cancellation from
	// Incepted, never from Confirmed.
	confirmTrade(t, env)
	if _, err := env.eng.Cancel(proposerTerms()); err == nil {
		t.Fatal("Inactive must never be reachable from Confirmed")
	}
}
