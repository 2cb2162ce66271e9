package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/qualitax/swap-engine/internal/model"
)

var (
	// ErrConfirmationExpired is returned when confirmation is attempted at
	// or after the deadline. Not recoverable by retry; the initiator must
	// cancel and re-propose.
	ErrConfirmationExpired = errors.New("engine: confirmation deadline expired")

	// ErrNotInitiator is returned when someone other than the proposal's
	// initiator attempts to cancel.
	ErrNotInitiator = errors.New("engine: only the initiator may cancel")

	// ErrNotParty is returned when the caller is not one of the two
	// configured rate payers.
	ErrNotParty = errors.New("engine: caller is not a party to this swap")

	// ErrNotOracle is returned when a rate fulfillment arrives from an
	// address other than the configured oracle.
	ErrNotOracle = errors.New("engine: fulfillment not from configured oracle")

	// ErrUnknownRequest is returned when a fulfillment does not match the
	// pending oracle request.
	ErrUnknownRequest = errors.New("engine: fulfillment does not match pending request")

	// ErrNotMatured is returned when maturity is declared before the
	// configured maturity date.
	ErrNotMatured = errors.New("engine: maturity date not reached")
)

// WrongTradeStateError reports an operation invoked outside its required
// trade state.
type WrongTradeStateError struct {
	Expected []model.TradeState
	Actual   model.TradeState
}

func (e *WrongTradeStateError) Error() string {
	names := make([]string, len(e.Expected))
	for i, s := range e.Expected {
		names[i] = s.String()
	}
	return fmt.Sprintf("engine: trade state is not %s (currently %s)",
		strings.Join(names, " or "), e.Actual)
}

// InconsistentTradeDataError reports a confirmation whose terms do not
// mirror the stored proposal. A wrong confirming address and genuinely
// inconsistent data are indistinguishable at the fingerprint level, so both
// surface as this one condition; the expected counterparty and the
// submitted digest are included for diagnosis.
type InconsistentTradeDataError struct {
	ExpectedCounterparty string
	SubmittedDigest      string
}

func (e *InconsistentTradeDataError) Error() string {
	return fmt.Sprintf("engine: inconsistent trade data or wrong address (expected counterparty %s, submitted digest %s)",
		e.ExpectedCounterparty, e.SubmittedDigest)
}

func wrongState(actual model.TradeState, expected ...model.TradeState) error {
	return &WrongTradeStateError{Expected: expected, Actual: actual}
}
