// Package valuation implements the settlement-amount math for an
// interest-rate swap period.
//
// The fixed-rate payer pays swapRate on the notional; the floating-rate
// payer pays benchmarkRate + spread. The net settlement amount for one
// period is
//
//	notional × (benchmarkRate + spread − swapRate) / (10^ratesDecimals × 100) × dayCountFraction
//
// A positive amount flows from the fixed-rate payer to the floating-rate
// payer; negative reverses direction.
//
// All monetary values use shopspring/decimal — never float64 for money.
// Rates arrive as scaled integers from the benchmark oracle: a rate of 100
// at ratesDecimals 1 means 10.0%.
package valuation

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidNotional is returned when the notional is not positive.
	ErrInvalidNotional = errors.New("valuation: notional must be positive")

	// ErrInvalidFrequency is returned when the settlement frequency is not
	// positive.
	ErrInvalidFrequency = errors.New("valuation: settlement frequency must be positive")
)

// Day-count bases.
const (
	DayCountAct360 = 0
	DayCountAct365 = 1
)

// AmountScale is the number of decimal places for settlement rounding.
const AmountScale int32 = 8

// Calculator computes period settlement amounts for one swap configuration.
// It is stateless — the benchmark rate is passed per call, not stored.
type Calculator struct {
	notional      decimal.Decimal
	swapRate      decimal.Decimal
	spread        decimal.Decimal
	rateScale     decimal.Decimal // 10^ratesDecimals × 100, scaled rate -> fraction
	dayCountBasis int
	frequency     int // period length in days
}

// NewCalculator creates a settlement calculator from construction-time swap
// parameters. Rates are scaled integers: a swapRate of 100 at ratesDecimals
// 1 means 10.0%.
func NewCalculator(notional, swapRate, spread decimal.Decimal, ratesDecimals, dayCountBasis, frequency int) (*Calculator, error) {
	if notional.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidNotional
	}
	if frequency <= 0 {
		return nil, ErrInvalidFrequency
	}
	return &Calculator{
		notional:      notional,
		swapRate:      swapRate,
		spread:        spread,
		rateScale:     decimal.New(1, int32(ratesDecimals)+2),
		dayCountBasis: dayCountBasis,
		frequency:     frequency,
	}, nil
}

// DayCountFraction returns the period's year fraction under the configured
// day-count basis.
func (c *Calculator) DayCountFraction() decimal.Decimal {
	days := decimal.NewFromInt(int64(c.frequency))
	switch c.dayCountBasis {
	case DayCountAct365:
		return days.Div(decimal.NewFromInt(365))
	default:
		return days.Div(decimal.NewFromInt(360))
	}
}

// SettlementAmount returns the signed net payment for one period given the
// benchmark rate (scaled like swapRate). Positive: fixed-rate payer pays.
func (c *Calculator) SettlementAmount(benchmarkRate decimal.Decimal) decimal.Decimal {
	netRate := benchmarkRate.Add(c.spread).Sub(c.swapRate).Div(c.rateScale)
	amount := c.notional.Mul(netRate).Mul(c.DayCountFraction())
	return amount.Round(AmountScale)
}

// FixedLeg returns the fixed-rate payer's gross period payment.
func (c *Calculator) FixedLeg() decimal.Decimal {
	rate := c.swapRate.Div(c.rateScale)
	return c.notional.Mul(rate).Mul(c.DayCountFraction()).Round(AmountScale)
}

// FloatingLeg returns the floating-rate payer's gross period payment for a
// benchmark rate.
func (c *Calculator) FloatingLeg(benchmarkRate decimal.Decimal) decimal.Decimal {
	rate := benchmarkRate.Add(c.spread).Div(c.rateScale)
	return c.notional.Mul(rate).Mul(c.DayCountFraction()).Round(AmountScale)
}
