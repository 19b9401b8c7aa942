package tax

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrJurisdictionUnresolved signals a buyer or seller state that could
	// not be determined. Computation never silently defaults a state.
	ErrJurisdictionUnresolved = errors.New("tax: jurisdiction unresolved")
	// ErrInvalidAmount signals a non-positive taxable amount.
	ErrInvalidAmount = errors.New("tax: taxable amount must be positive")
)

// Compute derives the GST breakdown for a taxable amount. The rate tier is
// selected by cfg.Threshold (inclusive on the high side); equal states
// produce an intra-state CGST/SGST split, differing states a single IGST
// component. Pure and safe for concurrent use.
func Compute(amount decimal.Decimal, buyerState, sellerState string, cfg Config) (Breakdown, error) {
	if !amount.IsPositive() {
		return Breakdown{}, fmt.Errorf("%w: got %s", ErrInvalidAmount, amount)
	}
	if buyerState == "" {
		return Breakdown{}, fmt.Errorf("%w: buyer state empty", ErrJurisdictionUnresolved)
	}
	if sellerState == "" {
		return Breakdown{}, fmt.Errorf("%w: seller state empty", ErrJurisdictionUnresolved)
	}

	rate := cfg.LowRate
	if amount.GreaterThanOrEqual(cfg.Threshold) {
		rate = cfg.HighRate
	}

	total := amount.Mul(rate).Round(2)

	b := Breakdown{
		Rate:          rate,
		TaxableAmount: amount,
		TotalTax:      total,
		HSNCode:       cfg.DefaultHSN,
	}

	if buyerState == sellerState {
		// Halves are kept exact rather than re-rounded so CGST+SGST always
		// reproduces the rounded total.
		half := total.Div(decimal.NewFromInt(2))
		b.Type = TypeIntra
		b.CGST = half
		b.SGST = half
	} else {
		b.Type = TypeInter
		b.IGST = total
	}

	return b, nil
}
