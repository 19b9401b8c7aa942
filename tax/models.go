package tax

import "github.com/shopspring/decimal"

// Type distinguishes the two GST regimes.
type Type string

const (
	// TypeIntra applies when buyer and seller share a state: the tax is
	// split into equal CGST and SGST halves.
	TypeIntra Type = "CGST_SGST"
	// TypeInter applies across state lines: the full amount is IGST.
	TypeInter Type = "IGST"
)

// Breakdown is the result of a single GST computation. It is created fresh
// per call and never persisted on its own; callers attach it to an order
// copy or fold it into a summary.
type Breakdown struct {
	Type          Type
	Rate          decimal.Decimal
	TaxableAmount decimal.Decimal
	TotalTax      decimal.Decimal
	CGST          decimal.Decimal
	SGST          decimal.Decimal
	IGST          decimal.Decimal
	HSNCode       string
}

// Config carries the rate tiers and the amount threshold that selects
// between them. Values are explicit per call so concurrent requests can
// never observe each other's settings.
type Config struct {
	LowRate   decimal.Decimal
	HighRate  decimal.Decimal
	Threshold decimal.Decimal
	// DefaultHSN is attached when a product carries no classification code.
	DefaultHSN string
}

// DefaultConfig returns the standard garment rates: 5% under ₹1000,
// 12% from ₹1000 up.
func DefaultConfig() Config {
	return Config{
		LowRate:    decimal.NewFromFloat(0.05),
		HighRate:   decimal.NewFromFloat(0.12),
		Threshold:  decimal.NewFromInt(1000),
		DefaultHSN: "6203",
	}
}
