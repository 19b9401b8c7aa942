package order

import (
	"github.com/shopspring/decimal"

	"gstflow/tax"
)

// StateSummary aggregates tax totals for a single buyer state.
type StateSummary struct {
	Orders   int
	Taxable  decimal.Decimal
	TotalTax decimal.Decimal
}

// Summary aggregates tax totals across a batch of enriched orders.
type Summary struct {
	Orders   int
	Failed   int
	Taxable  decimal.Decimal
	TotalTax decimal.Decimal
	CGST     decimal.Decimal
	SGST     decimal.Decimal
	IGST     decimal.Decimal
	ByState  map[string]StateSummary
}

// Summarize folds enriched orders into a single aggregate. Failed batch
// entries contribute to the order count but carry zero amounts.
func Summarize(enriched []Enriched) Summary {
	s := Summary{
		Taxable:  decimal.Zero,
		TotalTax: decimal.Zero,
		CGST:     decimal.Zero,
		SGST:     decimal.Zero,
		IGST:     decimal.Zero,
		ByState:  make(map[string]StateSummary),
	}

	for _, e := range enriched {
		s.Orders++
		if e.Failed {
			s.Failed++
			continue
		}

		b := e.Breakdown
		s.Taxable = s.Taxable.Add(b.TaxableAmount)
		s.TotalTax = s.TotalTax.Add(b.TotalTax)
		if b.Type == tax.TypeIntra {
			s.CGST = s.CGST.Add(b.CGST)
			s.SGST = s.SGST.Add(b.SGST)
		} else {
			s.IGST = s.IGST.Add(b.IGST)
		}

		st := s.ByState[e.BuyerState]
		st.Orders++
		st.Taxable = st.Taxable.Add(b.TaxableAmount)
		st.TotalTax = st.TotalTax.Add(b.TotalTax)
		s.ByState[e.BuyerState] = st
	}

	return s
}
