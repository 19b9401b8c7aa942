package order

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"gstflow/tax"
)

var (
	// ErrJurisdictionUnresolved signals an order whose buyer state could not
	// be derived from any address field.
	ErrJurisdictionUnresolved = tax.ErrJurisdictionUnresolved
	// ErrNoLineItems signals an order without purchasable lines.
	ErrNoLineItems = errors.New("order: no line items")
)

// Options carries the per-call enrichment inputs. SellerState is passed
// explicitly on every call; there is no service-level default that one
// request could mutate under another.
type Options struct {
	SellerState string
	Tax         tax.Config
}

// LineBreakdown attaches a tax breakdown to one line item.
type LineBreakdown struct {
	Item      LineItem
	Taxable   decimal.Decimal
	Breakdown tax.Breakdown
}

// Enriched is an order copy with its computed tax attached.
type Enriched struct {
	Order      Record
	BuyerState string
	Breakdown  tax.Breakdown
	Lines      []LineBreakdown
	// Failed marks a batch entry whose computation failed and was replaced
	// by a zero breakdown.
	Failed bool
}

// BuyerState derives the buyer's GST state code for a record: shipping
// address code first, then billing address code, then a state-name lookup
// on whichever address carries a name. An order that resolves nowhere is an
// ErrJurisdictionUnresolved.
func BuyerState(rec Record) (string, error) {
	if a := rec.ShippingAddress; a != nil && a.StateCode != "" {
		return a.StateCode, nil
	}
	if a := rec.BillingAddress; a != nil && a.StateCode != "" {
		return a.StateCode, nil
	}
	if a := rec.ShippingAddress; a != nil && a.State != "" {
		if code := StateCodeForName(a.State); code != "" {
			return code, nil
		}
	}
	if a := rec.BillingAddress; a != nil && a.State != "" {
		if code := StateCodeForName(a.State); code != "" {
			return code, nil
		}
	}
	return "", fmt.Errorf("%w: order %s has no resolvable buyer state", ErrJurisdictionUnresolved, rec.ID)
}

// Enrich computes the order-level breakdown and a per-line breakdown whose
// taxable amounts sum exactly to the order total. The input record is not
// modified.
func Enrich(rec Record, opts Options) (Enriched, error) {
	buyerState, err := BuyerState(rec)
	if err != nil {
		return Enriched{}, err
	}

	breakdown, err := tax.Compute(rec.TotalPrice, buyerState, opts.SellerState, opts.Tax)
	if err != nil {
		return Enriched{}, fmt.Errorf("order: compute tax for %s: %w", rec.ID, err)
	}

	lines, err := enrichLines(rec, buyerState, opts)
	if err != nil {
		return Enriched{}, err
	}

	return Enriched{
		Order:      rec,
		BuyerState: buyerState,
		Breakdown:  breakdown,
		Lines:      lines,
	}, nil
}

// enrichLines allocates the order total across line items proportionally to
// quantity*price. The last line absorbs the rounding remainder so the
// allocations always sum to the order total.
func enrichLines(rec Record, buyerState string, opts Options) ([]LineBreakdown, error) {
	if len(rec.LineItems) == 0 {
		return nil, fmt.Errorf("%w: order %s", ErrNoLineItems, rec.ID)
	}

	gross := decimal.Zero
	for _, item := range rec.LineItems {
		gross = gross.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	lines := make([]LineBreakdown, 0, len(rec.LineItems))
	allocated := decimal.Zero
	for i, item := range rec.LineItems {
		var taxable decimal.Decimal
		if i == len(rec.LineItems)-1 {
			taxable = rec.TotalPrice.Sub(allocated)
		} else if gross.IsPositive() {
			lineGross := item.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
			taxable = rec.TotalPrice.Mul(lineGross).Div(gross).Round(2)
		}
		allocated = allocated.Add(taxable)

		cfg := opts.Tax
		if item.HSNCode != "" {
			cfg.DefaultHSN = item.HSNCode
		}

		lb := LineBreakdown{Item: item, Taxable: taxable}
		if taxable.IsPositive() {
			b, err := tax.Compute(taxable, buyerState, opts.SellerState, cfg)
			if err != nil {
				return nil, fmt.Errorf("order: compute line tax for %s/%s: %w", rec.ID, item.ID, err)
			}
			lb.Breakdown = b
		} else {
			lb.Breakdown = tax.Breakdown{HSNCode: cfg.DefaultHSN}
		}
		lines = append(lines, lb)
	}

	return lines, nil
}

// EnrichAll processes orders independently. A failing order is substituted
// with a zero breakdown and logged; the batch never aborts. The second
// return value counts substitutions.
func EnrichAll(recs []Record, opts Options, logger *slog.Logger) ([]Enriched, int) {
	if logger == nil {
		logger = slog.Default()
	}

	out := make([]Enriched, 0, len(recs))
	failed := 0
	for _, rec := range recs {
		enriched, err := Enrich(rec, opts)
		if err != nil {
			failed++
			logger.Warn("order enrichment degraded to zero breakdown",
				"order_id", rec.ID, "error", err)
			enriched = Enriched{
				Order:     rec,
				Breakdown: tax.Breakdown{HSNCode: opts.Tax.DefaultHSN},
				Failed:    true,
			}
		}
		out = append(out, enriched)
	}
	return out, failed
}
