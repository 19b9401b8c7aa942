package document

import (
	"encoding/csv"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"gstflow/order"
)

// detailedHeader is the fixed column order for per-line-item exports.
var detailedHeader = []string{
	"Order ID", "Order Date", "Customer Name", "Customer Email", "Customer Phone",
	"Billing Address", "Shipping Address", "Product", "Quantity", "Unit Price",
	"HSN Code", "Tax Type", "Tax Rate (%)", "CGST", "SGST", "IGST", "Total Tax", "Line Total",
}

// GenerateCSV renders enriched orders as CSV text. Field quoting follows
// RFC 4180 via encoding/csv, so embedded commas, quotes and newlines
// round-trip.
func GenerateCSV(enriched []order.Enriched, opts CSVOptions) (string, error) {
	if len(enriched) == 0 {
		return "", ErrEmptyInput
	}

	switch opts.Type {
	case ExportDetailed, "":
		return detailedCSV(enriched, opts.GroupByDate)
	case ExportSummary:
		return summaryCSV(enriched, opts.Key)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownExportType, opts.Type)
	}
}

func detailedCSV(enriched []order.Enriched, groupByDate bool) (string, error) {
	rows := make([]order.Enriched, len(enriched))
	copy(rows, enriched)
	if groupByDate {
		sort.SliceStable(rows, func(i, j int) bool {
			return rows[i].Order.CreatedAt.Before(rows[j].Order.CreatedAt)
		})
	}

	var sb strings.Builder
	w := csv.NewWriter(&sb)
	if err := w.Write(detailedHeader); err != nil {
		return "", fmt.Errorf("document: write csv header: %w", err)
	}

	for _, e := range rows {
		rec := e.Order
		for _, line := range e.Lines {
			b := line.Breakdown
			row := []string{
				rec.ID,
				rec.CreatedAt.Format("2006-01-02"),
				rec.Customer.Name,
				rec.Customer.Email,
				rec.Customer.Phone,
				formatAddress(rec.BillingAddress),
				formatAddress(rec.ShippingAddress),
				line.Item.Title,
				fmt.Sprintf("%d", line.Item.Quantity),
				line.Item.Price.StringFixed(2),
				b.HSNCode,
				string(b.Type),
				b.Rate.Mul(decimal.NewFromInt(100)).StringFixed(2),
				b.CGST.StringFixed(2),
				b.SGST.StringFixed(2),
				b.IGST.StringFixed(2),
				b.TotalTax.StringFixed(2),
				line.Taxable.Add(b.TotalTax).StringFixed(2),
			}
			if err := w.Write(row); err != nil {
				return "", fmt.Errorf("document: write csv row: %w", err)
			}
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("document: flush csv: %w", err)
	}
	return sb.String(), nil
}

type summaryRow struct {
	key      string
	orders   map[string]struct{}
	items    int
	taxable  decimal.Decimal
	totalTax decimal.Decimal
}

func summaryCSV(enriched []order.Enriched, key GroupBy) (string, error) {
	if key == "" {
		key = GroupByDate
	}

	groups := make(map[string]*summaryRow)
	add := func(k, orderID string, items int, taxable, totalTax decimal.Decimal) {
		g, ok := groups[k]
		if !ok {
			g = &summaryRow{
				key:      k,
				orders:   make(map[string]struct{}),
				taxable:  decimal.Zero,
				totalTax: decimal.Zero,
			}
			groups[k] = g
		}
		g.orders[orderID] = struct{}{}
		g.items += items
		g.taxable = g.taxable.Add(taxable)
		g.totalTax = g.totalTax.Add(totalTax)
	}

	for _, e := range enriched {
		rec := e.Order
		switch key {
		case GroupByDate:
			add(rec.CreatedAt.Format("2006-01-02"), rec.ID, itemCount(rec), e.Breakdown.TaxableAmount, e.Breakdown.TotalTax)
		case GroupByCustomer:
			name := rec.Customer.Name
			if name == "" {
				name = rec.Customer.Email
			}
			add(name, rec.ID, itemCount(rec), e.Breakdown.TaxableAmount, e.Breakdown.TotalTax)
		case GroupByProduct:
			for _, line := range e.Lines {
				add(line.Item.Title, rec.ID, line.Item.Quantity, line.Taxable, line.Breakdown.TotalTax)
			}
		default:
			return "", fmt.Errorf("%w: %q", ErrUnknownGroupBy, key)
		}
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	w := csv.NewWriter(&sb)
	header := []string{string(key), "Orders", "Items", "Taxable Amount", "Total Tax", "Grand Total"}
	if err := w.Write(header); err != nil {
		return "", fmt.Errorf("document: write csv header: %w", err)
	}

	for _, k := range keys {
		g := groups[k]
		row := []string{
			g.key,
			fmt.Sprintf("%d", len(g.orders)),
			fmt.Sprintf("%d", g.items),
			g.taxable.StringFixed(2),
			g.totalTax.StringFixed(2),
			g.taxable.Add(g.totalTax).StringFixed(2),
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("document: write csv row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("document: flush csv: %w", err)
	}
	return sb.String(), nil
}

func itemCount(rec order.Record) int {
	n := 0
	for _, item := range rec.LineItems {
		n += item.Quantity
	}
	return n
}

func formatAddress(a *order.Address) string {
	if a == nil {
		return ""
	}
	parts := make([]string, 0, 6)
	for _, p := range []string{a.Line1, a.Line2, a.City, a.State, a.Zip, a.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}
