package document

import (
	"fmt"

	"github.com/shopspring/decimal"

	"gstflow/order"
	"gstflow/tax"
)

// Backend is the external paginated-document renderer. Begin opens a
// rendering session for a template; the caller must Close the session on
// every exit path.
type Backend interface {
	Begin(tpl Template) (Session, error)
}

// Session is one rendering pass. Primitives are deliberately narrow so the
// generator stays independent of the concrete renderer.
type Session interface {
	AddPage()
	Heading(text string)
	Text(text string)
	Table(header []string, rows [][]string)
	Divider()
	Output() ([]byte, error)
	Close() error
}

// GeneratePDF renders a single-order invoice.
func GeneratePDF(backend Backend, e order.Enriched, tpl Template) ([]byte, error) {
	return GenerateBulkPDF(backend, []order.Enriched{e}, PDFOptions{Template: tpl})
}

// GenerateBulkPDF renders one invoice per order into a single document,
// optionally preceded by date group headings. Input is validated before the
// backend session is opened, and the session is always closed.
func GenerateBulkPDF(backend Backend, enriched []order.Enriched, opts PDFOptions) ([]byte, error) {
	if len(enriched) == 0 {
		return nil, ErrEmptyInput
	}

	tpl := opts.Template
	if tpl.PageSize == "" {
		tpl = DefaultTemplate()
	}

	sess, err := backend.Begin(tpl)
	if err != nil {
		return nil, fmt.Errorf("document: begin render session: %w", err)
	}
	defer sess.Close()

	lastDate := ""
	for _, e := range enriched {
		if opts.GroupByDate {
			date := e.Order.CreatedAt.Format("2006-01-02")
			if date != lastDate {
				sess.AddPage()
				sess.Heading(fmt.Sprintf("Orders for %s", date))
				lastDate = date
			}
		}
		renderInvoice(sess, e, tpl)
	}

	out, err := sess.Output()
	if err != nil {
		return nil, fmt.Errorf("document: render output: %w", err)
	}
	return out, nil
}

func renderInvoice(sess Session, e order.Enriched, tpl Template) {
	rec := e.Order

	sess.AddPage()
	if tpl.ShowLogo && tpl.StoreName != "" {
		sess.Heading(tpl.StoreName)
	}
	sess.Heading(fmt.Sprintf("Tax Invoice %s", rec.Name))
	sess.Text(fmt.Sprintf("Order date: %s", rec.CreatedAt.Format("02 Jan 2006")))
	if rec.Customer.Name != "" {
		sess.Text(fmt.Sprintf("Billed to: %s", rec.Customer.Name))
	}
	if addr := formatAddress(rec.ShippingAddress); addr != "" {
		sess.Text(fmt.Sprintf("Ship to: %s", addr))
	}
	sess.Divider()

	header := []string{"Product", "Qty", "Unit Price", "Amount"}
	if tpl.ShowHSNCodes {
		header = append([]string{"HSN"}, header...)
	}

	rows := make([][]string, 0, len(e.Lines))
	batch := 0
	for _, line := range e.Lines {
		if tpl.MaxItemsPerPage > 0 && batch == tpl.MaxItemsPerPage {
			sess.Table(header, rows)
			sess.AddPage()
			rows = rows[:0]
			batch = 0
		}
		row := []string{
			line.Item.Title,
			fmt.Sprintf("%d", line.Item.Quantity),
			line.Item.Price.StringFixed(2),
			line.Taxable.StringFixed(2),
		}
		if tpl.ShowHSNCodes {
			row = append([]string{line.Breakdown.HSNCode}, row...)
		}
		rows = append(rows, row)
		batch++
	}
	sess.Table(header, rows)

	if tpl.ShowTaxBreakdown {
		sess.Divider()
		b := e.Breakdown
		ratePct := b.Rate.Mul(decimal.NewFromInt(100)).StringFixed(0)
		if b.Type == tax.TypeIntra {
			sess.Text(fmt.Sprintf("CGST (%s%% / 2): %s", ratePct, b.CGST.StringFixed(2)))
			sess.Text(fmt.Sprintf("SGST (%s%% / 2): %s", ratePct, b.SGST.StringFixed(2)))
		} else {
			sess.Text(fmt.Sprintf("IGST (%s%%): %s", ratePct, b.IGST.StringFixed(2)))
		}
		sess.Text(fmt.Sprintf("Total tax: %s", b.TotalTax.StringFixed(2)))
	}

	sess.Divider()
	sess.Text(fmt.Sprintf("Order total: %s %s", rec.Currency,
		e.Breakdown.TaxableAmount.Add(e.Breakdown.TotalTax).StringFixed(2)))

	if tpl.ShowBankDetails && tpl.BankDetails.AccountNumber != "" {
		sess.Divider()
		bd := tpl.BankDetails
		sess.Text(fmt.Sprintf("Bank: %s, A/C %s (%s), IFSC %s",
			bd.BankName, bd.AccountNumber, bd.AccountName, bd.IFSC))
	}
}
