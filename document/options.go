package document

import "errors"

var (
	// ErrEmptyInput signals a generation request without orders. Checked
	// before any render-backend resource is acquired.
	ErrEmptyInput = errors.New("document: no orders to render")
	// ErrUnknownExportType signals an unsupported CSV shape.
	ErrUnknownExportType = errors.New("document: unknown export type")
	// ErrUnknownGroupBy signals an unsupported summary grouping key.
	ErrUnknownGroupBy = errors.New("document: unknown group-by key")
)

// ExportType selects the CSV shape.
type ExportType string

const (
	ExportDetailed ExportType = "detailed"
	ExportSummary  ExportType = "summary"
)

// GroupBy selects the aggregation key for summary exports.
type GroupBy string

const (
	GroupByDate     GroupBy = "date"
	GroupByCustomer GroupBy = "customer"
	GroupByProduct  GroupBy = "product"
)

// CSVOptions controls the tabular generator.
type CSVOptions struct {
	Type ExportType
	// GroupByDate sorts detailed rows by order date.
	GroupByDate bool
	// Key is the summary grouping key; ignored for detailed exports.
	Key GroupBy
}

// BankDetails is rendered on invoices when the template enables it.
type BankDetails struct {
	AccountName   string
	AccountNumber string
	IFSC          string
	BankName      string
}

// Template describes invoice layout and visibility toggles for the PDF
// generator.
type Template struct {
	PageSize         string
	Orientation      string
	Font             string
	BaseFontSize     float64
	AccentColor      RGB
	ShowTaxBreakdown bool
	ShowHSNCodes     bool
	ShowBankDetails  bool
	BankDetails      BankDetails
	ShowLogo         bool
	StoreName        string
	MaxItemsPerPage  int
}

// RGB is a color triple for template accents.
type RGB struct {
	R, G, B int
}

// DefaultTemplate returns the stock A4 portrait invoice layout.
func DefaultTemplate() Template {
	return Template{
		PageSize:         "A4",
		Orientation:      "P",
		Font:             "Helvetica",
		BaseFontSize:     10,
		AccentColor:      RGB{R: 33, G: 53, B: 120},
		ShowTaxBreakdown: true,
		ShowHSNCodes:     true,
		MaxItemsPerPage:  20,
	}
}

// PDFOptions controls bulk PDF generation.
type PDFOptions struct {
	Template    Template
	GroupByDate bool
}
