package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"gstflow/session"
)

// Address is a postal address snapshot from the commerce provider.
// StateCode is the two-letter GST state code when the provider supplies it;
// State is the human-readable name used as a fallback.
type Address struct {
	Line1     string
	Line2     string
	City      string
	State     string
	StateCode string
	Zip       string
	Country   string
}

// Customer identifies the buyer on an order.
type Customer struct {
	Name  string
	Email string
	Phone string
}

// LineItem is a single purchased product line.
type LineItem struct {
	ID       string
	Title    string
	Quantity int
	Price    decimal.Decimal
	HSNCode  string
}

// Record is the read-only order snapshot supplied by the commerce provider.
// The enrichment service copies it and never mutates the original.
type Record struct {
	ID                string
	Name              string
	CreatedAt         time.Time
	Customer          Customer
	TotalPrice        decimal.Decimal
	Currency          string
	LineItems         []LineItem
	ShippingAddress   *Address
	BillingAddress    *Address
	FinancialStatus   string
	FulfillmentStatus string
}

// Provider yields normalized order records from the host commerce platform.
// Implementations live outside this module; the core only consumes them.
type Provider interface {
	GetOrder(ctx context.Context, sess session.Session, id string) (Record, error)
	GetOrders(ctx context.Context, sess session.Session, ids []string) ([]Record, error)
	GetOrdersByDateRange(ctx context.Context, sess session.Session, from, to time.Time) ([]Record, error)
}
