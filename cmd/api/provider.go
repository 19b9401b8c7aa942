package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"gstflow/order"
	"gstflow/session"
)

const defaultAPIVersion = "2024-04"

// restProvider fetches orders from the commerce platform's Admin REST API
// using the shop's stored access token. It is the only place in the module
// that talks to the platform; everything else consumes order.Provider.
type restProvider struct {
	client     *http.Client
	apiVersion string
}

func newRESTProvider() *restProvider {
	return &restProvider{
		client:     &http.Client{Timeout: 30 * time.Second},
		apiVersion: defaultAPIVersion,
	}
}

var _ order.Provider = (*restProvider)(nil)

func (p *restProvider) GetOrder(ctx context.Context, sess session.Session, id string) (order.Record, error) {
	var out struct {
		Order restOrder `json:"order"`
	}
	path := fmt.Sprintf("/orders/%s.json", url.PathEscape(id))
	if err := p.get(ctx, sess, path, nil, &out); err != nil {
		return order.Record{}, err
	}
	return out.Order.toRecord(), nil
}

func (p *restProvider) GetOrders(ctx context.Context, sess session.Session, ids []string) ([]order.Record, error) {
	var out struct {
		Orders []restOrder `json:"orders"`
	}
	query := url.Values{"ids": {strings.Join(ids, ",")}, "status": {"any"}}
	if err := p.get(ctx, sess, "/orders.json", query, &out); err != nil {
		return nil, err
	}
	return toRecords(out.Orders), nil
}

func (p *restProvider) GetOrdersByDateRange(ctx context.Context, sess session.Session, start, end time.Time) ([]order.Record, error) {
	var out struct {
		Orders []restOrder `json:"orders"`
	}
	query := url.Values{
		"created_at_min": {start.UTC().Format(time.RFC3339)},
		"created_at_max": {end.UTC().Format(time.RFC3339)},
		"status":         {"any"},
		"limit":          {"250"},
	}
	if err := p.get(ctx, sess, "/orders.json", query, &out); err != nil {
		return nil, err
	}
	return toRecords(out.Orders), nil
}

func (p *restProvider) get(ctx context.Context, sess session.Session, path string, query url.Values, out any) error {
	u := fmt.Sprintf("https://%s/admin/api/%s%s", sess.Shop, p.apiVersion, path)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("provider: build request: %w", err)
	}
	req.Header.Set("X-Shopify-Access-Token", sess.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("provider: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provider: %s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("provider: decode %s: %w", path, err)
	}
	return nil
}

type restOrder struct {
	ID          json.Number `json:"id"`
	Name        string      `json:"name"`
	CreatedAt   time.Time   `json:"created_at"`
	TotalPrice  string      `json:"total_price"`
	Currency    string      `json:"currency"`
	Financial   string      `json:"financial_status"`
	Fulfillment string      `json:"fulfillment_status"`
	Customer    struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Email     string `json:"email"`
		Phone     string `json:"phone"`
	} `json:"customer"`
	LineItems []struct {
		ID       json.Number `json:"id"`
		Title    string      `json:"title"`
		Quantity int         `json:"quantity"`
		Price    string      `json:"price"`
	} `json:"line_items"`
	ShippingAddress *restAddress `json:"shipping_address"`
	BillingAddress  *restAddress `json:"billing_address"`
}

type restAddress struct {
	Address1     string `json:"address1"`
	Address2     string `json:"address2"`
	City         string `json:"city"`
	Province     string `json:"province"`
	ProvinceCode string `json:"province_code"`
	Zip          string `json:"zip"`
	Country      string `json:"country"`
}

func (a *restAddress) toAddress() *order.Address {
	if a == nil {
		return nil
	}
	return &order.Address{
		Line1:     a.Address1,
		Line2:     a.Address2,
		City:      a.City,
		State:     a.Province,
		StateCode: a.ProvinceCode,
		Zip:       a.Zip,
		Country:   a.Country,
	}
}

func (o restOrder) toRecord() order.Record {
	rec := order.Record{
		ID:                o.ID.String(),
		Name:              o.Name,
		CreatedAt:         o.CreatedAt,
		Currency:          o.Currency,
		FinancialStatus:   o.Financial,
		FulfillmentStatus: o.Fulfillment,
		Customer: order.Customer{
			Name:  strings.TrimSpace(o.Customer.FirstName + " " + o.Customer.LastName),
			Email: o.Customer.Email,
			Phone: o.Customer.Phone,
		},
		ShippingAddress: o.ShippingAddress.toAddress(),
		BillingAddress:  o.BillingAddress.toAddress(),
	}
	rec.TotalPrice, _ = decimal.NewFromString(o.TotalPrice)
	for _, li := range o.LineItems {
		price, _ := decimal.NewFromString(li.Price)
		rec.LineItems = append(rec.LineItems, order.LineItem{
			ID:       li.ID.String(),
			Title:    li.Title,
			Quantity: li.Quantity,
			Price:    price,
		})
	}
	return rec
}

func toRecords(orders []restOrder) []order.Record {
	out := make([]order.Record, 0, len(orders))
	for _, o := range orders {
		out = append(out, o.toRecord())
	}
	return out
}
