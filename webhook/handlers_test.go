package webhook

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"gstflow/artifact"
	"gstflow/bulkjob"
	"gstflow/document"
	"gstflow/order"
	"gstflow/session"
	"gstflow/tax"
)

func decimalFromString(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal fixture %q: %v", s, err)
	}
	return d
}

type noProvider struct{}

func (noProvider) GetOrder(context.Context, session.Session, string) (order.Record, error) {
	return order.Record{}, order.ErrNoLineItems
}
func (noProvider) GetOrders(context.Context, session.Session, []string) ([]order.Record, error) {
	return nil, nil
}
func (noProvider) GetOrdersByDateRange(context.Context, session.Session, time.Time, time.Time) ([]order.Record, error) {
	return nil, nil
}

func testHandlers(t *testing.T) (*Handlers, *session.Service, *bulkjob.Service, *artifact.Service) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	var sealKey [32]byte
	copy(sealKey[:], "0123456789abcdef0123456789abcdef")
	sessions := session.NewService(session.NewMemoryRepository(), "app-secret", sealKey)

	artifacts := artifact.NewService(artifact.NewMemoryRepository(), logger)

	jobCfg := bulkjob.Config{
		MaxItems:      100,
		MaxConcurrent: 1,
		BatchSize:     10,
		SellerState:   "KA",
		Tax:           tax.DefaultConfig(),
		Template:      document.DefaultTemplate(),
	}
	jobs := bulkjob.NewService(bulkjob.NewMemoryRepository(), noProvider{}, artifacts, nil, jobCfg, logger)

	opts := order.Options{SellerState: "KA", Tax: tax.DefaultConfig()}
	return NewHandlers(sessions, jobs, artifacts, opts, logger), sessions, jobs, artifacts
}

const orderBody = `{
	"id": 1001,
	"name": "#1001",
	"total_price": "1500.00",
	"currency": "INR",
	"customer": {"first_name": "Priya", "last_name": "Sharma", "email": "p@example.com"},
	"line_items": [
		{"id": 11, "title": "Kurta", "quantity": 1, "price": "1500.00"}
	],
	"shipping_address": {"address1": "1 MG Road", "city": "Mumbai", "province": "Maharashtra", "province_code": "MH", "zip": "400001", "country": "India"}
}`

func TestParseOrderPayload(t *testing.T) {
	rec, err := parseOrderPayload([]byte(orderBody))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if rec.ID != "1001" || rec.Name != "#1001" {
		t.Errorf("unexpected identity %q/%q", rec.ID, rec.Name)
	}
	if !rec.TotalPrice.Equal(decimalFromString(t, "1500.00")) {
		t.Errorf("unexpected total %s", rec.TotalPrice)
	}
	if rec.Customer.Name != "Priya Sharma" {
		t.Errorf("unexpected customer %q", rec.Customer.Name)
	}
	if len(rec.LineItems) != 1 || rec.LineItems[0].ID != "11" {
		t.Errorf("unexpected line items %+v", rec.LineItems)
	}
	if rec.ShippingAddress == nil || rec.ShippingAddress.StateCode != "MH" {
		t.Errorf("unexpected shipping address %+v", rec.ShippingAddress)
	}
}

func TestParseOrderPayload_BadAmount(t *testing.T) {
	if _, err := parseOrderPayload([]byte(`{"id": 1, "total_price": "abc"}`)); err == nil {
		t.Fatal("expected error for unparseable amount")
	}
}

func TestOrdersCreate_EnrichesValidOrder(t *testing.T) {
	h, _, _, _ := testHandlers(t)
	evt := Event{Topic: TopicOrdersCreate, Shop: "demo.myshopify.com", Payload: []byte(orderBody)}

	if err := h.OrdersCreate(context.Background(), evt); err != nil {
		t.Fatalf("orders/create: %v", err)
	}
}

func TestOrdersCreate_UnresolvableJurisdictionIsNotRetryable(t *testing.T) {
	h, _, _, _ := testHandlers(t)
	body := `{"id": 2, "total_price": "100.00", "line_items": [{"id": 1, "title": "x", "quantity": 1, "price": "100.00"}]}`
	evt := Event{Topic: TopicOrdersCreate, Shop: "demo.myshopify.com", Payload: []byte(body)}

	if err := h.OrdersCreate(context.Background(), evt); err != nil {
		t.Fatalf("data conditions must not surface as delivery failures, got %v", err)
	}
}

func TestOrdersCreate_MalformedPayloadFails(t *testing.T) {
	h, _, _, _ := testHandlers(t)
	evt := Event{Topic: TopicOrdersCreate, Shop: "demo.myshopify.com", Payload: []byte(`{not json`)}

	if err := h.OrdersCreate(context.Background(), evt); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}

func TestAppUninstalled_CascadesAllShopData(t *testing.T) {
	h, sessions, jobs, artifacts := testHandlers(t)
	ctx := context.Background()
	const shop = "gone.myshopify.com"

	if _, err := sessions.Save(ctx, session.SaveParams{Shop: shop, AccessToken: "tok", Scope: "read_orders"}); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	if _, err := artifacts.Store(ctx, []byte("csv"), artifact.StoreParams{Shop: shop, Filename: "a.csv", ContentType: "text/csv"}); err != nil {
		t.Fatalf("seed artifact: %v", err)
	}

	evt := Event{Topic: TopicAppUninstalled, Shop: shop, Payload: []byte(`{}`)}
	if err := h.AppUninstalled(ctx, evt); err != nil {
		t.Fatalf("uninstall cascade: %v", err)
	}

	if _, err := sessions.Get(ctx, shop); err == nil {
		t.Error("expected session removed")
	}
	if arts, _ := artifacts.List(ctx, shop); len(arts) != 0 {
		t.Errorf("expected artifacts removed, got %d", len(arts))
	}
	if jl, _ := jobs.ListByShop(ctx, shop); len(jl) != 0 {
		t.Errorf("expected jobs removed, got %d", len(jl))
	}
}
