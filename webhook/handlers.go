package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"gstflow/artifact"
	"gstflow/bulkjob"
	"gstflow/order"
	"gstflow/session"
)

// Topics this module subscribes to.
const (
	TopicOrdersCreate   = "orders/create"
	TopicOrdersUpdated  = "orders/updated"
	TopicAppUninstalled = "app/uninstalled"
)

// Handlers owns the business reactions to webhook events.
type Handlers struct {
	sessions  *session.Service
	jobs      *bulkjob.Service
	artifacts *artifact.Service
	opts      order.Options
	logger    *slog.Logger
}

func NewHandlers(sessions *session.Service, jobs *bulkjob.Service, artifacts *artifact.Service, opts order.Options, logger *slog.Logger) *Handlers {
	return &Handlers{
		sessions:  sessions,
		jobs:      jobs,
		artifacts: artifacts,
		opts:      opts,
		logger:    logger,
	}
}

// RegisterAll wires every handler into the dispatcher.
func (h *Handlers) RegisterAll(d *Dispatcher) {
	d.Register(TopicOrdersCreate, h.OrdersCreate)
	d.Register(TopicOrdersUpdated, h.OrdersUpdated)
	d.Register(TopicAppUninstalled, h.AppUninstalled)
}

// orderPayload is the subset of the platform's order webhook body this
// module reads. Monetary fields arrive as strings.
type orderPayload struct {
	ID         json.Number `json:"id"`
	Name       string      `json:"name"`
	TotalPrice string      `json:"total_price"`
	Currency   string      `json:"currency"`
	Customer   struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Email     string `json:"email"`
	} `json:"customer"`
	LineItems []struct {
		ID       json.Number `json:"id"`
		Title    string      `json:"title"`
		Quantity int         `json:"quantity"`
		Price    string      `json:"price"`
	} `json:"line_items"`
	ShippingAddress *addressPayload `json:"shipping_address"`
	BillingAddress  *addressPayload `json:"billing_address"`
}

type addressPayload struct {
	Address1     string `json:"address1"`
	Address2     string `json:"address2"`
	City         string `json:"city"`
	Province     string `json:"province"`
	ProvinceCode string `json:"province_code"`
	Zip          string `json:"zip"`
	Country      string `json:"country"`
}

func (p *addressPayload) toAddress() *order.Address {
	if p == nil {
		return nil
	}
	return &order.Address{
		Line1:     p.Address1,
		Line2:     p.Address2,
		City:      p.City,
		State:     p.Province,
		StateCode: p.ProvinceCode,
		Zip:       p.Zip,
		Country:   p.Country,
	}
}

func parseOrderPayload(payload []byte) (order.Record, error) {
	var p orderPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return order.Record{}, fmt.Errorf("webhook: decode order payload: %w", err)
	}

	total, err := decimal.NewFromString(p.TotalPrice)
	if err != nil {
		return order.Record{}, fmt.Errorf("webhook: parse total_price %q: %w", p.TotalPrice, err)
	}

	rec := order.Record{
		ID:              p.ID.String(),
		Name:            p.Name,
		TotalPrice:      total,
		Currency:        p.Currency,
		Customer:        order.Customer{Name: p.Customer.FirstName + " " + p.Customer.LastName, Email: p.Customer.Email},
		ShippingAddress: p.ShippingAddress.toAddress(),
		BillingAddress:  p.BillingAddress.toAddress(),
	}
	for _, li := range p.LineItems {
		price, err := decimal.NewFromString(li.Price)
		if err != nil {
			return order.Record{}, fmt.Errorf("webhook: parse line item price %q: %w", li.Price, err)
		}
		rec.LineItems = append(rec.LineItems, order.LineItem{
			ID:       li.ID.String(),
			Title:    li.Title,
			Quantity: li.Quantity,
			Price:    price,
		})
	}
	return rec, nil
}

// OrdersCreate enriches the new order with its tax breakdown and logs the
// result. Unresolvable jurisdiction is a data condition, not a delivery
// failure, so it does not trigger a retry.
func (h *Handlers) OrdersCreate(ctx context.Context, evt Event) error {
	return h.enrichAndLog(evt, "order created")
}

// OrdersUpdated recomputes the tax breakdown after an order change.
func (h *Handlers) OrdersUpdated(ctx context.Context, evt Event) error {
	return h.enrichAndLog(evt, "order updated")
}

func (h *Handlers) enrichAndLog(evt Event, msg string) error {
	rec, err := parseOrderPayload(evt.Payload)
	if err != nil {
		return err
	}

	e, err := order.Enrich(rec, h.opts)
	if err != nil {
		if errors.Is(err, order.ErrJurisdictionUnresolved) || errors.Is(err, order.ErrNoLineItems) {
			h.logger.Warn("order not taxable as delivered",
				"shop", evt.Shop, "order_id", rec.ID, "error", err)
			return nil
		}
		return err
	}

	h.logger.Info(msg,
		"shop", evt.Shop,
		"order_id", e.Order.ID,
		"buyer_state", e.BuyerState,
		"tax_type", e.Breakdown.Type,
		"total_tax", e.Breakdown.TotalTax)
	return nil
}

// AppUninstalled removes everything held for the shop: sessions, bulk jobs
// (cancelling any in flight) and stored artifacts. The deletes run
// concurrently and the first error aborts the rest.
func (h *Handlers) AppUninstalled(ctx context.Context, evt Event) error {
	shop := evt.Shop

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if _, err := h.sessions.DeleteByShop(ctx, shop); err != nil {
			return fmt.Errorf("delete sessions: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if _, err := h.jobs.DeleteByShop(ctx, shop); err != nil {
			return fmt.Errorf("delete bulk jobs: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if _, err := h.artifacts.DeleteByShop(ctx, shop); err != nil {
			return fmt.Errorf("delete artifacts: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("webhook: uninstall cleanup for %s: %w", shop, err)
	}
	h.logger.Info("shop data removed after uninstall", "shop", shop)
	return nil
}
