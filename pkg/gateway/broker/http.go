package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joripage/execution-gateway/pkg/gateway/model"
)

// HTTPBroker talks to the broker bridge over REST:
//   - POST /orders            {client_order_id, symbol, side, type, qty, price}
//   - DELETE /orders/{id}
//   - GET  /orders?client_order_id=...
//   - GET  /orders
//   - GET  /positions
type HTTPBroker struct {
	base   string
	apiKey string
	hc     *http.Client
}

func NewHTTPBroker(base, apiKey string, timeout time.Duration) *HTTPBroker {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPBroker{
		base:   base,
		apiKey: apiKey,
		hc:     &http.Client{Timeout: timeout},
	}
}

func (b *HTTPBroker) Name() string { return "http-bridge" }

type wireOrder struct {
	OrderID       string `json:"order_id"`
	ClientOrderID string `json:"client_order_id"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Quantity      string `json:"qty"`
	FilledQty     string `json:"filled_qty"`
	AvgFillPrice  string `json:"avg_fill_price"`
	Status        string `json:"status"`
	CreatedAt     int64  `json:"created_at"`
}

func (w *wireOrder) toOrder() *Order {
	qty, _ := decimal.NewFromString(w.Quantity)
	filled, _ := decimal.NewFromString(w.FilledQty)
	avg, _ := decimal.NewFromString(w.AvgFillPrice)
	return &Order{
		BrokerOrderID: w.OrderID,
		ClientOrderID: w.ClientOrderID,
		Symbol:        w.Symbol,
		Side:          model.OrderSide(w.Side),
		Quantity:      qty,
		FilledQty:     filled,
		AvgFillPrice:  avg,
		Status:        mapWireStatus(w.Status),
		CreatedAt:     time.UnixMilli(w.CreatedAt),
	}
}

func mapWireStatus(s string) model.OrderStatus {
	switch strings.ToLower(s) {
	case "accepted", "open", "new":
		return model.OrderStatusSubmitted
	case "partially_filled":
		return model.OrderStatusPartiallyFilled
	case "filled":
		return model.OrderStatusFilled
	case "canceled", "cancelled":
		return model.OrderStatusCanceled
	case "rejected":
		return model.OrderStatusRejected
	}
	return model.OrderStatusSubmitted
}

func (b *HTTPBroker) do(ctx context.Context, method, path string, body, out interface{}) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.base+path, rd)
	if err != nil {
		return fmt.Errorf("new request %s %s: %w", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	res, err := b.hc.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		raw, _ := io.ReadAll(res.Body)
		return fmt.Errorf("broker %s %s: %d: %s", method, path, res.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}

func (b *HTTPBroker) SubmitOrder(ctx context.Context, req *SubmitRequest) (*Order, error) {
	payload := map[string]string{
		"client_order_id": req.ClientOrderID,
		"symbol":          req.Symbol,
		"side":            string(req.Side),
		"type":            string(req.Type),
		"qty":             req.Quantity.String(),
		"price":           req.Price.String(),
	}
	var out wireOrder
	if err := b.do(ctx, http.MethodPost, "/orders", payload, &out); err != nil {
		return nil, err
	}
	return out.toOrder(), nil
}

func (b *HTTPBroker) CancelOrder(ctx context.Context, brokerOrderID string) error {
	return b.do(ctx, http.MethodDelete, "/orders/"+url.PathEscape(brokerOrderID), nil, nil)
}

func (b *HTTPBroker) GetOrder(ctx context.Context, clientOrderID string) (*Order, error) {
	var out []wireOrder
	path := "/orders?client_order_id=" + url.QueryEscape(clientOrderID)
	if err := b.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0].toOrder(), nil
}

func (b *HTTPBroker) ListOrders(ctx context.Context) ([]*Order, error) {
	var out []wireOrder
	if err := b.do(ctx, http.MethodGet, "/orders", nil, &out); err != nil {
		return nil, err
	}
	orders := make([]*Order, 0, len(out))
	for i := range out {
		orders = append(orders, out[i].toOrder())
	}
	return orders, nil
}

func (b *HTTPBroker) GetPositions(ctx context.Context) ([]*Position, error) {
	var out []struct {
		Symbol   string `json:"symbol"`
		Quantity string `json:"qty"`
	}
	if err := b.do(ctx, http.MethodGet, "/positions", nil, &out); err != nil {
		return nil, err
	}
	positions := make([]*Position, 0, len(out))
	for _, p := range out {
		qty, _ := decimal.NewFromString(p.Quantity)
		positions = append(positions, &Position{Symbol: p.Symbol, Quantity: qty})
	}
	return positions, nil
}
