package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joripage/execution-gateway/pkg/gateway/model"
)

// PaperBroker is an in-memory broker for dev mode and tests. It mirrors the
// real bridge's idempotency: a resubmitted client_order_id returns the
// original order without creating a new one.
type PaperBroker struct {
	mu        sync.Mutex
	seq       int64
	orders    map[string]*Order // by client_order_id
	positions map[string]decimal.Decimal

	// SubmitErr, when set, fails the next SubmitOrder. Test hook.
	SubmitErr error
	// SubmitCalls counts broker submissions, duplicates excluded.
	SubmitCalls int
}

func NewPaperBroker() *PaperBroker {
	return &PaperBroker{
		orders:    make(map[string]*Order),
		positions: make(map[string]decimal.Decimal),
	}
}

func (b *PaperBroker) Name() string { return "paper" }

func (b *PaperBroker) SubmitOrder(ctx context.Context, req *SubmitRequest) (*Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.orders[req.ClientOrderID]; ok {
		cp := *existing
		return &cp, nil
	}

	if b.SubmitErr != nil {
		err := b.SubmitErr
		b.SubmitErr = nil
		return nil, err
	}

	b.seq++
	b.SubmitCalls++
	order := &Order{
		BrokerOrderID: fmt.Sprintf("P-%06d", b.seq),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Quantity:      req.Quantity,
		FilledQty:     decimal.Zero,
		AvgFillPrice:  decimal.Zero,
		Status:        model.OrderStatusSubmitted,
		CreatedAt:     time.Now(),
	}
	b.orders[req.ClientOrderID] = order
	cp := *order
	return &cp, nil
}

func (b *PaperBroker) CancelOrder(ctx context.Context, brokerOrderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, o := range b.orders {
		if o.BrokerOrderID == brokerOrderID {
			if !o.Status.Terminal() {
				o.Status = model.OrderStatusCanceled
			}
			return nil
		}
	}
	return fmt.Errorf("paper: order %s not found", brokerOrderID)
}

func (b *PaperBroker) GetOrder(ctx context.Context, clientOrderID string) (*Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if o, ok := b.orders[clientOrderID]; ok {
		cp := *o
		return &cp, nil
	}
	return nil, nil
}

func (b *PaperBroker) ListOrders(ctx context.Context) ([]*Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]*Order, 0, len(b.orders))
	for _, o := range b.orders {
		cp := *o
		out = append(out, &cp)
	}
	return out, nil
}

func (b *PaperBroker) GetPositions(ctx context.Context) ([]*Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]*Position, 0, len(b.positions))
	for sym, qty := range b.positions {
		out = append(out, &Position{Symbol: sym, Quantity: qty})
	}
	return out, nil
}

// Fill marks qty of the order as executed. Test/dev hook driving webhook and
// reconciliation scenarios.
func (b *PaperBroker) Fill(clientOrderID string, qty, price decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[clientOrderID]
	if !ok {
		return
	}
	o.FilledQty = o.FilledQty.Add(qty)
	o.AvgFillPrice = price
	if o.FilledQty.GreaterThanOrEqual(o.Quantity) {
		o.Status = model.OrderStatusFilled
	} else {
		o.Status = model.OrderStatusPartiallyFilled
	}

	delta := qty
	if o.Side == model.OrderSideSell {
		delta = qty.Neg()
	}
	b.positions[o.Symbol] = b.positions[o.Symbol].Add(delta)
}

// SetPosition overrides a symbol's position. Test hook.
func (b *PaperBroker) SetPosition(symbol string, qty decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions[symbol] = qty
}
