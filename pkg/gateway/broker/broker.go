package broker

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joripage/execution-gateway/pkg/gateway/model"
)

// SubmitRequest carries the client_order_id the broker uses for its own
// idempotency: resubmitting the same id returns the existing order instead of
// creating a second one.
type SubmitRequest struct {
	ClientOrderID string
	Symbol        string
	Side          model.OrderSide
	Type          model.OrderType
	Quantity      decimal.Decimal
	Price         decimal.Decimal
}

// Order is the broker's view of an order.
type Order struct {
	BrokerOrderID string
	ClientOrderID string
	Symbol        string
	Side          model.OrderSide
	Quantity      decimal.Decimal
	FilledQty     decimal.Decimal
	AvgFillPrice  decimal.Decimal
	Status        model.OrderStatus
	CreatedAt     time.Time
}

// Position is the broker's authoritative signed position.
type Position struct {
	Symbol   string
	Quantity decimal.Decimal
}

// Broker is the minimal execution surface the gateway needs. Every call is
// bounded by the context deadline; SubmitOrder is idempotent by
// client_order_id on the broker side.
type Broker interface {
	Name() string
	SubmitOrder(ctx context.Context, req *SubmitRequest) (*Order, error)
	CancelOrder(ctx context.Context, brokerOrderID string) error
	GetOrder(ctx context.Context, clientOrderID string) (*Order, error)
	ListOrders(ctx context.Context) ([]*Order, error)
	GetPositions(ctx context.Context) ([]*Position, error)
}
