package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusSubmitted       OrderStatus = "submitted"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCanceled        OrderStatus = "canceled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// Terminal reports whether no further state changes are possible.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected:
		return true
	}
	return false
}

type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// SourcePriority ranks concurrent writers of order state. A write tagged with
// a lower priority than the stored one loses the CAS and is skipped. The
// stored value records the last mutation's writer; SourceNone is the floor a
// row starts at before any asynchronous writer has touched it.
type SourcePriority int16

const (
	SourceNone SourcePriority = 0
	// SourceReconciliation is polled backfill, the least authoritative writer.
	SourceReconciliation SourcePriority = 1
	// SourceWebhook is broker-pushed truth.
	SourceWebhook SourcePriority = 2
	// SourceSubmission carries direct operator/submission actions, which win
	// over any asynchronous writer.
	SourceSubmission SourcePriority = 3
)

// Order is the gateway's durable view of one submission. client_order_id is
// immutable once assigned and is the idempotency key shared with the broker.
type Order struct {
	ID            int64           `gorm:"primaryKey"`
	ClientOrderID string          `gorm:"uniqueIndex;size:64"`
	BrokerOrderID string          `gorm:"index;size:64"`
	Symbol        string          `gorm:"index;size:32"`
	Side          OrderSide       `gorm:"size:8"`
	Type          OrderType       `gorm:"size:8"`
	Quantity      decimal.Decimal `gorm:"type:numeric(20,8)"`
	Price         decimal.Decimal `gorm:"type:numeric(20,8)"`
	FilledQty     decimal.Decimal `gorm:"type:numeric(20,8)"`
	AvgFillPrice  decimal.Decimal `gorm:"type:numeric(20,8)"`
	Status        OrderStatus     `gorm:"size:24;index"`

	// Version and SourcePriority together form the CAS precondition for
	// every mutating write after creation.
	Version        int64
	SourcePriority SourcePriority

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Order) TableName() string { return "orders" }

// Remaining is the unfilled quantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQty)
}

// SignedQty maps side to a signed position delta.
func (o *Order) SignedQty() decimal.Decimal {
	if o.Side == OrderSideSell {
		return o.Quantity.Neg()
	}
	return o.Quantity
}

// StatusForFill derives the status implied by a cumulative filled quantity.
func (o *Order) StatusForFill(cumQty decimal.Decimal) OrderStatus {
	if cumQty.GreaterThanOrEqual(o.Quantity) {
		return OrderStatusFilled
	}
	if cumQty.IsPositive() {
		return OrderStatusPartiallyFilled
	}
	return o.Status
}
