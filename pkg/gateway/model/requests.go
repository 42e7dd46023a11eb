package model

import "github.com/shopspring/decimal"

// SubmitOrder is one inbound submission request. ClientOrderID may be
// caller-supplied (their idempotency key) or assigned by the gateway.
type SubmitOrder struct {
	ClientOrderID string
	Symbol        string
	Side          OrderSide
	Type          OrderType
	Quantity      decimal.Decimal
	Price         decimal.Decimal
}

type CancelOrder struct {
	ClientOrderID string
}

// SliceOrder is a TWAP-style parent request split into child submissions.
type SliceOrder struct {
	ClientOrderID string
	Symbol        string
	Side          OrderSide
	Type          OrderType
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	Slices        int
}
