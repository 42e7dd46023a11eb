package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type FillSource string

const (
	FillSourceWebhook FillSource = "webhook"
	// FillSourceBackfill marks synthetic fills derived by reconciliation for
	// quantity the broker reports but no real fill explains.
	FillSourceBackfill FillSource = "reconciliation-backfill"
)

// Fill belongs to exactly one order. The sum of a given order's fills never
// exceeds the order's requested quantity.
type Fill struct {
	ID       int64           `gorm:"primaryKey"`
	OrderID  int64           `gorm:"index"`
	Quantity decimal.Decimal `gorm:"type:numeric(20,8)"`
	Price    decimal.Decimal `gorm:"type:numeric(20,8)"`
	Source   FillSource      `gorm:"size:32"`
	FilledAt time.Time

	CreatedAt time.Time
}

func (Fill) TableName() string { return "fills" }
