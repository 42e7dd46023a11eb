package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the local signed position per symbol. Fill processing applies
// incremental deltas; reconciliation overwrites with the broker's figure.
type Position struct {
	ID       int64           `gorm:"primaryKey"`
	Symbol   string          `gorm:"uniqueIndex;size:32"`
	Quantity decimal.Decimal `gorm:"type:numeric(20,8)"`
	SyncedAt time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Position) TableName() string { return "positions" }
