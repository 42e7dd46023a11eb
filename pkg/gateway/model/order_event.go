package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type OrderEventType string

const (
	EventTypeSubmitted OrderEventType = "submitted"
	EventTypeFill      OrderEventType = "fill"
	EventTypeStatus    OrderEventType = "status"
	EventTypeCanceled  OrderEventType = "canceled"
	EventTypeOrphan    OrderEventType = "orphan"
)

// OrderEvent is an audit record of one order state transition. Events are
// journaled in memory, published to the event stream and persisted by the
// worker; they never feed back into order state.
type OrderEvent struct {
	ID            int64          `gorm:"primaryKey" json:"-"`
	EventID       string         `gorm:"uniqueIndex;size:96" json:"event_id"`
	ClientOrderID string         `gorm:"index;size:64" json:"client_order_id"`
	BrokerOrderID string         `gorm:"size:64" json:"broker_order_id"`
	Type          OrderEventType `gorm:"size:16" json:"type"`
	Status        OrderStatus    `gorm:"size:24" json:"status"`
	Source        SourcePriority `json:"source"`

	Quantity decimal.Decimal `gorm:"type:numeric(20,8)" json:"qty"`
	Price    decimal.Decimal `gorm:"type:numeric(20,8)" json:"price"`

	Timestamp time.Time `json:"ts"`
}

func (OrderEvent) TableName() string { return "order_events" }

func NewOrderEvent(typ OrderEventType, o Order) *OrderEvent {
	now := time.Now()
	return &OrderEvent{
		EventID:       NewEventID(o.ClientOrderID, typ, o.Version),
		ClientOrderID: o.ClientOrderID,
		BrokerOrderID: o.BrokerOrderID,
		Type:          typ,
		Status:        o.Status,
		Source:        o.SourcePriority,
		Quantity:      o.FilledQty,
		Price:         o.AvgFillPrice,
		Timestamp:     now,
	}
}

// NewEventID derives a stable id so replayed deliveries dedupe on insert.
func NewEventID(clientOrderID string, typ OrderEventType, version int64) string {
	return fmt.Sprintf("%s-%s-%d", clientOrderID, typ, version)
}
