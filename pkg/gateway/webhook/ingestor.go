// Package webhook is the isolated ingress for broker-pushed order events.
// It authenticates by payload signature only and never consults the gate
// chain: a halted gateway must keep ingesting broker truth or local state
// drifts for good.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/joripage/execution-gateway/pkg/gateway/events"
	"github.com/joripage/execution-gateway/pkg/gateway/metrics"
	"github.com/joripage/execution-gateway/pkg/gateway/model"
	"github.com/joripage/execution-gateway/pkg/gateway/repo"
)

const maxCASRetries = 3

// Event is one broker push.
type Event struct {
	EventID       string `json:"event_id"`
	EventType     string `json:"event_type"` // fill_update | status_update
	ClientOrderID string `json:"client_order_id"`
	BrokerOrderID string `json:"broker_order_id"`
	Status        string `json:"status"`
	CumulativeQty string `json:"cumulative_qty"`
	LastPrice     string `json:"last_price"`
	Timestamp     int64  `json:"ts"`
}

type Result string

const (
	ResultApplied   Result = "applied"
	ResultDuplicate Result = "duplicate"
	ResultRejected  Result = "rejected"
	ResultError     Result = "error"
)

type Config struct {
	Secret  string
	MaxSkew time.Duration
}

type Ingestor struct {
	cfg     Config
	repo    repo.IRepo
	emitter events.Emitter
}

func NewIngestor(cfg Config, store repo.IRepo, emitter events.Emitter) *Ingestor {
	if cfg.MaxSkew <= 0 {
		cfg.MaxSkew = 5 * time.Minute
	}
	return &Ingestor{cfg: cfg, repo: store, emitter: emitter}
}

// VerifySignature checks the HMAC-SHA256 of "<timestamp>.<body>" in constant
// time and bounds the timestamp skew to blunt replay.
func (p *Ingestor) VerifySignature(timestamp, signature string, body []byte) bool {
	if p.cfg.Secret == "" {
		return false
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	skew := time.Since(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > p.cfg.MaxSkew {
		return false
	}

	mac := hmac.New(sha256.New, []byte(p.cfg.Secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}

// Process applies one event with the same CAS discipline as reconciliation,
// writing at webhook priority.
func (p *Ingestor) Process(ctx context.Context, ev *Event) (Result, error) {
	order, err := p.lookup(ctx, ev)
	if err != nil {
		return ResultError, err
	}
	if order == nil {
		// Unknown order: the broker knows something we do not. Reconciliation
		// picks it up as an orphan; acknowledge so the broker stops retrying.
		zap.S().Warnw("webhook for unknown order",
			"client_order_id", ev.ClientOrderID,
			"broker_order_id", ev.BrokerOrderID,
		)
		return ResultRejected, nil
	}

	var res Result
	switch ev.EventType {
	case "fill_update":
		res, err = p.applyFill(ctx, order, ev)
	case "status_update":
		res, err = p.applyStatus(ctx, order, ev)
	default:
		return ResultRejected, fmt.Errorf("unknown event type %q", ev.EventType)
	}

	metrics.WebhookEvents.WithLabelValues(string(res)).Inc()
	return res, err
}

func (p *Ingestor) lookup(ctx context.Context, ev *Event) (*model.Order, error) {
	if ev.ClientOrderID != "" {
		return p.repo.Order().GetByClientOrderID(ctx, ev.ClientOrderID)
	}
	return p.repo.Order().GetByBrokerOrderID(ctx, ev.BrokerOrderID)
}

func (p *Ingestor) applyFill(ctx context.Context, order *model.Order, ev *Event) (Result, error) {
	newCum, err := decimal.NewFromString(ev.CumulativeQty)
	if err != nil {
		return ResultRejected, fmt.Errorf("invalid cumulative_qty %q", ev.CumulativeQty)
	}
	price, err := decimal.NewFromString(ev.LastPrice)
	if err != nil {
		return ResultRejected, fmt.Errorf("invalid last_price %q", ev.LastPrice)
	}

	for retry := 0; retry < maxCASRetries; retry++ {
		// Watermark: a cumulative at or below what we hold is a duplicate or
		// out-of-order delivery.
		if newCum.LessThanOrEqual(order.FilledQty) {
			return ResultDuplicate, nil
		}
		if newCum.GreaterThan(order.Quantity) {
			return ResultRejected, fmt.Errorf("cumulative %s exceeds order qty %s", newCum, order.Quantity)
		}

		delta := newCum.Sub(order.FilledQty)
		status := order.StatusForFill(newCum)

		rows, err := p.repo.Order().UpdateWithVersion(ctx, order.ID, order.Version, model.SourceWebhook, map[string]interface{}{
			"filled_qty":     newCum,
			"avg_fill_price": price,
			"status":         status,
		})
		if err != nil {
			return ResultError, err
		}
		if rows == 0 {
			// Lost the CAS; reload and re-derive the delta.
			order, err = p.repo.Order().GetByClientOrderID(ctx, order.ClientOrderID)
			if err != nil {
				return ResultError, err
			}
			if order == nil {
				return ResultError, fmt.Errorf("order vanished during fill apply")
			}
			continue
		}

		if _, err := p.repo.Fill().Create(ctx, &model.Fill{
			OrderID:  order.ID,
			Quantity: delta,
			Price:    price,
			Source:   model.FillSourceWebhook,
			FilledAt: time.UnixMilli(ev.Timestamp),
		}); err != nil {
			return ResultError, err
		}

		signed := delta
		if order.Side == model.OrderSideSell {
			signed = delta.Neg()
		}
		if err := p.repo.Position().ApplyDelta(ctx, order.Symbol, signed); err != nil {
			return ResultError, err
		}

		order.FilledQty = newCum
		order.AvgFillPrice = price
		order.Status = status
		order.Version++
		order.SourcePriority = model.SourceWebhook
		p.emitter.Emit(ctx, model.NewOrderEvent(model.EventTypeFill, *order))
		return ResultApplied, nil
	}

	return ResultError, fmt.Errorf("fill apply lost CAS %d times for %s", maxCASRetries, order.ClientOrderID)
}

func (p *Ingestor) applyStatus(ctx context.Context, order *model.Order, ev *Event) (Result, error) {
	status := mapStatus(ev.Status)
	if status == "" {
		return ResultRejected, fmt.Errorf("unknown status %q", ev.Status)
	}
	if order.Status == status || order.Status.Terminal() {
		return ResultDuplicate, nil
	}

	rows, err := p.repo.Order().UpdateWithVersion(ctx, order.ID, order.Version, model.SourceWebhook, map[string]interface{}{
		"status": status,
	})
	if err != nil {
		return ResultError, err
	}
	if rows == 0 {
		// A higher-priority or newer write won; the CAS rule is the
		// resolution, not an error surfaced to the broker.
		return ResultDuplicate, nil
	}

	order.Status = status
	order.Version++
	order.SourcePriority = model.SourceWebhook
	p.emitter.Emit(ctx, model.NewOrderEvent(model.EventTypeStatus, *order))
	return ResultApplied, nil
}

func mapStatus(s string) model.OrderStatus {
	switch s {
	case "submitted", "accepted", "open", "new":
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
	return ""
}
