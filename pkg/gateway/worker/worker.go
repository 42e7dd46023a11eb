package worker

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/joripage/execution-gateway/pkg/gateway/model"
	"github.com/joripage/execution-gateway/pkg/gateway/repo"
)

// Worker drains the order-event stream into the order_events audit table.
type Worker struct {
	orderEvent repo.IOrderEvent
}

func NewWorker(store repo.IRepo) *Worker {
	return &Worker{
		orderEvent: store.OrderEvent(),
	}
}

func (w *Worker) StartConsumer(ctx context.Context, js nats.JetStreamContext, subject, durable string) error {
	cons, err := js.PullSubscribe(subject, durable)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msgs, err := cons.Fetch(64, nats.MaxWait(nats.DefaultTimeout))
		if err != nil {
			if err != nats.ErrTimeout {
				zap.S().Warnw("fetch order events", "err", err)
			}
			continue
		}

		for _, msg := range msgs {
			var ev model.OrderEvent
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				zap.S().Errorw("unmarshal order event", "err", err)
				// Poison message; ack so the stream keeps moving.
				_ = msg.Ack()
				continue
			}
			if err := w.handleEvent(ctx, &ev); err != nil {
				zap.S().Errorw("persist order event", "event_id", ev.EventID, "err", err)
				continue
			}
			_ = msg.Ack()
		}
	}
}

func (w *Worker) handleEvent(ctx context.Context, ev *model.OrderEvent) error {
	// Insert dedupes on event_id, so redeliveries are harmless.
	_, err := w.orderEvent.Create(ctx, ev)
	return err
}
