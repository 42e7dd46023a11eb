package events

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/joripage/execution-gateway/pkg/gateway/metrics"
	"github.com/joripage/execution-gateway/pkg/gateway/model"
)

// Emitter is what the submission, webhook and reconciliation paths call on
// every order state transition.
type Emitter interface {
	Emit(ctx context.Context, ev *model.OrderEvent)
}

// Publisher journals every event and publishes it to JetStream. Publishing is
// best-effort: a stream outage must never fail a submission, so failures are
// logged and counted, not propagated.
type Publisher struct {
	js      nats.JetStreamContext
	subject string
	journal *Journal
}

func NewPublisher(js nats.JetStreamContext, stream, subject string) (*Publisher, error) {
	if js != nil {
		_, err := js.AddStream(&nats.StreamConfig{
			Name:     stream,
			Subjects: []string{stream + ".*"},
		})
		if err != nil && err != nats.ErrStreamNameAlreadyInUse {
			return nil, err
		}
	}
	return &Publisher{
		js:      js,
		subject: subject,
		journal: NewJournal(0),
	}, nil
}

func (p *Publisher) Journal() *Journal { return p.journal }

func (p *Publisher) Emit(ctx context.Context, ev *model.OrderEvent) {
	p.journal.Append(ev)

	if p.js == nil {
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		zap.S().Errorw("marshal order event", "event_id", ev.EventID, "err", err)
		metrics.EventPublishDrops.Inc()
		return
	}

	if _, err := p.js.Publish(p.subject, payload, nats.MsgId(ev.EventID)); err != nil {
		zap.S().Warnw("publish order event", "event_id", ev.EventID, "err", err)
		metrics.EventPublishDrops.Inc()
	}
}

// NopEmitter journals only; used in tests and by binaries run without NATS.
type NopEmitter struct {
	journal *Journal
}

func NewNopEmitter() *NopEmitter {
	return &NopEmitter{journal: NewJournal(0)}
}

func (e *NopEmitter) Journal() *Journal { return e.journal }

func (e *NopEmitter) Emit(ctx context.Context, ev *model.OrderEvent) {
	e.journal.Append(ev)
}
