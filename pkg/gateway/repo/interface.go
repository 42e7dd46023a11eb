package repo

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joripage/execution-gateway/pkg/gateway/model"
)

// ErrDuplicateKey reports a unique-constraint violation on insert. Callers
// racing on client_order_id branch on it to recover the winning row.
var ErrDuplicateKey = errors.New("duplicate key")

type IOrder interface {
	Create(ctx context.Context, record *model.Order) (*model.Order, error)
	GetByClientOrderID(ctx context.Context, clientOrderID string) (*model.Order, error)
	GetByBrokerOrderID(ctx context.Context, brokerOrderID string) (*model.Order, error)
	ListOpen(ctx context.Context) ([]*model.Order, error)

	// UpdateWithVersion is the CAS primitive: the update applies only when
	// the stored version matches and the stored source priority does not
	// exceed the writer's. Callers must branch on rows affected to detect a
	// lost race.
	UpdateWithVersion(ctx context.Context, id int64, expectVersion int64, priority model.SourcePriority, updates map[string]interface{}) (int64, error)
}

type IFill interface {
	Create(ctx context.Context, record *model.Fill) (*model.Fill, error)
	ListByOrder(ctx context.Context, orderID int64) ([]*model.Fill, error)
	SumQtyByOrder(ctx context.Context, orderID int64) (decimal.Decimal, error)
}

type IPosition interface {
	// Upsert overwrites the symbol's quantity. Idempotent, never additive;
	// this is the reconciliation resync write.
	Upsert(ctx context.Context, symbol string, qty decimal.Decimal, syncedAt time.Time) error

	// ApplyDelta increments the symbol's quantity under a row lock. This is
	// the only row-locked write in the gateway and is used solely by fill
	// application.
	ApplyDelta(ctx context.Context, symbol string, delta decimal.Decimal) error

	Get(ctx context.Context, symbol string) (*model.Position, error)
	List(ctx context.Context) ([]*model.Position, error)
}

type IReconciliationRun interface {
	Create(ctx context.Context, record *model.ReconciliationRun) (*model.ReconciliationRun, error)
	Finish(ctx context.Context, record *model.ReconciliationRun) error
	LatestSuccess(ctx context.Context) (*model.ReconciliationRun, error)
}

type IOrderEvent interface {
	Create(ctx context.Context, record *model.OrderEvent) (*model.OrderEvent, error)
	BulkCreate(ctx context.Context, records []*model.OrderEvent) ([]*model.OrderEvent, error)
}
