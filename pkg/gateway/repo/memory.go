package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joripage/execution-gateway/pkg/gateway/model"
)

// MemoryRepo is an in-memory IRepo with the same CAS and uniqueness semantics
// as the SQL repo. It backs unit tests and paper-trading setups that run
// without Postgres.
type MemoryRepo struct {
	mu sync.Mutex

	orders  []*model.Order
	fills   []*model.Fill
	pos     map[string]*model.Position
	runs    []*model.ReconciliationRun
	events  map[string]*model.OrderEvent
	nextID  int64
	nextRun int64
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		pos:    make(map[string]*model.Position),
		events: make(map[string]*model.OrderEvent),
	}
}

func (m *MemoryRepo) Order() IOrder                         { return (*memOrder)(m) }
func (m *MemoryRepo) Fill() IFill                           { return (*memFill)(m) }
func (m *MemoryRepo) Position() IPosition                   { return (*memPosition)(m) }
func (m *MemoryRepo) ReconciliationRun() IReconciliationRun { return (*memRun)(m) }
func (m *MemoryRepo) OrderEvent() IOrderEvent               { return (*memEvent)(m) }

type memOrder MemoryRepo

func (m *memOrder) Create(ctx context.Context, record *model.Order) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.ClientOrderID == record.ClientOrderID {
			return nil, fmt.Errorf("order %s: %w", record.ClientOrderID, ErrDuplicateKey)
		}
	}
	m.nextID++
	record.ID = m.nextID
	record.CreatedAt = time.Now()
	record.UpdatedAt = record.CreatedAt
	cp := *record
	m.orders = append(m.orders, &cp)
	return record, nil
}

func (m *memOrder) GetByClientOrderID(ctx context.Context, clientOrderID string) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.ClientOrderID == clientOrderID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memOrder) GetByBrokerOrderID(ctx context.Context, brokerOrderID string) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.BrokerOrderID == brokerOrderID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memOrder) ListOpen(ctx context.Context) ([]*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Order
	for _, o := range m.orders {
		if !o.Status.Terminal() {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memOrder) UpdateWithVersion(ctx context.Context, id int64, expectVersion int64, priority model.SourcePriority, updates map[string]interface{}) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.ID != id || o.Version != expectVersion || o.SourcePriority > priority {
			continue
		}
		applyOrderUpdates(o, updates)
		o.Version = expectVersion + 1
		o.SourcePriority = priority
		o.UpdatedAt = time.Now()
		return 1, nil
	}
	return 0, nil
}

func applyOrderUpdates(o *model.Order, updates map[string]interface{}) {
	for col, v := range updates {
		switch col {
		case "status":
			switch s := v.(type) {
			case model.OrderStatus:
				o.Status = s
			case string:
				o.Status = model.OrderStatus(s)
			}
		case "filled_qty":
			if d, ok := v.(decimal.Decimal); ok {
				o.FilledQty = d
			}
		case "avg_fill_price":
			if d, ok := v.(decimal.Decimal); ok {
				o.AvgFillPrice = d
			}
		case "broker_order_id":
			if s, ok := v.(string); ok {
				o.BrokerOrderID = s
			}
		}
	}
}

type memFill MemoryRepo

func (m *memFill) Create(ctx context.Context, record *model.Fill) (*model.Fill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	record.ID = m.nextID
	record.CreatedAt = time.Now()
	cp := *record
	m.fills = append(m.fills, &cp)
	return record, nil
}

func (m *memFill) ListByOrder(ctx context.Context, orderID int64) ([]*model.Fill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Fill
	for _, f := range m.fills {
		if f.OrderID == orderID {
			cp := *f
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memFill) SumQtyByOrder(ctx context.Context, orderID int64) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := decimal.Zero
	for _, f := range m.fills {
		if f.OrderID == orderID {
			sum = sum.Add(f.Quantity)
		}
	}
	return sum, nil
}

type memPosition MemoryRepo

func (m *memPosition) Upsert(ctx context.Context, symbol string, qty decimal.Decimal, syncedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pos[symbol]
	if !ok {
		m.nextID++
		p = &model.Position{ID: m.nextID, Symbol: symbol, CreatedAt: time.Now()}
		m.pos[symbol] = p
	}
	p.Quantity = qty
	p.SyncedAt = syncedAt
	p.UpdatedAt = time.Now()
	return nil
}

func (m *memPosition) ApplyDelta(ctx context.Context, symbol string, delta decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pos[symbol]
	if !ok {
		m.nextID++
		p = &model.Position{ID: m.nextID, Symbol: symbol, CreatedAt: time.Now()}
		m.pos[symbol] = p
	}
	p.Quantity = p.Quantity.Add(delta)
	p.UpdatedAt = time.Now()
	return nil
}

func (m *memPosition) Get(ctx context.Context, symbol string) (*model.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pos[symbol]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *memPosition) List(ctx context.Context) ([]*model.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Position, 0, len(m.pos))
	for _, p := range m.pos {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

type memRun MemoryRepo

func (m *memRun) Create(ctx context.Context, record *model.ReconciliationRun) (*model.ReconciliationRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextRun++
	record.ID = m.nextRun
	cp := *record
	m.runs = append(m.runs, &cp)
	return record, nil
}

func (m *memRun) Finish(ctx context.Context, record *model.ReconciliationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.runs {
		if r.ID == record.ID {
			cp := *record
			m.runs[i] = &cp
			return nil
		}
	}
	return nil
}

func (m *memRun) LatestSuccess(ctx context.Context) (*model.ReconciliationRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.runs) - 1; i >= 0; i-- {
		if m.runs[i].Status == model.RunStatusSuccess {
			cp := *m.runs[i]
			return &cp, nil
		}
	}
	return nil, nil
}

type memEvent MemoryRepo

func (m *memEvent) Create(ctx context.Context, record *model.OrderEvent) (*model.OrderEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[record.EventID]; ok {
		// Same dedupe behavior as the SQL ON CONFLICT DO NOTHING path.
		return record, nil
	}
	m.nextID++
	record.ID = m.nextID
	cp := *record
	m.events[record.EventID] = &cp
	return record, nil
}

func (m *memEvent) BulkCreate(ctx context.Context, records []*model.OrderEvent) ([]*model.OrderEvent, error) {
	for _, r := range records {
		if _, err := m.Create(ctx, r); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// Events returns persisted events for assertions.
func (m *MemoryRepo) Events() []*model.OrderEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.OrderEvent, 0, len(m.events))
	for _, e := range m.events {
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Fills returns all fills for assertions.
func (m *MemoryRepo) Fills() []*model.Fill {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Fill, len(m.fills))
	for i, f := range m.fills {
		cp := *f
		out[i] = &cp
	}
	return out
}
