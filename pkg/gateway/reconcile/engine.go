// Package reconcile runs the background loop that pulls broker truth and
// converges local order, fill and position state onto it.
package reconcile

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/joripage/execution-gateway/pkg/gateway/broker"
	"github.com/joripage/execution-gateway/pkg/gateway/events"
	"github.com/joripage/execution-gateway/pkg/gateway/metrics"
	"github.com/joripage/execution-gateway/pkg/gateway/model"
	"github.com/joripage/execution-gateway/pkg/gateway/repo"
)

type Config struct {
	Interval    time.Duration
	RunTimeout  time.Duration
	OrphanGrace time.Duration
}

// Engine is the single long-lived background task. State machine:
// Idle -> Running -> (Success|Failed) -> Idle. Idle before the first Success
// is also "not ready", which holds the readiness gate closed.
type Engine struct {
	cfg     Config
	repo    repo.IRepo
	broker  broker.Broker
	emitter events.Emitter

	ready   atomic.Bool
	running atomic.Bool
}

func NewEngine(cfg Config, store repo.IRepo, brk broker.Broker, emitter events.Emitter) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 2 * time.Minute
	}
	if cfg.OrphanGrace <= 0 {
		cfg.OrphanGrace = 5 * time.Minute
	}
	return &Engine{cfg: cfg, repo: store, broker: brk, emitter: emitter}
}

// Ready reports whether at least one run has succeeded since process start.
func (e *Engine) Ready() bool { return e.ready.Load() }

// Running reports whether a run is in flight, for health reporting.
func (e *Engine) Running() bool { return e.running.Load() }

// Start runs the loop until ctx is canceled. A failed run is recorded and
// retried on the next tick; it never crashes the process.
func (e *Engine) Start(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := e.RunOnce(ctx); err != nil {
			zap.S().Errorw("reconciliation run failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce executes one reconciliation pass. Idempotent: a second pass over
// unchanged broker state performs no additional order or fill writes.
func (e *Engine) RunOnce(ctx context.Context) (*model.ReconciliationRun, error) {
	e.running.Store(true)
	defer e.running.Store(false)

	run := &model.ReconciliationRun{
		StartedAt: time.Now(),
		Status:    model.RunStatusRunning,
	}
	if _, err := e.repo.ReconciliationRun().Create(ctx, run); err != nil {
		metrics.ReconciliationRuns.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("record run: %w", err)
	}

	rctx, cancel := context.WithTimeout(ctx, e.cfg.RunTimeout)
	defer cancel()

	err := e.reconcile(rctx, run)

	now := time.Now()
	run.FinishedAt = &now
	if err != nil {
		run.Status = model.RunStatusFailed
		run.Error = err.Error()
		metrics.ReconciliationRuns.WithLabelValues("failed").Inc()
	} else {
		run.Status = model.RunStatusSuccess
		metrics.ReconciliationRuns.WithLabelValues("success").Inc()
		e.ready.Store(true)
	}
	if ferr := e.repo.ReconciliationRun().Finish(ctx, run); ferr != nil {
		zap.S().Errorw("finish reconciliation run", "err", ferr)
	}

	zap.S().Infow("reconciliation run finished",
		"status", run.Status,
		"orders", run.OrdersReconciled,
		"fills_backfilled", run.FillsBackfilled,
		"orphans", run.OrphansFound,
		"positions", run.PositionsResync,
		"cas_conflicts", run.CASConflicts,
	)
	return run, err
}

func (e *Engine) reconcile(ctx context.Context, run *model.ReconciliationRun) error {
	start := time.Now()
	brokerOrders, err := e.broker.ListOrders(ctx)
	metrics.BrokerCallSeconds.WithLabelValues("list_orders").Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("pull broker orders: %w", err)
	}

	seen := make(map[string]struct{}, len(brokerOrders))
	for _, bo := range brokerOrders {
		seen[bo.ClientOrderID] = struct{}{}
		if err := e.syncOrder(ctx, bo, run); err != nil {
			return fmt.Errorf("sync order %s: %w", bo.ClientOrderID, err)
		}
	}

	if err := e.detectLocalOrphans(ctx, seen, run); err != nil {
		return err
	}

	// Positions resync happens in its own transactions: eventual consistency
	// between order and position tables is acceptable.
	if err := e.resyncPositions(ctx, run); err != nil {
		return err
	}

	return nil
}

func (e *Engine) syncOrder(ctx context.Context, bo *broker.Order, run *model.ReconciliationRun) error {
	local, err := e.repo.Order().GetByClientOrderID(ctx, bo.ClientOrderID)
	if err != nil {
		return err
	}
	if local == nil {
		// Broker-side orphan: the broker holds an order we never persisted.
		// Flag for operators; never auto-create trading state.
		run.OrphansFound++
		metrics.Orphans.Inc()
		zap.S().Warnw("broker order with no local record",
			"client_order_id", bo.ClientOrderID,
			"broker_order_id", bo.BrokerOrderID,
			"symbol", bo.Symbol,
		)
		e.emitter.Emit(ctx, &model.OrderEvent{
			EventID:       model.NewEventID(bo.ClientOrderID, model.EventTypeOrphan, 0),
			ClientOrderID: bo.ClientOrderID,
			BrokerOrderID: bo.BrokerOrderID,
			Type:          model.EventTypeOrphan,
			Status:        bo.Status,
			Source:        model.SourceReconciliation,
			Quantity:      bo.FilledQty,
			Timestamp:     time.Now(),
		})
		return nil
	}

	// Never regress: a snapshot behind local state means fresher writers
	// already applied it.
	if bo.FilledQty.LessThan(local.FilledQty) {
		return nil
	}

	if bo.FilledQty.Equal(local.FilledQty) && bo.Status == local.Status {
		return nil
	}

	// Backfill first: it is append-only and keyed on the explained delta, so
	// it must land even when a higher-priority writer holds the order row.
	// Otherwise a webhook status stamp would shadow the broker's fill forever.
	if err := e.backfillFills(ctx, local, bo, run); err != nil {
		return err
	}

	rows, err := e.repo.Order().UpdateWithVersion(ctx, local.ID, local.Version, model.SourceReconciliation, map[string]interface{}{
		"filled_qty":     bo.FilledQty,
		"avg_fill_price": bo.AvgFillPrice,
		"status":         bo.Status,
	})
	if err != nil {
		return err
	}
	if rows == 0 {
		// A higher-priority or newer writer won; expected under concurrency.
		run.CASConflicts++
		zap.S().Debugw("reconciliation CAS skipped",
			"client_order_id", bo.ClientOrderID,
			"version", local.Version,
		)
		return nil
	}
	run.OrdersReconciled++

	local.FilledQty = bo.FilledQty
	local.AvgFillPrice = bo.AvgFillPrice
	local.Status = bo.Status
	local.Version++
	local.SourcePriority = model.SourceReconciliation
	e.emitter.Emit(ctx, model.NewOrderEvent(model.EventTypeStatus, *local))
	return nil
}

// backfillFills derives one synthetic fill for the quantity the broker
// reports but no recorded fill explains. Real fills are never touched.
func (e *Engine) backfillFills(ctx context.Context, local *model.Order, bo *broker.Order, run *model.ReconciliationRun) error {
	explained, err := e.repo.Fill().SumQtyByOrder(ctx, local.ID)
	if err != nil {
		return err
	}
	missing := bo.FilledQty.Sub(explained)
	if !missing.IsPositive() {
		return nil
	}

	if _, err := e.repo.Fill().Create(ctx, &model.Fill{
		OrderID:  local.ID,
		Quantity: missing,
		Price:    bo.AvgFillPrice,
		Source:   model.FillSourceBackfill,
		FilledAt: time.Now(),
	}); err != nil {
		return err
	}
	run.FillsBackfilled++
	metrics.FillsBackfilled.Inc()
	zap.S().Infow("backfilled missing fill",
		"client_order_id", local.ClientOrderID,
		"qty", missing.String(),
	)
	return nil
}

func (e *Engine) detectLocalOrphans(ctx context.Context, seen map[string]struct{}, run *model.ReconciliationRun) error {
	open, err := e.repo.Order().ListOpen(ctx)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-e.cfg.OrphanGrace)
	for _, o := range open {
		if _, ok := seen[o.ClientOrderID]; ok {
			continue
		}
		if o.CreatedAt.After(cutoff) {
			// Inside the grace window; the broker snapshot may simply lag.
			continue
		}
		run.OrphansFound++
		metrics.Orphans.Inc()
		zap.S().Warnw("local open order unknown to broker",
			"client_order_id", o.ClientOrderID,
			"broker_order_id", o.BrokerOrderID,
			"age", time.Since(o.CreatedAt).String(),
		)
		e.emitter.Emit(ctx, model.NewOrderEvent(model.EventTypeOrphan, *o))
	}
	return nil
}

func (e *Engine) resyncPositions(ctx context.Context, run *model.ReconciliationRun) error {
	start := time.Now()
	positions, err := e.broker.GetPositions(ctx)
	metrics.BrokerCallSeconds.WithLabelValues("get_positions").Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("pull broker positions: %w", err)
	}

	now := time.Now()
	for _, p := range positions {
		if err := e.repo.Position().Upsert(ctx, p.Symbol, p.Quantity, now); err != nil {
			return fmt.Errorf("resync position %s: %w", p.Symbol, err)
		}
		run.PositionsResync++
	}
	return nil
}
