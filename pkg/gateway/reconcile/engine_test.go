package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joripage/execution-gateway/pkg/gateway/broker"
	"github.com/joripage/execution-gateway/pkg/gateway/events"
	"github.com/joripage/execution-gateway/pkg/gateway/model"
	"github.com/joripage/execution-gateway/pkg/gateway/repo"
)

func newTestEngine(store *repo.MemoryRepo, brk broker.Broker, grace time.Duration) *Engine {
	return NewEngine(Config{
		Interval:    time.Minute,
		RunTimeout:  10 * time.Second,
		OrphanGrace: grace,
	}, store, brk, events.NewNopEmitter())
}

// seedBoth plants an order on the broker and its local record, the way a
// normal submission leaves the world.
func seedBoth(t *testing.T, store *repo.MemoryRepo, brk *broker.PaperBroker, clientOrderID string, qty int64) *model.Order {
	t.Helper()
	ctx := context.Background()
	placed, err := brk.SubmitOrder(ctx, &broker.SubmitRequest{
		ClientOrderID: clientOrderID,
		Symbol:        "AAPL",
		Side:          model.OrderSideBuy,
		Type:          model.OrderTypeLimit,
		Quantity:      decimal.NewFromInt(qty),
		Price:         decimal.NewFromInt(150),
	})
	require.NoError(t, err)

	order, err := store.Order().Create(ctx, &model.Order{
		ClientOrderID:  clientOrderID,
		BrokerOrderID:  placed.BrokerOrderID,
		Symbol:         "AAPL",
		Side:           model.OrderSideBuy,
		Type:           model.OrderTypeLimit,
		Quantity:       decimal.NewFromInt(qty),
		Price:          decimal.NewFromInt(150),
		Status:         model.OrderStatusSubmitted,
		Version:        1,
		SourcePriority: model.SourceNone,
	})
	require.NoError(t, err)
	return order
}

func TestRunOnceConvergesFilledOrder(t *testing.T) {
	store := repo.NewMemoryRepo()
	brk := broker.NewPaperBroker()
	ctx := context.Background()

	seedBoth(t, store, brk, "c-1", 100)
	brk.Fill("c-1", decimal.NewFromInt(100), decimal.NewFromInt(151))

	engine := newTestEngine(store, brk, time.Hour)
	run, err := engine.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusSuccess, run.Status)
	assert.Equal(t, 1, run.OrdersReconciled)
	assert.Equal(t, 1, run.FillsBackfilled)

	order, err := store.Order().GetByClientOrderID(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusFilled, order.Status)
	assert.True(t, order.FilledQty.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, model.SourceReconciliation, order.SourcePriority)

	fills := store.Fills()
	require.Len(t, fills, 1)
	assert.Equal(t, model.FillSourceBackfill, fills[0].Source)

	pos, err := store.Position().Get(ctx, "AAPL")
	require.NoError(t, err)
	assert.True(t, pos.Quantity.Equal(decimal.NewFromInt(100)))
}

func TestRunOnceIdempotent(t *testing.T) {
	store := repo.NewMemoryRepo()
	brk := broker.NewPaperBroker()
	ctx := context.Background()

	seedBoth(t, store, brk, "c-1", 100)
	brk.Fill("c-1", decimal.NewFromInt(100), decimal.NewFromInt(151))

	engine := newTestEngine(store, brk, time.Hour)
	_, err := engine.RunOnce(ctx)
	require.NoError(t, err)

	// Unchanged broker state: the second pass writes nothing.
	run, err := engine.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, run.OrdersReconciled)
	assert.Equal(t, 0, run.FillsBackfilled)
	assert.Len(t, store.Fills(), 1)
}

func TestRunOnceSetsReady(t *testing.T) {
	store := repo.NewMemoryRepo()
	brk := broker.NewPaperBroker()

	engine := newTestEngine(store, brk, time.Hour)
	assert.False(t, engine.Ready())

	_, err := engine.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, engine.Ready())
}

func TestBrokerOrphanFlaggedNotCreated(t *testing.T) {
	store := repo.NewMemoryRepo()
	brk := broker.NewPaperBroker()
	ctx := context.Background()

	// Broker knows an order the gateway never persisted.
	_, err := brk.SubmitOrder(ctx, &broker.SubmitRequest{
		ClientOrderID: "ghost",
		Symbol:        "AAPL",
		Side:          model.OrderSideBuy,
		Type:          model.OrderTypeLimit,
		Quantity:      decimal.NewFromInt(10),
	})
	require.NoError(t, err)

	engine := newTestEngine(store, brk, time.Hour)
	run, err := engine.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, run.OrphansFound)

	local, err := store.Order().GetByClientOrderID(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, local, "orphans are flagged, never auto-created")
}

func TestLocalOrphanRespectsGrace(t *testing.T) {
	store := repo.NewMemoryRepo()
	brk := broker.NewPaperBroker()
	ctx := context.Background()

	// Local open order the broker has no record of.
	_, err := store.Order().Create(ctx, &model.Order{
		ClientOrderID: "c-local",
		Symbol:        "AAPL",
		Side:          model.OrderSideBuy,
		Type:          model.OrderTypeLimit,
		Quantity:      decimal.NewFromInt(10),
		Status:        model.OrderStatusSubmitted,
		Version:       1,
	})
	require.NoError(t, err)

	// Inside the grace window it is not an orphan yet.
	engine := newTestEngine(store, brk, time.Hour)
	run, err := engine.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, run.OrphansFound)

	// With the window elapsed it is.
	time.Sleep(2 * time.Millisecond)
	engine = newTestEngine(store, brk, time.Millisecond)
	run, err = engine.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, run.OrphansFound)
}

func TestWebhookPriorityWinsOverReconciliation(t *testing.T) {
	store := repo.NewMemoryRepo()
	brk := broker.NewPaperBroker()
	ctx := context.Background()

	order := seedBoth(t, store, brk, "c-1", 100)

	// A webhook already applied the fill; its priority outranks the poller.
	rows, err := store.Order().UpdateWithVersion(ctx, order.ID, order.Version, model.SourceWebhook, map[string]interface{}{
		"status":     model.OrderStatusPartiallyFilled,
		"filled_qty": decimal.NewFromInt(40),
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), rows)

	// Broker snapshot says 50 filled; reconciliation loses the CAS because
	// the stored priority is higher.
	brk.Fill("c-1", decimal.NewFromInt(50), decimal.NewFromInt(151))

	engine := newTestEngine(store, brk, time.Hour)
	run, err := engine.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, run.CASConflicts)
	assert.Equal(t, 0, run.OrdersReconciled)

	got, _ := store.Order().GetByClientOrderID(ctx, "c-1")
	assert.True(t, got.FilledQty.Equal(decimal.NewFromInt(40)), "webhook state must survive")
}

func TestBackfillLandsDespiteHigherPriorityStamp(t *testing.T) {
	store := repo.NewMemoryRepo()
	brk := broker.NewPaperBroker()
	ctx := context.Background()

	order := seedBoth(t, store, brk, "c-1", 100)

	// A webhook status stamp with no fill attached holds the row at a higher
	// priority, so the order CAS loses on every pass.
	rows, err := store.Order().UpdateWithVersion(ctx, order.ID, order.Version, model.SourceWebhook, map[string]interface{}{
		"status": model.OrderStatusSubmitted,
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), rows)

	brk.Fill("c-1", decimal.NewFromInt(100), decimal.NewFromInt(151))

	engine := newTestEngine(store, brk, time.Hour)
	run, err := engine.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, run.CASConflicts)
	assert.Equal(t, 1, run.FillsBackfilled)

	// The fills ledger explains the broker's quantity even though the order
	// row stays with the higher-priority writer.
	sum, err := store.Fill().SumQtyByOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.NewFromInt(100)))

	// Further passes stay conflicted but append nothing.
	run, err = engine.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, run.FillsBackfilled)
	require.Len(t, store.Fills(), 1)
}

func TestSnapshotBehindLocalIsIgnored(t *testing.T) {
	store := repo.NewMemoryRepo()
	brk := broker.NewPaperBroker()
	ctx := context.Background()

	order := seedBoth(t, store, brk, "c-1", 100)
	rows, err := store.Order().UpdateWithVersion(ctx, order.ID, order.Version, model.SourceWebhook, map[string]interface{}{
		"status":     model.OrderStatusPartiallyFilled,
		"filled_qty": decimal.NewFromInt(60),
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), rows)

	// Broker snapshot lags at 0 filled; nothing regresses and no conflict is
	// counted because the stale snapshot is skipped before the CAS.
	engine := newTestEngine(store, brk, time.Hour)
	run, err := engine.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, run.CASConflicts)

	got, _ := store.Order().GetByClientOrderID(ctx, "c-1")
	assert.True(t, got.FilledQty.Equal(decimal.NewFromInt(60)))
}

func TestPositionResyncOverwrites(t *testing.T) {
	store := repo.NewMemoryRepo()
	brk := broker.NewPaperBroker()
	ctx := context.Background()

	// Local drifted to 70; broker truth is 100.
	require.NoError(t, store.Position().ApplyDelta(ctx, "AAPL", decimal.NewFromInt(70)))
	brk.SetPosition("AAPL", decimal.NewFromInt(100))

	engine := newTestEngine(store, brk, time.Hour)
	run, err := engine.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, run.PositionsResync)

	pos, err := store.Position().Get(ctx, "AAPL")
	require.NoError(t, err)
	assert.True(t, pos.Quantity.Equal(decimal.NewFromInt(100)))
}

// failingBroker errors on the snapshot pull.
type failingBroker struct {
	broker.Broker
}

func (f *failingBroker) ListOrders(ctx context.Context) ([]*broker.Order, error) {
	return nil, errors.New("bridge unavailable")
}

func TestFailedRunRecordedAndNotReady(t *testing.T) {
	store := repo.NewMemoryRepo()
	engine := newTestEngine(store, &failingBroker{Broker: broker.NewPaperBroker()}, time.Hour)

	run, err := engine.RunOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, model.RunStatusFailed, run.Status)
	assert.NotEmpty(t, run.Error)
	assert.False(t, engine.Ready())

	latest, err := store.ReconciliationRun().LatestSuccess(context.Background())
	require.NoError(t, err)
	assert.Nil(t, latest)
}
